// ABOUTME: Error taxonomy for authentication and gateway failures
// ABOUTME: Callers classify failures with errors.Is against these sentinels

package auth

import "errors"

// Error taxonomy. Every error surfaced in an Outcome wraps exactly one of these.
var (
	// ErrValidation covers unmet preconditions and malformed requests.
	ErrValidation = errors.New("validation error")
	// ErrAuthentication covers rejected credentials or tokens.
	ErrAuthentication = errors.New("authentication failed")
	// ErrConnection covers handshake or send failures on a broken connection.
	ErrConnection = errors.New("connection error")
	// ErrConfiguration covers missing setup such as an absent backing store.
	ErrConfiguration = errors.New("configuration error")
)
