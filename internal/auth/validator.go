// ABOUTME: CredentialValidator contract and its explicit Result type
// ABOUTME: Failure reasons are enumerated instead of surfacing arbitrary backend errors

package auth

import (
	"context"
	"time"

	"github.com/2389/zgate/internal/session"
	"github.com/2389/zgate/internal/store"
)

// FailureReason enumerates why a validator did not accept a credential.
type FailureReason int

const (
	ReasonNone FailureReason = iota
	ReasonMissingCredentials
	ReasonInvalidCredentials
	ReasonUnknownIdentity
	ReasonExpired
	ReasonDisabled
	ReasonBackendUnavailable
	ReasonMisconfigured
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMissingCredentials:
		return "missing_credentials"
	case ReasonInvalidCredentials:
		return "invalid_credentials"
	case ReasonUnknownIdentity:
		return "unknown_identity"
	case ReasonExpired:
		return "expired"
	case ReasonDisabled:
		return "disabled"
	case ReasonBackendUnavailable:
		return "backend_unavailable"
	case ReasonMisconfigured:
		return "misconfigured"
	default:
		return "unknown"
	}
}

// Result is what a validator returns: either an accepted identity or a
// rejection with a reason. Err carries the backend cause for logging only.
type Result struct {
	Identity session.Identity
	Reason   FailureReason
	Err      error
	// ExpiresAt is when the accepted credential stops being valid. Zero
	// means the credential carries no expiry of its own.
	ExpiresAt time.Time
}

// Accept builds a successful result. The identity is marked authenticated.
func Accept(id session.Identity) Result {
	id.Authenticated = true
	return Result{Identity: id}
}

// Reject builds a negative result for a credential problem.
func Reject(reason FailureReason) Result {
	return Result{Reason: reason}
}

// Failure builds a result for a backend or setup problem.
func Failure(reason FailureReason, err error) Result {
	return Result{Reason: reason, Err: err}
}

// OK reports whether the credential was accepted.
func (r Result) OK() bool {
	return r.Reason == ReasonNone && r.Identity.Authenticated
}

// BackendFailure reports whether the validator could not reach a decision.
func (r Result) BackendFailure() bool {
	return r.Reason == ReasonBackendUnavailable || r.Reason == ReasonMisconfigured
}

// CredentialValidator verifies credentials against a backing identity store.
type CredentialValidator interface {
	// Validate checks a bearer token.
	Validate(ctx context.Context, token string) Result
	// Authenticate checks a username/password pair.
	Authenticate(ctx context.Context, username, password string) Result
}

// AppValidator verifies an application-scoped token. A nil schema means the
// default app_users layout.
type AppValidator interface {
	ValidateApp(ctx context.Context, appName, token string, schema *store.AppSchema) Result
}
