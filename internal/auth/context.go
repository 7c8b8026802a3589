// ABOUTME: Identity propagation through context.Context for request handlers
// ABOUTME: Provides WithIdentity/IdentityFromContext used by HTTP middleware and commands

package auth

import (
	"context"

	"github.com/2389/zgate/internal/session"
)

// identityContextKey is the key type for storing an Identity in context.Context.
type identityContextKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id session.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the identity from the context.
func IdentityFromContext(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(session.Identity)
	return id, ok
}

// MustIdentityFromContext retrieves the identity, panicking if not present.
func MustIdentityFromContext(ctx context.Context) session.Identity {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: identity not found in context")
	}
	return id
}
