// ABOUTME: Caching decorator for credential validators
// ABOUTME: Positive results in an expiring LRU, rejections in a dedupe set, keyed by token fingerprint

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/2389/zgate/internal/dedupe"
	"github.com/2389/zgate/internal/session"
	"github.com/2389/zgate/internal/store"
)

// CachingValidator caches bearer-token and app-token decisions. Password
// authentication is never cached, and backend failures are never cached.
// An accepted decision is reused until the cache TTL or the credential's own
// expiry, whichever comes first.
type CachingValidator struct {
	next     CredentialValidator
	accepted *expirable.LRU[string, acceptedEntry]
	rejected *dedupe.Cache
	reasons  *expirable.LRU[string, FailureReason]
	now      func() time.Time
}

type acceptedEntry struct {
	identity  session.Identity
	expiresAt time.Time
}

// NewCachingValidator wraps next. size bounds each cache; ttl bounds how long
// a decision is reused.
func NewCachingValidator(next CredentialValidator, size int, ttl time.Duration) *CachingValidator {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingValidator{
		next:     next,
		accepted: expirable.NewLRU[string, acceptedEntry](size, nil, ttl),
		rejected: dedupe.New(ttl, size),
		reasons:  expirable.NewLRU[string, FailureReason](size, nil, ttl),
		now:      time.Now,
	}
}

// Fingerprint returns the cache key for a token. Raw tokens are never stored
// as keys.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Authenticate passes through to the wrapped validator.
func (c *CachingValidator) Authenticate(ctx context.Context, username, password string) Result {
	return c.next.Authenticate(ctx, username, password)
}

// Validate serves bearer-token decisions from cache when possible.
func (c *CachingValidator) Validate(ctx context.Context, token string) Result {
	if token == "" {
		return Reject(ReasonMissingCredentials)
	}
	key := Fingerprint("zsession", token)
	return c.cached(key, func() Result { return c.next.Validate(ctx, token) })
}

// ValidateApp caches app-token decisions when the wrapped validator also
// validates applications.
func (c *CachingValidator) ValidateApp(ctx context.Context, appName, token string, schema *store.AppSchema) Result {
	apps, ok := c.next.(AppValidator)
	if !ok {
		return Failure(ReasonMisconfigured, errors.New("wrapped validator does not validate applications"))
	}
	if appName == "" || token == "" {
		return Reject(ReasonMissingCredentials)
	}
	table := ""
	if schema != nil {
		table = schema.Table
	}
	key := Fingerprint("app", appName, table, token)
	return c.cached(key, func() Result { return apps.ValidateApp(ctx, appName, token, schema) })
}

func (c *CachingValidator) cached(key string, load func() Result) Result {
	if e, ok := c.accepted.Get(key); ok {
		if e.expiresAt.IsZero() || c.now().Before(e.expiresAt) {
			res := Accept(e.identity)
			res.ExpiresAt = e.expiresAt
			return res
		}
		c.forget(key)
	}
	if c.rejected.Check(key) {
		reason, ok := c.reasons.Get(key)
		if !ok {
			reason = ReasonInvalidCredentials
		}
		return Reject(reason)
	}

	res := load()
	switch {
	case res.OK():
		c.accepted.Add(key, acceptedEntry{identity: res.Identity, expiresAt: res.ExpiresAt})
	case !res.BackendFailure():
		c.rejected.Mark(key)
		c.reasons.Add(key, res.Reason)
	}
	return res
}

// forget drops any cached decision for key.
func (c *CachingValidator) forget(key string) {
	c.accepted.Remove(key)
	c.rejected.Forget(key)
	c.reasons.Remove(key)
}

// Purge drops every cached decision. Account changes made outside the
// gateway, such as disabling a user, apply immediately after a purge.
func (c *CachingValidator) Purge() {
	for _, key := range c.reasons.Keys() {
		c.rejected.Forget(key)
	}
	c.accepted.Purge()
	c.reasons.Purge()
}

// Close stops the rejection set's background sweep.
func (c *CachingValidator) Close() {
	c.rejected.Close()
}
