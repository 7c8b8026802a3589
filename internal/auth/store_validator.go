// ABOUTME: CredentialValidator and AppValidator backed by the SQLite identity store
// ABOUTME: bcrypt password checks with timing-safe misses and JWT bearer tokens for zSession

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/zgate/internal/session"
	"github.com/2389/zgate/internal/store"
)

// dummyHash is compared against when a user is missing so that unknown and
// known usernames take the same time to reject.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// UserLookup is the subset of store.UserStore the validator reads.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// AppLookup is the subset of store.AppStore the validator reads.
type AppLookup interface {
	LookupAppIdentity(ctx context.Context, schema store.AppSchema, appName, apiKey string) (*store.AppIdentity, error)
}

// StoreValidator validates zSession credentials against users and
// application tokens against an AppSchema-described table.
type StoreValidator struct {
	users    UserLookup
	apps     AppLookup
	tokens   *JWTVerifier
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewStoreValidator creates a validator. A nil tokens verifier disables
// bearer-token login and token issuance; nil apps disables app auth.
func NewStoreValidator(users UserLookup, apps AppLookup, tokens *JWTVerifier, tokenTTL time.Duration, logger *slog.Logger) *StoreValidator {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &StoreValidator{
		users:    users,
		apps:     apps,
		tokens:   tokens,
		tokenTTL: tokenTTL,
		logger:   logger.With("component", "store-validator"),
	}
}

// Authenticate checks a username/password pair. On success the identity's
// APIKey carries a freshly issued bearer token when a verifier is configured.
func (v *StoreValidator) Authenticate(ctx context.Context, username, password string) Result {
	if username == "" || password == "" {
		return Reject(ReasonMissingCredentials)
	}
	if v.users == nil {
		return Failure(ReasonMisconfigured, errors.New("no user store"))
	}

	user, err := v.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return Reject(ReasonInvalidCredentials)
	}
	if err != nil {
		return Failure(ReasonBackendUnavailable, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Reject(ReasonInvalidCredentials)
	}
	if user.Status == store.UserDisabled {
		return Reject(ReasonDisabled)
	}

	id := session.Identity{ID: user.ID, Username: user.Username, Role: user.Role}
	if v.tokens != nil {
		token, err := v.tokens.Generate(user.ID, v.tokenTTL)
		if err != nil {
			return Failure(ReasonMisconfigured, err)
		}
		id.APIKey = token
	}
	return Accept(id)
}

// Validate checks a zSession bearer token.
func (v *StoreValidator) Validate(ctx context.Context, token string) Result {
	if token == "" {
		return Reject(ReasonMissingCredentials)
	}
	if v.tokens == nil || v.users == nil {
		return Failure(ReasonMisconfigured, errors.New("token validation not configured"))
	}

	userID, expiresAt, err := v.tokens.VerifyClaims(token)
	if errors.Is(err, ErrExpiredToken) {
		return Reject(ReasonExpired)
	}
	if err != nil {
		v.logger.Debug("token verification failed", "error", err)
		return Reject(ReasonInvalidCredentials)
	}

	user, err := v.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Reject(ReasonUnknownIdentity)
	}
	if err != nil {
		return Failure(ReasonBackendUnavailable, err)
	}
	if user.Status == store.UserDisabled {
		return Reject(ReasonDisabled)
	}

	res := Accept(session.Identity{ID: user.ID, Username: user.Username, Role: user.Role, APIKey: token})
	res.ExpiresAt = expiresAt
	return res
}

// ValidateApp checks an application API key. A nil schema selects the
// built-in app_users table.
func (v *StoreValidator) ValidateApp(ctx context.Context, appName, token string, schema *store.AppSchema) Result {
	if appName == "" || token == "" {
		return Reject(ReasonMissingCredentials)
	}
	if v.apps == nil {
		return Failure(ReasonMisconfigured, errors.New("no application store"))
	}

	s := store.DefaultAppSchema()
	if schema != nil {
		s = *schema
	}
	if err := s.Validate(); err != nil {
		return Failure(ReasonMisconfigured, err)
	}

	app, err := v.apps.LookupAppIdentity(ctx, s, appName, token)
	if errors.Is(err, store.ErrNotFound) {
		return Reject(ReasonInvalidCredentials)
	}
	if err != nil {
		return Failure(ReasonBackendUnavailable, err)
	}

	return Accept(session.Identity{ID: app.ID, Username: app.Username, Role: app.Role, APIKey: token})
}
