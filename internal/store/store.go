// ABOUTME: Store interfaces and data types for zgate persistence
// ABOUTME: Defines User, AppIdentity, AppSchema and the lookups the validators depend on

package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when trying to create a user with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// ErrAPIKeyExists is returned when an application API key is already issued.
var ErrAPIKeyExists = errors.New("api key already exists")

// ErrInvalidSchema is returned when an AppSchema names an unsafe identifier.
var ErrInvalidSchema = errors.New("invalid app schema")

// UserStatus is the lifecycle state of a zSession user.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserDisabled UserStatus = "disabled"
)

// User is a platform-level (zSession) account.
type User struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash
	Role         string
	Status       UserStatus
	CreatedAt    time.Time
}

// AppIdentity is an application-scoped identity resolved from an API key.
type AppIdentity struct {
	ID        string
	AppName   string
	Username  string
	Role      string
	APIKey    string
	CreatedAt time.Time
}

// AppSchema maps an application's identity table onto the fields the gateway
// needs. Empty AppField disables per-application scoping for that table.
type AppSchema struct {
	Table         string `yaml:"table" toml:"table"`
	AppField      string `yaml:"app_field" toml:"app_field"`
	IDField       string `yaml:"id_field" toml:"id_field"`
	UsernameField string `yaml:"username_field" toml:"username_field"`
	RoleField     string `yaml:"role_field" toml:"role_field"`
	TokenField    string `yaml:"token_field" toml:"token_field"`
}

// DefaultAppSchema describes the built-in app_users table.
func DefaultAppSchema() AppSchema {
	return AppSchema{
		Table:         "app_users",
		AppField:      "app_name",
		IDField:       "id",
		UsernameField: "username",
		RoleField:     "role",
		TokenField:    "api_key",
	}
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that every configured name is a plain SQL identifier.
func (s AppSchema) Validate() error {
	fields := []struct{ name, value string }{
		{"table", s.Table},
		{"id_field", s.IDField},
		{"username_field", s.UsernameField},
		{"role_field", s.RoleField},
		{"token_field", s.TokenField},
	}
	for _, f := range fields {
		if !identifierRe.MatchString(f.value) {
			return fmt.Errorf("%w: %s %q", ErrInvalidSchema, f.name, f.value)
		}
	}
	if s.AppField != "" && !identifierRe.MatchString(s.AppField) {
		return fmt.Errorf("%w: app_field %q", ErrInvalidSchema, s.AppField)
	}
	return nil
}

// UserStore manages zSession accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	SetUserStatus(ctx context.Context, id string, status UserStatus) error
	ListUsers(ctx context.Context) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)
}

// AppStore manages application-scoped identities.
type AppStore interface {
	CreateAppIdentity(ctx context.Context, a *AppIdentity) error
	LookupAppIdentity(ctx context.Context, schema AppSchema, appName, apiKey string) (*AppIdentity, error)
	ListAppIdentities(ctx context.Context, appName string) ([]*AppIdentity, error)
	DeleteAppIdentity(ctx context.Context, id string) error
}

// AuditStore records and lists audit entries.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	AppStore
	AuditStore
	Ping(ctx context.Context) error
	Close() error
}
