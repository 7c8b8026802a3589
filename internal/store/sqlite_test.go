// ABOUTME: Tests for SQLite store setup, users and application identities
// ABOUTME: Covers schema creation, CRUD, status changes and schema-driven lookups

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &User{ID: "u1", Username: "alice", PasswordHash: "x"}))

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, store.Ping(ctx))
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gateway.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.CreateUser(context.Background(), &User{ID: "u1", Username: "alice", PasswordHash: "x"}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err, "migrations must be idempotent")
	defer second.Close()

	u, err := second.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, UserActive, u.Status)
}

func TestUsers_CreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	u := &User{ID: "user-1", Username: "alice", PasswordHash: "$2a$hash", Role: "admin"}
	require.NoError(t, store.CreateUser(ctx, u))
	assert.False(t, u.CreatedAt.IsZero())

	byID, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
	assert.Equal(t, "admin", byID.Role)
	assert.Equal(t, UserActive, byID.Status)

	byName, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byName.ID)
	assert.Equal(t, "$2a$hash", byName.PasswordHash)
}

func TestUsers_DefaultRole(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &User{ID: "u", Username: "bob", PasswordHash: "h"}))
	u, err := store.GetUser(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "user", u.Role)
}

func TestUsers_DuplicateUsername(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &User{ID: "a", Username: "alice", PasswordHash: "h"}))
	err := store.CreateUser(ctx, &User{ID: "b", Username: "alice", PasswordHash: "h"})
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestUsers_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetUser(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	_, err = store.GetUserByUsername(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.UpdateUserPassword(ctx, "missing", "h"), ErrNotFound)
	assert.ErrorIs(t, store.SetUserStatus(ctx, "missing", UserDisabled), ErrNotFound)
}

func TestUsers_StatusAndPassword(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &User{ID: "u", Username: "carol", PasswordHash: "old"}))
	require.NoError(t, store.SetUserStatus(ctx, "u", UserDisabled))
	require.NoError(t, store.UpdateUserPassword(ctx, "u", "new"))

	u, err := store.GetUser(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, UserDisabled, u.Status)
	assert.Equal(t, "new", u.PasswordHash)

	assert.Error(t, store.SetUserStatus(ctx, "u", UserStatus("banished")))
}

func TestUsers_List(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zed", "amy"} {
		require.NoError(t, store.CreateUser(ctx, &User{ID: "id-" + name, Username: name, PasswordHash: "h"}))
	}

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAppIdentities_LookupDefaultSchema(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAppIdentity(ctx, &AppIdentity{
		ID: "a1", AppName: "store", Username: "storeuser", Role: "customer", APIKey: "key-store",
	}))
	require.NoError(t, store.CreateAppIdentity(ctx, &AppIdentity{
		ID: "a2", AppName: "analytics", Username: "analyst", APIKey: "key-analytics",
	}))

	got, err := store.LookupAppIdentity(ctx, DefaultAppSchema(), "store", "key-store")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, "storeuser", got.Username)
	assert.Equal(t, "customer", got.Role)
	assert.Equal(t, "store", got.AppName)

	// a key issued for another application does not resolve
	_, err = store.LookupAppIdentity(ctx, DefaultAppSchema(), "store", "key-analytics")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.LookupAppIdentity(ctx, DefaultAppSchema(), "store", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppIdentities_LookupCustomSchema(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `
		CREATE TABLE members (member_id INTEGER PRIMARY KEY, handle TEXT, tier TEXT, secret TEXT);
		INSERT INTO members (member_id, handle, tier, secret) VALUES (7, 'dana', 'gold', 's3cret');
	`)
	require.NoError(t, err)

	schema := AppSchema{
		Table: "members", IDField: "member_id", UsernameField: "handle",
		RoleField: "tier", TokenField: "secret",
	}
	got, err := store.LookupAppIdentity(ctx, schema, "crm", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "7", got.ID)
	assert.Equal(t, "dana", got.Username)
	assert.Equal(t, "gold", got.Role)
	assert.Equal(t, "crm", got.AppName)
}

func TestAppIdentities_RejectsUnsafeSchema(t *testing.T) {
	store := setupTestStore(t)

	schema := DefaultAppSchema()
	schema.Table = "app_users; DROP TABLE users"
	_, err := store.LookupAppIdentity(context.Background(), schema, "store", "k")
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestAppIdentities_DuplicateKeyAndDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAppIdentity(ctx, &AppIdentity{ID: "a1", AppName: "store", Username: "u1", APIKey: "k"}))
	err := store.CreateAppIdentity(ctx, &AppIdentity{ID: "a2", AppName: "store", Username: "u2", APIKey: "k"})
	assert.ErrorIs(t, err, ErrAPIKeyExists)

	list, err := store.ListAppIdentities(ctx, "store")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.DeleteAppIdentity(ctx, "a1"))
	assert.ErrorIs(t, store.DeleteAppIdentity(ctx, "a1"), ErrNotFound)

	all, err := store.ListAppIdentities(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAppSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppSchema)
		wantErr bool
	}{
		{"default", func(*AppSchema) {}, false},
		{"no app field", func(s *AppSchema) { s.AppField = "" }, false},
		{"empty table", func(s *AppSchema) { s.Table = "" }, true},
		{"quoted field", func(s *AppSchema) { s.RoleField = `role"` }, true},
		{"leading digit", func(s *AppSchema) { s.IDField = "1id" }, true},
		{"bad app field", func(s *AppSchema) { s.AppField = "app-name" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultAppSchema()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchema)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
