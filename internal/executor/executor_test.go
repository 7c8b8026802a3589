// ABOUTME: Tests for the command registry and stock commands
// ABOUTME: Covers dispatch, unknown commands, collisions and role gating

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/zgate/internal/session"
)

var alice = session.Identity{Authenticated: true, ID: "u1", Username: "alice", Role: "admin"}

func newBuiltinRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	require.NoError(t, Builtins(r))
	return r
}

func TestRegistry_Builtins(t *testing.T) {
	r := newBuiltinRegistry(t)
	ctx := context.Background()

	got, err := r.Execute(ctx, "ping", nil, alice)
	require.NoError(t, err)
	assert.Equal(t, "pong", got)

	got, err = r.Execute(ctx, "echo", map[string]any{"msg": "hi"}, alice)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": "hi"}, got)

	got, err = r.Execute(ctx, "whoami", nil, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.(map[string]any)["username"])

	got, err = r.Execute(ctx, "time", nil, session.Guest())
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, got.(string))
	assert.NoError(t, err)
}

func TestRegistry_UnknownCommand(t *testing.T) {
	r := newBuiltinRegistry(t)

	_, err := r.Execute(context.Background(), "launch", nil, alice)
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestRegistry_Collision(t *testing.T) {
	r := newBuiltinRegistry(t)

	err := r.Register(&Command{Name: "ping", Handler: func(context.Context, session.Identity, map[string]any) (any, error) {
		return nil, nil
	}})
	assert.ErrorIs(t, err, ErrCommandCollision)
	assert.Error(t, r.Register(&Command{Name: "nohandler"}))
	assert.Panics(t, func() { r.MustRegister(&Command{}) })
}

func TestRegistry_RoleGating(t *testing.T) {
	r := newBuiltinRegistry(t)
	r.MustRegister(&Command{
		Name:  "shutdown",
		Roles: []string{"admin"},
		Handler: func(context.Context, session.Identity, map[string]any) (any, error) {
			return "ok", nil
		},
	})
	ctx := context.Background()

	_, err := r.Execute(ctx, "shutdown", nil, alice)
	assert.NoError(t, err)

	_, err = r.Execute(ctx, "shutdown", nil, session.Identity{Authenticated: true, Username: "bob", Role: "user"})
	assert.ErrorIs(t, err, ErrForbidden)

	// the guest role never satisfies a role list, even one naming "guest"
	_, err = r.Execute(ctx, "shutdown", nil, session.Guest())
	assert.ErrorIs(t, err, ErrForbidden)

	names := func(infos []Info) []string {
		out := make([]string, len(infos))
		for i, in := range infos {
			out[i] = in.Name
		}
		return out
	}
	assert.Contains(t, names(r.List(alice)), "shutdown")
	assert.NotContains(t, names(r.List(session.Guest())), "shutdown")
	assert.Equal(t, []string{"commands", "echo", "ping", "time", "whoami"}, names(r.List(session.Guest())))
}

func TestRegistry_HandlerErrorPassesThrough(t *testing.T) {
	r := NewRegistry(nil)
	boom := errors.New("boom")
	r.MustRegister(&Command{Name: "fail", Handler: func(context.Context, session.Identity, map[string]any) (any, error) {
		return nil, boom
	}})

	_, err := r.Execute(context.Background(), "fail", nil, alice)
	assert.ErrorIs(t, err, boom)
}
