// ABOUTME: Tests for RemoteValidator against an httptest auth API
// ABOUTME: Covers success, rejection and unavailable-backend mapping

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeAuthAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body LoginRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.Username != "alice" || body.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(LoginResponse{Token: "issued", ID: "u1", Username: "alice", Role: "admin"})
	})
	mux.HandleFunc("POST /api/auth/validate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(LoginResponse{ID: "u1", Username: "alice", Role: "admin"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteValidator_Authenticate(t *testing.T) {
	srv := newFakeAuthAPI(t)
	v := NewRemoteValidator(srv.URL+"/", nil)
	ctx := context.Background()

	res := v.Authenticate(ctx, "alice", "pw")
	require.True(t, res.OK())
	assert.Equal(t, "u1", res.Identity.ID)
	assert.Equal(t, "issued", res.Identity.APIKey)

	assert.Equal(t, ReasonInvalidCredentials, v.Authenticate(ctx, "alice", "nope").Reason)
	assert.Equal(t, ReasonMissingCredentials, v.Authenticate(ctx, "", "").Reason)
}

func TestRemoteValidator_Validate(t *testing.T) {
	srv := newFakeAuthAPI(t)
	v := NewRemoteValidator(srv.URL, srv.Client())
	ctx := context.Background()

	res := v.Validate(ctx, "good-token")
	require.True(t, res.OK())
	assert.Equal(t, "alice", res.Identity.Username)
	assert.Equal(t, "good-token", res.Identity.APIKey)

	assert.Equal(t, ReasonInvalidCredentials, v.Validate(ctx, "bad").Reason)
}

func TestRemoteValidator_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	v := NewRemoteValidator(srv.URL, nil)

	assert.True(t, v.Validate(context.Background(), "tok").BackendFailure())

	srv.Close()
	assert.Equal(t, ReasonBackendUnavailable, v.Authenticate(context.Background(), "alice", "pw").Reason)
}

func TestRemoteValidator_ThroughManager(t *testing.T) {
	srv := newFakeAuthAPI(t)
	m := NewManager(nil, ManagerConfig{
		Remote: func(u string) CredentialValidator { return NewRemoteValidator(u, nil) },
	})

	out := m.Login(context.Background(), LoginRequest{Username: "alice", Password: "pw", ServerURL: srv.URL})
	require.True(t, out.OK())
	assert.Equal(t, "alice", out.Identity.Username)
}
