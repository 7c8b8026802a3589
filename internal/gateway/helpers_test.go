// ABOUTME: Shared fixtures for gateway tests: stub validator, test config and websocket helpers
// ABOUTME: Runs the gateway handler under httptest and dials it with gorilla's client

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/2389/zgate/internal/auth"
	"github.com/2389/zgate/internal/config"
	"github.com/2389/zgate/internal/executor"
	"github.com/2389/zgate/internal/session"
	"github.com/2389/zgate/internal/store"
)

// testSecret meets the JWT minimum length.
const testSecret = "test-secret-key-for-jwt-signing-0123"

type stubValidator struct {
	mu        sync.Mutex
	tokens    map[string]session.Identity
	appTokens map[string]session.Identity
	down      bool
	calls     atomic.Int32
}

func newStubValidator() *stubValidator {
	return &stubValidator{
		tokens: map[string]session.Identity{
			"good-token": {ID: "u-alice", Username: "alice", Role: "admin"},
			"bob-token":  {ID: "u-bob", Username: "bob", Role: "user"},
			"carl-token": {ID: "u-carl", Username: "carl", Role: "user"},
		},
		appTokens: map[string]session.Identity{
			"shop/tok1": {ID: "s-1", Username: "shopper", Role: "customer"},
			"crm/tok3":  {ID: "c-1", Username: "rep", Role: "sales"},
		},
	}
}

func (v *stubValidator) setDown(down bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.down = down
}

func (v *stubValidator) Authenticate(_ context.Context, username, password string) auth.Result {
	v.calls.Add(1)
	if username == "alice" && password == "pw" {
		return auth.Accept(v.tokens["good-token"])
	}
	return auth.Reject(auth.ReasonInvalidCredentials)
}

func (v *stubValidator) Validate(_ context.Context, token string) auth.Result {
	v.calls.Add(1)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.down {
		return auth.Failure(auth.ReasonBackendUnavailable, errors.New("backend down"))
	}
	id, ok := v.tokens[token]
	if !ok {
		return auth.Reject(auth.ReasonInvalidCredentials)
	}
	return auth.Accept(id)
}

func (v *stubValidator) ValidateApp(_ context.Context, appName, token string, _ *store.AppSchema) auth.Result {
	v.calls.Add(1)
	id, ok := v.appTokens[appName+"/"+token]
	if !ok {
		return auth.Reject(auth.ReasonInvalidCredentials)
	}
	return auth.Accept(id)
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config with auth on, an in-memory database and
// short timeouts.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Auth.JWTSecret = testSecret
	cfg.Database.Path = ":memory:"
	cfg.Gateway.CommandTimeout = 5 * time.Second
	cfg.Gateway.WriteTimeout = 2 * time.Second
	return cfg
}

// testCommands returns the builtin commands plus "slow", which blocks
// until release is closed.
func testCommands(t *testing.T, release <-chan struct{}) *executor.Registry {
	t.Helper()
	r := executor.NewRegistry(testLogger())
	require.NoError(t, executor.Builtins(r))
	r.MustRegister(&executor.Command{
		Name: "slow",
		Handler: func(ctx context.Context, _ session.Identity, _ map[string]any) (any, error) {
			select {
			case <-release:
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	return r
}

// startGateway serves a gateway built from cfg and deps on an httptest server.
func startGateway(t *testing.T, cfg *config.Config, deps Deps) (*Gateway, *httptest.Server) {
	t.Helper()
	gw, err := NewWithDeps(cfg, deps, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		gw.closeConnections()
		srv.Close()
	})
	return gw, srv
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

// dial opens a websocket connection. The handshake response is returned
// even when the gateway closes the connection right after the upgrade.
func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, query), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// expectClose reads until the gateway's close frame and checks its code.
func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, code, ce.Code)
		return
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readFrame reads one text frame as a generic JSON object.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), "frame: %s", data)
	return out
}

// readRaw reads one text frame verbatim.
func readRaw(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

// expectSilence asserts nothing arrives within a short window. The
// connection cannot be read again afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}

func waitForConnections(t *testing.T, gw *Gateway, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return gw.Registry().Len() == n },
		3*time.Second, 10*time.Millisecond, "want %d registered connections", n)
}
