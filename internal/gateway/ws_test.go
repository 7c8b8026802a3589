// ABOUTME: End-to-end tests of the realtime endpoint over real websocket connections
// ABOUTME: Handshake close codes, guest admission, relaying, command delivery and session commands

package gateway

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocket_OriginRejectedBeforeAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AllowedOrigins = []string{"https://app.example.com"}
	v := newStubValidator()
	gw, srv := startGateway(t, cfg, Deps{Validator: v})

	t.Run("unlisted origin", func(t *testing.T) {
		conn := dial(t, srv, "token=good-token", http.Header{"Origin": {"https://evil.example.com"}})
		expectClose(t, conn, websocket.ClosePolicyViolation)
	})

	t.Run("missing origin", func(t *testing.T) {
		conn := dial(t, srv, "token=good-token", nil)
		expectClose(t, conn, websocket.ClosePolicyViolation)
	})

	assert.Equal(t, int32(0), v.calls.Load(), "token must not be checked after an origin failure")
	assert.Equal(t, 0, gw.Registry().Len())
}

func TestWebSocket_AllowedOriginPrefix(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AllowedOrigins = []string{"https://app.example.com"}
	gw, srv := startGateway(t, cfg, Deps{Validator: newStubValidator()})

	dial(t, srv, "token=good-token", http.Header{"Origin": {"https://app.example.com"}})
	waitForConnections(t, gw, 1)
}

func TestWebSocket_DefaultOriginIsLoopbackOnly(t *testing.T) {
	gw, srv := startGateway(t, testConfig(), Deps{Validator: newStubValidator()})

	conn := dial(t, srv, "token=good-token", http.Header{"Origin": {"https://example.com"}})
	expectClose(t, conn, websocket.ClosePolicyViolation)

	dial(t, srv, "token=good-token", http.Header{"Origin": {"http://localhost:3000"}})
	waitForConnections(t, gw, 1)
}

func TestWebSocket_BadTokenClosedAndNeverRegistered(t *testing.T) {
	v := newStubValidator()
	gw, srv := startGateway(t, testConfig(), Deps{Validator: v})

	conn := dial(t, srv, "token=badtoken", nil)
	expectClose(t, conn, websocket.ClosePolicyViolation)

	assert.Equal(t, int32(1), v.calls.Load())
	assert.Equal(t, 0, gw.Registry().Len())
}

func TestWebSocket_MissingTokenClosed(t *testing.T) {
	v := newStubValidator()
	gw, srv := startGateway(t, testConfig(), Deps{Validator: v})

	conn := dial(t, srv, "", nil)
	expectClose(t, conn, websocket.ClosePolicyViolation)

	assert.Equal(t, int32(0), v.calls.Load())
	assert.Equal(t, 0, gw.Registry().Len())
}

func TestWebSocket_BackendFailureClosedWithInternalError(t *testing.T) {
	v := newStubValidator()
	v.setDown(true)
	gw, srv := startGateway(t, testConfig(), Deps{Validator: v})

	conn := dial(t, srv, "token=good-token", nil)
	expectClose(t, conn, websocket.CloseInternalServerErr)
	assert.Equal(t, 0, gw.Registry().Len())
}

func TestWebSocket_TokenTransports(t *testing.T) {
	gw, srv := startGateway(t, testConfig(), Deps{Validator: newStubValidator()})

	dial(t, srv, "token=good-token", nil)
	dial(t, srv, "api_key=bob-token", nil)
	dial(t, srv, "", http.Header{"Authorization": {"Bearer carl-token"}})
	waitForConnections(t, gw, 3)

	names := map[string]bool{}
	for _, e := range gw.Registry().Snapshot() {
		names[e.Identity.Username] = true
		assert.True(t, e.Identity.Authenticated)
	}
	assert.Equal(t, map[string]bool{"alice": true, "bob": true, "carl": true}, names)
}

func TestWebSocket_GuestAdmissionSkipsValidator(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.RequireAuth = false
	v := newStubValidator()
	gw, srv := startGateway(t, cfg, Deps{Validator: v})

	conn := dial(t, srv, "", nil)
	waitForConnections(t, gw, 1)

	entry := gw.Registry().Snapshot()[0]
	assert.True(t, entry.Identity.IsGuest())

	sendJSON(t, conn, map[string]any{"cmd": "whoami"})
	frame := readFrame(t, conn)
	result, ok := frame["result"].(map[string]any)
	require.True(t, ok, "frame: %v", frame)
	assert.Equal(t, "guest", result["username"])
	assert.Equal(t, false, result["authenticated"])

	assert.Equal(t, int32(0), v.calls.Load())
}

func TestWebSocket_PlainMessagesBroadcastToOthers(t *testing.T) {
	gw, srv := startGateway(t, testConfig(), Deps{Validator: newStubValidator()})

	a := dial(t, srv, "token=good-token", nil)
	b := dial(t, srv, "token=bob-token", nil)
	c := dial(t, srv, "token=carl-token", nil)
	waitForConnections(t, gw, 3)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("hello everyone")))
	assert.Equal(t, "hello everyone", readRaw(t, b))
	assert.Equal(t, "hello everyone", readRaw(t, c))

	// A JSON object without a command key is relayed verbatim.
	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`{"msg":"hi"}`)))
	assert.Equal(t, `{"msg":"hi"}`, readRaw(t, a))
	assert.Equal(t, `{"msg":"hi"}`, readRaw(t, c))

	expectSilence(t, a)
}

func TestWebSocket_CommandResultToSenderThenOthers(t *testing.T) {
	gw, srv := startGateway(t, testConfig(), Deps{Validator: newStubValidator()})

	a := dial(t, srv, "token=good-token", nil)
	b := dial(t, srv, "token=bob-token", nil)
	waitForConnections(t, gw, 2)

	sendJSON(t, a, map[string]any{"zKey": "echo", "x": 1})

	want := map[string]any{"result": map[string]any{"x": float64(1)}}
	assert.Equal(t, want, readFrame(t, a))
	assert.Equal(t, want, readFrame(t, b))
}

func TestWebSocket_ZKeyTakesPrecedence(t *testing.T) {
	gw, srv := startGateway(t, testConfig(), Deps{Validator: newStubValidator()})

	a := dial(t, srv, "token=good-token", nil)
	waitForConnections(t, gw, 1)

	sendJSON(t, a, map[string]any{"zKey": "ping", "cmd": "time"})
	assert.Equal(t, map[string]any{"result": "pong"}, readFrame(t, a))
}

func TestWebSocket_CommandErrorOnlyToSender(t *testing.T) {
	gw, srv := startGateway(t, testConfig(), Deps{Validator: newStubValidator()})

	a := dial(t, srv, "token=good-token", nil)
	b := dial(t, srv, "token=bob-token", nil)
	waitForConnections(t, gw, 2)

	sendJSON(t, a, map[string]any{"cmd": "no-such-command"})
	frame := readFrame(t, a)
	assert.Contains(t, frame["error"], "unknown command")

	expectSilence(t, b)

	// The sender's loop keeps running after a command error.
	sendJSON(t, a, map[string]any{"cmd": "ping"})
	assert.Equal(t, map[string]any{"result": "pong"}, readFrame(t, a))
}

func TestWebSocket_SlowCommandDoesNotBlockReceive(t *testing.T) {
	release := make(chan struct{})
	gw, srv := startGateway(t, testConfig(), Deps{
		Validator: newStubValidator(),
		Executor:  testCommands(t, release),
	})

	a := dial(t, srv, "token=good-token", nil)
	waitForConnections(t, gw, 1)

	sendJSON(t, a, map[string]any{"cmd": "slow"})
	sendJSON(t, a, map[string]any{"cmd": "ping"})

	assert.Equal(t, map[string]any{"result": "pong"}, readFrame(t, a), "ping answered while slow runs")

	close(release)
	assert.Equal(t, map[string]any{"result": "done"}, readFrame(t, a))
}

func TestWebSocket_ResultDroppedWhenSenderLeaves(t *testing.T) {
	cfg := testConfig()
	release := make(chan struct{})
	gw, srv := startGateway(t, cfg, Deps{
		Validator: newStubValidator(),
		Executor:  testCommands(t, release),
	})

	a := dial(t, srv, "token=good-token", nil)
	b := dial(t, srv, "token=bob-token", nil)
	waitForConnections(t, gw, 2)

	sendJSON(t, a, map[string]any{"cmd": "slow"})
	_ = a.Close()
	waitForConnections(t, gw, 1)

	close(release)
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + cfg.Metrics.Path)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), `zgate_commands_total{status="ok"} 1`)
	}, 3*time.Second, 20*time.Millisecond, "slow command finishes")

	expectSilence(t, b)
}

func TestWebSocket_InflightLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.MaxInflightCommands = 1
	release := make(chan struct{})
	gw, srv := startGateway(t, cfg, Deps{
		Validator: newStubValidator(),
		Executor:  testCommands(t, release),
	})

	a := dial(t, srv, "token=good-token", nil)
	waitForConnections(t, gw, 1)

	sendJSON(t, a, map[string]any{"cmd": "slow"})
	sendJSON(t, a, map[string]any{"cmd": "ping"})

	frame := readFrame(t, a)
	assert.Equal(t, "too many commands in flight", frame["error"])

	close(release)
	assert.Equal(t, map[string]any{"result": "done"}, readFrame(t, a))
}

func TestWebSocket_SessionCommands(t *testing.T) {
	gw, srv := startGateway(t, testConfig(), Deps{Validator: newStubValidator()})

	a := dial(t, srv, "token=good-token", nil)
	b := dial(t, srv, "token=bob-token", nil)
	waitForConnections(t, gw, 2)

	sendJSON(t, a, map[string]any{"cmd": "auth.whoami"})
	state := readFrame(t, a)["result"].(map[string]any)
	assert.Equal(t, "zsession", state["context"])
	assert.Equal(t, false, state["dual_mode"])

	sendJSON(t, a, map[string]any{"cmd": "auth.app", "app": "shop", "token": "tok1"})
	state = readFrame(t, a)["result"].(map[string]any)
	assert.Equal(t, "dual", state["context"])
	assert.Equal(t, true, state["dual_mode"])
	assert.Equal(t, "shop", state["active_app"])
	assert.Equal(t, []any{"shop"}, state["applications"])

	sendJSON(t, a, map[string]any{"cmd": "auth.app", "app": "shop", "token": "wrong"})
	assert.Equal(t, "invalid credentials", readFrame(t, a)["error"])

	sendJSON(t, a, map[string]any{"cmd": "auth.switch", "app": "crm"})
	assert.Contains(t, readFrame(t, a)["error"], "not authenticated")

	sendJSON(t, a, map[string]any{"cmd": "auth.context", "context": "zsession"})
	state = readFrame(t, a)["result"].(map[string]any)
	assert.Equal(t, "zsession", state["context"])
	assert.Equal(t, false, state["dual_mode"])

	sendJSON(t, a, map[string]any{"cmd": "auth.logout", "scope": "application", "app": "shop"})
	state = readFrame(t, a)["result"].(map[string]any)
	assert.Equal(t, "zsession", state["context"])
	assert.Equal(t, []any{}, state["applications"])

	sendJSON(t, a, map[string]any{"cmd": "auth.logout", "scope": "everything"})
	assert.Equal(t, "unknown logout scope", readFrame(t, a)["error"])

	sendJSON(t, a, map[string]any{"cmd": "auth.logout", "scope": "all"})
	state = readFrame(t, a)["result"].(map[string]any)
	assert.Equal(t, "none", state["context"])

	// After logging out everything, commands run as a guest.
	sendJSON(t, a, map[string]any{"cmd": "whoami"})
	assert.Equal(t, "guest", readFrame(t, a)["result"].(map[string]any)["username"])

	// Only the whoami result was broadcast; session replies stay private.
	assert.Equal(t, "guest", readFrame(t, b)["result"].(map[string]any)["username"])
	expectSilence(t, b)
}

func TestWebSocket_TeardownRemovesConnection(t *testing.T) {
	gw, srv := startGateway(t, testConfig(), Deps{Validator: newStubValidator()})

	a := dial(t, srv, "token=good-token", nil)
	b := dial(t, srv, "token=bob-token", nil)
	waitForConnections(t, gw, 2)

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = a.Close()
	waitForConnections(t, gw, 1)

	// Broadcasts after the departure still reach the remaining peers.
	c := dial(t, srv, "token=carl-token", nil)
	waitForConnections(t, gw, 2)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("still here")))
	assert.Equal(t, "still here", readRaw(t, b))
}

func TestWebSocket_ShutdownClosesConnections(t *testing.T) {
	gw, srv := startGateway(t, testConfig(), Deps{Validator: newStubValidator()})

	a := dial(t, srv, "token=good-token", nil)
	waitForConnections(t, gw, 1)

	gw.closeConnections()
	expectClose(t, a, websocket.CloseGoingAway)
	require.Eventually(t, func() bool { return gw.Registry().Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}
