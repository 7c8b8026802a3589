// ABOUTME: Per-connection message loop: command parsing, off-loop execution and relaying
// ABOUTME: Session commands (auth.*) act on the connection's own Manager

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/2389/zgate/internal/auth"
	"github.com/2389/zgate/internal/session"
)

// Command key fields. zKey wins when both are present.
const (
	fieldZKey = "zKey"
	fieldCmd  = "cmd"
)

// Session command names handled by the gateway itself.
const (
	cmdAuthApp     = "auth.app"
	cmdAuthSwitch  = "auth.switch"
	cmdAuthLogout  = "auth.logout"
	cmdAuthContext = "auth.context"
	cmdAuthWhoami  = "auth.whoami"
)

// resultResponse is the outbound success frame.
type resultResponse struct {
	Result any `json:"result"`
}

// errorResponse is the outbound failure frame.
type errorResponse struct {
	Error string `json:"error"`
}

// sessionState is the auth.* command result describing the connection's session.
type sessionState struct {
	SessionID    string            `json:"session_id"`
	Context      string            `json:"context"`
	DualMode     bool              `json:"dual_mode"`
	ActiveApp    string            `json:"active_app,omitempty"`
	Applications []string          `json:"applications"`
	ZSession     *session.Identity `json:"zsession,omitempty"`
	Application  *session.Identity `json:"application,omitempty"`
}

// connSession is the gateway-side state of one registered connection.
type connSession struct {
	gw      *Gateway
	conn    *wsConn
	manager *auth.Manager
	// ctx outlives the read loop so in-flight commands can finish.
	ctx context.Context
	sem *semaphore.Weighted
}

// parseCommand extracts the command key and payload from a JSON object.
// ok is false for anything that is not an object carrying a string key.
func parseCommand(data []byte) (key string, payload map[string]any, ok bool) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return "", nil, false
	}
	for _, field := range []string{fieldZKey, fieldCmd} {
		if s, isStr := obj[field].(string); isStr && strings.TrimSpace(s) != "" {
			key = strings.TrimSpace(s)
			break
		}
	}
	if key == "" {
		return "", nil, false
	}
	delete(obj, fieldZKey)
	delete(obj, fieldCmd)
	return key, obj, true
}

// pongWait is how long the connection may stay silent, pongs included.
func (cs *connSession) pongWait() time.Duration {
	interval := cs.gw.config.Gateway.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return 2 * interval
}

// keepalive pings the peer until stop is closed or a ping fails.
func (cs *connSession) keepalive(stop <-chan struct{}) {
	interval := cs.gw.config.Gateway.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := cs.conn.ping(); err != nil {
				cs.gw.logger.Debug("ping failed", "conn_id", cs.conn.id, "error", err)
				return
			}
		}
	}
}

// readLoop receives messages until the peer goes away or a read fails.
func (cs *connSession) readLoop() {
	ws := cs.conn.ws
	wait := cs.pongWait()

	ws.SetReadLimit(cs.gw.config.Gateway.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				cs.gw.logger.Debug("websocket read error", "conn_id", cs.conn.id, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wait))
		cs.handleMessage(data)
	}
}

// handleMessage relays plain payloads and hands commands to a worker so
// the read loop never waits on execution. Relays run on the read loop but
// only fill each peer's send queue, so a slow peer cannot stall the sender.
func (cs *connSession) handleMessage(data []byte) {
	key, payload, ok := parseCommand(data)
	if !ok {
		cs.gw.metrics.messages.WithLabelValues(kindBroadcast).Inc()
		cs.gw.registry.Broadcast(data, cs.conn.id)
		return
	}

	cs.gw.metrics.messages.WithLabelValues(kindCommand).Inc()
	if !cs.sem.TryAcquire(1) {
		cs.gw.metrics.commands.WithLabelValues("rejected").Inc()
		cs.reply(errorResponse{Error: "too many commands in flight"})
		return
	}

	cs.gw.conns.Add(1)
	go func() {
		defer cs.gw.conns.Done()
		defer cs.sem.Release(1)
		cs.runCommand(key, payload)
	}()
}

// runCommand executes one command and delivers its outcome. Results go to
// the sender and then to everyone else; errors go only to the sender.
// Session command results describe private state and are not broadcast.
func (cs *connSession) runCommand(key string, payload map[string]any) {
	ctx := cs.ctx
	if timeout := cs.gw.config.Gateway.CommandTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	private := strings.HasPrefix(key, "auth.")
	var (
		result any
		err    error
	)
	if private {
		result, err = cs.sessionCommand(ctx, key, payload)
	} else {
		result, err = cs.gw.executor.Execute(ctx, key, payload, cs.caller())
	}

	if err != nil {
		cs.gw.metrics.commands.WithLabelValues("error").Inc()
		cs.gw.logger.Debug("command failed", "conn_id", cs.conn.id, "command", key, "error", err)
		cs.reply(errorResponse{Error: err.Error()})
		return
	}
	cs.gw.metrics.commands.WithLabelValues("ok").Inc()

	msg, err := json.Marshal(resultResponse{Result: result})
	if err != nil {
		cs.reply(errorResponse{Error: "result could not be encoded"})
		return
	}
	if !cs.gw.registry.SendTo(cs.conn.id, msg) {
		cs.gw.logger.Debug("dropping result for departed connection", "conn_id", cs.conn.id, "command", key)
		return
	}
	if !private {
		cs.gw.registry.Broadcast(msg, cs.conn.id)
	}
}

// reply sends v to this connection only, if it is still registered.
func (cs *connSession) reply(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		cs.gw.logger.Error("failed to encode reply", "error", err)
		return
	}
	if !cs.gw.registry.SendTo(cs.conn.id, msg) {
		cs.gw.logger.Debug("dropping reply for departed connection", "conn_id", cs.conn.id)
	}
}

// caller is the identity commands run as: the zSession identity when that
// tier is active, else the focused application, else a guest.
func (cs *connSession) caller() session.Identity {
	au, ok := cs.manager.ActiveUser()
	if !ok {
		return session.Guest()
	}
	if au.ZSession != nil {
		return *au.ZSession
	}
	return *au.Application
}

// sessionCommand runs an auth.* command against the connection's Manager.
func (cs *connSession) sessionCommand(ctx context.Context, key string, payload map[string]any) (any, error) {
	mgr := cs.manager

	switch key {
	case cmdAuthApp:
		app := stringField(payload, "app")
		out := mgr.AuthenticateApp(ctx, app, stringField(payload, "token"), cs.gw.config.AppSchema(app))
		if !out.OK() {
			return nil, errors.New(out.Reason)
		}
	case cmdAuthSwitch:
		app := stringField(payload, "app")
		if !mgr.SwitchApp(app) {
			return nil, fmt.Errorf("application %q is not authenticated", app)
		}
	case cmdAuthLogout:
		scope, ok := auth.ParseLogoutScope(stringField(payload, "scope"))
		if !ok {
			return nil, errors.New("unknown logout scope")
		}
		out := mgr.Logout(ctx, auth.LogoutRequest{Scope: scope, AppName: stringField(payload, "app")})
		if !out.OK() {
			return nil, errors.New(out.Reason)
		}
	case cmdAuthContext:
		c, err := session.ParseContext(stringField(payload, "context"))
		if err != nil {
			return nil, err
		}
		if !mgr.SetActiveContext(c) {
			return nil, fmt.Errorf("context %s is not available", c)
		}
	case cmdAuthWhoami:
	default:
		return nil, fmt.Errorf("unknown session command: %s", key)
	}

	return describeSession(mgr), nil
}

// describeSession builds the client view of a manager's session.
func describeSession(mgr *auth.Manager) sessionState {
	rec := mgr.Snapshot()
	st := sessionState{
		SessionID:    rec.ID,
		Context:      rec.Context.String(),
		DualMode:     rec.DualMode,
		ActiveApp:    rec.ActiveApp,
		Applications: rec.AppNames(),
	}
	if rec.ZSession.Authenticated {
		zs := rec.ZSession
		st.ZSession = &zs
	}
	if app, ok := rec.Applications[rec.ActiveApp]; ok {
		st.Application = &app
	}
	return st
}

func stringField(payload map[string]any, name string) string {
	s, _ := payload[name].(string)
	return strings.TrimSpace(s)
}
