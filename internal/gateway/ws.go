// ABOUTME: Realtime websocket endpoint: origin check, token handshake, registration and teardown
// ABOUTME: Each connection owns a session Manager, a read loop, a write pump and a keepalive

package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/2389/zgate/internal/auth"
	"github.com/2389/zgate/internal/registry"
	"github.com/2389/zgate/internal/session"
	"github.com/2389/zgate/internal/store"
)

// errConnClosed is returned by Send after the connection is gone.
var errConnClosed = errors.New("connection closed")

// errSendQueueFull is returned by Send when the peer is not keeping up.
var errSendQueueFull = errors.New("send queue full")

// wsConn adapts a websocket connection to registry.Conn. Send only queues
// the frame; writePump is the single writer of data frames. Control frames
// may be written concurrently.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	send      chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration, queueSize int) *wsConn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &wsConn{
		id:           uuid.New().String(),
		ws:           ws,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, queueSize),
		done:         make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Closed() bool { return c.closed.Load() }

// Send queues one text frame without waiting for the peer. A full queue
// means the peer has stopped reading; the connection is closed so that it
// cannot hold up the sender.
func (c *wsConn) Send(msg []byte) error {
	if c.closed.Load() {
		return errConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	default:
	}
	c.closed.Store(true)
	go c.closeWith(websocket.CloseTryAgainLater, "send queue full")
	return errors.Join(auth.ErrConnection, errSendQueueFull)
}

// writePump writes queued frames in order until the connection closes or
// a write fails.
func (c *wsConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.closed.Store(true)
				_ = c.ws.Close()
				return
			}
		}
	}
}

// ping writes a ping control frame.
func (c *wsConn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// closeWith sends a close frame with code and reason, then closes the
// socket. Only the first call has any effect.
func (c *wsConn) closeWith(code int, reason string) {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		_ = c.ws.Close()
	})
}

// handleWebSocket upgrades the request and runs the connection until it
// closes. The upgrade happens before the policy checks so that rejections
// reach the client as close codes.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	g.conns.Add(1)
	defer g.conns.Done()

	c := newWSConn(ws, g.config.Gateway.WriteTimeout, g.config.Gateway.SendQueueSize)

	origin := r.Header.Get("Origin")
	if !originAllowed(origin, g.config.Auth.AllowedOrigins) {
		g.metrics.rejections.WithLabelValues(rejectOrigin).Inc()
		g.logger.Warn("origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		c.closeWith(websocket.ClosePolicyViolation, "origin not allowed")
		return
	}

	mgr, id, ok := g.handshake(r, c)
	if !ok {
		return
	}

	g.serveConn(context.WithoutCancel(r.Context()), c, mgr, id, r.RemoteAddr)
}

// newManager creates the session manager owned by one connection.
func (g *Gateway) newManager() *auth.Manager {
	return auth.NewManager(nil, auth.ManagerConfig{
		Validator: g.validator,
		Apps:      g.apps,
		Auditor:   g.auditor,
		Logger:    g.logger,
	})
}

// handshake authenticates the connection. With auth disabled the
// connection is admitted as a guest without consulting the validator.
// On failure the connection has already been closed.
func (g *Gateway) handshake(r *http.Request, c *wsConn) (*auth.Manager, session.Identity, bool) {
	mgr := g.newManager()

	if !g.config.Auth.RequireAuth {
		return mgr, session.Guest(), true
	}

	token := auth.ExtractToken(r)
	if token == "" {
		g.metrics.rejections.WithLabelValues(rejectMissing).Inc()
		g.logger.Warn("connection rejected: no token", "remote_addr", r.RemoteAddr)
		c.closeWith(websocket.ClosePolicyViolation, "authentication required")
		return nil, session.Identity{}, false
	}

	out := mgr.LoginWithToken(r.Context(), token)
	switch {
	case out.OK():
		g.logger.Info("connection authenticated",
			"username", out.Identity.Username,
			"role", out.Identity.Role,
			"remote_addr", r.RemoteAddr)
		return mgr, out.Identity, true
	case out.Status == auth.StatusError:
		g.metrics.rejections.WithLabelValues(rejectBackend).Inc()
		g.logger.Error("connection rejected: credential backend error", "remote_addr", r.RemoteAddr, "error", out.Err)
		c.closeWith(websocket.CloseInternalServerErr, "authentication unavailable")
	default:
		g.metrics.rejections.WithLabelValues(rejectInvalid).Inc()
		g.logger.Warn("connection rejected: invalid token", "remote_addr", r.RemoteAddr)
		c.closeWith(websocket.ClosePolicyViolation, "authentication failed")
	}
	return nil, session.Identity{}, false
}

// serveConn registers the connection, runs its read loop and tears it
// down when the loop ends for any reason.
func (g *Gateway) serveConn(ctx context.Context, c *wsConn, mgr *auth.Manager, id session.Identity, remoteAddr string) {
	g.registry.Add(registry.Entry{Conn: c, Identity: id, RemoteAddr: remoteAddr})
	g.metrics.connections.Inc()
	g.logger.Info("client connected",
		"conn_id", c.id,
		"user", id.DisplayName(),
		"role", id.Role,
		"connections", g.registry.Len())
	g.auditConnection(ctx, store.AuditConnect, mgr.SessionID(), id)

	cs := &connSession{
		gw:      g,
		conn:    c,
		manager: mgr,
		ctx:     ctx,
		sem:     semaphore.NewWeighted(g.config.Gateway.MaxInflightCommands),
	}

	g.conns.Add(1)
	go func() {
		defer g.conns.Done()
		c.writePump()
	}()

	stop := make(chan struct{})
	go cs.keepalive(stop)

	cs.readLoop()

	close(stop)
	entry, ok := g.registry.Remove(c.id)
	if !ok {
		entry = registry.Entry{Identity: id}
	}
	c.closeWith(websocket.CloseNormalClosure, "")
	g.metrics.connections.Dec()
	g.logger.Info("client disconnected",
		"conn_id", c.id,
		"user", entry.Identity.DisplayName(),
		"connections", g.registry.Len())
	g.auditConnection(ctx, store.AuditDisconnect, mgr.SessionID(), id)
}

// auditConnection records a connect or disconnect when a store is wired.
func (g *Gateway) auditConnection(ctx context.Context, action store.AuditAction, sessionID string, id session.Identity) {
	if g.store == nil {
		return
	}
	actor := id.Username
	if actor == "" {
		actor = session.GuestID
	}
	err := g.store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      actor,
		SessionID:  &sessionID,
		Action:     action,
		TargetType: "session",
		TargetID:   sessionID,
		Detail:     map[string]any{"server_id": g.serverID},
	})
	if err != nil {
		g.logger.Warn("failed to record audit entry", "action", string(action), "error", err)
	}
}
