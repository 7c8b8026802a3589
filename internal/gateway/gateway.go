// ABOUTME: Gateway orchestrator that owns the HTTP server, websocket endpoint and stores
// ABOUTME: Wires validators, command executor and registry, and manages the server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/zgate/internal/auth"
	"github.com/2389/zgate/internal/config"
	"github.com/2389/zgate/internal/executor"
	"github.com/2389/zgate/internal/registry"
	"github.com/2389/zgate/internal/session"
	"github.com/2389/zgate/internal/store"
)

// Executor runs named commands on behalf of a connection's identity.
type Executor interface {
	Execute(ctx context.Context, key string, payload map[string]any, caller session.Identity) (any, error)
}

// Deps are the collaborators a Gateway uses. Store and Validator may be nil
// when authentication is disabled.
type Deps struct {
	Store     store.Store
	Validator auth.CredentialValidator
	Executor  Executor
}

// Gateway accepts realtime connections, authenticates them, relays
// messages between them and dispatches commands.
type Gateway struct {
	config    *config.Config
	store     store.Store
	validator auth.CredentialValidator
	apps      auth.AppValidator
	auditor   auth.Auditor
	purge     func()
	executor  Executor
	registry  *registry.Registry
	metrics   *metrics
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	httpServer *http.Server
	handler    http.Handler

	// serverID identifies this gateway instance
	serverID string

	// conns tracks live connection goroutines so Shutdown can wait for them
	conns sync.WaitGroup

	// closers release optional components on shutdown
	closers []func()
}

// initStore opens the SQLite store named by the config, creating its
// directory when needed.
func initStore(cfg *config.Config) (store.Store, error) {
	path := cfg.Database.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	return s, nil
}

// New creates a Gateway backed by the configured SQLite store, a cached
// store validator and the builtin command set.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	var verifier *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	} else if cfg.Auth.RequireAuth {
		_ = s.Close()
		return nil, errors.New("auth.jwt_secret is required when auth.require_auth is true")
	}

	base := auth.NewStoreValidator(s, s, verifier, cfg.Auth.TokenTTL, logger)
	cached := auth.NewCachingValidator(base, cfg.Auth.CacheSize, cfg.Auth.CacheTTL)

	commands := executor.NewRegistry(logger)
	if err := executor.Builtins(commands); err != nil {
		_ = s.Close()
		cached.Close()
		return nil, fmt.Errorf("registering builtin commands: %w", err)
	}

	gw, err := NewWithDeps(cfg, Deps{Store: s, Validator: cached, Executor: commands}, logger)
	if err != nil {
		_ = s.Close()
		cached.Close()
		return nil, err
	}
	gw.closers = append(gw.closers, cached.Close)
	return gw, nil
}

// NewWithDeps creates a Gateway from explicit collaborators.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.RequireAuth && deps.Validator == nil {
		return nil, fmt.Errorf("%w: a credential validator is required when auth is enabled", auth.ErrConfiguration)
	}
	if deps.Executor == nil {
		commands := executor.NewRegistry(logger)
		if err := executor.Builtins(commands); err != nil {
			return nil, fmt.Errorf("registering builtin commands: %w", err)
		}
		deps.Executor = commands
	}

	gw := &Gateway{
		config:    cfg,
		store:     deps.Store,
		validator: deps.Validator,
		executor:  deps.Executor,
		registry:  registry.New(logger),
		metrics:   newMetrics(),
		logger:    logger.With("component", "gateway"),
		serverID:  generateServerID(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is checked after the upgrade so the rejection can
			// carry a close code.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if apps, ok := deps.Validator.(auth.AppValidator); ok {
		gw.apps = apps
	}
	if p, ok := deps.Validator.(interface{ Purge() }); ok {
		gw.purge = p.Purge
	}
	if deps.Store != nil {
		gw.auditor = auth.NewStoreAuditor(deps.Store)
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	mux.HandleFunc("/ws", gw.handleWebSocket)

	gw.registerAuthAPIRoutes(mux)

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, gw.metrics.handler())
		gw.logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Registry returns the live connection registry.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// PurgeCredentialCache drops cached credential decisions so that account
// changes made directly in the store apply to the next handshake.
func (g *Gateway) PurgeCredentialCache() {
	if g.purge == nil {
		return
	}
	g.purge()
	g.logger.Info("credential cache purged")
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "server_id", g.serverID)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway",
		"addr", g.config.Addr(),
		"require_auth", g.config.Auth.RequireAuth,
		"allowed_origins", len(g.config.Auth.AllowedOrigins),
	)

	ln, err := net.Listen("tcp", g.config.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Addr(), err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeConnections sends a going-away close to every live connection.
func (g *Gateway) closeConnections() {
	for _, e := range g.registry.Snapshot() {
		if c, ok := e.Conn.(*wsConn); ok {
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
		}
	}
}

// waitConnections waits for connection goroutines to finish or ctx to end.
func (g *Gateway) waitConnections(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("connections still open at shutdown deadline", "connections", g.registry.Len())
	}
}

// Shutdown stops the HTTP server, closes live connections and releases
// resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.closeConnections()
	g.waitConnections(ctx)

	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	for _, closeFn := range g.closers {
		closeFn()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers, with the connection count.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := g.store.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", g.registry.Len())
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return "zgate-" + uuid.NewString()[:8]
}
