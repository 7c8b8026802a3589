// ABOUTME: AuthenticationManager owning every mutation of one SessionRecord
// ABOUTME: Login, resume, app auth, switch, logout and context override with hash regeneration

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/zgate/internal/session"
	"github.com/2389/zgate/internal/store"
)

// LogoutScope selects which tier(s) a logout clears.
type LogoutScope string

const (
	ScopeZSession    LogoutScope = "zsession"
	ScopeApplication LogoutScope = "application"
	ScopeAllApps     LogoutScope = "all_apps"
	ScopeAll         LogoutScope = "all"
)

// ParseLogoutScope parses a scope name case-insensitively.
func ParseLogoutScope(s string) (LogoutScope, bool) {
	switch LogoutScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeZSession:
		return ScopeZSession, true
	case ScopeApplication:
		return ScopeApplication, true
	case ScopeAllApps:
		return ScopeAllApps, true
	case ScopeAll:
		return ScopeAll, true
	default:
		return "", false
	}
}

// LoginRequest carries the zSession login parameters. Empty Username or
// Password triggers the Prompter, if any.
type LoginRequest struct {
	Username  string
	Password  string
	ServerURL string
	// Remember persists the resulting credentials via the CredentialStore.
	Remember bool
}

// LogoutRequest carries the logout parameters.
type LogoutRequest struct {
	Scope   LogoutScope
	AppName string
	// DeletePersistent also removes saved credentials via the CredentialStore.
	DeletePersistent bool
}

// ActiveUser is the identity view selected by the active context.
type ActiveUser struct {
	Context     session.ActiveContext
	AppName     string
	ZSession    *session.Identity
	Application *session.Identity
}

// Auditor receives authentication events. Failures are logged, never surfaced.
type Auditor interface {
	RecordAuthEvent(ctx context.Context, ev AuthEvent) error
}

// AuthEvent describes a completed authentication-state change.
type AuthEvent struct {
	Action    string
	SessionID string
	Username  string
	AppName   string
	Scope     LogoutScope
	Context   session.ActiveContext
}

// ManagerConfig wires the manager's collaborators. Only Validator is needed
// for zSession login; Apps for application auth.
type ManagerConfig struct {
	Validator CredentialValidator
	Apps      AppValidator
	// Remote builds a validator for a login that names a server URL.
	Remote      func(serverURL string) CredentialValidator
	Prompter    Prompter
	Credentials CredentialStore
	Auditor     Auditor
	Logger      *slog.Logger
}

// Manager owns all mutating operations on one session.Record.
// Validation runs outside the lock; only the state change is serialized.
type Manager struct {
	mu  sync.Mutex
	rec *session.Record

	validator   CredentialValidator
	apps        AppValidator
	remote      func(string) CredentialValidator
	prompter    Prompter
	credentials CredentialStore
	auditor     Auditor
	logger      *slog.Logger
}

// NewManager creates a manager for rec. A nil rec gets a fresh record.
func NewManager(rec *session.Record, cfg ManagerConfig) *Manager {
	if rec == nil {
		rec = session.NewRecord()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		rec:         rec,
		validator:   cfg.Validator,
		apps:        cfg.Apps,
		remote:      cfg.Remote,
		prompter:    cfg.Prompter,
		credentials: cfg.Credentials,
		auditor:     cfg.Auditor,
		logger:      logger.With("component", "auth-manager", "session_id", rec.ID),
	}
}

// Login authenticates the zSession tier with a username and password.
func (m *Manager) Login(ctx context.Context, req LoginRequest) Outcome {
	username, password := strings.TrimSpace(req.Username), req.Password
	if username == "" || password == "" {
		if m.prompter == nil {
			return pending("credentials required")
		}
		u, p, err := m.prompter.PromptCredentials(ctx, username)
		if err != nil {
			m.logger.Debug("credential prompt aborted", "error", err)
			return pending("credential collection aborted")
		}
		username, password = strings.TrimSpace(u), p
		if username == "" || password == "" {
			return pending("credentials required")
		}
	}

	validator := m.validator
	if req.ServerURL != "" {
		if m.remote == nil {
			return errored(ErrConfiguration, "remote login not configured", nil)
		}
		validator = m.remote(req.ServerURL)
	}
	if validator == nil {
		return errored(ErrConfiguration, "no credential validator configured", nil)
	}

	res := validator.Authenticate(ctx, username, password)
	out := m.applyZSession(ctx, res, "login")
	if out.OK() && req.Remember && m.credentials != nil {
		saved := SavedCredentials{
			ServerURL: req.ServerURL,
			ID:        out.Identity.ID,
			Username:  out.Identity.Username,
			Role:      out.Identity.Role,
			Token:     out.Identity.APIKey,
		}
		if err := m.credentials.Save(ctx, saved); err != nil {
			m.logger.Warn("failed to persist credentials", "error", err)
		}
	}
	return out
}

// LoginWithToken authenticates the zSession tier with a bearer token.
func (m *Manager) LoginWithToken(ctx context.Context, token string) Outcome {
	if strings.TrimSpace(token) == "" {
		return failed(ErrValidation, "token required")
	}
	if m.validator == nil {
		return errored(ErrConfiguration, "no credential validator configured", nil)
	}
	return m.applyZSession(ctx, m.validator.Validate(ctx, token), "token_login")
}

// Resume restores the zSession tier from credentials saved by a remembered
// login. The saved token is re-validated against the server it was issued by,
// or the local validator when none was recorded. A rejected token is deleted.
func (m *Manager) Resume(ctx context.Context) Outcome {
	if m.credentials == nil {
		return errored(ErrConfiguration, "no credential store configured", nil)
	}
	saved, err := m.credentials.Load(ctx)
	if errors.Is(err, ErrNoSavedCredentials) {
		return pending("no saved credentials")
	}
	if err != nil {
		m.logger.Warn("failed to load saved credentials", "error", err)
		return errored(ErrConfiguration, "failed to load saved credentials", err)
	}
	if strings.TrimSpace(saved.Token) == "" {
		return pending("saved credentials carry no token")
	}

	validator := m.validator
	if saved.ServerURL != "" {
		if m.remote == nil {
			return errored(ErrConfiguration, "remote login not configured", nil)
		}
		validator = m.remote(saved.ServerURL)
	}
	if validator == nil {
		return errored(ErrConfiguration, "no credential validator configured", nil)
	}

	out := m.applyZSession(ctx, validator.Validate(ctx, saved.Token), "resume")
	if out.Status == StatusFail {
		if err := m.credentials.Delete(ctx); err != nil {
			m.logger.Warn("failed to delete stale credentials", "error", err)
		}
	}
	return out
}

// applyZSession converts a validator result into an outcome and, on success,
// installs the identity as the zSession tier.
func (m *Manager) applyZSession(ctx context.Context, res Result, action string) Outcome {
	if res.BackendFailure() {
		m.logger.Error("credential backend failure", "action", action, "reason", res.Reason.String(), "error", res.Err)
		kind := ErrConnection
		if res.Reason == ReasonMisconfigured {
			kind = ErrConfiguration
		}
		return errored(kind, "authentication backend unavailable", nil)
	}
	if !res.OK() {
		m.logger.Info("zsession authentication rejected", "action", action, "reason", res.Reason.String())
		return failed(ErrAuthentication, "invalid credentials")
	}

	m.mu.Lock()
	m.rec.ZSession = res.Identity
	m.recomputeLocked()
	ev := m.eventLocked(action, "")
	m.mu.Unlock()

	m.logger.Info("zsession authenticated",
		"username", res.Identity.Username,
		"role", res.Identity.Role,
		"context", ev.Context.String())
	m.audit(ctx, ev)
	return success(ev.Context, res.Identity)
}

// AuthenticateApp validates token against the named application's identity
// store and, on success, inserts or overwrites that application's entry and
// focuses it. Other entries and the zSession tier are untouched.
func (m *Manager) AuthenticateApp(ctx context.Context, appName, token string, schema *store.AppSchema) Outcome {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return failed(ErrValidation, "application name required")
	}
	if strings.TrimSpace(token) == "" {
		return failed(ErrValidation, "token required")
	}
	if m.apps == nil {
		return errored(ErrConfiguration, "no application validator configured", nil)
	}

	res := m.apps.ValidateApp(ctx, appName, token, schema)
	if res.BackendFailure() {
		m.logger.Error("application backend failure", "app", appName, "reason", res.Reason.String(), "error", res.Err)
		kind := ErrConnection
		if res.Reason == ReasonMisconfigured {
			kind = ErrConfiguration
		}
		return errored(kind, "authentication backend unavailable", nil)
	}
	if !res.OK() {
		m.logger.Info("application authentication rejected", "app", appName, "reason", res.Reason.String())
		return failed(ErrAuthentication, "invalid credentials")
	}

	m.mu.Lock()
	m.rec.Applications[appName] = res.Identity
	m.rec.ActiveApp = appName
	m.recomputeLocked()
	ev := m.eventLocked("app_auth", appName)
	m.mu.Unlock()

	m.logger.Info("application authenticated",
		"app", appName,
		"username", res.Identity.Username,
		"role", res.Identity.Role,
		"context", ev.Context.String())
	m.audit(ctx, ev)
	return success(ev.Context, res.Identity)
}

// SwitchApp focuses an already authenticated application. The active
// context is left as is. Returns false without mutation if appName is not
// authenticated.
func (m *Manager) SwitchApp(appName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.rec.Applications[appName]
	if !ok || !id.Authenticated {
		m.logger.Warn("switch to unauthenticated application refused", "app", appName)
		return false
	}
	m.rec.ActiveApp = appName
	m.regenerateLocked()
	m.logger.Debug("switched active application", "app", appName)
	return true
}

// Logout clears the tier(s) selected by req.Scope and recomputes the context.
// Each accepted scope regenerates the session hash once, even if nothing was
// authenticated.
func (m *Manager) Logout(ctx context.Context, req LogoutRequest) Outcome {
	appName := strings.TrimSpace(req.AppName)

	m.mu.Lock()
	switch req.Scope {
	case ScopeZSession:
		m.rec.ZSession = session.Identity{}
	case ScopeApplication:
		if appName == "" {
			m.mu.Unlock()
			return failed(ErrValidation, "application name required")
		}
		id, ok := m.rec.Applications[appName]
		if !ok || !id.Authenticated {
			m.mu.Unlock()
			return failed(ErrValidation, "application not authenticated")
		}
		delete(m.rec.Applications, appName)
		if m.rec.ActiveApp == appName {
			m.rec.ActiveApp = m.nextActiveAppLocked()
		}
	case ScopeAllApps:
		m.rec.Applications = make(map[string]session.Identity)
		m.rec.ActiveApp = ""
	case ScopeAll:
		m.rec.ZSession = session.Identity{}
		m.rec.Applications = make(map[string]session.Identity)
		m.rec.ActiveApp = ""
	default:
		m.mu.Unlock()
		return failed(ErrValidation, "unknown logout scope")
	}
	m.recomputeLocked()
	ev := m.eventLocked("logout", appName)
	ev.Scope = req.Scope
	m.mu.Unlock()

	m.logger.Info("logged out", "scope", string(req.Scope), "app", appName, "context", ev.Context.String())
	m.audit(ctx, ev)

	if req.DeletePersistent && m.credentials != nil {
		if err := m.credentials.Delete(ctx); err != nil {
			m.logger.Warn("failed to delete persisted credentials", "error", err)
			return errored(ErrConfiguration, "failed to delete saved credentials", err)
		}
	}
	return success(ev.Context, session.Identity{})
}

// SetActiveContext overrides the active context after validating its
// preconditions. The override holds until the next operation that
// recomputes the context. ContextNone is not a valid override target.
func (m *Manager) SetActiveContext(c session.ActiveContext) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	zs := m.rec.ZSession.Authenticated
	app := m.rec.ActiveAppAuthenticated()

	var ok bool
	switch c {
	case session.ContextZSession:
		ok = zs
	case session.ContextApplication:
		ok = app
	case session.ContextDual:
		ok = zs && app
	}
	if !ok {
		m.logger.Warn("context override refused", "context", c.String(), "zsession", zs, "active_app", m.rec.ActiveApp)
		return false
	}

	m.rec.Context = c
	m.rec.DualMode = c == session.ContextDual
	m.rec.Pinned = true
	m.regenerateLocked()
	return true
}

// ActiveUser returns the identity view for the active context. The second
// result is false when the context is None.
func (m *Manager) ActiveUser() (ActiveUser, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	au := ActiveUser{Context: m.rec.Context}
	switch m.rec.Context {
	case session.ContextZSession:
		zs := m.rec.ZSession
		au.ZSession = &zs
	case session.ContextApplication:
		app := m.rec.Applications[m.rec.ActiveApp]
		au.AppName = m.rec.ActiveApp
		au.Application = &app
	case session.ContextDual:
		zs := m.rec.ZSession
		app := m.rec.Applications[m.rec.ActiveApp]
		au.AppName = m.rec.ActiveApp
		au.ZSession = &zs
		au.Application = &app
	default:
		return au, false
	}
	return au, true
}

// IsAuthenticated reports whether any tier anywhere is authenticated.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.ZSession.Authenticated || m.rec.AnyAppAuthenticated()
}

// Credentials returns the zSession identity regardless of the active context.
func (m *Manager) Credentials() (session.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.rec.ZSession.Authenticated {
		return session.Identity{}, false
	}
	return m.rec.ZSession, true
}

// Snapshot returns a deep copy of the record.
func (m *Manager) Snapshot() session.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Clone()
}

// SessionID returns the immutable session identifier.
func (m *Manager) SessionID() string {
	return m.rec.ID
}

// recomputeLocked clears any override, re-derives the context and
// regenerates the hash. Must be called with mu held.
func (m *Manager) recomputeLocked() {
	m.rec.Pinned = false
	m.rec.Context = session.Resolve(m.rec.ZSession.Authenticated, m.rec.ActiveApp, m.rec.Applications)
	m.rec.DualMode = m.rec.Context == session.ContextDual
	m.regenerateLocked()
}

// regenerateLocked assigns a new session hash. Must be called with mu held.
func (m *Manager) regenerateLocked() {
	m.rec.Hash = uuid.New().String()
}

// nextActiveAppLocked picks the first authenticated application by name so
// that removing the focused app keeps the application tier focused while any
// entry remains. Must be called with mu held.
func (m *Manager) nextActiveAppLocked() string {
	for _, name := range m.rec.AppNames() {
		if m.rec.Applications[name].Authenticated {
			return name
		}
	}
	return ""
}

func (m *Manager) eventLocked(action, appName string) AuthEvent {
	return AuthEvent{
		Action:    action,
		SessionID: m.rec.ID,
		Username:  m.rec.ZSession.Username,
		AppName:   appName,
		Context:   m.rec.Context,
	}
}

func (m *Manager) audit(ctx context.Context, ev AuthEvent) {
	if m.auditor == nil {
		return
	}
	if err := m.auditor.RecordAuthEvent(ctx, ev); err != nil {
		m.logger.Warn("failed to record auth event", "action", ev.Action, "error", err)
	}
}
