// ABOUTME: SessionRecord data holder for one logical client's authentication state
// ABOUTME: Typed fields replace string-keyed maps; invariants are checkable for tests and debugging

package session

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrInvariant is wrapped by every error returned from CheckInvariants.
var ErrInvariant = errors.New("session invariant violated")

// Record is the authentication state of one logical session.
// ID is immutable after creation. Hash changes on every auth-state mutation.
type Record struct {
	ID           string
	Hash         string
	ZSession     Identity
	Applications map[string]Identity
	ActiveApp    string // empty when no app is focused
	Context      ActiveContext
	DualMode     bool

	// Pinned is set when Context came from an explicit validated override
	// rather than Resolve. The next mutating operation clears it.
	Pinned bool
}

// NewRecord creates a cleared record with a fresh ID and hash.
func NewRecord() *Record {
	return &Record{
		ID:           uuid.New().String(),
		Hash:         uuid.New().String(),
		Applications: make(map[string]Identity),
		Context:      ContextNone,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() Record {
	cp := *r
	cp.Applications = make(map[string]Identity, len(r.Applications))
	for name, id := range r.Applications {
		cp.Applications[name] = id
	}
	return cp
}

// ActiveAppAuthenticated reports whether ActiveApp names an authenticated entry.
func (r *Record) ActiveAppAuthenticated() bool {
	if r.ActiveApp == "" {
		return false
	}
	id, ok := r.Applications[r.ActiveApp]
	return ok && id.Authenticated
}

// AnyAppAuthenticated reports whether at least one application entry is authenticated.
func (r *Record) AnyAppAuthenticated() bool {
	for _, id := range r.Applications {
		if id.Authenticated {
			return true
		}
	}
	return false
}

// AppNames returns the application names in sorted order.
func (r *Record) AppNames() []string {
	names := make([]string, 0, len(r.Applications))
	for name := range r.Applications {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckInvariants returns an error wrapping ErrInvariant if the record is
// inconsistent.
func (r *Record) CheckInvariants() error {
	if r.DualMode != (r.Context == ContextDual) {
		return fmt.Errorf("%w: dual_mode=%t but context=%s", ErrInvariant, r.DualMode, r.Context)
	}
	if r.ActiveApp != "" {
		if _, ok := r.Applications[r.ActiveApp]; !ok {
			return fmt.Errorf("%w: active app %q has no entry", ErrInvariant, r.ActiveApp)
		}
	}

	switch r.Context {
	case ContextDual:
		if !r.ZSession.Authenticated || !r.ActiveAppAuthenticated() {
			return fmt.Errorf("%w: dual requires zsession and an authenticated active app", ErrInvariant)
		}
	case ContextApplication:
		if !r.ActiveAppAuthenticated() {
			return fmt.Errorf("%w: application requires an authenticated active app", ErrInvariant)
		}
		if r.ZSession.Authenticated && !r.Pinned {
			return fmt.Errorf("%w: application context with zsession authenticated", ErrInvariant)
		}
	case ContextZSession:
		if !r.ZSession.Authenticated {
			return fmt.Errorf("%w: zsession context without zsession identity", ErrInvariant)
		}
	case ContextNone:
		if r.ZSession.Authenticated || r.AnyAppAuthenticated() {
			return fmt.Errorf("%w: none context with an authenticated tier", ErrInvariant)
		}
	default:
		return fmt.Errorf("%w: unknown context %q", ErrInvariant, r.Context)
	}
	return nil
}
