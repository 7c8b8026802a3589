// ABOUTME: ActiveContext enum and the pure context resolver
// ABOUTME: Resolve maps the three auth flags onto exactly one context value

package session

import (
	"fmt"
	"strings"
)

// ActiveContext names which identity tier(s) are in effect for a session.
type ActiveContext string

const (
	ContextNone        ActiveContext = "none"
	ContextZSession    ActiveContext = "zsession"
	ContextApplication ActiveContext = "application"
	ContextDual        ActiveContext = "dual"
)

// String implements fmt.Stringer.
func (c ActiveContext) String() string {
	return string(c)
}

// ParseContext parses a context name case-insensitively.
func ParseContext(s string) (ActiveContext, error) {
	switch ActiveContext(strings.ToLower(strings.TrimSpace(s))) {
	case ContextNone:
		return ContextNone, nil
	case ContextZSession:
		return ContextZSession, nil
	case ContextApplication:
		return ContextApplication, nil
	case ContextDual:
		return ContextDual, nil
	default:
		return "", fmt.Errorf("unknown context %q", s)
	}
}

// Resolve derives the active context from the auth flags. It has no side
// effects: both tiers give Dual, only one gives that tier, neither gives None.
// The application tier counts only when activeApp names an authenticated entry.
func Resolve(zSessionAuthenticated bool, activeApp string, apps map[string]Identity) ActiveContext {
	appAuthenticated := false
	if activeApp != "" {
		if id, ok := apps[activeApp]; ok && id.Authenticated {
			appAuthenticated = true
		}
	}

	switch {
	case zSessionAuthenticated && appAuthenticated:
		return ContextDual
	case zSessionAuthenticated:
		return ContextZSession
	case appAuthenticated:
		return ContextApplication
	default:
		return ContextNone
	}
}
