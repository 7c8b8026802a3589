// Package session holds the per-client authentication state of zgate.
//
// # Tiers
//
// A Record tracks two independently mutable facts:
//
//   - ZSession: the single internal-platform identity of the session.
//   - Applications: zero or more external-application identities keyed by
//     application name, one of which may be focused as the active app.
//
// The derived ActiveContext is always one of None, ZSession, Application or
// Dual and is produced by Resolve from the three auth flags. DualMode mirrors
// Context == ContextDual.
//
// Records carry no locking of their own. Each logical client owns exactly one
// Record and mutates it only through auth.Manager.
package session
