// ABOUTME: Concurrent-safe set of live connections with identity metadata
// ABOUTME: Snapshot-then-send broadcast that skips the sender and closed connections

package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/zgate/internal/session"
)

// Conn is the registry's view of a live connection.
type Conn interface {
	// ID is unique for the lifetime of the registry.
	ID() string
	// Send writes or queues one text message. It must be safe for concurrent
	// use and must not wait on a slow peer.
	Send(msg []byte) error
	// Closed reports whether the connection is known to be gone.
	Closed() bool
}

// Entry is one registered connection.
type Entry struct {
	Conn        Conn
	Identity    session.Identity
	RemoteAddr  string
	ConnectedAt time.Time
}

// Registry maps connection IDs to entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *slog.Logger
}

// New creates an empty registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]Entry),
		logger:  logger.With("component", "registry"),
	}
}

// Add registers e, replacing any entry with the same connection ID.
func (r *Registry) Add(e Entry) {
	if e.ConnectedAt.IsZero() {
		e.ConnectedAt = time.Now()
	}

	r.mu.Lock()
	r.entries[e.Conn.ID()] = e
	n := len(r.entries)
	r.mu.Unlock()

	r.logger.Debug("connection registered",
		"conn_id", e.Conn.ID(),
		"user", e.Identity.DisplayName(),
		"connections", n)
}

// Remove unregisters a connection and returns its entry. Removing an
// unknown ID is a no-op.
func (r *Registry) Remove(connID string) (Entry, bool) {
	r.mu.Lock()
	e, ok := r.entries[connID]
	if ok {
		delete(r.entries, connID)
	}
	n := len(r.entries)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("connection unregistered", "conn_id", connID, "connections", n)
	}
	return e, ok
}

// Get returns the entry for connID.
func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connID]
	return e, ok
}

// Contains reports whether connID is registered.
func (r *Registry) Contains(connID string) bool {
	_, ok := r.Get(connID)
	return ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of the entries ordered by connection time. Later
// registry changes do not affect the returned slice.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].Conn.ID() < out[j].Conn.ID()
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Broadcast sends msg to every registered connection except excludeID and
// any connection already closed. A failed send is logged and does not stop
// delivery to the rest. Returns the number of successful sends.
func (r *Registry) Broadcast(msg []byte, excludeID string) int {
	targets := r.Snapshot()

	sent := 0
	for _, e := range targets {
		if e.Conn.ID() == excludeID || e.Conn.Closed() {
			continue
		}
		if err := e.Conn.Send(msg); err != nil {
			r.logger.Debug("broadcast send failed",
				"conn_id", e.Conn.ID(),
				"user", e.Identity.DisplayName(),
				"error", err)
			continue
		}
		sent++
	}
	return sent
}

// SendTo sends msg to one connection if it is still registered and open.
// Returns false when the connection is gone or the send fails.
func (r *Registry) SendTo(connID string, msg []byte) bool {
	e, ok := r.Get(connID)
	if !ok || e.Conn.Closed() {
		return false
	}
	if err := e.Conn.Send(msg); err != nil {
		r.logger.Debug("send failed", "conn_id", connID, "error", err)
		return false
	}
	return true
}
