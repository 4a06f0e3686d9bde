// Package correlate owns the session-state synchronization core: it
// correlates host-side terminal handles with externally-reported agent
// session ids, using the working directory as a weak key until a session
// id becomes available.
package correlate

import (
	"sync"
	"time"

	"github.com/tomquist/agentpanel/internal/hookstate"
)

// binding links a session id to a terminal handle. lastSeen is refreshed on
// every matching record and drives staleness eviction.
type binding struct {
	terminalID string
	lastSeen   time.Time
}

// Registry tracks two stages of correlation: pending entries keyed by
// normalized working directory (terminal created, no session seen yet) and
// bound entries keyed by session id. All methods are safe for concurrent
// use; hold times are negligible.
type Registry struct {
	mu      sync.Mutex
	pending map[string]string   // normalized cwd -> terminal id
	bound   map[string]*binding // session id -> binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]string),
		bound:   make(map[string]*binding),
	}
}

// RegisterPending records that a terminal was created in cwd and is
// awaiting its first lifecycle event. A second registration for the same
// directory overwrites the first (last writer wins).
func (r *Registry) RegisterPending(terminalID, cwd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[hookstate.NormalizeCwd(cwd)] = terminalID
}

// Unregister removes every pending and bound entry referencing the given
// terminal. Unknown terminals are a no-op.
func (r *Registry) Unregister(terminalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for cwd, id := range r.pending {
		if id == terminalID {
			delete(r.pending, cwd)
		}
	}
	for sessionID, b := range r.bound {
		if b.terminalID == terminalID {
			delete(r.bound, sessionID)
		}
	}
}

// Promote consumes the pending entry for cwd, if any, and binds sessionID
// to its terminal. Returns the terminal id and whether a promotion
// happened.
func (r *Registry) Promote(sessionID, cwd string, now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := hookstate.NormalizeCwd(cwd)
	terminalID, ok := r.pending[key]
	if !ok {
		return "", false
	}
	delete(r.pending, key)
	r.bound[sessionID] = &binding{terminalID: terminalID, lastSeen: now}
	return terminalID, true
}

// Resolve returns the terminal for sessionID, falling back to a pending
// lookup by cwd for records that arrive before any session-start event.
func (r *Registry) Resolve(sessionID, cwd string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bound[sessionID]; ok {
		return b.terminalID, true
	}
	if terminalID, ok := r.pending[hookstate.NormalizeCwd(cwd)]; ok {
		return terminalID, true
	}
	return "", false
}

// Touch refreshes lastSeen on the binding for sessionID, if present.
func (r *Registry) Touch(sessionID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bound[sessionID]; ok {
		b.lastSeen = now
	}
}

// Remove drops the binding for sessionID (explicit session end).
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bound, sessionID)
}

// Sweep evicts every binding whose lastSeen is older than the retention
// window. Returns the number of evictions for observability. A killed agent
// process never writes a final record, so eviction is the only way such
// sessions leave the registry.
func (r *Registry) Sweep(now time.Time, retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	cutoff := now.Add(-retention)
	for sessionID, b := range r.bound {
		if b.lastSeen.Before(cutoff) {
			delete(r.bound, sessionID)
			removed++
		}
	}
	return removed
}

// BoundCount returns the number of bound correlations.
func (r *Registry) BoundCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bound)
}

// PendingCount returns the number of pending correlations.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
