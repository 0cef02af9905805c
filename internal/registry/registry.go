// Package registry tracks the set of live connections and the server's
// one-way shutdown flag.
//
// All methods are safe for concurrent use.  Iteration is always done over
// a copy (see [Registry.Snapshot]) so callers can act on members, e.g.
// close them, while other goroutines keep adding and removing.
package registry

import "sync"

// Registry is a mutex-guarded set of connection handles.
type Registry[H comparable] struct {
	mu       sync.Mutex
	members  map[H]struct{}
	shutdown bool
	drained  chan struct{}
	closed   bool // drained has been closed
}

// New returns an empty registry.
func New[H comparable]() *Registry[H] {
	return &Registry[H]{
		members: make(map[H]struct{}),
		drained: make(chan struct{}),
	}
}

// Add inserts h.  It reports false and leaves the set untouched once
// [Registry.Shutdown] has been called.
func (r *Registry[H]) Add(h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return false
	}
	r.members[h] = struct{}{}
	return true
}

// Remove deletes h.  Removing an absent handle is a no-op.
func (r *Registry[H]) Remove(h H) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, h)
	r.signalLocked()
}

// Len returns the number of live handles.
func (r *Registry[H]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Contains reports whether h is currently registered.
func (r *Registry[H]) Contains(h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[h]
	return ok
}

// Snapshot returns a point-in-time copy of every handle.  The server
// takes its shutdown snapshot through [Registry.Shutdown] instead, so the
// copy and the flag change happen under one lock.
func (r *Registry[H]) Snapshot() []H {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Shutdown sets the shutdown flag and returns the handles registered at
// that instant.  first is true only for the call that flipped the flag;
// later calls still return the current members.
func (r *Registry[H]) Shutdown() (snapshot []H, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	first = !r.shutdown
	r.shutdown = true
	r.signalLocked()
	return r.snapshotLocked(), first
}

// ShuttingDown reports whether Shutdown has been called.
func (r *Registry[H]) ShuttingDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown
}

// Drained is closed once the registry is shutting down and empty.
func (r *Registry[H]) Drained() <-chan struct{} {
	return r.drained
}

// ── internal ─────────────────────────────────────────────────────────

func (r *Registry[H]) snapshotLocked() []H {
	out := make([]H, 0, len(r.members))
	for h := range r.members {
		out = append(out, h)
	}
	return out
}

func (r *Registry[H]) signalLocked() {
	if r.shutdown && len(r.members) == 0 && !r.closed {
		r.closed = true
		close(r.drained)
	}
}
