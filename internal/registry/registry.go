// Package registry tracks which participants currently hold a live
// connection. Pure bookkeeping: it decides nothing about matchmaking.
package registry

import (
	"sync"

	"github.com/arenaplay/arena/internal/domain"
)

type Registry struct {
	mu    sync.RWMutex
	conns map[string]domain.Conn
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]domain.Conn),
	}
}

// Register binds the connection to its identity. A reconnect replaces the
// previous handle; the replaced handle is returned so the caller can close it.
func (r *Registry) Register(conn domain.Conn) (replaced domain.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced = r.conns[conn.Identity()]
	r.conns[conn.Identity()] = conn
	return replaced
}

// Unregister removes the binding, but only if conn is still the registered
// handle. A stale handle from before a reconnect must not evict the new one.
func (r *Registry) Unregister(conn domain.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[conn.Identity()] == conn {
		delete(r.conns, conn.Identity())
	}
}

// Lookup returns the live connection for identity, if any.
func (r *Registry) Lookup(identity string) (domain.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[identity]
	return c, ok
}

// Len returns the number of connected participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
