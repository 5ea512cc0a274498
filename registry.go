package relay

import (
	"errors"
	"sync"
)

// ErrDuplicateConn is returned when registering a connection under an identifier that is already taken.
var ErrDuplicateConn = errors.New("go-relay: duplicate connection identifier")

// A Registry maps connection identifiers to the connections of a single room.
// It is safe for concurrent use: inserts and removals may happen while broadcasts
// iterate over snapshots of it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Insert registers the connection under its identifier. It fails with ErrDuplicateConn
// if another connection already uses the identifier.
func (r *Registry) Insert(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; ok {
		return ErrDuplicateConn
	}
	r.conns[c.id] = c
	return nil
}

// Remove unregisters the connection. It reports whether the connection was registered;
// removing a connection twice is not an error.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Compare the pointer too: a rejected duplicate must not evict the connection it collided with.
	if registered, ok := r.conns[c.id]; !ok || registered != c {
		return false
	}
	delete(r.conns, c.id)
	return true
}

// Get returns the connection registered under the given identifier.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	return c, ok
}

// Contains reports whether the connection is registered.
func (r *Registry) Contains(c *Conn) bool {
	registered, ok := r.Get(c.id)
	return ok && registered == c
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// Snapshot returns the connections registered at the time of the call, except the one
// with the given identifier. The returned slice is owned by the caller.
func (r *Registry) Snapshot(except string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for id, c := range r.conns {
		if except != "" && id == except {
			continue
		}
		conns = append(conns, c)
	}
	return conns
}
