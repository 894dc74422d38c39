// Package session tracks the connections currently attached to the server
// and buffers their outbound events.
package session

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

// Registry tracks every attached connection.
// All methods are safe for concurrent use; Broadcast and LookupUsername read
// connection state and must be called from the dispatch loop.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*lobby.Connection
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*lobby.Connection),
		logger: logger.Named("sessions"),
	}
}

// Add registers c.
//
// Postcondition: Returns an error if a connection with the same id is
// already registered.
func (r *Registry) Add(c *lobby.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID()]; exists {
		return fmt.Errorf("connection %q already registered", c.ID())
	}
	r.conns[c.ID()] = c
	r.order = append(r.order, c.ID())
	r.logger.Debug("session added", zap.String("connection", c.ID()), zap.Int("count", len(r.conns)))
	return nil
}

// Remove deregisters c. It implements lobby.Directory and is a no-op for
// unknown connections.
func (r *Registry) Remove(c *lobby.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID()]; !exists {
		return
	}
	delete(r.conns, c.ID())
	for i, id := range r.order {
		if id == c.ID() {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("session removed", zap.String("connection", c.ID()), zap.Int("count", len(r.conns)))
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*lobby.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// All returns the registered connections in attach order.
func (r *Registry) All() []*lobby.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*lobby.Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.conns[id])
	}
	return out
}

// Broadcast sends ev to every registered connection, logged in or not.
func (r *Registry) Broadcast(ev lobby.Event) {
	for _, c := range r.All() {
		c.Send(ev)
	}
}

// LookupUsername returns the logged-in connection whose display name matches
// name case-insensitively, or nil.
func (r *Registry) LookupUsername(name string) *lobby.Connection {
	for _, c := range r.All() {
		if c.LoggedIn() && strings.EqualFold(c.Username(), name) {
			return c
		}
	}
	return nil
}
