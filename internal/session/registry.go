package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks live sessions for the health endpoint and shutdown
// accounting. Sessions never share processors; the registry only counts.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Add registers a session and returns its ID.
func (r *Registry) Add(s *Session) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return id
}

// Remove drops a session by ID. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
