package remoteauth

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks login attempts by session id so HTTP handlers can poll
// and cancel them. Terminal sessions are swept whenever a new one starts.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Flow
	opts     Options
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Flow),
		opts:     opts,
	}
}

// Start sweeps finished flows and spawns a new one, returning its id.
func (r *Registry) Start() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, flow := range r.sessions {
		if flow.Status().State.Terminal() {
			delete(r.sessions, id)
		}
	}

	id := uuid.New()
	r.sessions[id] = StartFlow(r.opts)
	return id
}

// Status returns the flow's polled status, or false for an unknown id.
func (r *Registry) Status(id uuid.UUID) (Status, bool) {
	r.mu.Lock()
	flow, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return Status{}, false
	}
	return flow.Status(), true
}

// Cancel signals the flow to stop. Returns false for an unknown id.
func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	flow, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return false
	}
	flow.Cancel()
	return true
}
