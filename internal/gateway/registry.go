package gateway

import (
	"sync"
)

// Registry maps application users to their live gateway session, creating
// sessions lazily and replacing dead ones. Sessions never reconnect
// themselves; the registry transparently rebuilds on the next request.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     Options
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
}

// Ensure returns the user's live session, spawning one if none exists or
// the previous one died. Lookup and dead-entry eviction share one critical
// section so two actors are never created for the same user.
func (r *Registry) Ensure(userID, discordToken string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[userID]; ok {
		if session.Alive() {
			return session
		}
		delete(r.sessions, userID)
	}

	session := Dial(discordToken, r.opts)
	r.sessions[userID] = session
	return session
}

// Evict removes the user's entry if it still points at the given session.
// Called when a command to the session reported it dead.
func (r *Registry) Evict(userID string, session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[userID]; ok && current == session {
		delete(r.sessions, userID)
	}
}

// Len reports the number of tracked sessions (live or not yet evicted).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
