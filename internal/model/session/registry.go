package session

import (
	"log"
	"sync"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/protocol"
)

// Registry is the in-memory table of live sessions. It is the only state
// shared across sessions, and its mutex is the single synchronization point
// for cross-session operations.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts a session, first evicting any non-closed session belonging
// to the same user. Evict-existing and insert happen under one lock hold so
// two racing connects for the same user cannot both stay registered.
// The replaced sessions are returned for observability.
func (r *Registry) Register(s *Session) []*Session {
	r.mu.Lock()
	var replaced []*Session
	for id, existing := range r.sessions {
		if existing.UserID != s.UserID || existing.State() == StateClosed {
			continue
		}
		delete(r.sessions, id)
		replaced = append(replaced, existing)
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	// The notice and close write to the replaced clients' sockets. A stalled
	// client must not hold the registry lock, so this happens after release.
	for _, existing := range replaced {
		notice := protocol.Notice(protocol.TypeSessionReplaced, existing.ID)
		if err := existing.SendClient(notice); err != nil {
			log.Printf("[registry] replace notice for session=%s failed: %v", existing.ID, err)
		}
		existing.Close(protocol.CloseReplaced, "replaced by new session")
	}
	return replaced
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// FindByUser returns the user's active session, if any. By the registry
// invariant there is at most one.
func (r *Registry) FindByUser(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.State() != StateClosed {
			return s, true
		}
	}
	return nil, false
}

// Remove drops a session from the table. Used on disconnect and cleanup.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// RemoveSession drops a session only if the table still maps its id to this
// exact session. A replaced session whose id was reused by its successor
// must not evict the successor during late teardown.
func (r *Registry) RemoveSession(s *Session) {
	r.mu.Lock()
	if current, ok := r.sessions[s.ID]; ok && current == s {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()
}

// Stats summarizes the registry for the stats endpoint.
type Stats struct {
	Total   int            `json:"total"`
	Active  int            `json:"active"`
	ByState map[string]int `json:"byState"`
}

// Snapshot returns current registry statistics.
func (r *Registry) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{ByState: make(map[string]int)}
	for _, s := range r.sessions {
		state := s.State()
		stats.Total++
		if state != StateClosed {
			stats.Active++
		}
		stats.ByState[state.String()]++
	}
	return stats
}
