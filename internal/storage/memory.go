package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It is the default driver and
// the one the test suite inspects.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
	messages map[string][]MessageRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*SessionRecord),
		messages: make(map[string][]MessageRecord),
	}
}

// CreateSession implements Store.
func (s *MemoryStore) CreateSession(_ context.Context, rec *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rec
	s.sessions[rec.SessionID] = &stored
	return nil
}

// SaveMessage implements Store.
func (s *MemoryStore) SaveMessage(_ context.Context, rec *MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[rec.SessionID] = append(s.messages[rec.SessionID], *rec)
	return nil
}

// UpdateMessageCount implements Store.
func (s *MemoryStore) UpdateMessageCount(_ context.Context, sessionID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrRecordNotFound
	}
	// Background writes may land out of order; the count only moves forward.
	if count > rec.MessageCount {
		rec.MessageCount = count
	}
	return nil
}

// MarkCompleted implements Store.
func (s *MemoryStore) MarkCompleted(_ context.Context, sessionID string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrRecordNotFound
	}
	now := time.Now().UTC()
	rec.CompletedAt = &now
	rec.DurationSeconds = duration.Seconds()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*SessionRecord)
	s.messages = make(map[string][]MessageRecord)
	return nil
}

// GetSession returns a copy of the stored session record.
func (s *MemoryStore) GetSession(sessionID string) (SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return SessionRecord{}, false
	}
	return *rec, true
}

// Messages returns a copy of the stored transcript for a session.
func (s *MemoryStore) Messages(sessionID string) []MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	copied := make([]MessageRecord, len(msgs))
	copy(copied, msgs)
	return copied
}
