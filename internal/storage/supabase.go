package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/supabase-community/supabase-go"
)

const (
	sessionsTable = "voice_sessions"
	messagesTable = "voice_messages"
)

// SupabaseStore persists records to Supabase tables. This is the durable
// production driver.
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabaseStore connects to a Supabase project.
func NewSupabaseStore(url, apiKey string) (*SupabaseStore, error) {
	if url == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// CreateSession implements Store.
func (s *SupabaseStore) CreateSession(_ context.Context, rec *SessionRecord) error {
	_, _, err := s.client.From(sessionsTable).
		Insert(rec, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("insert session record: %w", err)
	}
	return nil
}

// SaveMessage implements Store.
func (s *SupabaseStore) SaveMessage(_ context.Context, rec *MessageRecord) error {
	_, _, err := s.client.From(messagesTable).
		Insert(rec, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("insert message record: %w", err)
	}
	return nil
}

// UpdateMessageCount implements Store.
func (s *SupabaseStore) UpdateMessageCount(_ context.Context, sessionID string, count int) error {
	// Background writes may land out of order; the count only moves forward.
	_, _, err := s.client.From(sessionsTable).
		Update(map[string]interface{}{"message_count": count}, "", "").
		Eq("session_id", sessionID).
		Lt("message_count", strconv.Itoa(count)).
		Execute()
	if err != nil {
		return fmt.Errorf("update message count: %w", err)
	}
	return nil
}

// MarkCompleted implements Store.
func (s *SupabaseStore) MarkCompleted(_ context.Context, sessionID string, duration time.Duration) error {
	_, _, err := s.client.From(sessionsTable).
		Update(map[string]interface{}{
			"completed_at":     time.Now().UTC().Format(time.RFC3339),
			"duration_seconds": duration.Seconds(),
		}, "", "").
		Eq("session_id", sessionID).
		Execute()
	if err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SupabaseStore) Close() error {
	return nil
}
