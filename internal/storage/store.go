// Package storage persists session and transcript records. The live relay
// only consumes this surface; writes are always best-effort from its point
// of view.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/config"
)

var (
	ErrRecordNotFound = errors.New("storage: record not found")
	ErrUnknownDriver  = errors.New("storage: unknown driver")
)

// SessionRecord is the persisted shape of a voice session.
type SessionRecord struct {
	SessionID       string     `json:"session_id"`
	UserID          string     `json:"user_id"`
	ScenarioTitle   string     `json:"scenario_title"`
	ScenarioPrompt  string     `json:"scenario_prompt"`
	MessageCount    int        `json:"message_count"`
	LessonID        string     `json:"lesson_id"`
	CourseID        string     `json:"course_id"`
	Source          string     `json:"source"`
	EntryPoint      string     `json:"entry_point"`
	StartTimestamp  time.Time  `json:"start_timestamp"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// MessageRecord is one persisted transcript entry.
type MessageRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Order     int       `json:"message_order"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence surface consumed by the relay core.
type Store interface {
	CreateSession(ctx context.Context, rec *SessionRecord) error
	SaveMessage(ctx context.Context, rec *MessageRecord) error
	UpdateMessageCount(ctx context.Context, sessionID string, count int) error
	MarkCompleted(ctx context.Context, sessionID string, duration time.Duration) error
	Close() error
}

// New creates a Store for the configured driver.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, cfg.RedisTTL), nil
	case "supabase":
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
