package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps session and transcript records in Redis with a TTL. It
// suits deployments that want transcripts without a relational backend.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return "voice:session:" + sessionID
}

func messagesKey(sessionID string) string {
	return "voice:messages:" + sessionID
}

// CreateSession implements Store.
func (s *RedisStore) CreateSession(ctx context.Context, rec *SessionRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	return s.client.Set(ctx, sessionKey(rec.SessionID), val, s.ttl).Err()
}

// SaveMessage implements Store.
func (s *RedisStore) SaveMessage(ctx context.Context, rec *MessageRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal message record: %w", err)
	}

	key := messagesKey(rec.SessionID)
	if err := s.client.RPush(ctx, key, val).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

// UpdateMessageCount implements Store.
func (s *RedisStore) UpdateMessageCount(ctx context.Context, sessionID string, count int) error {
	return s.mutateSession(ctx, sessionID, func(rec *SessionRecord) {
		// Background writes may land out of order; the count only moves forward.
		if count > rec.MessageCount {
			rec.MessageCount = count
		}
	})
}

// MarkCompleted implements Store.
func (s *RedisStore) MarkCompleted(ctx context.Context, sessionID string, duration time.Duration) error {
	now := time.Now().UTC()
	return s.mutateSession(ctx, sessionID, func(rec *SessionRecord) {
		rec.CompletedAt = &now
		rec.DurationSeconds = duration.Seconds()
	})
}

func (s *RedisStore) mutateSession(ctx context.Context, sessionID string, mutate func(*SessionRecord)) error {
	key := sessionKey(sessionID)

	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrRecordNotFound
	}
	if err != nil {
		return err
	}

	var rec SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("unmarshal session record: %w", err)
	}

	mutate(&rec)

	val, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	return s.client.Set(ctx, key, val, s.ttl).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
