package relay

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/service/ai"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/storage"
)

const (
	persistAttempts = 3
	persistTimeout  = 10 * time.Second
)

// Recorder persists transcript events and session bookkeeping. Every write
// is decoupled from the live forwarding path: it runs in the background with
// bounded retry, and failures are logged, never surfaced.
type Recorder struct {
	store storage.Store
}

// NewRecorder wraps a storage backend.
func NewRecorder(store storage.Store) *Recorder {
	return &Recorder{store: store}
}

// PersistSessionStart writes the session record, best-effort. The session
// keeps working whether or not the record lands.
func (r *Recorder) PersistSessionStart(sess *session.Session) {
	rec := &storage.SessionRecord{
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		ScenarioTitle:  ScenarioTitleFor(sess),
		ScenarioPrompt: InstructionsFor(sess),
		LessonID:       sess.LessonID,
		CourseID:       sess.CourseID,
		Source:         sess.Source,
		EntryPoint:     sess.EntryPoint,
		StartTimestamp: sess.StartTime,
	}

	go func() {
		err := r.withRetry(func(ctx context.Context) error {
			return r.store.CreateSession(ctx, rec)
		})
		if err != nil {
			log.Printf("[recorder] persist session start failed session=%s: %v", sess.ID, err)
			return
		}
		sess.SetStorageID(rec.SessionID)
	}()
}

// RecordUser persists a completed user transcript. Empty transcripts (after
// trimming) are dropped without consuming an order slot.
func (r *Recorder) RecordUser(sess *session.Session, transcript string) {
	r.record(sess, ai.RoleUser, transcript, false)
}

// RecordAssistant persists a completed assistant transcript and bumps the
// stored session's message count to the new order.
func (r *Recorder) RecordAssistant(sess *session.Session, transcript string) {
	r.record(sess, ai.RoleAssistant, transcript, true)
}

func (r *Recorder) record(sess *session.Session, role, transcript string, updateCount bool) {
	content := strings.TrimSpace(transcript)
	if content == "" {
		return
	}

	order := sess.NextOrder()
	rec := &storage.MessageRecord{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      role,
		Content:   content,
		Order:     order,
		CreatedAt: time.Now().UTC(),
	}

	go func() {
		err := r.withRetry(func(ctx context.Context) error {
			return r.store.SaveMessage(ctx, rec)
		})
		if err != nil {
			log.Printf("[recorder] persist %s transcript failed session=%s order=%d: %v", role, sess.ID, order, err)
			return
		}
		if updateCount {
			err := r.withRetry(func(ctx context.Context) error {
				return r.store.UpdateMessageCount(ctx, sess.ID, order)
			})
			if err != nil {
				log.Printf("[recorder] update message count failed session=%s: %v", sess.ID, err)
			}
		}
	}()
}

// Finalize marks the persisted session completed with its duration. Called
// on session close; a storage failure never blocks socket teardown.
func (r *Recorder) Finalize(sess *session.Session) {
	duration := sess.Duration()

	go func() {
		err := r.withRetry(func(ctx context.Context) error {
			return r.store.MarkCompleted(ctx, sess.ID, duration)
		})
		if err != nil {
			log.Printf("[recorder] finalize failed session=%s: %v", sess.ID, err)
		}
	}()
}

func (r *Recorder) withRetry(op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		lastErr = op(ctx)
		cancel()
		if lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	return lastErr
}
