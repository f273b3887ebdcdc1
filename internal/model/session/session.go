// Package session holds the live relay session entity and the registry
// enforcing the one-active-session-per-user rule.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed   = errors.New("session is closed")
	ErrUpstreamDown    = errors.New("upstream connection is down")
	ErrNoUpstream      = errors.New("no upstream connection attached")
	ErrSessionNotFound = errors.New("session not found")
)

// State is the connection lifecycle of a session. A Session object only
// exists after authentication, so it starts in StateConnecting.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the socket surface the session needs. *websocket.Conn satisfies it;
// tests substitute fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session is the unit of state scoping one user's active voice conversation.
// It exclusively owns one client socket and at most one upstream socket.
type Session struct {
	ID           string
	UserID       string
	LessonID     string
	Voice        string
	Instructions string // optional override; empty means lesson-derived
	CourseID     string
	Source       string
	EntryPoint   string
	StartTime    time.Time

	mu           sync.Mutex
	state        State
	upstreamDown bool
	queue        [][]byte
	order        int
	storageID    string
	completedAt  time.Time
	duration     time.Duration

	client          Conn
	clientWriteMu   sync.Mutex
	upstream        Conn
	upstreamWriteMu sync.Mutex
}

// New creates a session in StateConnecting with its start time set.
func New(id, userID, lessonID, voice string) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		LessonID:  lessonID,
		Voice:     NormalizeVoice(voice),
		StartTime: time.Now().UTC(),
		state:     StateConnecting,
	}
}

// AttachClient binds the client socket. Called once, before registration.
func (s *Session) AttachClient(c Conn) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// AttachUpstream binds the upstream socket once dialing succeeds.
func (s *Session) AttachUpstream(c Conn) {
	s.mu.Lock()
	s.upstream = c
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SendClient writes one frame to the client socket. gorilla connections allow
// a single concurrent writer, hence the write lock.
func (s *Session) SendClient(data []byte) error {
	s.mu.Lock()
	conn := s.client
	closed := s.state == StateClosed
	s.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}
	if conn == nil {
		return errors.New("no client connection attached")
	}

	s.clientWriteMu.Lock()
	defer s.clientWriteMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SendUpstream forwards one frame to the upstream socket. Until the upstream
// is active the frame is queued; queued frames are flushed in arrival order
// by ActivateUpstream, exactly once.
func (s *Session) SendUpstream(data []byte) error {
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.upstreamDown:
		s.mu.Unlock()
		return ErrUpstreamDown
	case s.state != StateActive:
		s.queue = append(s.queue, data)
		s.mu.Unlock()
		return nil
	}
	conn := s.upstream
	s.mu.Unlock()

	if conn == nil {
		return ErrNoUpstream
	}

	s.upstreamWriteMu.Lock()
	defer s.upstreamWriteMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ActivateUpstream marks the session active and drains the outbound queue in
// FIFO order. The upstream write lock is held for the whole drain so frames
// arriving concurrently cannot overtake queued ones.
func (s *Session) ActivateUpstream() error {
	s.upstreamWriteMu.Lock()
	defer s.upstreamWriteMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	conn := s.upstream
	queued := s.queue
	s.queue = nil
	s.state = StateActive
	s.mu.Unlock()

	if conn == nil {
		return ErrNoUpstream
	}

	for _, frame := range queued {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
	}
	return nil
}

// MarkReady flips an HTTP-mode session to active. Such sessions have no
// upstream socket; readiness only gates the fallback endpoints.
func (s *Session) MarkReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	s.state = StateActive
	return nil
}

// MarkUpstreamDown records a terminal upstream disconnect. The session stays
// open for the client; there is no reconnect.
func (s *Session) MarkUpstreamDown() {
	s.mu.Lock()
	s.upstreamDown = true
	s.mu.Unlock()
}

// UpstreamDown reports whether the upstream link was lost.
func (s *Session) UpstreamDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstreamDown
}

// NextOrder increments and returns the per-session transcript order. The
// counter never repeats and never goes backwards.
func (s *Session) NextOrder() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order++
	return s.order
}

// Order returns the number of transcript entries recorded so far.
func (s *Session) Order() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order
}

// SetStorageID links the session to its persisted record. Best-effort: the
// session works without it.
func (s *Session) SetStorageID(id string) {
	s.mu.Lock()
	s.storageID = id
	s.mu.Unlock()
}

// StorageID returns the persisted record link, possibly empty.
func (s *Session) StorageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storageID
}

// Close transitions the session to StateClosed, records completion time and
// duration, and closes both sockets. The client is sent a close frame with
// the given code and reason. Returns false if the session was already closed.
func (s *Session) Close(code int, reason string) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosed
	s.completedAt = time.Now().UTC()
	s.duration = s.completedAt.Sub(s.StartTime)
	client := s.client
	upstream := s.upstream
	s.mu.Unlock()

	if client != nil {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = client.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = client.Close()
	}
	if upstream != nil {
		_ = upstream.Close()
	}
	return true
}

// Duration returns the recorded session duration; zero until closed.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// CompletedAt returns the close time; zero until closed.
func (s *Session) CompletedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedAt
}
