package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/config"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/protocol"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
	relaysvc "github.com/sanyaden/smartyme-voice-input-sub000/internal/service/relay"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/storage"
)

// readyUpstream stands in for the provider connection: it flips the session
// to active and notifies the client, like the real connector does.
type readyUpstream struct{}

func (readyUpstream) Connect(_ context.Context, sess *session.Session) error {
	if err := sess.MarkReady(); err != nil {
		return err
	}
	return sess.SendClient(protocol.Notice(protocol.TypeRelayReady, sess.ID))
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		AppSecret:       "topsecret",
		AppKeyPrefix:    "sm_app_",
		WebKeyMinLength: 32,
	}
}

func setupServerWith(t *testing.T, upstream Upstream) (*httptest.Server, *session.Registry) {
	t.Helper()
	store := storage.NewMemoryStore()
	registry := session.NewRegistry()
	recorder := relaysvc.NewRecorder(store)
	router := relaysvc.NewRouter(recorder)
	handler := New(testAuthConfig(), registry, router, recorder, upstream)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func setupServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	return setupServerWith(t, readyUpstream{})
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, payload map[string]any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return frame
}

func authenticate(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	send(t, conn, map[string]any{
		"type":      protocol.TypeAuthenticate,
		"auth_type": "app",
		"api_key":   "topsecret",
		"user_id":   userID,
		"lesson_id": "14",
		"voice":     "coral",
	})
}

func TestAuthenticateSuccess(t *testing.T) {
	srv, registry := setupServer(t)
	conn := dial(t, srv)

	authenticate(t, conn, "user-1")

	frame := readFrame(t, conn)
	if frame["type"] != protocol.TypeRelayReady {
		t.Fatalf("expected relay.ready, got %v", frame["type"])
	}

	sess, ok := registry.FindByUser("user-1")
	if !ok {
		t.Fatal("session should be registered")
	}
	if sess.LessonID != "14" || sess.Voice != "coral" {
		t.Fatalf("unexpected session fields: lesson=%s voice=%s", sess.LessonID, sess.Voice)
	}
}

func TestAppKeyPrefixAccepted(t *testing.T) {
	srv, _ := setupServer(t)
	conn := dial(t, srv)

	send(t, conn, map[string]any{
		"type":      protocol.TypeAuthenticate,
		"auth_type": "app",
		"api_key":   "sm_app_abc123",
		"user_id":   "user-2",
	})

	frame := readFrame(t, conn)
	if frame["type"] != protocol.TypeRelayReady {
		t.Fatalf("expected relay.ready, got %v", frame["type"])
	}
}

func TestWebKeyLengthPolicy(t *testing.T) {
	srv, _ := setupServer(t)
	conn := dial(t, srv)

	send(t, conn, map[string]any{
		"type":      protocol.TypeAuthenticate,
		"auth_type": "web",
		"api_key":   strings.Repeat("k", 32),
		"user_id":   "user-web",
	})

	frame := readFrame(t, conn)
	if frame["type"] != protocol.TypeRelayReady {
		t.Fatalf("expected relay.ready, got %v", frame["type"])
	}
}

func TestInvalidCredentialsClosePolicyViolation(t *testing.T) {
	srv, registry := setupServer(t)
	conn := dial(t, srv)

	send(t, conn, map[string]any{
		"type":      protocol.TypeAuthenticate,
		"auth_type": "app",
		"api_key":   "wrong",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected close code %d, got %d", websocket.ClosePolicyViolation, closeErr.Code)
	}

	if stats := registry.Snapshot(); stats.Total != 0 {
		t.Fatalf("no session should be registered after failed auth, got %d", stats.Total)
	}
}

type failingUpstream struct{}

func (failingUpstream) Connect(context.Context, *session.Session) error {
	return errors.New("dial refused")
}

func TestUpstreamConnectFailureFailsFast(t *testing.T) {
	srv, registry := setupServerWith(t, failingUpstream{})
	conn := dial(t, srv)

	authenticate(t, conn, "user-1")

	frame := readFrame(t, conn)
	if frame["type"] != protocol.TypeError || frame["code"] != "upstream_error" {
		t.Fatalf("expected upstream_error frame, got %v", frame)
	}

	// The error frame is sent after the session is marked down, so by now
	// later sends must fail instead of queueing.
	sess, ok := registry.FindByUser("user-1")
	if !ok {
		t.Fatal("session should be registered")
	}
	if !sess.UpstreamDown() {
		t.Fatal("session should be marked upstream-down after connect failure")
	}

	send(t, conn, map[string]any{"type": "input_audio_buffer.append", "audio": "AAAA"})
	frame = readFrame(t, conn)
	if frame["type"] != protocol.TypeError || frame["code"] != "upstream_error" {
		t.Fatalf("expected per-message upstream_error, got %v", frame)
	}
}

func TestPreAuthMessageKeepsSocketOpen(t *testing.T) {
	srv, _ := setupServer(t)
	conn := dial(t, srv)

	send(t, conn, map[string]any{"type": "response.create"})

	frame := readFrame(t, conn)
	if frame["type"] != protocol.TypeError {
		t.Fatalf("expected error frame, got %v", frame["type"])
	}
	if frame["code"] != "not_authenticated" {
		t.Fatalf("expected not_authenticated, got %v", frame["code"])
	}

	// The socket survives; authentication still works afterwards.
	authenticate(t, conn, "user-1")
	frame = readFrame(t, conn)
	if frame["type"] != protocol.TypeRelayReady {
		t.Fatalf("expected relay.ready after late auth, got %v", frame["type"])
	}
}

func TestSecondSessionReplacesFirst(t *testing.T) {
	srv, registry := setupServer(t)

	first := dial(t, srv)
	authenticate(t, first, "user-1")
	if frame := readFrame(t, first); frame["type"] != protocol.TypeRelayReady {
		t.Fatalf("expected relay.ready, got %v", frame["type"])
	}

	second := dial(t, srv)
	authenticate(t, second, "user-1")
	if frame := readFrame(t, second); frame["type"] != protocol.TypeRelayReady {
		t.Fatalf("expected relay.ready, got %v", frame["type"])
	}

	// The first client is told it was replaced, then closed with 4000.
	frame := readFrame(t, first)
	if frame["type"] != protocol.TypeSessionReplaced {
		t.Fatalf("expected session.replaced, got %v", frame["type"])
	}

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != protocol.CloseReplaced {
		t.Fatalf("expected close code %d, got %d", protocol.CloseReplaced, closeErr.Code)
	}

	sess, ok := registry.FindByUser("user-1")
	if !ok {
		t.Fatal("the new session should be registered")
	}
	if sess.State() == session.StateClosed {
		t.Fatal("the new session must stay open")
	}
}

func TestDuplicateAuthenticateRejected(t *testing.T) {
	srv, _ := setupServer(t)
	conn := dial(t, srv)

	authenticate(t, conn, "user-1")
	if frame := readFrame(t, conn); frame["type"] != protocol.TypeRelayReady {
		t.Fatalf("expected relay.ready, got %v", frame["type"])
	}

	authenticate(t, conn, "user-1")
	frame := readFrame(t, conn)
	if frame["type"] != protocol.TypeError || frame["code"] != "already_authenticated" {
		t.Fatalf("expected already_authenticated error, got %v", frame)
	}
}
