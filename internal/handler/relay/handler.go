// Package relay exposes the persistent WebSocket relay endpoint and runs
// the per-connection authentication state machine.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/config"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/protocol"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
	relaysvc "github.com/sanyaden/smartyme-voice-input-sub000/internal/service/relay"
)

const readTimeout = 60 * time.Second

// Upstream abstracts the upstream connector so tests can substitute a fake.
type Upstream interface {
	Connect(ctx context.Context, sess *session.Session) error
}

// Handler upgrades client connections and drives them through the
// Unauthenticated → Connecting → Active → Closed lifecycle.
type Handler struct {
	authCfg  config.AuthConfig
	registry *session.Registry
	router   *relaysvc.Router
	recorder *relaysvc.Recorder
	upstream Upstream
	upgrader websocket.Upgrader
}

// New creates the relay gateway handler.
func New(authCfg config.AuthConfig, registry *session.Registry, router *relaysvc.Router, recorder *relaysvc.Recorder, upstream Upstream) *Handler {
	return &Handler{
		authCfg:  authCfg,
		registry: registry,
		router:   router,
		recorder: recorder,
		upstream: upstream,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type authenticateMessage struct {
	Type      string `json:"type"`
	AuthType  string `json:"auth_type"`
	APIKey    string `json:"api_key"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	LessonID  string `json:"lesson_id"`
	Voice     string `json:"voice"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	go h.pingLoop(ctx, conn)

	// The session handle doubles as the authentication state: nil means the
	// connection has not authenticated yet.
	var sess *session.Session
	defer func() {
		if sess != nil {
			h.teardown(sess)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure, protocol.CloseReplaced) {
				log.Printf("[gateway] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := protocol.Decode(data)
		if err != nil {
			h.writeError(conn, sess, "bad_message", err.Error())
			continue
		}

		if sess == nil {
			if msg.Type != protocol.TypeAuthenticate {
				// Tolerate slow or racing clients: reply with an error but
				// keep the socket open.
				h.writeError(conn, nil, "not_authenticated", "first message must be authenticate")
				continue
			}

			authenticated, ok := h.authenticate(ctx, conn, msg.Raw)
			if !ok {
				return
			}
			sess = authenticated
			continue
		}

		if msg.Type == protocol.TypeAuthenticate {
			h.writeError(conn, sess, "already_authenticated", "session already established")
			continue
		}

		if err := h.router.RouteToUpstream(sess, msg); err != nil {
			log.Printf("[gateway] route to upstream failed session=%s type=%s: %v", sess.ID, msg.Type, err)
			h.writeError(conn, sess, "upstream_error", "failed to forward message")
		}
	}
}

// authenticate validates the first message, creates and registers the
// session, and kicks off the upstream connection. On policy failure the
// socket is closed with a policy violation code and (nil, false) returned.
func (h *Handler) authenticate(ctx context.Context, conn *websocket.Conn, raw json.RawMessage) (*session.Session, bool) {
	var msg authenticateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.closePolicyViolation(conn, "malformed authenticate message")
		return nil, false
	}

	if !h.validateCredentials(msg.AuthType, msg.APIKey) {
		log.Printf("[gateway] authentication rejected auth_type=%s", msg.AuthType)
		h.closePolicyViolation(conn, "invalid credentials")
		return nil, false
	}

	sessionID := strings.TrimSpace(msg.SessionID)
	if sessionID == "" {
		sessionID = fmt.Sprintf("session_%d", time.Now().UnixMilli())
	}
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		userID = fmt.Sprintf("user_%d", time.Now().UnixMilli())
	}

	sess := session.New(sessionID, userID, strings.TrimSpace(msg.LessonID), msg.Voice)
	sess.Source = msg.AuthType
	sess.EntryPoint = "websocket"
	sess.AttachClient(conn)

	if replaced := h.registry.Register(sess); len(replaced) > 0 {
		log.Printf("[gateway] user=%s: replaced %d existing session(s)", userID, len(replaced))
	}

	h.recorder.PersistSessionStart(sess)

	go func() {
		if err := h.upstream.Connect(ctx, sess); err != nil {
			log.Printf("[gateway] upstream connect failed session=%s: %v", sess.ID, err)
			// Later sends must fail fast instead of queueing forever.
			sess.MarkUpstreamDown()
			if sendErr := sess.SendClient(protocol.NewError("upstream_error", "could not reach the voice service")); sendErr != nil {
				log.Printf("[gateway] upstream error notice failed session=%s: %v", sess.ID, sendErr)
			}
		}
	}()

	log.Printf("[gateway] session established id=%s user=%s lesson=%s voice=%s", sess.ID, userID, sess.LessonID, sess.Voice)
	return sess, true
}

// validateCredentials applies the documented policy: app clients must match
// the shared secret or carry the recognized key prefix; web clients only
// need a key of minimum length. The web rule is a placeholder inherited
// from the original service.
func (h *Handler) validateCredentials(authType, apiKey string) bool {
	apiKey = strings.TrimSpace(apiKey)

	switch authType {
	case "app":
		if h.authCfg.AppSecret != "" && apiKey == h.authCfg.AppSecret {
			return true
		}
		return h.authCfg.AppKeyPrefix != "" && strings.HasPrefix(apiKey, h.authCfg.AppKeyPrefix)
	case "web":
		return len(apiKey) >= h.authCfg.WebKeyMinLength
	default:
		return false
	}
}

func (h *Handler) teardown(sess *session.Session) {
	sess.Close(websocket.CloseNormalClosure, "client disconnected")
	h.recorder.Finalize(sess)
	h.registry.RemoveSession(sess)
	log.Printf("[gateway] session closed id=%s user=%s duration=%s messages=%d", sess.ID, sess.UserID, sess.Duration(), sess.Order())
}

func (h *Handler) closePolicyViolation(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}

// writeError sends an error frame. Before authentication there is no
// session, so the frame goes straight to the connection.
func (h *Handler) writeError(conn *websocket.Conn, sess *session.Session, code, message string) {
	frame := protocol.NewError(code, message)
	if sess != nil {
		if err := sess.SendClient(frame); err != nil {
			log.Printf("[gateway] write error frame failed session=%s: %v", sess.ID, err)
		}
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("[gateway] write error frame failed: %v", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
