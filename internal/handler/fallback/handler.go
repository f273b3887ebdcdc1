// Package fallback exposes the stateless HTTP endpoints mirroring the
// WebSocket relay for clients that cannot hold a socket open.
package fallback

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
	fallbacksvc "github.com/sanyaden/smartyme-voice-input-sub000/internal/service/fallback"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/service/relay"
	"github.com/sanyaden/smartyme-voice-input-sub000/pkg/utils"
)

// Handler serves the HTTP conversation endpoints. Sessions created here live
// in the same registry as socket sessions, so the one-session-per-user rule
// holds across both surfaces.
type Handler struct {
	registry *session.Registry
	pipeline *fallbacksvc.Pipeline
	recorder *relay.Recorder
}

// New creates the fallback handler.
func New(registry *session.Registry, pipeline *fallbacksvc.Pipeline, recorder *relay.Recorder) *Handler {
	return &Handler{
		registry: registry,
		pipeline: pipeline,
		recorder: recorder,
	}
}

// RegisterRoutes mounts the HTTP conversation endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/create-session", h.handleCreateSession)
	r.Post("/connect/{sessionID}", h.handleConnect)
	r.Post("/audio/{sessionID}", h.handleAudio)
	r.Post("/text/{sessionID}", h.handleText)
	r.Post("/disconnect/{sessionID}", h.handleDisconnect)
	r.Get("/session/{sessionID}", h.handleGetSession)
	r.Get("/stats", h.handleStats)
}

type createSessionRequest struct {
	UserID       string `json:"userId"`
	LessonID     string `json:"lessonId"`
	CourseID     string `json:"courseId"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	sess := session.New(uuid.NewString(), req.UserID, strings.TrimSpace(req.LessonID), req.Voice)
	sess.Instructions = strings.TrimSpace(req.Instructions)
	sess.CourseID = strings.TrimSpace(req.CourseID)
	sess.Source = "http"
	sess.EntryPoint = "fallback"

	if replaced := h.registry.Register(sess); len(replaced) > 0 {
		log.Printf("[fallback] user=%s: replaced %d existing session(s)", req.UserID, len(replaced))
	}
	h.recorder.PersistSessionStart(sess)

	log.Printf("[fallback] session created id=%s user=%s lesson=%s", sess.ID, sess.UserID, sess.LessonID)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID})
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := sess.MarkReady(); err != nil {
		utils.RespondError(w, http.StatusConflict, "session is closed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID,
		"status":    sess.State().String(),
	})
}

type audioRequest struct {
	Audio  string `json:"audio"`
	Format string `json:"format"`
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupActive(w, r)
	if !ok {
		return
	}

	var req audioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(audio) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "audio must be non-empty base64")
		return
	}
	format := req.Format
	if format == "" {
		format = "webm"
	}

	result := h.pipeline.ProcessAudio(r.Context(), sess, audio, format)
	h.recordExchange(sess, result)
	utils.RespondJSON(w, http.StatusOK, result)
}

type textRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupActive(w, r)
	if !ok {
		return
	}

	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	result := h.pipeline.ProcessText(r.Context(), sess, req.Text)
	h.recordExchange(sess, result)
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	sess.Close(websocket.CloseNormalClosure, "client disconnected")
	h.recorder.Finalize(sess)
	h.registry.RemoveSession(sess)

	log.Printf("[fallback] session closed id=%s user=%s duration=%s", sess.ID, sess.UserID, sess.Duration())
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId":       sess.ID,
		"durationSeconds": sess.Duration().Seconds(),
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId":    sess.ID,
		"userId":       sess.UserID,
		"lessonId":     sess.LessonID,
		"voice":        sess.Voice,
		"status":       sess.State().String(),
		"messageCount": sess.Order(),
		"startTime":    sess.StartTime.Format(time.RFC3339),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.registry.Snapshot())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := h.registry.Get(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// lookupActive additionally requires the session to have connected: the
// conversation endpoints only serve sessions marked ready.
func (h *Handler) lookupActive(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return nil, false
	}
	if sess.State() != session.StateActive {
		utils.RespondError(w, http.StatusConflict, "session is not connected")
		return nil, false
	}
	return sess, true
}

// recordExchange persists both sides of a completed pipeline turn. The fixed
// degradation responses are recorded too; only empty transcripts are skipped.
func (h *Handler) recordExchange(sess *session.Session, result fallbacksvc.Result) {
	h.recorder.RecordUser(sess, result.UserTranscription)
	h.recorder.RecordAssistant(sess, result.TextResponse)
}
