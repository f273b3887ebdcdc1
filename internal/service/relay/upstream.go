package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/config"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/protocol"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
)

const upstreamPingInterval = 30 * time.Second

// Connector owns the outbound connection to the conversational-audio
// provider for each session.
type Connector struct {
	cfg    config.UpstreamConfig
	router *Router
	dialer *websocket.Dialer
}

// NewConnector builds a connector with the provider credentials.
func NewConnector(cfg config.UpstreamConfig, router *Router) *Connector {
	return &Connector{
		cfg:    cfg,
		router: router,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

// Connect dials the provider, sends the fixed session configuration, drains
// the session's outbound queue in arrival order, tells the client the relay
// is ready, and starts pumping upstream events. There is no automatic
// reconnect: an upstream drop is terminal for the session.
func (c *Connector) Connect(ctx context.Context, sess *session.Session) error {
	endpoint := fmt.Sprintf("%s?model=%s", c.cfg.URL, url.QueryEscape(c.cfg.Model))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("upstream dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	sess.AttachUpstream(conn)

	configFrame, err := json.Marshal(map[string]any{
		"type":    protocol.TypeSessionUpdate,
		"session": buildSessionConfig(sess),
	})
	if err != nil {
		return fmt.Errorf("encode session config: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, configFrame); err != nil {
		return fmt.Errorf("send session config: %w", err)
	}

	// Flushes queued frames FIFO and flips the session to active.
	if err := sess.ActivateUpstream(); err != nil {
		return fmt.Errorf("flush outbound queue: %w", err)
	}

	if err := sess.SendClient(protocol.Notice(protocol.TypeRelayReady, sess.ID)); err != nil {
		log.Printf("[upstream] ready notice failed session=%s: %v", sess.ID, err)
	}

	log.Printf("[upstream] connected session=%s lesson=%s voice=%s", sess.ID, sess.LessonID, sess.Voice)

	done := make(chan struct{})
	go c.pingLoop(conn, done)
	go func() {
		defer close(done)
		c.readLoop(sess, conn)
	}()
	return nil
}

func (c *Connector) readLoop(sess *session.Session, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(sess, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("[upstream] dropping malformed event session=%s: %v", sess.ID, err)
			continue
		}

		if err := c.router.RouteToClient(sess, msg); err != nil {
			log.Printf("[upstream] forward to client failed session=%s type=%s: %v", sess.ID, msg.Type, err)
		}
	}
}

func (c *Connector) handleDisconnect(sess *session.Session, err error) {
	sess.MarkUpstreamDown()

	if sess.State() == session.StateClosed {
		return
	}

	log.Printf("[upstream] connection lost session=%s: %v", sess.ID, err)
	notice := protocol.Notice(protocol.TypeRelayUpstreamDisconnected, sess.ID)
	if sendErr := sess.SendClient(notice); sendErr != nil {
		log.Printf("[upstream] disconnect notice failed session=%s: %v", sess.ID, sendErr)
	}
}

// pingLoop keeps the upstream connection alive. WriteControl is safe to call
// concurrently with data writes.
func (c *Connector) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(upstreamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// buildSessionConfig is the fixed configuration sent at upstream open: both
// modalities, lesson-driven instructions, the session voice, pcm16 audio,
// English-pinned transcription, server VAD, and generation limits.
func buildSessionConfig(sess *session.Session) map[string]any {
	return map[string]any{
		"modalities":          []string{"text", "audio"},
		"instructions":        InstructionsFor(sess),
		"voice":               sess.Voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model":    "whisper-1",
			"language": "en",
		},
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           0.5,
			"prefix_padding_ms":   300,
			"silence_duration_ms": 500,
		},
		"temperature":                0.8,
		"max_response_output_tokens": 4096,
	}
}
