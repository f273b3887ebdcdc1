package relay

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/protocol"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
)

// serverEnforcedFields are the session.update keys the relay always owns.
// A client update may touch anything else, but these are forced back to the
// server values before the frame goes upstream.
var serverEnforcedFields = []string{
	"instructions",
	"modalities",
	"input_audio_format",
	"output_audio_format",
	"input_audio_transcription",
}

// Router forwards protocol frames between the client and upstream sockets,
// applying the session.update merge and transcript side effects.
type Router struct {
	recorder *Recorder
}

// NewRouter wires the router to the transcript recorder.
func NewRouter(recorder *Recorder) *Router {
	return &Router{recorder: recorder}
}

// RouteToUpstream handles one client frame. Frames sent before the upstream
// is active are queued by the session and flushed in order at readiness.
func (r *Router) RouteToUpstream(sess *session.Session, msg protocol.Message) error {
	if msg.Type == protocol.TypeSessionUpdate {
		merged, err := mergeSessionUpdate(sess, msg.Raw)
		if err != nil {
			return fmt.Errorf("merge session.update: %w", err)
		}
		return sess.SendUpstream(merged)
	}

	if !protocol.ClientForwardable(msg.Type) {
		// Permissive default: pass unknown types along rather than break
		// newer clients, but leave a trace.
		log.Printf("[router] forwarding unrecognized client message type=%s session=%s", msg.Type, sess.ID)
	}
	return sess.SendUpstream(msg.Raw)
}

// RouteToClient handles one upstream frame: transcript events feed the
// recorder, and every frame is forwarded verbatim, recognized or not.
func (r *Router) RouteToClient(sess *session.Session, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeUserTranscriptDone:
		r.recorder.RecordUser(sess, extractTranscript(msg.Raw))
	case protocol.TypeAssistantTranscriptDone:
		r.recorder.RecordAssistant(sess, extractTranscript(msg.Raw))
	}

	if !protocol.UpstreamKnown(msg.Type) {
		log.Printf("[router] forwarding unrecognized upstream event type=%s session=%s", msg.Type, sess.ID)
	}
	return sess.SendClient(msg.Raw)
}

// mergeSessionUpdate overlays the server-enforced session fields onto a
// client-supplied session.update, leaving unrelated fields untouched.
func mergeSessionUpdate(sess *session.Session, raw json.RawMessage) ([]byte, error) {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}

	payload, _ := frame["session"].(map[string]any)
	if payload == nil {
		payload = make(map[string]any)
	}

	enforced := buildSessionConfig(sess)
	for _, field := range serverEnforcedFields {
		payload[field] = enforced[field]
	}

	frame["type"] = protocol.TypeSessionUpdate
	frame["session"] = payload
	return json.Marshal(frame)
}

func extractTranscript(raw json.RawMessage) string {
	var event struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return ""
	}
	return event.Transcript
}
