// Package protocol defines the JSON message envelope exchanged on both the
// client and the upstream socket, plus the forwarding whitelists.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client-originated message types.
const (
	TypeAuthenticate  = "authenticate"
	TypeSessionUpdate = "session.update"
)

// Upstream event types the relay reacts to beyond plain forwarding.
const (
	TypeUserTranscriptDone      = "conversation.item.input_audio_transcription.completed"
	TypeAssistantTranscriptDone = "response.audio_transcript.done"
)

// Relay-originated notices sent to the client.
const (
	TypeRelayReady                = "relay.ready"
	TypeRelayUpstreamDisconnected = "relay.upstream_disconnected"
	TypeSessionReplaced           = "session.replaced"
	TypeError                     = "error"
)

// WebSocket close codes used by the relay. CloseReplaced is sent when a new
// session for the same user displaces an existing one.
const (
	CloseReplaced = 4000
)

// Message is one protocol frame. Raw keeps the original bytes so known and
// unknown types alike can be forwarded verbatim.
type Message struct {
	Type string
	Raw  json.RawMessage
}

// Decode probes the type field of a frame without consuming the rest.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Message{}, fmt.Errorf("malformed protocol message: %w", err)
	}
	if probe.Type == "" {
		return Message{}, fmt.Errorf("protocol message missing type")
	}
	return Message{Type: probe.Type, Raw: json.RawMessage(data)}, nil
}

// clientForwardable lists client message types relayed to upstream verbatim.
// session.update is deliberately absent: it is merged, not passed through.
var clientForwardable = map[string]struct{}{
	"conversation.item.create":  {},
	"input_audio_buffer.append": {},
	"input_audio_buffer.commit": {},
	"input_audio_buffer.clear":  {},
	"input_audio_buffer.start":  {},
	"response.create":           {},
	"response.cancel":           {},
}

// upstreamForwardable lists upstream event types known to the relay. Types
// outside this set are still forwarded so new provider events never break
// clients silently.
var upstreamForwardable = map[string]struct{}{
	"session.created":                   {},
	"session.updated":                   {},
	"conversation.created":              {},
	"conversation.item.created":         {},
	TypeUserTranscriptDone:              {},
	"response.created":                  {},
	"response.done":                     {},
	"response.output_item.added":        {},
	"response.output_item.done":         {},
	"response.content_part.added":       {},
	"response.content_part.done":        {},
	"response.text.delta":               {},
	"response.text.done":                {},
	"response.audio.delta":              {},
	"response.audio.done":               {},
	"response.audio_transcript.delta":   {},
	TypeAssistantTranscriptDone:         {},
	"input_audio_buffer.speech_started": {},
	"input_audio_buffer.speech_stopped": {},
	"input_audio_buffer.committed":      {},
	"input_audio_buffer.cleared":        {},
	"rate_limits.updated":               {},
	"error":                             {},
}

// ClientForwardable reports whether a client message type is on the verbatim
// forwarding whitelist.
func ClientForwardable(msgType string) bool {
	_, ok := clientForwardable[msgType]
	return ok
}

// UpstreamKnown reports whether an upstream event type is recognized.
func UpstreamKnown(msgType string) bool {
	_, ok := upstreamForwardable[msgType]
	return ok
}

// ErrorMessage is the error frame the relay sends to clients.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an encoded error frame.
func NewError(code, message string) []byte {
	data, _ := json.Marshal(ErrorMessage{Type: TypeError, Code: code, Message: message})
	return data
}

// Notice builds an encoded relay notice frame carrying the session id.
func Notice(noticeType, sessionID string) []byte {
	data, _ := json.Marshal(map[string]string{
		"type":       noticeType,
		"session_id": sessionID,
	})
	return data
}
