// Package fallback implements the stateless HTTP pipeline substituting for
// a persistent socket: decode audio, transcribe, complete, synthesize.
package fallback

import (
	"context"
	"encoding/base64"
	"log"
	"strings"
	"time"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/session"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/service/ai"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/service/relay"
	"github.com/sanyaden/smartyme-voice-input-sub000/internal/service/speech"
)

// Fixed user-facing responses. The pipeline degrades to these instead of
// ever propagating an error to the caller.
const (
	ResponseCouldNotUnderstand = "Sorry, I couldn't catch that. Could you say it again?"
	ResponseApology            = "I'm sorry, I'm having trouble responding right now. Let's give it another try."
)

// Result is the response shape of both pipeline entry points. AudioResponse
// is base64-encoded audio, or null when no audio was synthesized.
type Result struct {
	TextResponse      string  `json:"textResponse"`
	AudioResponse     *string `json:"audioResponse"`
	UserTranscription string  `json:"userTranscription"`
}

// Pipeline runs the transcribe → complete → synthesize sequence. Each stage
// is bounded by its own timeout; each call is independent of any other.
type Pipeline struct {
	transcriber  speech.Transcriber
	completer    ai.Completer
	synthesizer  speech.Synthesizer
	stageTimeout time.Duration
}

// New assembles a pipeline from the three capabilities.
func New(transcriber speech.Transcriber, completer ai.Completer, synthesizer speech.Synthesizer, stageTimeout time.Duration) *Pipeline {
	if stageTimeout <= 0 {
		stageTimeout = 30 * time.Second
	}
	return &Pipeline{
		transcriber:  transcriber,
		completer:    completer,
		synthesizer:  synthesizer,
		stageTimeout: stageTimeout,
	}
}

// ProcessAudio transcribes the audio, then completes and synthesizes a
// reply. An empty transcription short-circuits: the completion stage is not
// invoked and no audio is returned.
func (p *Pipeline) ProcessAudio(ctx context.Context, sess *session.Session, audio []byte, format string) Result {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	transcript, err := p.transcriber.Transcribe(stageCtx, audio, format)
	cancel()
	if err != nil {
		log.Printf("[fallback] transcription failed session=%s: %v", sess.ID, err)
		return apology("")
	}

	if strings.TrimSpace(transcript) == "" {
		return Result{
			TextResponse:      ResponseCouldNotUnderstand,
			AudioResponse:     nil,
			UserTranscription: "",
		}
	}

	return p.respond(ctx, sess, transcript)
}

// ProcessText skips transcription and treats the text as the user turn. The
// transcription field mirrors the input for symmetry with the audio path.
func (p *Pipeline) ProcessText(ctx context.Context, sess *session.Session, text string) Result {
	return p.respond(ctx, sess, text)
}

func (p *Pipeline) respond(ctx context.Context, sess *session.Session, userText string) Result {
	instructions := relay.InstructionsFor(sess)

	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	reply, err := p.completer.Complete(stageCtx, instructions, nil, userText)
	cancel()
	if err != nil {
		log.Printf("[fallback] completion failed session=%s: %v", sess.ID, err)
		return apology(userText)
	}

	stageCtx, cancel = context.WithTimeout(ctx, p.stageTimeout)
	audio, err := p.synthesizer.Synthesize(stageCtx, reply, sess.Voice)
	cancel()
	if err != nil {
		log.Printf("[fallback] synthesis failed session=%s: %v", sess.ID, err)
		return apology(userText)
	}

	encoded := base64.StdEncoding.EncodeToString(audio)
	return Result{
		TextResponse:      reply,
		AudioResponse:     &encoded,
		UserTranscription: userText,
	}
}

func apology(userTranscription string) Result {
	return Result{
		TextResponse:      ResponseApology,
		AudioResponse:     nil,
		UserTranscription: userTranscription,
	}
}
