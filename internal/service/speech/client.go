// Package speech wraps the transcription and synthesis capabilities the
// relay consumes. Providers are reached through the OpenAI audio API.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/config"
)

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Synthesizer converts text to audio bytes using a provider voice id.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Client implements both capabilities against the OpenAI audio endpoints.
type Client struct {
	api      *openai.Client
	sttModel string
	ttsModel string
}

// NewClient builds a speech client from configuration.
func NewClient(cfg config.SpeechConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:      openai.NewClientWithConfig(apiCfg),
		sttModel: cfg.STTModel,
		ttsModel: cfg.TTSModel,
	}
}

// Transcribe sends audio to the transcription model. The language is pinned
// to English to match the coaching content and avoid misdetection.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	if format == "" {
		format = "wav"
	}

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.sttModel,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio." + format,
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Synthesize renders text with the given voice and returns encoded audio.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	return audio, nil
}
