// Package ai provides the text completion capability behind a small
// interface, with the provider selected by configuration.
package ai

import (
	"context"
	"fmt"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/config"
)

// Conversation roles used in completion turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior conversation exchange passed to the completer.
type Turn struct {
	Role    string
	Content string
}

// Completer produces an assistant reply from instructions, prior turns and
// the newest user text.
type Completer interface {
	Complete(ctx context.Context, instructions string, history []Turn, userText string) (string, error)
}

// NewCompleter builds the configured completion provider.
func NewCompleter(ctx context.Context, cfg config.AIConfig) (Completer, error) {
	switch cfg.Provider {
	case "", "openai":
		return newOpenAICompleter(cfg)
	case "ark":
		return newArkCompleter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown AI provider: %q", cfg.Provider)
	}
}
