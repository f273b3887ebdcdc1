package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/config"
)

// arkCompleter runs completions through an eino chain over the Ark model.
type arkCompleter struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

func newArkCompleter(ctx context.Context, cfg config.AIConfig) (*arkCompleter, error) {
	chatModel, err := cfg.NewArkChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create ark chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile completion chain: %w", err)
	}

	return &arkCompleter{chain: runnable}, nil
}

func (c *arkCompleter) Complete(ctx context.Context, instructions string, history []Turn, userText string) (string, error) {
	historyMessages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case RoleUser:
			historyMessages = append(historyMessages, schema.UserMessage(turn.Content))
		case RoleAssistant:
			historyMessages = append(historyMessages, schema.AssistantMessage(turn.Content, nil))
		}
	}

	input := map[string]any{
		"system":  instructions,
		"history": historyMessages,
		"query":   userText,
	}

	response, err := c.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run completion chain: %w", err)
	}

	return strings.TrimSpace(response.Content), nil
}
