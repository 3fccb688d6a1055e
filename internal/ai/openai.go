package ai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/driftlabs/chatrelay/internal/config"
	"github.com/driftlabs/chatrelay/internal/domain"
)

// OpenAICompleter streams chat completions from an OpenAI-compatible
// endpoint.
type OpenAICompleter struct {
	client       openai.Client
	model        string
	systemPrompt string
}

// NewOpenAICompleter builds a completer from the ai config section.
func NewOpenAICompleter(cfg config.AIConfig) *OpenAICompleter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAICompleter{
		client:       openai.NewClient(opts...),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}
}

// StreamCompletion starts a streaming chat completion and forwards
// content deltas as token events.
func (c *OpenAICompleter) StreamCompletion(ctx context.Context, history []Turn) (<-chan TokenEvent, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if c.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(c.systemPrompt))
	}
	for _, turn := range history {
		switch turn.Role {
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	})

	out := make(chan TokenEvent, 32)
	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- TokenEvent{Fragment: delta}:
			case <-ctx.Done():
				out <- TokenEvent{Err: ctx.Err()}
				return
			}
		}

		if err := stream.Err(); err != nil {
			out <- TokenEvent{Err: err}
			return
		}
		out <- TokenEvent{Done: true}
	}()

	return out, nil
}

var _ Completer = (*OpenAICompleter)(nil)
