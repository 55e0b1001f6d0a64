package backends

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIBackend calls any OpenAI-compatible chat-completion endpoint. The
// model identifier from the pool is passed through as the model name.
type OpenAIBackend struct {
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAIBackend creates a backend. baseURL may be empty for the default
// OpenAI endpoint, or point at a compatible server (vLLM, LM Studio, an
// Ollama OpenAI shim).
func NewOpenAIBackend(apiKey, baseURL string, logger *zap.Logger) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// Invoke sends a single-turn chat completion.
func (o *OpenAIBackend) Invoke(ctx context.Context, modelID, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	o.logger.Debug("Chat completion received",
		zap.String("model", modelID),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return resp.Choices[0].Message.Content, nil
}
