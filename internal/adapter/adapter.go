package adapter

import (
	"context"

	"github.com/fitpulse/coach-gateway/internal/openai"
)

// ChatAdapter turns an OpenAI compatible chat request into a provider response.
type ChatAdapter interface {
	CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}
