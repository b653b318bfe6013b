package adapters

import (
	"context"

	"github.com/vkosarev/groupwarden/internal/adapters/llm"
)

// LLM is the port to an external language model used as a toxicity
// classifier. Callers treat any error as "no verdict" and fail open.
type LLM interface {
	ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error)
	// Detect returns whether the message is toxic.
	Detect(ctx context.Context, message string) (*bool, error)
}
