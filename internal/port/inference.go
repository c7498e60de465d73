package port

import (
	"context"

	"tablenorm/internal/domain"
)

// CompletionRequest carries everything a transport needs for one completion call
// made with one specific credential.
type CompletionRequest struct {
	APIKey      string
	Model       string
	Messages    []domain.ChatMessage
	Temperature float64
	MaxTokens   int
}

// ChatProvider abstracts one inference vendor's chat-completion endpoint.
// Implementations return *inference.ProviderError for non-200 responses so that
// rate-limit replies can be classified by the client.
type ChatProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// InferenceClient is the resilient chat entry point used by the pipeline stages.
type InferenceClient interface {
	Chat(ctx context.Context, req domain.ChatRequest) (string, error)
}
