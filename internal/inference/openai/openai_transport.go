// Package openai implements the OpenAI-compatible chat completions transport
// used for Groq, OpenAI and OpenRouter.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tablenorm/internal/config"
	"tablenorm/internal/domain"
	"tablenorm/internal/inference"
	"tablenorm/internal/port"
)

var baseURLs = map[string]string{
	config.ProviderGroq:       "https://api.groq.com/openai/v1",
	config.ProviderOpenAI:     "https://api.openai.com/v1",
	config.ProviderOpenRouter: "https://openrouter.ai/api/v1",
}

func init() {
	for name := range baseURLs {
		inference.RegisterTransport(name, func(cfg *config.ProviderConfig) (port.ChatProvider, error) {
			return NewTransport(cfg)
		})
	}
}

// Transport implements port.ChatProvider over the Chat Completions API.
type Transport struct {
	provider string
	endpoint string
	client   *http.Client
}

// NewTransport creates a transport for a Groq, OpenAI or OpenRouter provider config.
func NewTransport(cfg *config.ProviderConfig) (*Transport, error) {
	base := cfg.BaseURL
	if base == "" {
		var ok bool
		base, ok = baseURLs[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("no default endpoint for provider %s", cfg.Name)
		}
	}
	return newTransport(cfg, strings.TrimRight(base, "/")+"/chat/completions"), nil
}

// NewTransportWithEndpoint creates a transport pointing at a custom API endpoint (for testing).
func NewTransportWithEndpoint(cfg *config.ProviderConfig, endpoint string) *Transport {
	return newTransport(cfg, endpoint)
}

func newTransport(cfg *config.ProviderConfig, endpoint string) *Transport {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Transport{
		provider: cfg.Name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (t *Transport) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	bodyBytes, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling %s API: %w", t.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", inference.NewProviderError(t.provider, resp, respBody)
	}

	return parseResponse(respBody)
}

func parseResponse(body []byte) (string, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API: no choices")
	}

	if resp.Choices[0].FinishReason == "length" {
		return "", fmt.Errorf("output truncated (finish_reason: length): response exceeded output token limit")
	}

	return resp.Choices[0].Message.Content, nil
}
