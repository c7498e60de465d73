package claude

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
	"tablenorm/internal/inference"
	"tablenorm/internal/port"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
)

func init() {
	inference.RegisterTransport(config.ProviderAnthropic, func(cfg *config.ProviderConfig) (port.ChatProvider, error) {
		return NewTransport(cfg), nil
	})
}

// Transport implements port.ChatProvider using the Anthropic Messages API.
type Transport struct {
	endpoint string
	client   *http.Client
}

// NewTransport creates a Claude transport from a provider config.
func NewTransport(cfg *config.ProviderConfig) *Transport {
	endpoint := apiURL
	if cfg.BaseURL != "" {
		endpoint = strings.TrimRight(cfg.BaseURL, "/") + "/messages"
	}
	return newTransport(cfg, endpoint)
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
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (t *Transport) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	body := messagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 4096
	}
	// System turns go in the top-level field; the Messages API rejects them inline.
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		body.Messages = append(body.Messages, message{Role: m.Role, Content: m.Content})
	}
	body.System = strings.Join(system, "\n\n")

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling anthropic API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", inference.NewProviderError(config.ProviderAnthropic, resp, respBody)
	}

	return parseResponse(respBody)
}

func parseResponse(body []byte) (string, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling response: %w", err)
	}

	if resp.StopReason == "max_tokens" {
		return "", fmt.Errorf("output truncated (stop_reason: max_tokens): response exceeded output token limit")
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from API: no text content")
	}
	return sb.String(), nil
}
