package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tablenorm/internal/config"
	"tablenorm/internal/domain"
	"tablenorm/internal/port"
)

// ClientConfig holds the request defaults and routing of a Client.
type ClientConfig struct {
	PrimaryModel    string
	Temperature     float64
	MaxTokens       int
	DefaultProvider string
	Routes          []config.ModelRoute
}

// Provider is one configured provider: a transport plus its ordered credentials.
type Provider struct {
	Name              string
	Transport         port.ChatProvider
	Keys              []string
	RequestsPerMinute float64
}

type providerSlot struct {
	name      string
	transport port.ChatProvider
	keys      []string
	limiter   *rate.Limiter

	mu      sync.Mutex
	current int
}

func (s *providerSlot) index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *providerSlot) setIndex(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = i
}

func (s *providerSlot) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// Client sends chat requests to the provider serving the requested model. On a
// rate limit it rotates to the provider's next credential and stays on the one
// that last succeeded. It implements port.InferenceClient.
type Client struct {
	cfg       ClientConfig
	providers map[string]*providerSlot
	recorder  port.PromptRecorder
	retry     RetryPolicy
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithRecorder records one prompt log entry per successful call.
func WithRecorder(r port.PromptRecorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithRetryPolicy sets how often a rate-limited rotation is re-run.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// withSleep replaces the retry pause; used by tests.
func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a Client. Providers without credentials are ignored, so a
// model routed to them fails with domain.ErrNoProviderAvailable.
func NewClient(cfg ClientConfig, providers []Provider, opts ...Option) *Client {
	c := &Client{
		cfg:       cfg,
		providers: make(map[string]*providerSlot, len(providers)),
		retry:     NoRetry,
		logger:    slog.Default(),
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, p := range providers {
		keys := config.DedupeKeys(p.Keys)
		if len(keys) == 0 || p.Transport == nil {
			continue
		}
		slot := &providerSlot{name: p.Name, transport: p.Transport, keys: keys}
		if p.RequestsPerMinute > 0 {
			slot.limiter = rate.NewLimiter(rate.Limit(p.RequestsPerMinute/60), 1)
		}
		c.providers[p.Name] = slot
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "inference")
	return c
}

// ResolveProvider returns the provider name that serves model: the first route
// whose prefix matches, else the default provider.
func (c *Client) ResolveProvider(model string) string {
	for _, r := range c.cfg.Routes {
		if strings.HasPrefix(model, r.Prefix) {
			return r.Provider
		}
	}
	return c.cfg.DefaultProvider
}

// CurrentKeyIndex returns the sticky credential index of a provider, or -1 if
// the provider is not available.
func (c *Client) CurrentKeyIndex(provider string) int {
	slot, ok := c.providers[provider]
	if !ok {
		return -1
	}
	return slot.index()
}

// Chat sends messages to the model and returns the reply text.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.PrimaryModel
	}
	name := c.ResolveProvider(model)
	slot, ok := c.providers[name]
	if !ok {
		return "", fmt.Errorf("model %s routes to %q: %w", model, name, domain.ErrNoProviderAvailable)
	}

	attempts := c.retry.attempts()
	for attempt := 1; ; attempt++ {
		text, keyIndex, err := c.rotate(ctx, slot, model, req.Messages)
		if err == nil {
			c.record(req, model, name, keyIndex, text)
			return text, nil
		}

		var exErr *ExhaustedError
		if !errors.As(err, &exErr) || exErr.Daily() || attempt >= attempts {
			return "", err
		}
		wait := c.retry.wait(attempt, exErr.RetryAfter)
		c.logger.Warn("all credentials rate limited, retrying",
			"provider", name, "attempt", attempt, "wait", wait.String())
		if sErr := c.sleep(ctx, wait); sErr != nil {
			return "", fmt.Errorf("waiting to retry %s: %w", name, sErr)
		}
	}
}

// rotate tries each credential once, starting at the sticky index.
func (c *Client) rotate(ctx context.Context, slot *providerSlot, model string, messages []domain.ChatMessage) (string, int, error) {
	n := len(slot.keys)
	start := slot.index()
	anyDaily := false
	var last error
	var hint time.Duration

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if err := slot.wait(ctx); err != nil {
			return "", -1, fmt.Errorf("pacing %s: %w", slot.name, err)
		}

		text, err := slot.transport.Complete(ctx, port.CompletionRequest{
			APIKey:      slot.keys[idx],
			Model:       model,
			Messages:    messages,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		})
		if err == nil {
			slot.setIndex(idx)
			return text, idx, nil
		}

		class := Classify(err)
		if class == ClassOther {
			return "", idx, err
		}
		if class == ClassDailyQuota {
			anyDaily = true
		}
		if ra := retryAfter(err); ra > hint {
			hint = ra
		}
		last = err
		c.logger.Warn("credential rate limited, rotating",
			"provider", slot.name, "key_index", idx, "class", class.String())
	}

	class := ClassRateLimit
	if anyDaily {
		class = ClassDailyQuota
	}
	return "", -1, &ExhaustedError{
		Provider:   slot.name,
		Class:      class,
		Attempts:   n,
		RetryAfter: hint,
		Last:       last,
	}
}

func (c *Client) record(req domain.ChatRequest, model, provider string, keyIndex int, response string) {
	if c.recorder == nil {
		return
	}
	metadata := make(map[string]any, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["model"] = model
	metadata["provider"] = provider
	metadata["credential"] = keyIndex + 1
	rec := domain.PromptLogRecord{
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
		Prompt:    Transcript(req.Messages),
		Response:  response,
		Metadata:  metadata,
	}
	path, err := c.recorder.Record(rec)
	if err != nil {
		c.logger.Error("writing prompt log failed", "provider", provider, "model", model, "error", err)
		return
	}
	c.logger.Debug("prompt logged", "path", path)
}

// Transcript renders messages as "role: content" lines.
func Transcript(messages []domain.ChatMessage) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = m.Role + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}
