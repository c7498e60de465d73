package inference

import (
	"fmt"
	"sort"
	"sync"

	"tablenorm/internal/config"
	"tablenorm/internal/port"
)

// TransportFactory creates a ChatProvider from a provider config.
type TransportFactory func(cfg *config.ProviderConfig) (port.ChatProvider, error)

// registry of transport factories, populated by init() in each transport package
// or explicitly via RegisterTransport.
var (
	registryMu sync.RWMutex
	transports = map[string]TransportFactory{}
)

// RegisterTransport registers a transport factory by provider name.
func RegisterTransport(name string, factory TransportFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	transports[name] = factory
}

// NewTransport creates a ChatProvider for cfg using the registered factory.
func NewTransport(cfg *config.ProviderConfig) (port.ChatProvider, error) {
	registryMu.RLock()
	factory, ok := transports[cfg.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown inference provider: %s", cfg.Name)
	}
	return factory(cfg)
}

// RegisteredTransports returns the sorted names of all registered providers.
func RegisteredTransports() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewClientFromConfig builds a Client for every provider in cfg that has credentials.
func NewClientFromConfig(cfg *config.LLMConfig, opts ...Option) (*Client, error) {
	var providers []Provider
	for _, name := range config.ProviderNames {
		pc := cfg.Provider(name)
		if pc == nil || !pc.Enabled() {
			continue
		}
		t, err := NewTransport(pc)
		if err != nil {
			return nil, fmt.Errorf("creating %s transport: %w", name, err)
		}
		providers = append(providers, Provider{
			Name:              name,
			Transport:         t,
			Keys:              pc.APIKeys,
			RequestsPerMinute: pc.RequestsPerMinute,
		})
	}

	return NewClient(ClientConfig{
		PrimaryModel:    cfg.PrimaryModel,
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxOutputTokens,
		DefaultProvider: cfg.DefaultProvider,
		Routes:          cfg.ModelRoutes,
	}, providers, append([]Option{WithRetryPolicy(RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       cfg.Retry.Delay,
		Backoff:     cfg.Retry.Backoff,
	})}, opts...)...), nil
}
