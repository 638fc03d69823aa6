// Package providers builds executors for the configured LLM providers and
// routes requests to them by provider name.
package providers

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"stratumai/internal/core"
	"stratumai/internal/pkg/llmclient"
)

// Provider is an executor bound to one provider endpoint.
type Provider interface {
	core.Executor
	SetBaseURL(url string)
	CircuitState() string
}

// ProviderOptions carries the shared transport settings handed to every constructor.
type ProviderOptions struct {
	HTTPClient     *http.Client
	CircuitBreaker *llmclient.CircuitBreakerConfig
}

// Registration describes how to build a provider of one type.
type Registration struct {
	Type string
	// DefaultBaseURL is used when the configuration leaves base_url empty.
	DefaultBaseURL string
	// KeyOptional marks providers that run without an API key, such as local servers.
	KeyOptional bool
	// New builds a provider. name is the configured provider name, which can
	// differ from Type when one type is configured several times.
	New func(name, apiKey string, opts ProviderOptions) Provider
}

// ProviderFactory holds registrations keyed by type.
type ProviderFactory struct {
	mu            sync.RWMutex
	registrations map[string]Registration
	opts          ProviderOptions
}

// NewProviderFactory creates an empty factory.
func NewProviderFactory(opts ProviderOptions) *ProviderFactory {
	return &ProviderFactory{
		registrations: make(map[string]Registration),
		opts:          opts,
	}
}

// Add registers one or more provider types. A later registration for the
// same type replaces the earlier one.
func (f *ProviderFactory) Add(regs ...Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reg := range regs {
		f.registrations[reg.Type] = reg
	}
}

// Create builds the provider called name from its resolved configuration.
func (f *ProviderFactory) Create(name string, cfg ProviderConfig) (Provider, error) {
	f.mu.RLock()
	reg, ok := f.registrations[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	if cfg.APIKey == "" && !reg.KeyOptional {
		return nil, fmt.Errorf("provider %s: api key is required for type %s", name, cfg.Type)
	}

	p := reg.New(name, cfg.APIKey, f.opts)
	if cfg.BaseURL != "" {
		p.SetBaseURL(cfg.BaseURL)
	} else if reg.DefaultBaseURL != "" {
		p.SetBaseURL(reg.DefaultBaseURL)
	}
	return p, nil
}

// RegisteredTypes returns the registered types in sorted order.
func (f *ProviderFactory) RegisteredTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.registrations))
	for t := range f.registrations {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// keyOptional reports whether typ may be configured without an API key.
func (f *ProviderFactory) keyOptional(typ string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.registrations[typ].KeyOptional
}
