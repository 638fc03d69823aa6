package providers

import (
	"context"
	"sort"
	"sync"

	"stratumai/internal/core"
	"stratumai/internal/retry"
)

// Router executes requests on the provider named by ChatRequest.Provider.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallbacks map[string]retry.Fallback
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]Provider),
		fallbacks: make(map[string]retry.Fallback),
	}
}

// Register adds or replaces the provider called name.
func (r *Router) Register(name string, p Provider, fb retry.Fallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	if len(fb.Models) > 0 || fb.Provider != "" {
		r.fallbacks[name] = fb
	} else {
		delete(r.fallbacks, name)
	}
}

// Execute implements core.Executor. An unknown provider fails with an
// invalid_provider error, which is never retried.
func (r *Router) Execute(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	if req.Provider == "" {
		return nil, core.NewInvalidRequestError("request has no provider", nil)
	}
	r.mu.RLock()
	p, ok := r.providers[req.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, core.NewInvalidProviderError(req.Provider)
	}
	resp, err := p.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = req.Provider
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, nil
}

// Has reports whether a provider called name is registered.
func (r *Router) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Names returns the registered provider names in sorted order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fallbacks returns a copy of the configured fallbacks keyed by provider.
func (r *Router) Fallbacks() map[string]retry.Fallback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]retry.Fallback, len(r.fallbacks))
	for k, v := range r.fallbacks {
		out[k] = v
	}
	return out
}

// CircuitStates returns each provider's circuit breaker state.
func (r *Router) CircuitStates() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.providers))
	for name, p := range r.providers {
		out[name] = p.CircuitState()
	}
	return out
}
