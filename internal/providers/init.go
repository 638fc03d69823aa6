package providers

import (
	"fmt"
	"log/slog"
	"sort"

	"stratumai/config"
)

// InitResult holds the router and what it was built from.
type InitResult struct {
	Router  *Router
	Factory *ProviderFactory
	// Configs are the resolved provider entries that were instantiated.
	Configs map[string]ProviderConfig
}

// Init resolves the configured providers and registers each one the factory
// can build. Entries the factory rejects are logged and skipped; a router
// with no providers still serves selection-only endpoints.
func Init(cfg *config.Config, factory *ProviderFactory) (*InitResult, error) {
	if factory == nil {
		return nil, fmt.Errorf("provider factory is required")
	}

	resolved := resolveProviders(cfg.Providers, factory.keyOptional)
	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)

	router := NewRouter()
	built := make(map[string]ProviderConfig, len(resolved))
	for _, name := range names {
		pCfg := resolved[name]
		p, err := factory.Create(name, pCfg)
		if err != nil {
			slog.Warn("skipping provider", "provider", name, "type", pCfg.Type, "error", err)
			continue
		}
		router.Register(name, p, pCfg.Fallback)
		built[name] = pCfg
		slog.Info("provider registered", "provider", name, "type", pCfg.Type,
			"fallback_models", len(pCfg.Fallback.Models), "fallback_provider", pCfg.Fallback.Provider)
	}

	if len(built) == 0 {
		slog.Warn("no providers configured; dispatch will fail until one is added",
			"registered_types", factory.RegisteredTypes())
	}

	return &InitResult{Router: router, Factory: factory, Configs: built}, nil
}
