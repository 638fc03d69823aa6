// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the stratumai server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stratumai/config"
	"stratumai/internal/cache"
	"stratumai/internal/catalog"
	"stratumai/internal/complexity"
	"stratumai/internal/core"
	"stratumai/internal/dispatch"
	"stratumai/internal/httpclient"
	"stratumai/internal/observability"
	"stratumai/internal/pkg/llmclient"
	"stratumai/internal/providers"
	"stratumai/internal/resultcache"
	"stratumai/internal/retry"
	"stratumai/internal/selection"
	"stratumai/internal/server"
	"stratumai/internal/storage"
	"stratumai/internal/tracelog"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config     *config.Config
	catalog    *catalog.Store
	loader     *catalog.Loader
	snapshots  cache.Cache
	providers  *providers.InitResult
	results    *resultcache.Cache
	traces     *tracelog.Result
	dispatcher *dispatch.Dispatcher
	server     *server.Server

	stopRefresh func()

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.LoadResult

	// Registrations are the provider types the factory can build.
	Registrations []providers.Registration

	// Registry receives the Prometheus collectors. Nil creates a private
	// registry with the Go and process collectors.
	Registry *prometheus.Registry
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}
	if len(cfg.Registrations) == 0 {
		return nil, fmt.Errorf("at least one provider registration is required")
	}

	appCfg := cfg.AppConfig.Config
	app := &App{config: appCfg}

	// fail releases whatever was built before err and wraps it.
	fail := func(stage string, err error) (*App, error) {
		if closeErr := app.close(); closeErr != nil {
			return nil, fmt.Errorf("%s: %w (also: close error: %v)", stage, err, closeErr)
		}
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	snapshots, err := newSnapshotCache(appCfg.Cache)
	if err != nil {
		return fail("failed to initialize catalog snapshot cache", err)
	}
	app.snapshots = snapshots

	app.catalog = catalog.NewStore(nil)
	app.loader = catalog.NewLoader(catalog.LoaderConfig{
		Path:    appCfg.Catalog.Path,
		URL:     appCfg.Catalog.URL,
		Timeout: appCfg.Catalog.FetchTimeout,
	}, app.catalog, snapshots)
	if err := app.loader.Initialize(ctx); err != nil {
		return fail("failed to load backend catalog", err)
	}
	if appCfg.Catalog.RefreshInterval > 0 {
		app.stopRefresh = app.loader.StartBackgroundRefresh(appCfg.Catalog.RefreshInterval)
	}

	engine, err := selection.NewEngine(app.catalog, complexity.New(), tuning(appCfg.Selection))
	if err != nil {
		return fail("failed to create selection engine", err)
	}
	strategy, err := selection.ParseStrategy(appCfg.Selection.Strategy)
	if err != nil {
		return fail("invalid selection strategy", err)
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	var metrics *observability.Metrics
	if appCfg.Metrics.Enabled {
		metrics = observability.New(registry)
		metrics.RegisterCatalog(app.catalog)
	}

	if appCfg.Cache.Results.Enabled {
		app.results, err = resultcache.New(resultcache.Config{
			TTL:     appCfg.Cache.Results.TTL,
			MaxSize: appCfg.Cache.Results.MaxSize,
		}, resultcache.WithCostFunc(app.responseCost))
		if err != nil {
			return fail("failed to create result cache", err)
		}
		if metrics != nil {
			metrics.RegisterCache(app.results)
		}
	}

	var retryOpts []retry.Option
	if metrics != nil {
		retryOpts = append(retryOpts, retry.WithAttemptHook(metrics.RetryHook()))
	}
	orchestrator, err := retry.New(retryPolicy(appCfg.Resilience.Retry), retryOpts...)
	if err != nil {
		return fail("failed to create retry orchestrator", err)
	}

	factory := providers.NewProviderFactory(providers.ProviderOptions{
		HTTPClient: httpclient.NewHTTPClient(httpclient.DefaultConfig().WithTimeouts(
			time.Duration(appCfg.HTTP.Timeout)*time.Second,
			time.Duration(appCfg.HTTP.ResponseHeaderTimeout)*time.Second,
		)),
		CircuitBreaker: &llmclient.CircuitBreakerConfig{
			FailureThreshold: appCfg.Resilience.CircuitBreaker.FailureThreshold,
			SuccessThreshold: appCfg.Resilience.CircuitBreaker.SuccessThreshold,
			Timeout:          appCfg.Resilience.CircuitBreaker.Timeout,
		},
	})
	factory.Add(cfg.Registrations...)
	app.providers, err = providers.Init(appCfg, factory)
	if err != nil {
		return fail("failed to initialize providers", err)
	}

	app.traces, err = tracelog.New(ctx, tracelog.Config{
		Enabled:       appCfg.Tracing.Enabled,
		BufferSize:    appCfg.Tracing.BufferSize,
		FlushInterval: appCfg.Tracing.FlushInterval,
		RetentionDays: appCfg.Tracing.RetentionDays,
	}, storageConfig(appCfg.Storage))
	if err != nil {
		return fail("failed to initialize dispatch tracing", err)
	}

	deps := dispatch.Deps{
		Catalog:  app.catalog,
		Engine:   engine,
		Retry:    orchestrator,
		Executor: app.providers.Router,
		Cache:    app.results,
		Traces:   app.traces.Recorder,
	}
	if metrics != nil {
		deps.Observer = metrics
	}
	app.dispatcher, err = dispatch.New(dispatch.Config{
		DefaultStrategy: strategy,
		MaxAlternatives: appCfg.Selection.MaxAlternatives,
		Fallbacks:       app.providers.Router.Fallbacks(),
		ServedProviders: app.providers.Router.Names(),
	}, deps)
	if err != nil {
		return fail("failed to create dispatcher", err)
	}

	app.logStartupInfo()

	serverDeps := server.Deps{
		Dispatcher: app.dispatcher,
		Catalog:    app.catalog,
		Reloader:   app.loader,
		Cache:      app.results,
		Traces:     app.traces.Recorder,
		Circuits:   app.providers.Router.CircuitStates,
	}
	app.server = server.New(serverDeps, &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
	})

	return app, nil
}

// Dispatcher returns the dispatcher serving chat requests.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Catalog returns the published backend catalog.
func (a *App) Catalog() *catalog.Store {
	return a.catalog
}

// Handler returns the HTTP handler, for embedding or tests.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown, honoring the passed context.
// 2. Catalog refresh loop stop.
// 3. Trace recorder close (flushes pending entries) and its storage.
// 4. Catalog snapshot cache close.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every step and returns the joined failures.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	slog.Info("application shutdown complete")
	return nil
}

// close releases everything except the HTTP server.
func (a *App) close() error {
	var errs []error
	if a.stopRefresh != nil {
		a.stopRefresh()
		a.stopRefresh = nil
	}
	if a.traces != nil {
		if err := a.traces.Close(); err != nil {
			slog.Error("trace log close error", "error", err)
			errs = append(errs, fmt.Errorf("traces close: %w", err))
		}
		a.traces = nil
	}
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			slog.Error("snapshot cache close error", "error", err)
			errs = append(errs, fmt.Errorf("snapshot cache close: %w", err))
		}
		a.snapshots = nil
	}
	return errors.Join(errs...)
}

// responseCost prices a cached response at the current catalog rates.
func (a *App) responseCost(resp *core.ChatResponse) float64 {
	cost, _ := a.catalog.Snapshot().EstimateCost(resp.Provider, resp.Model, resp.Usage)
	return cost
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: STRATUMAI_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set STRATUMAI_MASTER_KEY environment variable to secure this gateway")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	snap := a.catalog.Snapshot()
	slog.Info("backend catalog ready",
		"source", snap.Source(),
		"backends", snap.Len(),
		"refresh_interval", cfg.Catalog.RefreshInterval,
	)
	slog.Info("selection configured",
		"strategy", cfg.Selection.Strategy,
		"max_alternatives", cfg.Selection.MaxAlternatives,
		"providers", a.providers.Router.Names(),
	)

	if cfg.Cache.Results.Enabled {
		slog.Info("result cache enabled", "ttl", cfg.Cache.Results.TTL, "max_size", cfg.Cache.Results.MaxSize)
	} else {
		slog.Info("result cache disabled")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Tracing.Enabled {
		slog.Info("dispatch tracing enabled",
			"storage_type", cfg.Storage.Type,
			"buffer_size", cfg.Tracing.BufferSize,
			"flush_interval", cfg.Tracing.FlushInterval,
			"retention_days", cfg.Tracing.RetentionDays,
		)
	} else {
		slog.Info("dispatch tracing disabled")
	}
}

func newSnapshotCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{
			URL: cfg.Redis.URL,
			Key: cfg.Redis.Key,
			TTL: cfg.Redis.TTL,
		})
	case "", "local":
		return cache.NewLocalCache(filepath.Join(cfg.Dir, "catalog.json")), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (valid: local, redis)", cfg.Type)
	}
}

func tuning(cfg config.SelectionConfig) selection.Tuning {
	return selection.Tuning{
		ReasoningBonus:     cfg.ReasoningBonus,
		ReasoningThreshold: cfg.ReasoningThreshold,
		CostCeiling:        cfg.CostCeiling,
		LatencyCeilingMs:   float64(cfg.LatencyCeilingMs),
	}
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxRetries:        cfg.MaxRetries,
		InitialDelay:      cfg.InitialBackoff,
		MaxDelay:          cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffFactor,
		Jitter:            cfg.Jitter,
	}
}

func storageConfig(cfg config.StorageConfig) storage.Config {
	return storage.Config{
		Type:       cfg.Type,
		SQLite:     storage.SQLiteConfig{Path: cfg.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{URL: cfg.PostgreSQL.URL, MaxConns: cfg.PostgreSQL.MaxConns},
		MongoDB:    storage.MongoDBConfig{URL: cfg.MongoDB.URL, Database: cfg.MongoDB.Database},
	}
}
