// Package dispatch composes selection, the result cache and the retry
// orchestrator into a single call: pick a backend, serve from cache when
// possible, otherwise execute with retries and fallbacks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"stratumai/internal/catalog"
	"stratumai/internal/core"
	"stratumai/internal/resultcache"
	"stratumai/internal/retry"
	"stratumai/internal/selection"
	"stratumai/internal/tracelog"
)

// AutoModel asks the dispatcher to choose the backend.
const AutoModel = "auto"

// OutcomeCacheHit marks trace entries served from the result cache.
const OutcomeCacheHit = "cache_hit"

// OutcomeSelectionFailed marks trace entries where no backend could be chosen.
const OutcomeSelectionFailed = "selection_failed"

// Observer receives dispatch events, typically for metrics.
type Observer interface {
	ObserveSelection(result selection.Result)
	ObserveDispatch(entry *tracelog.Entry)
}

// Config holds dispatcher settings.
type Config struct {
	DefaultStrategy selection.Strategy
	// MaxAlternatives bounds how many ranked runners-up on the chosen
	// provider become fallback models when no fallback is configured.
	MaxAlternatives int
	// Fallbacks are the configured fallbacks keyed by provider.
	Fallbacks map[string]retry.Fallback
	// ServedProviders restricts automatic selection to providers that have an
	// executor. Empty means every catalog provider is eligible.
	ServedProviders []string
}

// Deps are the components a Dispatcher composes. Cache, Traces and Observer
// are optional.
type Deps struct {
	Catalog  *catalog.Store
	Engine   *selection.Engine
	Retry    *retry.Orchestrator
	Executor core.Executor
	Cache    *resultcache.Cache
	Traces   tracelog.Recorder
	Observer Observer
}

// Options adjust a single dispatch.
type Options struct {
	Constraints selection.Constraints
	// Strategy overrides the default strategy when set.
	Strategy selection.Strategy
	// Fallback overrides the configured fallback when not nil.
	Fallback *retry.Fallback
	// NoCache skips both cache lookup and store.
	NoCache bool
}

// Result is what a dispatch produced.
type Result struct {
	Response *core.ChatResponse
	// Selection is set when the backend was chosen automatically.
	Selection     *selection.Result
	Trace         retry.Trace
	CacheHit      bool
	EstimatedCost float64
	Latency       time.Duration
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	catalog  *catalog.Store
	engine   *selection.Engine
	retry    *retry.Orchestrator
	exec     core.Executor
	cache    *resultcache.Cache
	traces   tracelog.Recorder
	observer Observer
	now      func() time.Time
}

// New creates a Dispatcher.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	var errs []error
	if deps.Catalog == nil {
		errs = append(errs, errors.New("catalog store is required"))
	}
	if deps.Engine == nil {
		errs = append(errs, errors.New("selection engine is required"))
	}
	if deps.Retry == nil {
		errs = append(errs, errors.New("retry orchestrator is required"))
	}
	if deps.Executor == nil {
		errs = append(errs, errors.New("executor is required"))
	}
	if cfg.MaxAlternatives < 0 {
		errs = append(errs, fmt.Errorf("max alternatives must not be negative, got %d", cfg.MaxAlternatives))
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = selection.StrategyHybrid
	}
	if s, err := selection.ParseStrategy(string(cfg.DefaultStrategy)); err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultStrategy = s
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	traces := deps.Traces
	if traces == nil {
		traces = tracelog.NoopLogger{}
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Dispatcher{
		cfg:      cfg,
		catalog:  deps.Catalog,
		engine:   deps.Engine,
		retry:    deps.Retry,
		exec:     deps.Executor,
		cache:    deps.Cache,
		traces:   traces,
		observer: observer,
		now:      time.Now,
	}, nil
}

// IsAuto reports whether model asks for automatic selection.
func IsAuto(model string) bool {
	m := strings.TrimSpace(model)
	return m == "" || strings.EqualFold(m, AutoModel)
}

// Select chooses a backend for messages without executing anything.
func (d *Dispatcher) Select(messages []core.Message, opts Options) (selection.Result, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = d.cfg.DefaultStrategy
	}
	result, err := d.engine.Select(messages, d.constraints(opts.Constraints), strategy)
	if err != nil {
		return selection.Result{}, err
	}
	d.observer.ObserveSelection(result)
	return result, nil
}

// constraints excludes catalog providers that nothing can execute.
func (d *Dispatcher) constraints(c selection.Constraints) selection.Constraints {
	if len(d.cfg.ServedProviders) == 0 {
		return c
	}
	out := c
	out.ExcludedProviders = slices.Clone(c.ExcludedProviders)
	for _, p := range d.catalog.Snapshot().Providers() {
		if !slices.Contains(d.cfg.ServedProviders, p) && !slices.Contains(out.ExcludedProviders, p) {
			out.ExcludedProviders = append(out.ExcludedProviders, p)
		}
	}
	return out
}

// Dispatch executes req. A model of "" or "auto" runs selection first;
// otherwise the request targets the named backend, inferring the provider
// from the catalog when the model has no "provider/" prefix. Only successes
// from the primary backend are cached, so a fallback answer is never served
// for the original backend's key.
func (d *Dispatcher) Dispatch(ctx context.Context, req *core.ChatRequest, opts Options) (*Result, error) {
	start := d.now()
	entry := &tracelog.Entry{RequestID: core.GetRequestID(ctx)}

	result, err := d.dispatch(ctx, req, opts, entry)
	latency := d.now().Sub(start)
	entry.LatencyMs = latency.Milliseconds()
	if err != nil {
		entry.ErrorKind = string(core.KindOf(err))
		entry.Error = err.Error()
		slog.WarnContext(ctx, "dispatch failed",
			"request_id", entry.RequestID,
			"provider", entry.Provider,
			"model", entry.Model,
			"outcome", entry.Outcome,
			"attempts", entry.Attempts,
			"error", err,
		)
	} else {
		result.Latency = latency
		slog.DebugContext(ctx, "dispatch completed",
			"request_id", entry.RequestID,
			"provider", entry.Provider,
			"model", entry.Model,
			"outcome", entry.Outcome,
			"cache_hit", entry.CacheHit,
			"latency", latency,
		)
	}

	d.observer.ObserveDispatch(entry)
	d.traces.Write(entry)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req *core.ChatRequest, opts Options, entry *tracelog.Entry) (*Result, error) {
	if req == nil || len(req.Messages) == 0 {
		entry.Outcome = string(retry.OutcomeTerminal)
		return nil, core.NewInvalidRequestError("messages are required", nil)
	}
	if req.Stream {
		entry.Outcome = string(retry.OutcomeTerminal)
		return nil, core.NewInvalidRequestError("streaming is not supported", nil)
	}

	result := &Result{}
	target, err := d.resolve(req, opts, result, entry)
	if err != nil {
		return nil, err
	}
	entry.Provider = target.Provider
	entry.Model = target.Model

	var key string
	cacheable := d.cache != nil && !opts.NoCache
	if cacheable {
		key = resultcache.Key(target)
		if resp, ok := d.cache.Get(key); ok {
			result.Response = resp
			result.CacheHit = true
			entry.CacheHit = true
			entry.Outcome = OutcomeCacheHit
			entry.InputTokens = resp.Usage.PromptTokens
			entry.OutputTokens = resp.Usage.CompletionTokens
			return result, nil
		}
	}

	resp, trace, err := d.retry.Invoke(ctx, target, d.exec, d.fallbackFor(target.Provider, opts, result.Selection))
	result.Trace = trace
	entry.Attempts = trace.Attempts
	entry.Outcome = string(trace.Outcome)
	entry.Steps = trace.Steps
	if trace.Provider != "" {
		entry.Provider = trace.Provider
		entry.Model = trace.Model
	}
	if err != nil {
		return nil, err
	}

	if cacheable && trace.Outcome == retry.OutcomeSuccess {
		d.cache.Set(key, resp)
	}
	result.Response = resp
	d.price(result, entry, trace.Provider, trace.Model)
	return result, nil
}

// resolve returns a copy of req aimed at a concrete backend.
func (d *Dispatcher) resolve(req *core.ChatRequest, opts Options, result *Result, entry *tracelog.Entry) (*core.ChatRequest, error) {
	target := req.Clone()

	if IsAuto(req.Model) {
		sel, err := d.Select(req.Messages, opts)
		if err != nil {
			entry.Outcome = OutcomeSelectionFailed
			return nil, err
		}
		result.Selection = &sel
		entry.Strategy = string(sel.Strategy)
		entry.Complexity = sel.Complexity
		target.Provider = sel.Provider
		target.Model = sel.Model
		return target, nil
	}

	ref, err := core.ParseBackendRef(req.Model, req.Provider)
	if err != nil {
		entry.Outcome = string(retry.OutcomeTerminal)
		return nil, core.NewInvalidRequestError(err.Error(), err)
	}
	if ref.Provider == "" {
		provider, ok := d.providerFor(ref.Model)
		if !ok {
			entry.Model = ref.Model
			entry.Outcome = string(retry.OutcomeTerminal)
			return nil, core.NewInvalidRequestError(
				fmt.Sprintf("model %q is not in the catalog; prefix it with a provider, e.g. openai/%s", ref.Model, ref.Model), nil)
		}
		ref.Provider = provider
	}
	target.Provider = ref.Provider
	target.Model = ref.Model
	return target, nil
}

// providerFor finds the first catalog provider, in (provider, model) order,
// that serves model.
func (d *Dispatcher) providerFor(model string) (string, bool) {
	var provider string
	d.catalog.Snapshot().Each(func(desc catalog.BackendDescriptor) bool {
		if desc.ModelID == model {
			provider = desc.ProviderID
			return false
		}
		return true
	})
	return provider, provider != ""
}

// fallbackFor picks, in order: the per-call override, the provider's
// configured fallback, then the selection's runners-up on the same provider.
func (d *Dispatcher) fallbackFor(provider string, opts Options, sel *selection.Result) retry.Fallback {
	if opts.Fallback != nil {
		return *opts.Fallback
	}
	if fb, ok := d.cfg.Fallbacks[provider]; ok {
		return fb
	}
	if sel == nil || d.cfg.MaxAlternatives == 0 {
		return retry.Fallback{}
	}
	alts := sel.Alternatives(provider)
	if len(alts) > d.cfg.MaxAlternatives {
		alts = alts[:d.cfg.MaxAlternatives]
	}
	return retry.Fallback{Models: alts}
}

func (d *Dispatcher) price(result *Result, entry *tracelog.Entry, provider, model string) {
	if result.Response == nil {
		return
	}
	usage := result.Response.Usage
	entry.InputTokens = usage.PromptTokens
	entry.OutputTokens = usage.CompletionTokens
	if cost, ok := d.catalog.Snapshot().EstimateCost(provider, model, usage); ok {
		result.EstimatedCost = cost
		entry.EstimatedCost = cost
	}
}

type noopObserver struct{}

func (noopObserver) ObserveSelection(selection.Result) {}
func (noopObserver) ObserveDispatch(*tracelog.Entry)   {}
