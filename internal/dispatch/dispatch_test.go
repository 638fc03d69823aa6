package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratumai/internal/catalog"
	"stratumai/internal/core"
	"stratumai/internal/resultcache"
	"stratumai/internal/retry"
	"stratumai/internal/selection"
	"stratumai/internal/tracelog"
)

func testCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	c, err := catalog.New("test", []catalog.BackendDescriptor{
		{ProviderID: "openai", ModelID: "gpt-cheap", QualityScore: 0.6, CostPerMillionInput: 0.1, CostPerMillionOutput: 0.3, AvgLatencyMs: 500, ContextWindowTokens: 16000},
		{ProviderID: "openai", ModelID: "gpt-mid", QualityScore: 0.8, CostPerMillionInput: 2, CostPerMillionOutput: 6, AvgLatencyMs: 800, ContextWindowTokens: 128000},
		{ProviderID: "openai", ModelID: "gpt-top", QualityScore: 0.95, CostPerMillionInput: 10, CostPerMillionOutput: 30, AvgLatencyMs: 1500, ContextWindowTokens: 128000},
		{ProviderID: "anthropic", ModelID: "claude", QualityScore: 0.9, CostPerMillionInput: 3, CostPerMillionOutput: 15, AvgLatencyMs: 1000, ContextWindowTokens: 200000},
	})
	require.NoError(t, err)
	return catalog.NewStore(c)
}

// scriptedExecutor fails for the "provider/model" keys in failing and answers otherwise.
type scriptedExecutor struct {
	mu      sync.Mutex
	failing map[string]error
	calls   []string
}

func (e *scriptedExecutor) Execute(_ context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	backend := req.Provider + "/" + req.Model
	e.calls = append(e.calls, backend)
	if err, ok := e.failing[backend]; ok {
		return nil, err
	}
	return &core.ChatResponse{
		ID:       "resp-" + req.Model,
		Model:    req.Model,
		Provider: req.Provider,
		Choices:  []core.Choice{{Message: core.Message{Role: "assistant", Content: "from " + req.Model}, FinishReason: "stop"}},
		Usage:    core.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
	}, nil
}

func (e *scriptedExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type recorder struct {
	mu      sync.Mutex
	entries []*tracelog.Entry
}

func (r *recorder) Write(e *tracelog.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) Recent(context.Context, int) ([]*tracelog.Entry, error) { return nil, nil }
func (r *recorder) Close() error                                           { return nil }

func (r *recorder) Last() *tracelog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	return r.entries[len(r.entries)-1]
}

type countingObserver struct {
	selections int
	dispatches int
}

func (o *countingObserver) ObserveSelection(selection.Result) { o.selections++ }
func (o *countingObserver) ObserveDispatch(*tracelog.Entry)   { o.dispatches++ }

type fixture struct {
	d        *Dispatcher
	exec     *scriptedExecutor
	cache    *resultcache.Cache
	traces   *recorder
	observer *countingObserver
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := testCatalog(t)
	engine, err := selection.NewEngine(store, nil, selection.DefaultTuning())
	require.NoError(t, err)
	orch, err := retry.New(retry.Policy{
		MaxRetries:        1,
		InitialDelay:      time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 1,
	}, retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	cache, err := resultcache.New(resultcache.Config{TTL: time.Minute, MaxSize: 10})
	require.NoError(t, err)

	f := &fixture{
		exec:     &scriptedExecutor{failing: map[string]error{}},
		cache:    cache,
		traces:   &recorder{},
		observer: &countingObserver{},
	}
	f.d, err = New(cfg, Deps{
		Catalog:  store,
		Engine:   engine,
		Retry:    orch,
		Executor: f.exec,
		Cache:    cache,
		Traces:   f.traces,
		Observer: f.observer,
	})
	require.NoError(t, err)
	return f
}

func chat(model string) *core.ChatRequest {
	return &core.ChatRequest{Model: model, Messages: []core.Message{{Role: "user", Content: "Say hi"}}}
}

func transient() error { return core.NewProviderError("openai", 503, "unavailable", nil) }

func TestDispatch_AutoSelection(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyCost})
	ctx := core.WithRequestID(context.Background(), "req-1")

	res, err := f.d.Dispatch(ctx, chat(AutoModel), Options{})
	require.NoError(t, err)

	require.NotNil(t, res.Selection)
	assert.Equal(t, "openai", res.Selection.Provider)
	assert.Equal(t, "gpt-cheap", res.Selection.Model)
	assert.Equal(t, "from gpt-cheap", res.Response.Content())
	assert.Equal(t, retry.OutcomeSuccess, res.Trace.Outcome)
	assert.False(t, res.CacheHit)
	assert.InDelta(t, 0.00025, res.EstimatedCost, 1e-12)

	entry := f.traces.Last()
	require.NotNil(t, entry)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "cost", entry.Strategy)
	assert.Equal(t, "openai", entry.Provider)
	assert.Equal(t, "gpt-cheap", entry.Model)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, string(retry.OutcomeSuccess), entry.Outcome)
	assert.Equal(t, 1000, entry.InputTokens)
	assert.Equal(t, 1, f.observer.selections)
	assert.Equal(t, 1, f.observer.dispatches)
}

func TestDispatch_EmptyModelMeansAuto(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyQuality})
	res, err := f.d.Dispatch(context.Background(), chat(""), Options{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-top", res.Response.Model)
}

func TestDispatch_CacheHit(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyCost})
	ctx := context.Background()

	_, err := f.d.Dispatch(ctx, chat(AutoModel), Options{})
	require.NoError(t, err)
	res, err := f.d.Dispatch(ctx, chat(AutoModel), Options{})
	require.NoError(t, err)

	assert.True(t, res.CacheHit)
	assert.Equal(t, "from gpt-cheap", res.Response.Content())
	assert.Zero(t, res.EstimatedCost, "cache hits cost nothing")
	assert.Len(t, f.exec.Calls(), 1)
	assert.Equal(t, OutcomeCacheHit, f.traces.Last().Outcome)
	assert.True(t, f.traces.Last().CacheHit)

	_, err = f.d.Dispatch(ctx, chat(AutoModel), Options{NoCache: true})
	require.NoError(t, err)
	assert.Len(t, f.exec.Calls(), 2)
}

func TestDispatch_FallbackResponsesAreNotCached(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyCost, MaxAlternatives: 1})
	f.exec.failing["openai/gpt-cheap"] = transient()

	res, err := f.d.Dispatch(context.Background(), chat(AutoModel), Options{})
	require.NoError(t, err)

	assert.Equal(t, retry.OutcomeFallback, res.Trace.Outcome)
	assert.Equal(t, "from gpt-mid", res.Response.Content())
	assert.Equal(t, []string{"openai/gpt-cheap", "openai/gpt-cheap", "openai/gpt-mid"}, f.exec.Calls())
	assert.Equal(t, 0, f.cache.Len())
	assert.InDelta(t, 1000*2.0/1e6+500*6.0/1e6, res.EstimatedCost, 1e-12, "priced at the backend that answered")

	entry := f.traces.Last()
	assert.Equal(t, "gpt-mid", entry.Model)
	assert.Equal(t, 3, entry.Attempts)
	assert.Len(t, entry.Steps, 3)
}

func TestDispatch_AlternativesBoundedByMax(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyCost, MaxAlternatives: 1})
	f.exec.failing["openai/gpt-cheap"] = transient()
	f.exec.failing["openai/gpt-mid"] = transient()

	_, err := f.d.Dispatch(context.Background(), chat(AutoModel), Options{})

	var exhausted *core.RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts, "gpt-top is not tried")
	entry := f.traces.Last()
	assert.Equal(t, string(retry.OutcomeExhausted), entry.Outcome)
	assert.Equal(t, string(core.ErrorTypeProvider), entry.ErrorKind)
	assert.NotEmpty(t, entry.Error)
}

func TestDispatch_FallbackPrecedence(t *testing.T) {
	f := newFixture(t, Config{
		DefaultStrategy: selection.StrategyCost,
		MaxAlternatives: 2,
		Fallbacks:       map[string]retry.Fallback{"openai": {Provider: "anthropic"}},
	})
	f.exec.failing["openai/gpt-cheap"] = transient()

	// configured fallback beats alternatives
	_, err := f.d.Dispatch(context.Background(), chat(AutoModel), Options{NoCache: true})
	require.NoError(t, err)
	calls := f.exec.Calls()
	assert.Equal(t, "anthropic/gpt-cheap", calls[len(calls)-1])

	// per-call override beats configuration
	_, err = f.d.Dispatch(context.Background(), chat(AutoModel), Options{
		NoCache:  true,
		Fallback: &retry.Fallback{Models: []string{"gpt-top"}},
	})
	require.NoError(t, err)
	calls = f.exec.Calls()
	assert.Equal(t, "openai/gpt-top", calls[len(calls)-1])
}

func TestDispatch_ExplicitModel(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.d.Dispatch(ctx, chat("anthropic/claude"), Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Selection)
	assert.Equal(t, "anthropic", res.Response.Provider)
	assert.Zero(t, f.observer.selections)

	res, err = f.d.Dispatch(ctx, chat("gpt-mid"), Options{})
	require.NoError(t, err)
	assert.Equal(t, "openai", res.Response.Provider, "provider inferred from catalog")

	res, err = f.d.Dispatch(ctx, chat("openai/gpt-5"), Options{})
	require.NoError(t, err, "explicit backends outside the catalog still run")
	assert.Zero(t, res.EstimatedCost)

	_, err = f.d.Dispatch(ctx, chat("mystery"), Options{})
	assert.Equal(t, core.ErrorTypeInvalidRequest, core.KindOf(err))
}

func TestDispatch_CallerRequestUntouched(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyCost})
	req := chat(AutoModel)
	_, err := f.d.Dispatch(context.Background(), req, Options{})
	require.NoError(t, err)
	assert.Equal(t, AutoModel, req.Model)
	assert.Empty(t, req.Provider)
}

func TestDispatch_ServedProviders(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyCost, ServedProviders: []string{"anthropic"}})
	res, err := f.d.Dispatch(context.Background(), chat(AutoModel), Options{})
	require.NoError(t, err)
	assert.Equal(t, "claude", res.Response.Model)
}

func TestDispatch_SelectionFailure(t *testing.T) {
	f := newFixture(t, Config{})
	maxLatency := 10
	_, err := f.d.Dispatch(context.Background(), chat(AutoModel), Options{
		Constraints: selection.Constraints{MaxLatencyMs: &maxLatency},
	})

	var unsat *core.ConstraintUnsatisfiableError
	require.ErrorAs(t, err, &unsat)
	assert.Empty(t, f.exec.Calls())
	assert.Equal(t, OutcomeSelectionFailed, f.traces.Last().Outcome)
}

func TestDispatch_TerminalError(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyCost})
	f.exec.failing["openai/gpt-cheap"] = core.NewAuthenticationError("openai", "bad key")

	_, err := f.d.Dispatch(context.Background(), chat(AutoModel), Options{})
	assert.Equal(t, core.ErrorTypeAuthentication, core.KindOf(err))
	assert.Len(t, f.exec.Calls(), 1)
	assert.Equal(t, string(retry.OutcomeTerminal), f.traces.Last().Outcome)
}

func TestDispatch_InvalidRequests(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.d.Dispatch(ctx, &core.ChatRequest{Model: AutoModel}, Options{})
	assert.Equal(t, core.ErrorTypeInvalidRequest, core.KindOf(err))

	streaming := chat(AutoModel)
	streaming.Stream = true
	_, err = f.d.Dispatch(ctx, streaming, Options{})
	assert.Equal(t, core.ErrorTypeInvalidRequest, core.KindOf(err))

	_, err = f.d.Dispatch(ctx, nil, Options{})
	assert.Error(t, err)

	_, err = f.d.Dispatch(ctx, chat(AutoModel), Options{Strategy: "fastest"})
	assert.Error(t, err)
	assert.Empty(t, f.exec.Calls())
}

func TestSelect(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyLatency})
	res, err := f.d.Select(chat("").Messages, Options{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-cheap", res.Model)
	assert.Equal(t, selection.StrategyLatency, res.Strategy)

	res, err = f.d.Select(chat("").Messages, Options{Strategy: selection.StrategyQuality})
	require.NoError(t, err)
	assert.Equal(t, "gpt-top", res.Model)
	assert.Empty(t, f.exec.Calls())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	for _, want := range []string{"catalog", "engine", "orchestrator", "executor"} {
		assert.ErrorContains(t, err, want)
	}

	f := newFixture(t, Config{})
	assert.Equal(t, selection.StrategyHybrid, f.d.cfg.DefaultStrategy)

	g, err := New(Config{DefaultStrategy: "Cost"}, Deps{
		Catalog: testCatalog(t), Engine: f.d.engine, Retry: f.d.retry, Executor: f.exec,
	})
	require.NoError(t, err)
	assert.Equal(t, selection.StrategyCost, g.cfg.DefaultStrategy)
	res, err := g.Select(chat("").Messages, Options{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-cheap", res.Model)

	_, err = New(Config{DefaultStrategy: "fastest"}, Deps{
		Catalog: testCatalog(t), Engine: f.d.engine, Retry: f.d.retry, Executor: f.exec,
	})
	assert.Error(t, err)
}

func TestIsAuto(t *testing.T) {
	assert.True(t, IsAuto(""))
	assert.True(t, IsAuto(" auto "))
	assert.True(t, IsAuto("AUTO"))
	assert.False(t, IsAuto("gpt-4o"))
}

func TestDispatch_ContextCanceled(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyCost})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.d.Dispatch(ctx, chat(AutoModel), Options{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, string(retry.OutcomeCanceled), f.traces.Last().Outcome)
}

func TestDispatch_EmptyBackendResponse(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: selection.StrategyCost})
	empty := core.ExecutorFunc(func(context.Context, *core.ChatRequest) (*core.ChatResponse, error) {
		return nil, nil
	})
	d, err := New(Config{DefaultStrategy: selection.StrategyCost}, Deps{
		Catalog: testCatalog(t), Engine: f.d.engine, Retry: f.d.retry, Executor: empty, Traces: f.traces,
	})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		_, err = d.Dispatch(context.Background(), chat(AutoModel), Options{})
	})
	var exhausted *core.RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, core.ErrorTypeProvider, core.KindOf(exhausted.Last))
	assert.Equal(t, string(retry.OutcomeExhausted), f.traces.Last().Outcome)
}
