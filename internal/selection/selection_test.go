package selection

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratumai/internal/catalog"
	"stratumai/internal/core"
)

func ptr[T any](v T) *T { return &v }

func newEngine(t *testing.T, descriptors ...catalog.BackendDescriptor) *Engine {
	t.Helper()
	c, err := catalog.New("test", descriptors)
	require.NoError(t, err)
	e, err := NewEngine(catalog.NewStore(c), nil, DefaultTuning())
	require.NoError(t, err)
	return e
}

func scenarioEngine(t *testing.T) *Engine {
	return newEngine(t,
		catalog.BackendDescriptor{ProviderID: "pa", ModelID: "A", QualityScore: 0.9, CostPerMillionInput: 10, CostPerMillionOutput: 10, AvgLatencyMs: 2000, ContextWindowTokens: 128000},
		catalog.BackendDescriptor{ProviderID: "pb", ModelID: "B", QualityScore: 0.7, CostPerMillionInput: 1, CostPerMillionOutput: 1, AvgLatencyMs: 200, ContextWindowTokens: 32000},
	)
}

func msgs(content string) []core.Message {
	return []core.Message{{Role: "user", Content: content}}
}

func TestSelect_Scenario(t *testing.T) {
	e := scenarioEngine(t)
	simple := msgs("What is the capital of France?")
	hard := msgs(strings.Repeat("Prove the identity, derive the recurrence and walk through it step by step. ", 30))

	tests := []struct {
		name     string
		messages []core.Message
		strategy Strategy
		want     string
	}{
		{"cost picks cheaper", simple, StrategyCost, "B"},
		{"quality picks better", simple, StrategyQuality, "A"},
		{"latency picks faster", simple, StrategyLatency, "B"},
		{"hybrid simple prompt", simple, StrategyHybrid, "B"},
		{"hybrid complex prompt", hard, StrategyHybrid, "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Select(tt.messages, Constraints{}, tt.strategy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Model)
			assert.Equal(t, 2, res.Candidates)
			assert.Equal(t, tt.strategy, res.Strategy)
		})
	}

	res, err := e.Select(simple, Constraints{}, StrategyHybrid)
	require.NoError(t, err)
	assert.Less(t, res.Complexity, 0.1)

	res, err = e.Select(hard, Constraints{}, StrategyHybrid)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Complexity, 0.5)
}

func TestSelect_StrategyCaseInsensitive(t *testing.T) {
	e := scenarioEngine(t)
	hard := msgs(strings.Repeat("Prove the identity, derive the recurrence and walk through it step by step. ", 30))

	tests := []struct {
		strategy Strategy
		want     string
		normal   Strategy
	}{
		{"Cost", "B", StrategyCost},
		{"LATENCY", "B", StrategyLatency},
		{"Quality", "A", StrategyQuality},
		{"Hybrid", "A", StrategyHybrid},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			res, err := e.Select(hard, Constraints{}, tt.strategy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Model)
			assert.Equal(t, tt.normal, res.Strategy)
		})
	}
}

func TestSelect_Deterministic(t *testing.T) {
	c, err := catalog.Default()
	require.NoError(t, err)
	e, err := NewEngine(catalog.NewStore(c), nil, DefaultTuning())
	require.NoError(t, err)

	conversation := msgs("Compare these two sorting algorithms and explain why one is faster.")
	constraints := Constraints{MaxLatencyMs: ptr(2000)}

	for _, s := range Strategies {
		first, err := e.Select(conversation, constraints, s)
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			again, err := e.Select(conversation, constraints, s)
			require.NoError(t, err)
			assert.Equal(t, first.Provider, again.Provider)
			assert.Equal(t, first.Model, again.Model)
		}
	}
}

func TestSelect_TieBreaksByCatalogOrder(t *testing.T) {
	same := catalog.BackendDescriptor{QualityScore: 0.8, CostPerMillionInput: 1, CostPerMillionOutput: 1, AvgLatencyMs: 100, ContextWindowTokens: 1000}
	z, a2, a1 := same, same, same
	z.ProviderID, z.ModelID = "zeta", "m"
	a2.ProviderID, a2.ModelID = "alpha", "m2"
	a1.ProviderID, a1.ModelID = "alpha", "m1"
	e := newEngine(t, z, a2, a1)

	for _, s := range Strategies {
		res, err := e.Select(msgs("hi"), Constraints{}, s)
		require.NoError(t, err)
		assert.Equal(t, "alpha", res.Provider, s)
		assert.Equal(t, "m1", res.Model, s)
		assert.Equal(t, []catalog.Key{{Provider: "alpha", Model: "m1"}, {Provider: "alpha", Model: "m2"}, {Provider: "zeta", Model: "m"}}, res.Ranked)
	}
}

func TestSelect_QualityReasoningBonus(t *testing.T) {
	e := newEngine(t,
		catalog.BackendDescriptor{ProviderID: "p", ModelID: "plain", QualityScore: 0.90, AvgLatencyMs: 100},
		catalog.BackendDescriptor{ProviderID: "p", ModelID: "thinker", QualityScore: 0.87, AvgLatencyMs: 100, Reasoning: true},
	)

	res, err := e.Select(msgs("hello"), Constraints{}, StrategyQuality)
	require.NoError(t, err)
	assert.Equal(t, "plain", res.Model)

	hard := msgs(strings.Repeat("Analyze and prove the theorem, derive each lemma step by step, then justify and evaluate the integral equation. ```func f() {}``` ", 40))
	res, err = e.Select(hard, Constraints{}, StrategyQuality)
	require.NoError(t, err)
	require.Greater(t, res.Complexity, 0.6)
	assert.Equal(t, "thinker", res.Model)
	assert.InDelta(t, 0.92, res.Score, 1e-9)
}

func TestSelect_ConstraintFilters(t *testing.T) {
	e := newEngine(t,
		catalog.BackendDescriptor{ProviderID: "openai", ModelID: "big", QualityScore: 0.9, CostPerMillionInput: 5, CostPerMillionOutput: 15, AvgLatencyMs: 900, ContextWindowTokens: 128000, Capabilities: []string{"chat", "vision"}},
		catalog.BackendDescriptor{ProviderID: "openai", ModelID: "small", QualityScore: 0.7, CostPerMillionInput: 0.1, CostPerMillionOutput: 0.3, AvgLatencyMs: 300, ContextWindowTokens: 16000, Capabilities: []string{"chat"}},
		catalog.BackendDescriptor{ProviderID: "groq", ModelID: "fast", QualityScore: 0.6, CostPerMillionInput: 0.5, CostPerMillionOutput: 0.5, AvgLatencyMs: 100, ContextWindowTokens: 8000, Capabilities: []string{"chat"}},
	)
	m := msgs("hi")

	tests := []struct {
		name     string
		c        Constraints
		strategy Strategy
		want     string
	}{
		{"capability", Constraints{RequiredCapabilities: []string{"vision"}}, StrategyCost, "big"},
		{"max cost per thousand", Constraints{MaxCostPerKUnits: ptr(0.001)}, StrategyQuality, "small"},
		{"max cost excludes all but cheapest", Constraints{MaxCostPerKUnits: ptr(0.0003)}, StrategyLatency, "small"},
		{"max latency", Constraints{MaxLatencyMs: ptr(300)}, StrategyQuality, "small"},
		{"min context", Constraints{MinContextWindow: ptr(100000)}, StrategyCost, "big"},
		{"excluded provider", Constraints{ExcludedProviders: []string{"openai"}}, StrategyQuality, "fast"},
		{"preferred provider", Constraints{PreferredProviders: []string{"groq"}}, StrategyQuality, "fast"},
		{"preferred provider filtered out keeps full set", Constraints{PreferredProviders: []string{"groq"}, MinContextWindow: ptr(10000)}, StrategyQuality, "big"},
		{"preferred provider unknown", Constraints{PreferredProviders: []string{"nobody"}}, StrategyLatency, "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Select(m, tt.c, tt.strategy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Model)
		})
	}
}

func TestSelect_Unsatisfiable(t *testing.T) {
	e := newEngine(t,
		catalog.BackendDescriptor{ProviderID: "a", ModelID: "slow", QualityScore: 0.9, AvgLatencyMs: 900, Capabilities: []string{"vision"}},
		catalog.BackendDescriptor{ProviderID: "b", ModelID: "blind", QualityScore: 0.5, AvgLatencyMs: 50},
	)

	_, err := e.Select(msgs("hi"), Constraints{RequiredCapabilities: []string{"vision"}, MaxLatencyMs: ptr(100)}, StrategyCost)
	require.Error(t, err)

	var unsat *core.ConstraintUnsatisfiableError
	require.True(t, errors.As(err, &unsat))
	assert.Equal(t, 2, unsat.Considered)
	assert.Equal(t, map[string]string{"required_capabilities": "vision", "max_latency_ms": "100"}, unsat.Violated)
	assert.False(t, core.IsRetryable(err))
}

func TestSelect_EmptyCatalogIsUnsatisfiable(t *testing.T) {
	e, err := NewEngine(catalog.NewStore(nil), nil, DefaultTuning())
	require.NoError(t, err)

	_, err = e.Select(msgs("hi"), Constraints{}, StrategyCost)
	var unsat *core.ConstraintUnsatisfiableError
	require.ErrorAs(t, err, &unsat)
	assert.Equal(t, 0, unsat.Considered)
}

func TestSelect_UnknownStrategy(t *testing.T) {
	e := scenarioEngine(t)
	_, err := e.Select(msgs("hi"), Constraints{}, Strategy("cheapest"))
	require.Error(t, err)
	assert.Equal(t, core.ErrorTypeInvalidRequest, core.KindOf(err))
}

// Every returned backend satisfies every active constraint, and an error is
// returned only when no backend in the catalog does.
func TestSelect_ConstraintCorrectnessProperty(t *testing.T) {
	c, err := catalog.Default()
	require.NoError(t, err)
	e, err := NewEngine(catalog.NewStore(c), nil, DefaultTuning())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	capabilities := []string{catalog.CapabilityVision, catalog.CapabilityFunctionCalling, catalog.CapabilityJSONMode, catalog.CapabilityStreaming}
	providers := c.Providers()

	for i := 0; i < 500; i++ {
		var cons Constraints
		if rng.Intn(2) == 0 {
			cons.RequiredCapabilities = []string{capabilities[rng.Intn(len(capabilities))]}
		}
		if rng.Intn(2) == 0 {
			cons.MaxCostPerKUnits = ptr(rng.Float64() * 0.02)
		}
		if rng.Intn(2) == 0 {
			cons.MaxLatencyMs = ptr(rng.Intn(3000))
		}
		if rng.Intn(2) == 0 {
			cons.MinContextWindow = ptr(rng.Intn(300000))
		}
		if rng.Intn(3) == 0 {
			cons.ExcludedProviders = []string{providers[rng.Intn(len(providers))]}
		}
		strategy := Strategies[rng.Intn(len(Strategies))]

		anySatisfies := false
		c.Each(func(d catalog.BackendDescriptor) bool {
			if cons.Satisfies(d) {
				anySatisfies = true
				return false
			}
			return true
		})

		res, err := e.Select(msgs("Explain the trade-off."), cons, strategy)
		if !anySatisfies {
			var unsat *core.ConstraintUnsatisfiableError
			require.ErrorAs(t, err, &unsat, "iteration %d", i)
			continue
		}
		require.NoError(t, err, "iteration %d", i)
		d, ok := c.Get(res.Provider, res.Model)
		require.True(t, ok)
		assert.True(t, cons.Satisfies(d), "iteration %d returned violator %s/%s", i, res.Provider, res.Model)
	}
}

func TestResult_Alternatives(t *testing.T) {
	e := newEngine(t,
		catalog.BackendDescriptor{ProviderID: "openai", ModelID: "a", QualityScore: 0.9},
		catalog.BackendDescriptor{ProviderID: "openai", ModelID: "b", QualityScore: 0.8},
		catalog.BackendDescriptor{ProviderID: "groq", ModelID: "c", QualityScore: 0.85},
		catalog.BackendDescriptor{ProviderID: "openai", ModelID: "d", QualityScore: 0.7},
	)
	res, err := e.Select(msgs("hi"), Constraints{}, StrategyQuality)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Model)
	assert.Equal(t, []string{"b", "d"}, res.Alternatives("openai"))
	assert.Equal(t, []string{"c"}, res.Alternatives("groq"))
}

func TestSelect_ReadsCurrentSnapshot(t *testing.T) {
	first, err := catalog.New("first", []catalog.BackendDescriptor{{ProviderID: "p", ModelID: "old", QualityScore: 0.5}})
	require.NoError(t, err)
	store := catalog.NewStore(first)
	e, err := NewEngine(store, nil, DefaultTuning())
	require.NoError(t, err)

	res, err := e.Select(msgs("hi"), Constraints{}, StrategyQuality)
	require.NoError(t, err)
	assert.Equal(t, "old", res.Model)

	second, err := catalog.New("second", []catalog.BackendDescriptor{{ProviderID: "p", ModelID: "new", QualityScore: 0.5}})
	require.NoError(t, err)
	store.Replace(second)

	res, err = e.Select(msgs("hi"), Constraints{}, StrategyQuality)
	require.NoError(t, err)
	assert.Equal(t, "new", res.Model)
}

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{"cost", "QUALITY", " latency ", "Hybrid"} {
		s, err := ParseStrategy(name)
		require.NoError(t, err, name)
		assert.Contains(t, Strategies, s)
	}
	_, err := ParseStrategy("")
	assert.Error(t, err)
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil, nil, DefaultTuning())
	assert.Error(t, err)

	bad := DefaultTuning()
	bad.CostCeiling = 0
	_, err = NewEngine(catalog.NewStore(nil), nil, bad)
	assert.Error(t, err)

	bad = DefaultTuning()
	bad.LatencyCeilingMs = -1
	_, err = NewEngine(catalog.NewStore(nil), nil, bad)
	assert.Error(t, err)
}
