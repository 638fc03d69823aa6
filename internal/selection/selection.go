// Package selection picks a backend from the catalog for a conversation.
package selection

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"stratumai/internal/catalog"
	"stratumai/internal/complexity"
	"stratumai/internal/core"
)

// Constraints are the hard filters applied before ranking. Nil pointers and
// empty lists are inactive.
type Constraints struct {
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	MaxCostPerKUnits     *float64 `json:"max_cost_per_k_units,omitempty"`
	MaxLatencyMs         *int     `json:"max_latency_ms,omitempty"`
	MinContextWindow     *int     `json:"min_context_window,omitempty"`
	PreferredProviders   []string `json:"preferred_providers,omitempty"`
	ExcludedProviders    []string `json:"excluded_providers,omitempty"`
}

// Result is the outcome of a selection.
type Result struct {
	Provider   string   `json:"provider"`
	Model      string   `json:"model"`
	Complexity float64  `json:"complexity"`
	Strategy   Strategy `json:"strategy"`
	// Score is the winner's ranking value: mean cost per million for cost,
	// latency for latency, adjusted quality for quality, blended score for hybrid.
	Score float64 `json:"score"`
	// Candidates is the number of backends that survived filtering.
	Candidates int `json:"candidates"`
	// Ranked lists every surviving backend, best first.
	Ranked []catalog.Key `json:"-"`
}

// Alternatives returns the ranked runners-up served by provider, best first.
func (r Result) Alternatives(provider string) []string {
	var out []string
	for _, k := range r.Ranked {
		if k.Provider == provider && k.Model != r.Model {
			out = append(out, k.Model)
		}
	}
	return out
}

// Engine selects backends from the published catalog snapshot.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	store    *catalog.Store
	analyzer *complexity.Analyzer
	tuning   Tuning
}

// NewEngine creates an Engine. A nil analyzer uses complexity.New().
func NewEngine(store *catalog.Store, analyzer *complexity.Analyzer, tuning Tuning) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selection tuning: %w", err)
	}
	if analyzer == nil {
		analyzer = complexity.New()
	}
	return &Engine{store: store, analyzer: analyzer, tuning: tuning}, nil
}

// Tuning returns the engine's constants.
func (e *Engine) Tuning() Tuning {
	return e.tuning
}

// Select scores messages, filters the catalog by c and ranks the survivors
// by strategy. Ties keep catalog order, so the backend with the smallest
// (provider, model) wins.
func (e *Engine) Select(messages []core.Message, c Constraints, strategy Strategy) (Result, error) {
	strategy, err := ParseStrategy(string(strategy))
	if err != nil {
		return Result{}, err
	}
	snapshot := e.store.Snapshot()
	score := e.analyzer.Score(messages)

	candidates, err := filter(snapshot, c)
	if err != nil {
		return Result{}, err
	}

	scores := make([]float64, len(candidates))
	for i, d := range candidates {
		scores[i] = e.rankValue(d, strategy, score)
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	lowerIsBetter := strategy == StrategyCost || strategy == StrategyLatency
	sort.SliceStable(order, func(i, j int) bool {
		a, b := scores[order[i]], scores[order[j]]
		if lowerIsBetter {
			return a < b
		}
		return a > b
	})

	ranked := make([]catalog.Key, len(order))
	for i, idx := range order {
		ranked[i] = candidates[idx].Key()
	}
	best := candidates[order[0]]

	return Result{
		Provider:   best.ProviderID,
		Model:      best.ModelID,
		Complexity: score,
		Strategy:   strategy,
		Score:      scores[order[0]],
		Candidates: len(candidates),
		Ranked:     ranked,
	}, nil
}

func (e *Engine) rankValue(d catalog.BackendDescriptor, strategy Strategy, c float64) float64 {
	switch strategy {
	case StrategyCost:
		return d.MeanCostPerMillion()
	case StrategyLatency:
		return float64(d.AvgLatencyMs)
	case StrategyQuality:
		q := d.QualityScore
		if d.Reasoning && c > e.tuning.ReasoningThreshold {
			q += e.tuning.ReasoningBonus
		}
		return q
	default:
		wq := 0.1 + 0.5*c
		wc := 0.6 - 0.3*c
		wl := 0.3 - 0.2*c
		costScore := math.Max(0, 1-d.MeanCostPerMillion()/e.tuning.CostCeiling)
		latencyScore := math.Max(0, 1-float64(d.AvgLatencyMs)/e.tuning.LatencyCeilingMs)
		return wq*d.QualityScore + wc*costScore + wl*latencyScore
	}
}

const (
	constraintCapabilities = "required_capabilities"
	constraintMaxCost      = "max_cost_per_k_units"
	constraintMaxLatency   = "max_latency_ms"
	constraintMinContext   = "min_context_window"
	constraintExcluded     = "excluded_providers"
)

// filter returns the catalog-ordered backends satisfying c. When nothing
// survives, the error names every constraint that rejected at least one backend.
func filter(snapshot *catalog.Catalog, c Constraints) ([]catalog.BackendDescriptor, error) {
	var (
		survivors []catalog.BackendDescriptor
		rejected  = map[string]bool{}
	)

	snapshot.Each(func(d catalog.BackendDescriptor) bool {
		failed := c.violations(d)
		for _, name := range failed {
			rejected[name] = true
		}
		if len(failed) == 0 {
			survivors = append(survivors, d)
		}
		return true
	})

	if len(survivors) == 0 {
		violated := make(map[string]string, len(rejected))
		for name := range rejected {
			violated[name] = c.describe(name)
		}
		return nil, &core.ConstraintUnsatisfiableError{Violated: violated, Considered: snapshot.Len()}
	}

	if len(c.PreferredProviders) > 0 {
		var preferred []catalog.BackendDescriptor
		for _, d := range survivors {
			if slices.Contains(c.PreferredProviders, d.ProviderID) {
				preferred = append(preferred, d)
			}
		}
		if len(preferred) > 0 {
			survivors = preferred
		}
	}
	return survivors, nil
}

// violations returns the names of the active constraints d fails.
func (c Constraints) violations(d catalog.BackendDescriptor) []string {
	var failed []string
	if len(c.RequiredCapabilities) > 0 && !d.HasAllCapabilities(c.RequiredCapabilities) {
		failed = append(failed, constraintCapabilities)
	}
	if c.MaxCostPerKUnits != nil && d.MeanCostPerThousand() > *c.MaxCostPerKUnits {
		failed = append(failed, constraintMaxCost)
	}
	if c.MaxLatencyMs != nil && d.AvgLatencyMs > *c.MaxLatencyMs {
		failed = append(failed, constraintMaxLatency)
	}
	if c.MinContextWindow != nil && d.ContextWindowTokens < *c.MinContextWindow {
		failed = append(failed, constraintMinContext)
	}
	if slices.Contains(c.ExcludedProviders, d.ProviderID) {
		failed = append(failed, constraintExcluded)
	}
	return failed
}

// Satisfies reports whether d passes every active hard constraint.
func (c Constraints) Satisfies(d catalog.BackendDescriptor) bool {
	return len(c.violations(d)) == 0
}

func (c Constraints) describe(name string) string {
	switch name {
	case constraintCapabilities:
		return strings.Join(c.RequiredCapabilities, ",")
	case constraintMaxCost:
		return strconv.FormatFloat(*c.MaxCostPerKUnits, 'g', -1, 64)
	case constraintMaxLatency:
		return strconv.Itoa(*c.MaxLatencyMs)
	case constraintMinContext:
		return strconv.Itoa(*c.MinContextWindow)
	case constraintExcluded:
		return strings.Join(c.ExcludedProviders, ",")
	}
	return ""
}
