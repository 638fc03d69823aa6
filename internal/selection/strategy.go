package selection

import (
	"fmt"
	"strings"

	"stratumai/internal/core"
)

// Strategy names a ranking rule.
type Strategy string

const (
	// StrategyCost minimizes mean cost.
	StrategyCost Strategy = "cost"
	// StrategyQuality maximizes quality, favoring reasoning backends for complex input.
	StrategyQuality Strategy = "quality"
	// StrategyLatency minimizes average latency.
	StrategyLatency Strategy = "latency"
	// StrategyHybrid blends quality, cost and latency with complexity-dependent weights.
	StrategyHybrid Strategy = "hybrid"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategyCost, StrategyQuality, StrategyLatency, StrategyHybrid}

// ParseStrategy converts a case-insensitive name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	switch s {
	case StrategyCost, StrategyQuality, StrategyLatency, StrategyHybrid:
		return s, nil
	}
	return "", core.NewInvalidRequestError(fmt.Sprintf("unknown selection strategy %q (want cost, quality, latency or hybrid)", name), nil)
}

// Tuning holds the empirical constants used by the quality and hybrid strategies.
type Tuning struct {
	// ReasoningBonus is added to a reasoning backend's quality under the
	// quality strategy when complexity exceeds ReasoningThreshold.
	ReasoningBonus     float64 `yaml:"reasoning_bonus" json:"reasoning_bonus"`
	ReasoningThreshold float64 `yaml:"reasoning_threshold" json:"reasoning_threshold"`
	// CostCeiling is the mean cost per million at which the hybrid cost score reaches zero.
	CostCeiling float64 `yaml:"cost_ceiling" json:"cost_ceiling"`
	// LatencyCeilingMs is the latency at which the hybrid latency score reaches zero.
	LatencyCeilingMs float64 `yaml:"latency_ceiling_ms" json:"latency_ceiling_ms"`
}

// DefaultTuning returns the stock constants.
func DefaultTuning() Tuning {
	return Tuning{
		ReasoningBonus:     0.05,
		ReasoningThreshold: 0.6,
		CostCeiling:        0.05,
		LatencyCeilingMs:   10000,
	}
}

// Validate rejects ceilings that would divide by zero.
func (t Tuning) Validate() error {
	if t.CostCeiling <= 0 {
		return fmt.Errorf("cost_ceiling must be positive, got %v", t.CostCeiling)
	}
	if t.LatencyCeilingMs <= 0 {
		return fmt.Errorf("latency_ceiling_ms must be positive, got %v", t.LatencyCeilingMs)
	}
	if t.ReasoningThreshold < 0 || t.ReasoningThreshold > 1 {
		return fmt.Errorf("reasoning_threshold must be in [0,1], got %v", t.ReasoningThreshold)
	}
	return nil
}
