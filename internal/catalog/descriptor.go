// Package catalog holds the immutable table of known (provider, model)
// backends and their static metadata.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Well-known capability names. Catalog files may use any string; these are
// the ones the built-in catalog and the HTTP API refer to.
const (
	CapabilityChat            = "chat"
	CapabilityVision          = "vision"
	CapabilityFunctionCalling = "function_calling"
	CapabilityJSONMode        = "json_mode"
	CapabilityStreaming       = "streaming"
)

// Key identifies a backend.
type Key struct {
	Provider string
	Model    string
}

func (k Key) String() string {
	return k.Provider + "/" + k.Model
}

// BackendDescriptor is the static metadata of one backend.
// Costs are per million input/output units (tokens), in USD.
type BackendDescriptor struct {
	ProviderID           string   `yaml:"provider" json:"provider"`
	ModelID              string   `yaml:"model" json:"model"`
	QualityScore         float64  `yaml:"quality" json:"quality"`
	CostPerMillionInput  float64  `yaml:"cost_per_million_input" json:"cost_per_million_input"`
	CostPerMillionOutput float64  `yaml:"cost_per_million_output" json:"cost_per_million_output"`
	AvgLatencyMs         int      `yaml:"avg_latency_ms" json:"avg_latency_ms"`
	ContextWindowTokens  int      `yaml:"context_window" json:"context_window"`
	Capabilities         []string `yaml:"capabilities" json:"capabilities"`
	Reasoning            bool     `yaml:"reasoning" json:"reasoning"`
}

// Key returns the (provider, model) identity of d.
func (d BackendDescriptor) Key() Key {
	return Key{Provider: d.ProviderID, Model: d.ModelID}
}

// Validate rejects descriptors that cannot take part in selection.
func (d BackendDescriptor) Validate() error {
	var errs []error
	if strings.TrimSpace(d.ProviderID) == "" {
		errs = append(errs, errors.New("provider is required"))
	}
	if strings.TrimSpace(d.ModelID) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if d.QualityScore < 0 || d.QualityScore > 1 {
		errs = append(errs, fmt.Errorf("quality %v outside [0,1]", d.QualityScore))
	}
	if d.CostPerMillionInput < 0 || d.CostPerMillionOutput < 0 {
		errs = append(errs, errors.New("cost must not be negative"))
	}
	if d.AvgLatencyMs < 0 {
		errs = append(errs, errors.New("avg_latency_ms must not be negative"))
	}
	if d.ContextWindowTokens < 0 {
		errs = append(errs, errors.New("context_window must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("backend %s: %w", d.Key(), err)
	}
	return nil
}

// MeanCostPerMillion is the mean of input and output cost per million units.
func (d BackendDescriptor) MeanCostPerMillion() float64 {
	return (d.CostPerMillionInput + d.CostPerMillionOutput) / 2
}

// MeanCostPerThousand is MeanCostPerMillion scaled to per-thousand pricing.
func (d BackendDescriptor) MeanCostPerThousand() float64 {
	return d.MeanCostPerMillion() / 1000
}

// HasCapability reports whether d advertises capability.
func (d BackendDescriptor) HasCapability(capability string) bool {
	return slices.Contains(d.Capabilities, capability)
}

// HasAllCapabilities reports whether every required capability is present.
func (d BackendDescriptor) HasAllCapabilities(required []string) bool {
	for _, c := range required {
		if !d.HasCapability(c) {
			return false
		}
	}
	return true
}

// normalized returns a copy with trimmed ids and a sorted, de-duplicated
// capability list that shares no memory with d.
func (d BackendDescriptor) normalized() BackendDescriptor {
	out := d
	out.ProviderID = strings.TrimSpace(d.ProviderID)
	out.ModelID = strings.TrimSpace(d.ModelID)
	caps := make([]string, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, c)
		}
	}
	slices.Sort(caps)
	out.Capabilities = slices.Compact(caps)
	return out
}

func (d BackendDescriptor) clone() BackendDescriptor {
	out := d
	out.Capabilities = slices.Clone(d.Capabilities)
	return out
}
