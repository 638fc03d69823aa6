package catalog

// builtinBackends is the catalog used when no file or URL is configured.
// Prices are list prices per million tokens; quality and latency are coarse
// relative figures meant to be overridden by a deployment's own catalog.
var builtinBackends = []BackendDescriptor{
	{
		ProviderID: "openai", ModelID: "gpt-4o",
		QualityScore: 0.90, CostPerMillionInput: 2.50, CostPerMillionOutput: 10.00,
		AvgLatencyMs: 800, ContextWindowTokens: 128000,
		Capabilities: []string{CapabilityChat, CapabilityVision, CapabilityFunctionCalling, CapabilityJSONMode, CapabilityStreaming},
	},
	{
		ProviderID: "openai", ModelID: "gpt-4o-mini",
		QualityScore: 0.75, CostPerMillionInput: 0.15, CostPerMillionOutput: 0.60,
		AvgLatencyMs: 500, ContextWindowTokens: 128000,
		Capabilities: []string{CapabilityChat, CapabilityVision, CapabilityFunctionCalling, CapabilityJSONMode, CapabilityStreaming},
	},
	{
		ProviderID: "openai", ModelID: "o1",
		QualityScore: 0.95, CostPerMillionInput: 15.00, CostPerMillionOutput: 60.00,
		AvgLatencyMs: 5000, ContextWindowTokens: 200000,
		Capabilities: []string{CapabilityChat, CapabilityVision, CapabilityFunctionCalling},
		Reasoning:    true,
	},
	{
		ProviderID: "openai", ModelID: "o3-mini",
		QualityScore: 0.88, CostPerMillionInput: 1.10, CostPerMillionOutput: 4.40,
		AvgLatencyMs: 3000, ContextWindowTokens: 200000,
		Capabilities: []string{CapabilityChat, CapabilityFunctionCalling, CapabilityStreaming},
		Reasoning:    true,
	},
	{
		ProviderID: "anthropic", ModelID: "claude-3-5-sonnet-20241022",
		QualityScore: 0.92, CostPerMillionInput: 3.00, CostPerMillionOutput: 15.00,
		AvgLatencyMs: 1000, ContextWindowTokens: 200000,
		Capabilities: []string{CapabilityChat, CapabilityVision, CapabilityFunctionCalling, CapabilityStreaming},
	},
	{
		ProviderID: "anthropic", ModelID: "claude-3-5-haiku-20241022",
		QualityScore: 0.78, CostPerMillionInput: 0.80, CostPerMillionOutput: 4.00,
		AvgLatencyMs: 600, ContextWindowTokens: 200000,
		Capabilities: []string{CapabilityChat, CapabilityFunctionCalling, CapabilityStreaming},
	},
	{
		ProviderID: "anthropic", ModelID: "claude-3-opus-20240229",
		QualityScore: 0.93, CostPerMillionInput: 15.00, CostPerMillionOutput: 75.00,
		AvgLatencyMs: 2000, ContextWindowTokens: 200000,
		Capabilities: []string{CapabilityChat, CapabilityVision, CapabilityFunctionCalling, CapabilityStreaming},
	},
	{
		ProviderID: "google", ModelID: "gemini-1.5-pro",
		QualityScore: 0.88, CostPerMillionInput: 1.25, CostPerMillionOutput: 5.00,
		AvgLatencyMs: 1200, ContextWindowTokens: 2000000,
		Capabilities: []string{CapabilityChat, CapabilityVision, CapabilityFunctionCalling, CapabilityJSONMode, CapabilityStreaming},
	},
	{
		ProviderID: "google", ModelID: "gemini-2.0-flash",
		QualityScore: 0.80, CostPerMillionInput: 0.10, CostPerMillionOutput: 0.40,
		AvgLatencyMs: 400, ContextWindowTokens: 1000000,
		Capabilities: []string{CapabilityChat, CapabilityVision, CapabilityFunctionCalling, CapabilityJSONMode, CapabilityStreaming},
	},
	{
		ProviderID: "groq", ModelID: "llama-3.3-70b-versatile",
		QualityScore: 0.80, CostPerMillionInput: 0.59, CostPerMillionOutput: 0.79,
		AvgLatencyMs: 300, ContextWindowTokens: 128000,
		Capabilities: []string{CapabilityChat, CapabilityFunctionCalling, CapabilityJSONMode, CapabilityStreaming},
	},
	{
		ProviderID: "groq", ModelID: "llama-3.1-8b-instant",
		QualityScore: 0.62, CostPerMillionInput: 0.05, CostPerMillionOutput: 0.08,
		AvgLatencyMs: 150, ContextWindowTokens: 128000,
		Capabilities: []string{CapabilityChat, CapabilityJSONMode, CapabilityStreaming},
	},
	{
		ProviderID: "deepseek", ModelID: "deepseek-reasoner",
		QualityScore: 0.90, CostPerMillionInput: 0.55, CostPerMillionOutput: 2.19,
		AvgLatencyMs: 6000, ContextWindowTokens: 64000,
		Capabilities: []string{CapabilityChat, CapabilityStreaming},
		Reasoning:    true,
	},
	{
		ProviderID: "ollama", ModelID: "llama3.2",
		QualityScore: 0.60, CostPerMillionInput: 0, CostPerMillionOutput: 0,
		AvgLatencyMs: 1500, ContextWindowTokens: 128000,
		Capabilities: []string{CapabilityChat, CapabilityStreaming},
	},
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return New("builtin", builtinBackends)
}
