package providers

import (
	"os"
	"strings"

	"stratumai/config"
	"stratumai/internal/retry"
)

// ProviderConfig is a provider entry after env discovery and filtering.
type ProviderConfig struct {
	Type     string
	APIKey   string
	BaseURL  string
	Fallback retry.Fallback
}

// knownProviderEnvs maps well-known provider names to their environment variables.
var knownProviderEnvs = []struct {
	name         string
	providerType string
	apiKeyEnv    string
	baseURLEnv   string
}{
	{"openai", "openai", "OPENAI_API_KEY", "OPENAI_BASE_URL"},
	{"anthropic", "anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"},
	{"google", "gemini", "GEMINI_API_KEY", "GEMINI_BASE_URL"},
	{"groq", "groq", "GROQ_API_KEY", "GROQ_BASE_URL"},
	{"deepseek", "deepseek", "DEEPSEEK_API_KEY", "DEEPSEEK_BASE_URL"},
	{"xai", "xai", "XAI_API_KEY", "XAI_BASE_URL"},
	{"ollama", "ollama", "OLLAMA_API_KEY", "OLLAMA_BASE_URL"},
}

// resolveProviders overlays env vars on the YAML providers and drops entries
// that cannot authenticate.
func resolveProviders(raw map[string]config.RawProviderConfig, keyOptional func(typ string) bool) map[string]ProviderConfig {
	merged := applyProviderEnvVars(raw)
	filtered := filterEmptyProviders(merged, keyOptional)

	out := make(map[string]ProviderConfig, len(filtered))
	for name, r := range filtered {
		typ := r.Type
		if typ == "" {
			typ = name
		}
		out[name] = ProviderConfig{
			Type:    typ,
			APIKey:  r.APIKey,
			BaseURL: r.BaseURL,
			Fallback: retry.Fallback{
				Models:   r.FallbackModels,
				Provider: r.FallbackProvider,
			},
		}
	}
	return out
}

// applyProviderEnvVars overlays well-known provider env vars onto the raw YAML map.
// Env values win over YAML values for the same provider name.
func applyProviderEnvVars(raw map[string]config.RawProviderConfig) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for k, v := range raw {
		result[k] = v
	}

	for _, kp := range knownProviderEnvs {
		apiKey := os.Getenv(kp.apiKeyEnv)
		baseURL := os.Getenv(kp.baseURLEnv)
		if apiKey == "" && baseURL == "" {
			continue
		}

		existing, exists := result[kp.name]
		if !exists {
			existing = config.RawProviderConfig{Type: kp.providerType}
		}
		if apiKey != "" {
			existing.APIKey = apiKey
		}
		if baseURL != "" {
			existing.BaseURL = baseURL
		}
		result[kp.name] = existing
	}
	return result
}

// filterEmptyProviders removes providers without usable credentials. Types
// that run without a key are kept when they have a base URL.
func filterEmptyProviders(raw map[string]config.RawProviderConfig, keyOptional func(typ string) bool) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for name, p := range raw {
		typ := p.Type
		if typ == "" {
			typ = name
		}
		if keyOptional != nil && keyOptional(typ) && p.BaseURL != "" && !strings.Contains(p.BaseURL, "${") {
			result[name] = p
			continue
		}
		if p.APIKey != "" && !strings.Contains(p.APIKey, "${") {
			result[name] = p
		}
	}
	return result
}
