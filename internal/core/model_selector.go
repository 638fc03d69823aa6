package core

import (
	"fmt"
	"strings"
)

// BackendRef names one (provider, model) backend.
type BackendRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// String returns "provider/model" when Provider is set, or only model otherwise.
func (r BackendRef) String() string {
	if r.Provider == "" {
		return r.Model
	}
	return r.Provider + "/" + r.Model
}

// ParseBackendRef normalizes backend pinning input.
//
// Accepted forms:
//   - model only: "gpt-4o"
//   - model with prefix: "openai/gpt-4o"
//   - explicit provider field: provider="openai", model="gpt-4o"
//
// A model prefix equal to the explicit provider is stripped. Model IDs that
// themselves contain a slash (e.g. "meta-llama/llama-3-70b" on groq) must be
// passed with an explicit provider field.
func ParseBackendRef(model, provider string) (BackendRef, error) {
	model = strings.TrimSpace(model)
	provider = strings.TrimSpace(provider)

	if model == "" {
		return BackendRef{}, fmt.Errorf("model is required")
	}

	if provider == "" {
		if prefix, rest, ok := strings.Cut(model, "/"); ok {
			prefix = strings.TrimSpace(prefix)
			rest = strings.TrimSpace(rest)
			if prefix != "" && rest != "" {
				provider = prefix
				model = rest
			}
		}
	} else if prefix, rest, ok := strings.Cut(model, "/"); ok && strings.TrimSpace(prefix) == provider {
		model = strings.TrimSpace(rest)
	}

	if model == "" {
		return BackendRef{}, fmt.Errorf("model is required")
	}

	return BackendRef{Provider: provider, Model: model}, nil
}
