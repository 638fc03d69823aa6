// Package openai executes chat requests against OpenAI and the providers that
// expose an OpenAI-compatible /chat/completions endpoint.
package openai

import (
	"context"
	"net/http"
	"strings"

	"stratumai/internal/core"
	"stratumai/internal/pkg/llmclient"
	"stratumai/internal/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Registration provides factory registration for OpenAI.
var Registration = providers.Registration{
	Type:           "openai",
	DefaultBaseURL: defaultBaseURL,
	New:            newProvider,
}

// CompatibleRegistrations covers providers that speak the OpenAI wire format.
var CompatibleRegistrations = []providers.Registration{
	{Type: "groq", DefaultBaseURL: "https://api.groq.com/openai/v1", New: newProvider},
	{Type: "deepseek", DefaultBaseURL: "https://api.deepseek.com/v1", New: newProvider},
	{Type: "xai", DefaultBaseURL: "https://api.x.ai/v1", New: newProvider},
	{Type: "gemini", DefaultBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", New: newProvider},
	{Type: "ollama", DefaultBaseURL: "http://localhost:11434/v1", KeyOptional: true, New: newProvider},
}

// Provider executes requests against one OpenAI-compatible endpoint.
type Provider struct {
	name   string
	apiKey string
	client *llmclient.Client
}

func newProvider(name, apiKey string, opts providers.ProviderOptions) providers.Provider {
	return New(name, apiKey, opts)
}

// New creates a provider. name is used in errors and on responses.
func New(name, apiKey string, opts providers.ProviderOptions) *Provider {
	p := &Provider{name: name, apiKey: apiKey}
	p.client = llmclient.New(opts.HTTPClient, llmclient.Config{
		ProviderName:   name,
		BaseURL:        defaultBaseURL,
		CircuitBreaker: opts.CircuitBreaker,
	}, p.setHeaders)
	return p
}

// SetBaseURL points the provider at a different endpoint.
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// CircuitState returns the breaker state.
func (p *Provider) CircuitState() string {
	return p.client.CircuitState()
}

func (p *Provider) setHeaders(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	// OpenAI rejects non-ASCII or overlong client request IDs with a 400.
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// isOSeriesModel reports whether model is an o-series reasoning model (o1,
// o3, o4-mini...), which takes max_completion_tokens and rejects temperature.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

type chatRequest struct {
	Model               string         `json:"model"`
	Messages            []core.Message `json:"messages"`
	Temperature         *float64       `json:"temperature,omitempty"`
	MaxTokens           *int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int           `json:"max_completion_tokens,omitempty"`
	TopP                *float64       `json:"top_p,omitempty"`
	Stop                []string       `json:"stop,omitempty"`
	Seed                *int64         `json:"seed,omitempty"`
	Stream              bool           `json:"stream"`
}

// chatRequestBody builds the wire body. Streaming is never requested; the
// dispatcher needs the whole response to cache and price it.
func chatRequestBody(req *core.ChatRequest) *chatRequest {
	body := &chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		TopP:     req.TopP,
		Stop:     req.Stop,
		Seed:     req.Seed,
	}
	if isOSeriesModel(req.Model) {
		body.MaxCompletionTokens = req.MaxTokens
	} else {
		body.Temperature = req.Temperature
		body.MaxTokens = req.MaxTokens
	}
	return body
}

// Execute sends a chat completion request.
func (p *Provider) Execute(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	var resp core.ChatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     chatRequestBody(req),
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Provider = p.name
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return &resp, nil
}
