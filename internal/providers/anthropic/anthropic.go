// Package anthropic executes chat requests against the Anthropic Messages API.
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	"stratumai/internal/core"
	"stratumai/internal/pkg/llmclient"
	"stratumai/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// Registration provides factory registration for Anthropic.
var Registration = providers.Registration{
	Type:           "anthropic",
	DefaultBaseURL: defaultBaseURL,
	New: func(name, apiKey string, opts providers.ProviderOptions) providers.Provider {
		return New(name, apiKey, opts)
	},
}

// Provider executes requests against the Messages API.
type Provider struct {
	name   string
	apiKey string
	client *llmclient.Client
	now    func() time.Time
}

// New creates an Anthropic provider.
func New(name, apiKey string, opts providers.ProviderOptions) *Provider {
	p := &Provider{name: name, apiKey: apiKey, now: time.Now}
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
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	System        string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// convertToAnthropicRequest moves system messages into the system field,
// joined by blank lines when there are several.
func convertToAnthropicRequest(req *core.ChatRequest) *anthropicRequest {
	out := &anthropicRequest{
		Model:         req.Model,
		Messages:      make([]anthropicMessage, 0, len(req.Messages)),
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

var stopReasons = map[string]string{
	"end_turn":      "stop",
	"stop_sequence": "stop",
	"max_tokens":    "length",
	"tool_use":      "tool_calls",
}

func convertFromAnthropicResponse(resp *anthropicResponse, created time.Time) *core.ChatResponse {
	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" || c.Type == "" {
			text.WriteString(c.Text)
		}
	}

	finishReason, ok := stopReasons[resp.StopReason]
	if !ok {
		finishReason = resp.StopReason
	}
	if finishReason == "" {
		finishReason = "stop"
	}

	return &core.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Model:   resp.Model,
		Created: created.Unix(),
		Choices: []core.Choice{{
			Index:        0,
			Message:      core.Message{Role: "assistant", Content: text.String()},
			FinishReason: finishReason,
		}},
		Usage: core.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// Execute sends a Messages API request.
func (p *Provider) Execute(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	var resp anthropicResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     convertToAnthropicRequest(req),
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := convertFromAnthropicResponse(&resp, p.now())
	out.Provider = p.name
	if out.Model == "" {
		out.Model = req.Model
	}
	return out, nil
}
