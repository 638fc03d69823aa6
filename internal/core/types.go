package core

import "strings"

// ChatRequest is the provider-neutral request descriptor handed to executors.
// Provider and Model identify the backend chosen by selection.
type ChatRequest struct {
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Seed        *int64    `json:"seed,omitempty"`
	Stream      bool      `json:"stream,omitempty"`

	// Extra carries free-form passthrough fields (user tags, metadata).
	// It never participates in cache key derivation.
	Extra map[string]any `json:"extra,omitempty"`
}

// Clone returns a copy of the request that shares no mutable slices or maps
// with the original, so substitutes can be edited without touching the caller's value.
func (r *ChatRequest) Clone() *ChatRequest {
	if r == nil {
		return nil
	}
	out := *r
	if r.Messages != nil {
		out.Messages = make([]Message, len(r.Messages))
		copy(out.Messages, r.Messages)
	}
	if r.Stop != nil {
		out.Stop = make([]string, len(r.Stop))
		copy(out.Stop, r.Stop)
	}
	if r.Extra != nil {
		out.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// WithModel returns a copy of the request targeting a different model.
func (r *ChatRequest) WithModel(model string) *ChatRequest {
	out := r.Clone()
	out.Model = model
	return out
}

// WithProvider returns a copy of the request targeting a different provider.
func (r *ChatRequest) WithProvider(provider string) *ChatRequest {
	out := r.Clone()
	out.Provider = provider
	return out
}

// Message represents a single message in the chat
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationText joins the message contents with newlines.
func ConversationText(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// ChatResponse represents the chat completion response
type ChatResponse struct {
	ID       string   `json:"id"`
	Object   string   `json:"object"`
	Model    string   `json:"model"`
	Provider string   `json:"provider"`
	Choices  []Choice `json:"choices"`
	Usage    Usage    `json:"usage"`
	Created  int64    `json:"created"`
}

// Content returns the first choice's message content, or "" when there is none.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Choice represents a single completion choice
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
	Index        int     `json:"index"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
