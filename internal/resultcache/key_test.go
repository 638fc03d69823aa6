package resultcache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stratumai/internal/core"
)

func ptr[T any](v T) *T { return &v }

func baseRequest() *core.ChatRequest {
	return &core.ChatRequest{
		Provider: "openai",
		Model:    "gpt-4o",
		Messages: []core.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		},
		Temperature: ptr(0.2),
		MaxTokens:   ptr(256),
		TopP:        ptr(0.9),
		Stop:        []string{"END"},
		Seed:        ptr(int64(7)),
	}
}

func TestKey_Deterministic(t *testing.T) {
	a, b := baseRequest(), baseRequest()
	assert.Equal(t, Key(a), Key(b))
	assert.Len(t, Key(a), 64)
}

func TestKey_IgnoresStreamAndExtra(t *testing.T) {
	plain := baseRequest()
	varied := baseRequest()
	varied.Stream = true
	varied.Extra = map[string]any{"user": "u-123", "request_time": 1700000000}

	assert.Equal(t, Key(plain), Key(varied))
}

func TestKey_CoveredFieldsChangeKey(t *testing.T) {
	base := Key(baseRequest())

	mutations := map[string]func(r *core.ChatRequest){
		"provider":          func(r *core.ChatRequest) { r.Provider = "azure" },
		"model":             func(r *core.ChatRequest) { r.Model = "gpt-4o-mini" },
		"message content":   func(r *core.ChatRequest) { r.Messages[1].Content = "hello!" },
		"message role":      func(r *core.ChatRequest) { r.Messages[0].Role = "user" },
		"message order":     func(r *core.ChatRequest) { r.Messages[0], r.Messages[1] = r.Messages[1], r.Messages[0] },
		"extra message":     func(r *core.ChatRequest) { r.Messages = append(r.Messages, core.Message{Role: "user", Content: ""}) },
		"temperature":       func(r *core.ChatRequest) { r.Temperature = ptr(0.3) },
		"temperature unset": func(r *core.ChatRequest) { r.Temperature = nil },
		"max tokens":        func(r *core.ChatRequest) { r.MaxTokens = ptr(257) },
		"top p":             func(r *core.ChatRequest) { r.TopP = nil },
		"stop":              func(r *core.ChatRequest) { r.Stop = []string{"STOP"} },
		"stop cleared":      func(r *core.ChatRequest) { r.Stop = nil },
		"seed":              func(r *core.ChatRequest) { r.Seed = ptr(int64(8)) },
	}

	seen := map[string]string{base: "base"}
	for name, mutate := range mutations {
		r := baseRequest()
		mutate(r)
		k := Key(r)
		if prev, dup := seen[k]; dup {
			t.Errorf("%s collides with %s", name, prev)
		}
		seen[k] = name
	}
}

func TestKey_FieldBoundaries(t *testing.T) {
	a := &core.ChatRequest{Model: "ab", Messages: []core.Message{{Role: "user", Content: "c"}}}
	b := &core.ChatRequest{Model: "a", Messages: []core.Message{{Role: "user", Content: "bc"}}}
	assert.NotEqual(t, Key(a), Key(b))

	c := &core.ChatRequest{Model: "m", Messages: []core.Message{{Role: "user", Content: "a"}, {Role: "user", Content: "b"}}}
	d := &core.ChatRequest{Model: "m", Messages: []core.Message{{Role: "user", Content: "a\nb"}}}
	assert.NotEqual(t, Key(c), Key(d))

	e := &core.ChatRequest{Model: "m", Temperature: ptr(0.0)}
	f := &core.ChatRequest{Model: "m"}
	assert.NotEqual(t, Key(e), Key(f), "explicit zero differs from unset")
}
