package complexity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"stratumai/internal/core"
)

func user(content string) core.Message {
	return core.Message{Role: "user", Content: content}
}

func TestScore_Empty(t *testing.T) {
	a := New()
	assert.Equal(t, 0.0, a.Score(nil))
	assert.Equal(t, 0.0, a.Score([]core.Message{}))
}

func TestScore_SimplePromptIsLow(t *testing.T) {
	score := New().Score([]core.Message{user("What is the capital of France?")})
	assert.Less(t, score, 0.1)
}

func TestScore_LongReasoningPromptIsHigh(t *testing.T) {
	sentence := "Prove the bound, then derive the closed form step by step and justify each move carefully. "
	prompt := strings.Repeat(sentence, 25)

	score := New().Score([]core.Message{user(prompt)})
	assert.GreaterOrEqual(t, score, 0.5)
}

func TestAnalyze_SignalsAreWeighted(t *testing.T) {
	messages := make([]core.Message, 20)
	for i := range messages {
		messages[i] = user("x")
	}
	b := New().Analyze(messages)
	assert.InDelta(t, WeightMessageCount, b.MessageCount, 1e-12, "message count caps at 10")
	assert.InDelta(t, WeightLength*float64(39)/lengthScale, b.Length, 1e-12, "20 chars plus 19 separators")
	assert.Zero(t, b.Reasoning)
	assert.InDelta(t, b.Reasoning+b.Length+b.Code+b.MessageCount+b.Math, b.Score, 1e-12)
}

func TestAnalyze_CodeAndMath(t *testing.T) {
	b := New().Analyze([]core.Message{user("```go\nfunc main() { return }\n```\nSolve the equation and calculate the integral.")})
	assert.Greater(t, b.Code, 0.0)
	assert.Greater(t, b.Math, 0.0)
	assert.LessOrEqual(t, b.Code, WeightCode)
	assert.LessOrEqual(t, b.Math, WeightMath)
}

func TestScore_CaseInsensitive(t *testing.T) {
	a := New()
	assert.Equal(t,
		a.Score([]core.Message{user("ANALYZE and COMPARE")}),
		a.Score([]core.Message{user("analyze and compare")}),
	)
}

func TestScore_MonotonicUnderReasoningAppend(t *testing.T) {
	a := New()
	bases := []string{
		"",
		"hello",
		"What is 2+2?",
		"Refactor this function: ```func f() {}```",
		strings.Repeat("analyze ", 50),
	}
	suffixes := []string{"prove", " derive it", " step by step", " and explain why", "reason"}

	for _, base := range bases {
		content := base
		prev := a.Score([]core.Message{user(content)})
		for i := 0; i < 40; i++ {
			content += suffixes[i%len(suffixes)]
			cur := a.Score([]core.Message{user(content)})
			if cur < prev {
				t.Fatalf("score decreased from %v to %v after appending to %q", prev, cur, base)
			}
			if cur < 0 || cur > 1 {
				t.Fatalf("score %v out of range", cur)
			}
			prev = cur
		}
	}
}

func TestScore_AlwaysInRange(t *testing.T) {
	a := New()
	huge := strings.Repeat("prove derive ```code``` integral matrix theorem ", 500)
	messages := make([]core.Message, 50)
	for i := range messages {
		messages[i] = user(huge)
	}
	score := a.Score(messages)
	assert.LessOrEqual(t, score, 1.0)
	assert.InDelta(t, 1.0, score, 1e-9)
}
