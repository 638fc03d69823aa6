// Package complexity scores how demanding a conversation is from its content.
package complexity

import (
	"strings"
	"unicode/utf8"

	"stratumai/internal/core"
)

// Signal weights. They sum to 1.0.
const (
	WeightReasoning    = 0.40
	WeightLength       = 0.20
	WeightCode         = 0.20
	WeightMessageCount = 0.10
	WeightMath         = 0.10
)

const (
	lengthScale       = 2000
	messageCountScale = 10
)

var reasoningPatterns = []string{
	"analyze",
	"analyse",
	"compare",
	"evaluate",
	"explain why",
	"prove",
	"derive",
	"step by step",
	"reason",
	"justify",
	"deduce",
	"implication",
	"trade-off",
	"think through",
}

var codePatterns = []string{
	"```",
	"func ",
	"def ",
	"class ",
	"import ",
	"return ",
	"function",
	"=>",
	"#include",
	"select ",
	"stack trace",
	"compile",
}

var mathPatterns = []string{
	"equation",
	"integral",
	"derivative",
	"matrix",
	"theorem",
	"probability",
	"calculate",
	"solve",
	"lemma",
	"√",
	"∑",
	"∫",
}

// Breakdown reports each weighted signal before summation.
type Breakdown struct {
	Reasoning    float64 `json:"reasoning"`
	Length       float64 `json:"length"`
	Code         float64 `json:"code"`
	MessageCount float64 `json:"message_count"`
	Math         float64 `json:"math"`
	Score        float64 `json:"score"`
}

// Analyzer scores conversations. The zero value is ready to use.
type Analyzer struct{}

// New returns an Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Score returns the complexity of messages in [0,1].
func (a *Analyzer) Score(messages []core.Message) float64 {
	return a.Analyze(messages).Score
}

// Analyze returns the per-signal contributions and the capped total.
//
// Pattern signals count every case-insensitive occurrence of every pattern in
// the category, divided by the category size and capped at 1. Adding text can
// only add occurrences, so appending content never lowers the score.
func (a *Analyzer) Analyze(messages []core.Message) Breakdown {
	text := core.ConversationText(messages)
	lower := strings.ToLower(text)

	b := Breakdown{
		Reasoning:    WeightReasoning * density(lower, reasoningPatterns),
		Length:       WeightLength * capped(float64(utf8.RuneCountInString(text))/lengthScale),
		Code:         WeightCode * density(lower, codePatterns),
		MessageCount: WeightMessageCount * capped(float64(len(messages))/messageCountScale),
		Math:         WeightMath * density(lower, mathPatterns),
	}
	b.Score = capped(b.Reasoning + b.Length + b.Code + b.MessageCount + b.Math)
	return b
}

func density(text string, patterns []string) float64 {
	matched := 0
	for _, p := range patterns {
		matched += strings.Count(text, p)
	}
	return capped(float64(matched) / float64(len(patterns)))
}

func capped(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
