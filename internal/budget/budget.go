// Package budget estimates prompt size and trims chat history so a composed
// prompt fits a model's context window. Token counts use a character
// heuristic (1 token ≈ 4 characters) because the selectable models do not
// share a tokenizer.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role/framing tokens chat APIs add
	// to every message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default input budget. Four retrieved
	// chunks of 1000 characters cost roughly 1000 tokens, leaving the rest
	// for history on the smallest allow-listed model.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs,
// summing role, content, and per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Exceeds reports whether msgs alone are over maxTokens.
func Exceeds(msgs []*schema.Message, maxTokens int) bool {
	return EstimateMessages(msgs) > maxTokens
}

// TrimHistory drops the oldest history messages until fixed + history fits
// within maxTokens. fixed holds messages that are never dropped (system
// instructions, retrieved context, the current question).
//
// After trimming, a leading assistant message is also dropped so the
// replayed history always opens with a user turn. If fixed alone exceeds the
// budget the result is empty; callers decide whether to warn.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)
	trimmed := false
	for len(history) > 0 && fixedTokens+EstimateMessages(history) > maxTokens {
		history = history[1:]
		trimmed = true
	}
	if trimmed {
		for len(history) > 0 && history[0].Role == schema.Assistant {
			history = history[1:]
		}
	}
	return history
}
