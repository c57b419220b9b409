// Package budget provides token budget estimation for the answer prompt.
// Because bookqa supports multiple LLM backends with different tokenizers,
// it uses a conservative character-based heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost in most chat APIs.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default prompt budget in tokens. It fits
	// 8k-context models while leaving room for the answer.
	// Override via MODEL_MAX_CONTEXT_TOKENS.
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

// EstimateMessages returns the estimated total token count for msgs, summing
// role and content plus per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitChunks returns how many of the rank-ordered chunks fit alongside a
// prompt that already costs fixedTokens, dropping from the lowest rank.
// The top-ranked chunk is always kept so a question never goes to the model
// without context.
func FitChunks(fixedTokens int, chunks []string, maxTokens int) int {
	if len(chunks) == 0 {
		return 0
	}
	used := fixedTokens
	for i, c := range chunks {
		used += Estimate(c)
		if used > maxTokens {
			return max(i, 1)
		}
	}
	return len(chunks)
}
