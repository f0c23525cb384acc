package tokenizer

import "github.com/BaSui01/askflow/types"

// Estimator approximates token counts from character classes. CJK text runs
// about 1.5 characters per token while Latin text runs about 4, so a naive
// len/4 badly undercounts mixed Chinese prompts.
type Estimator struct {
	model      string
	maxContext int
}

// NewEstimator creates an estimator for a model. maxContext 0 falls back to
// a conservative 4096.
func NewEstimator(model string, maxContext int) *Estimator {
	if maxContext <= 0 {
		maxContext = 4096
	}
	return &Estimator{model: model, maxContext: maxContext}
}

// Count returns the estimated token count of a text fragment. Non-empty
// text always counts at least one token.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	total, cjk := 0, 0
	for _, r := range text {
		total++
		if isCJK(r) {
			cjk++
		}
	}
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

// CountMessages returns the estimated total for a message list including
// framing overhead.
func (e *Estimator) CountMessages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += e.Count(string(m.Role))
		total += e.Count(m.Text())
	}
	return total + conversationOverhead
}

// MaxContext returns the model's context window size in tokens.
func (e *Estimator) MaxContext() int { return e.maxContext }

// Name identifies the counting scheme.
func (e *Estimator) Name() string { return "estimator" }

// isCJK reports whether the rune falls in a CJK block.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
