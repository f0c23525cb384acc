package tokenizer

import (
	"strings"
	"sync"

	"github.com/BaSui01/askflow/types"
)

// Per-message framing overhead in tokens (role markers and separators), and
// the trailing overhead closing a conversation. OpenAI documents these for
// its chat format; other providers are close enough for estimation.
const (
	messageOverhead      = 4
	conversationOverhead = 3
)

// Tokenizer counts tokens for one model family. Counting is best-effort:
// implementations degrade to estimation rather than failing, because the
// counts feed metrics and usage reporting, not billing.
type Tokenizer interface {
	// Count returns the token count of a text fragment.
	Count(text string) int
	// CountMessages returns the total for a message list including framing
	// overhead. Image parts are not counted.
	CountMessages(msgs []types.Message) int
	// MaxContext returns the model's context window size in tokens.
	MaxContext() int
	// Name identifies the counting scheme.
	Name() string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Tokenizer)
)

// Register binds a tokenizer to a model name or prefix, overriding the
// built-in selection. Later registrations win.
func Register(model string, t Tokenizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[model] = t
}

// lookup finds a registered tokenizer by exact match, then by the longest
// matching prefix.
func lookup(model string) (Tokenizer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if t, ok := registry[model]; ok {
		return t, true
	}
	var best string
	var found Tokenizer
	for prefix, t := range registry {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, found = prefix, t
		}
	}
	return found, found != nil
}

// ForModel returns the best tokenizer for a model: a registered override, a
// tiktoken encoder for the OpenAI family, or the character estimator.
func ForModel(model string) Tokenizer {
	if t, ok := lookup(model); ok {
		return t
	}
	if encoding, maxContext, ok := encodingFor(model); ok {
		return newTiktoken(model, encoding, maxContext)
	}
	return NewEstimator(model, contextFor(model))
}

// EstimateUsage fills a TokenUsage from the prompt and completion for
// providers that do not report usage on the wire.
func EstimateUsage(model string, prompt []types.Message, completion string) types.TokenUsage {
	t := ForModel(model)
	u := types.TokenUsage{
		PromptTokens:     t.CountMessages(prompt),
		CompletionTokens: t.Count(completion),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// contextSizes records known context windows for models counted by the
// estimator. Sizes matter for budget checks, not for counting itself.
var contextSizes = map[string]int{
	"claude-3-5-sonnet": 200000,
	"claude-3-5-haiku":  200000,
	"claude-3-opus":     200000,
	"gemini-2.5-flash":  1048576,
	"gemini-2.5-pro":    1048576,
	"gemini-1.5-pro":    2097152,
}

func contextFor(model string) int {
	var best string
	size := 0
	for prefix, s := range contextSizes {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, size = prefix, s
		}
	}
	return size
}
