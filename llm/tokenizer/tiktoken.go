package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/askflow/types"
)

// encodings maps OpenAI model names and prefixes to their tiktoken encoding
// and context window.
var encodings = map[string]struct {
	encoding   string
	maxContext int
}{
	"gpt-4o":        {"o200k_base", 128000},
	"gpt-4o-mini":   {"o200k_base", 128000},
	"gpt-4-turbo":   {"cl100k_base", 128000},
	"gpt-4":         {"cl100k_base", 8192},
	"gpt-3.5-turbo": {"cl100k_base", 16385},
}

// encodingFor matches exactly, then by the longest prefix, so that
// "gpt-4o-mini-2024-07-18" resolves to gpt-4o-mini rather than gpt-4.
func encodingFor(model string) (string, int, bool) {
	if info, ok := encodings[model]; ok {
		return info.encoding, info.maxContext, true
	}
	var best string
	var encoding string
	maxContext := 0
	for prefix, info := range encodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, encoding, maxContext = prefix, info.encoding, info.maxContext
		}
	}
	return encoding, maxContext, best != ""
}

// Tiktoken counts with the real BPE vocabulary. Loading an encoding can
// fail when the library has to fetch an uncached vocabulary; the counter
// then degrades to the character estimator instead of erroring.
type Tiktoken struct {
	model      string
	encoding   string
	maxContext int

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback *Estimator
}

func newTiktoken(model, encoding string, maxContext int) *Tiktoken {
	return &Tiktoken{model: model, encoding: encoding, maxContext: maxContext}
}

func (t *Tiktoken) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.fallback = NewEstimator(t.model, t.maxContext)
			return
		}
		t.enc = enc
	})
}

// Count returns the token count of a text fragment.
func (t *Tiktoken) Count(text string) int {
	t.init()
	if t.enc == nil {
		return t.fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages returns the total for a message list including framing
// overhead.
func (t *Tiktoken) CountMessages(msgs []types.Message) int {
	t.init()
	if t.enc == nil {
		return t.fallback.CountMessages(msgs)
	}
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += len(t.enc.Encode(string(m.Role), nil, nil))
		total += len(t.enc.Encode(m.Text(), nil, nil))
	}
	return total + conversationOverhead
}

// MaxContext returns the model's context window size in tokens.
func (t *Tiktoken) MaxContext() int { return t.maxContext }

// Name identifies the counting scheme.
func (t *Tiktoken) Name() string { return fmt.Sprintf("tiktoken[%s]", t.encoding) }
