package llm

import (
	"context"

	"github.com/BaSui01/askflow/types"
)

// Capability flags what a provider adapter can do. Adapters declare their
// capabilities at construction; the factory consults the static provider
// table, not a live adapter, when deciding whether a requested mode is
// servable.
type Capability uint8

const (
	// CapGenerate marks support for synchronous text generation.
	CapGenerate Capability = 1 << iota
	// CapStream marks support for incremental token streaming.
	CapStream
	// CapVision marks support for inline image parts in user messages.
	CapVision
	// CapTranscribe marks support for speech-to-text transcription.
	CapTranscribe
)

// Has reports whether every bit in want is set.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Params carries the per-request generation knobs resolved for the active
// provider. Zero values mean "let the adapter pick its default".
type Params struct {
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Provider is the uniform adapter contract every backend implements.
// Implementations resolve credentials once at construction and keep them for
// the adapter's lifetime; per-call state is limited to the message list and
// the context deadline.
type Provider interface {
	// Generate performs a synchronous completion and returns the full
	// response text.
	Generate(ctx context.Context, messages []types.Message) (string, error)

	// StreamGenerate starts a streaming completion. The returned channel
	// carries zero or more Token events followed by exactly one terminal
	// End or Error event, then closes. Cancelling ctx tears down the
	// underlying provider stream and closes the channel without a
	// terminal event.
	StreamGenerate(ctx context.Context, messages []types.Message) (<-chan types.StreamEvent, error)

	// Name returns the provider identifier used for registry and factory
	// lookup, e.g. "openai".
	Name() string

	// Capabilities reports what this adapter instance supports.
	Capabilities() Capability
}
