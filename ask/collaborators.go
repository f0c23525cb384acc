package ask

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/persistence"
	"github.com/BaSui01/askflow/types"
)

// Notifier is the outbound UI boundary. The orchestrator pushes progress
// through it and never reads back; implementations must return promptly or
// buffer internally, because a stalled notifier stalls the stream loop.
type Notifier interface {
	// HideInput signals that the request was accepted and any transient
	// input affordance should disappear.
	HideInput()

	// Chunk delivers one token. Tokens arrive in stream order, at least
	// once.
	Chunk(token string)

	// StreamEnd signals that the stream completed cleanly. It does not
	// fire for errored or cancelled streams.
	StreamEnd()
}

// noopNotifier stands in when the caller supplies none.
type noopNotifier struct{}

func (noopNotifier) HideInput()   {}
func (noopNotifier) Chunk(string) {}
func (noopNotifier) StreamEnd()   {}

// ScreenCapturer grabs the current screen for visual context. Capture
// failures degrade the request to text-only; they never abort it.
type ScreenCapturer interface {
	Capture(ctx context.Context) (data []byte, mimeType string, err error)
}

// HistoryProvider supplies recent conversation turns for prompt context.
type HistoryProvider interface {
	// History returns up to limit turns, oldest first.
	History(ctx context.Context, userID, feature string, limit int) ([]types.Message, error)
}

// StoreHistory reads history from the active session in a SessionStore,
// which makes persisted exchanges feed the next request's prompt.
type StoreHistory struct {
	store  persistence.SessionStore
	logger *zap.Logger
}

// NewStoreHistory creates a session-store-backed history provider.
func NewStoreHistory(store persistence.SessionStore, logger *zap.Logger) *StoreHistory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreHistory{store: store, logger: logger}
}

// History loads the active session's most recent turns. A missing session
// means a fresh conversation, not an error.
func (h *StoreHistory) History(ctx context.Context, userID, feature string, limit int) ([]types.Message, error) {
	sessionID, err := h.store.GetOrCreateActiveSession(ctx, userID, feature)
	if err != nil {
		return nil, err
	}
	stored, err := h.store.Messages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	msgs := make([]types.Message, 0, len(stored))
	for _, m := range stored {
		switch types.Role(m.Role) {
		case types.RoleUser, types.RoleAssistant:
			msgs = append(msgs, types.NewMessage(types.Role(m.Role), m.Content))
		default:
			h.logger.Debug("skipping stored turn with unknown role",
				zap.String("role", m.Role))
		}
	}
	return msgs, nil
}

// Prompter builds the system message for a request.
type Prompter interface {
	SystemPrompt(ctx context.Context) string
}

// StaticPrompter returns a fixed system prompt. The empty string produces
// no system message.
type StaticPrompter string

// SystemPrompt returns the fixed prompt text.
func (p StaticPrompter) SystemPrompt(context.Context) string { return string(p) }

// DefaultSystemPrompt keeps answers terse enough for an overlay UI.
const DefaultSystemPrompt = "You are a helpful assistant. Answer concisely and directly. " +
	"When an image is attached, describe or use what it shows."
