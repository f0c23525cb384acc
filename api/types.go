package api

import (
	"github.com/BaSui01/askflow/types"
)

// AskRequest is the body of POST /v1/ask and POST /v1/ask/stream. The same
// shape rides the websocket endpoint, one request per text frame.
//
// Credential material never travels in the request body; the gateway
// resolves provider secrets from its own configuration and environment.
type AskRequest struct {
	// Text is the user's question. Required.
	Text string `json:"text"`

	// Provider selects the backend by name ("openai", "anthropic",
	// "gemini", ...). Empty uses the gateway default.
	Provider string `json:"provider,omitempty"`

	// UserID scopes session persistence. Empty falls back to the
	// authenticated user, then to "anonymous".
	UserID string `json:"user_id,omitempty"`

	// Image optionally attaches visual context, base64-encoded in JSON.
	Image     []byte `json:"image,omitempty"`
	ImageMIME string `json:"image_mime,omitempty"`

	// Generation knobs. Zero values use the gateway defaults.
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// History overrides the stored conversation history when non-nil.
	History []HistoryTurn `json:"history,omitempty"`
}

// HistoryTurn is one prior conversation turn supplied by the caller.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskResponse is the synchronous outcome of one ask, returned after the
// provider stream has fully completed.
type AskResponse struct {
	Success      bool              `json:"success"`
	Response     string            `json:"response,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	PersistError string            `json:"persist_error,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	Usage        *types.TokenUsage `json:"usage,omitempty"`
}

// StreamChunk is one SSE data line on the streaming endpoint. Every
// provider's native framing is normalized to this shape:
//
//	data: {"choices":[{"delta":{"content":"<token>"}}]}
//
// followed by a final "data: [DONE]" line.
type StreamChunk struct {
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice carries the delta for one choice. The gateway always emits
// exactly one choice per chunk.
type StreamChoice struct {
	Delta Delta `json:"delta"`
}

// Delta is the incremental content of one stream chunk.
type Delta struct {
	Content string `json:"content"`
}

// NewStreamChunk wraps one token in the normalized chunk shape.
func NewStreamChunk(token string) StreamChunk {
	return StreamChunk{Choices: []StreamChoice{{Delta: Delta{Content: token}}}}
}

// Websocket frame types. The client sends AskRequest JSON in text frames;
// the server answers with a sequence of chunk frames followed by exactly
// one result or error frame per request.
const (
	WSFrameChunk  = "chunk"
	WSFrameResult = "result"
	WSFrameError  = "error"
)

// WSFrame is one server-to-client websocket message.
type WSFrame struct {
	Type    string       `json:"type"`
	Content string       `json:"content,omitempty"`
	Result  *AskResponse `json:"result,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the wire form of a gateway error.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
