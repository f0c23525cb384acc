package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/askflow/types"
)

// MapHTTPError maps an upstream HTTP status to a types.Error with the right
// retry marker. Shared by every provider adapter.
func MapHTTPError(status int, msg, provider string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return &types.Error{
			Code:       types.ErrUnauthorized,
			Message:    msg,
			HTTPStatus: status,
			Provider:   provider,
		}
	case http.StatusForbidden:
		return &types.Error{
			Code:       types.ErrForbidden,
			Message:    msg,
			HTTPStatus: status,
			Provider:   provider,
		}
	case http.StatusNotFound:
		return &types.Error{
			Code:       types.ErrModelNotFound,
			Message:    msg,
			HTTPStatus: status,
			Provider:   provider,
		}
	case http.StatusRequestTimeout:
		return &types.Error{
			Code:       types.ErrUpstreamTimeout,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	case http.StatusTooManyRequests:
		return &types.Error{
			Code:       types.ErrRateLimited,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	case http.StatusBadRequest:
		// Some backends report exhausted quota as a plain 400.
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") ||
			strings.Contains(msgLower, "credit") ||
			strings.Contains(msgLower, "limit") {
			return &types.Error{
				Code:       types.ErrQuotaExceeded,
				Message:    msg,
				HTTPStatus: status,
				Provider:   provider,
			}
		}
		return &types.Error{
			Code:       types.ErrInvalidRequest,
			Message:    msg,
			HTTPStatus: status,
			Provider:   provider,
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &types.Error{
			Code:       types.ErrUpstreamError,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	case 529: // model overloaded, used by some backends
		return &types.Error{
			Code:       types.ErrModelOverloaded,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	default:
		return &types.Error{
			Code:       types.ErrUpstreamError,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  status >= 500,
			Provider:   provider,
		}
	}
}

// TransportError wraps a network-level failure reaching the backend.
func TransportError(err error, provider string) *types.Error {
	return &types.Error{
		Code:       types.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
		Cause:      err,
	}
}

// DecodeError wraps a malformed backend response body.
func DecodeError(err error, provider string) *types.Error {
	return &types.Error{
		Code:       types.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
		Cause:      err,
	}
}

// ReadErrorMessage extracts the error message from a response body, trying the
// common JSON error envelope first and falling back to the raw text.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 8192))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return strings.TrimSpace(string(data))
}

// OpenAI-compatible chat completion wire types, shared by every adapter that
// speaks the /v1/chat/completions dialect.

// OpenAICompatMessage is a request-side message. Content is a plain string
// for text-only messages and a []OpenAICompatContent for multimodal ones.
type OpenAICompatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content,omitempty"`
}

// OpenAICompatContent is one entry of a multimodal content array.
type OpenAICompatContent struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *OpenAICompatImgURL `json:"image_url,omitempty"`
}

// OpenAICompatImgURL carries an image reference, here always a data URL.
type OpenAICompatImgURL struct {
	URL string `json:"url"`
}

// OpenAICompatRequest is an OpenAI-compatible chat completion request.
type OpenAICompatRequest struct {
	Model       string                `json:"model"`
	Messages    []OpenAICompatMessage `json:"messages"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Temperature float32               `json:"temperature,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
}

// OpenAICompatDelta is a response-side message or streaming delta.
type OpenAICompatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// OpenAICompatChoice is a single choice in an OpenAI-compatible response.
type OpenAICompatChoice struct {
	Index        int                `json:"index"`
	FinishReason string             `json:"finish_reason,omitempty"`
	Message      *OpenAICompatDelta `json:"message,omitempty"`
	Delta        *OpenAICompatDelta `json:"delta,omitempty"`
}

// OpenAICompatUsage is the token usage block.
type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatResponse is an OpenAI-compatible chat completion response,
// both the full and the streaming-chunk form.
type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
	Created int64                `json:"created,omitempty"`
}

// ConvertMessages translates normalized messages into OpenAI-compatible wire
// messages. When includeImages is false, image parts are dropped and only the
// text survives; the request still goes through.
func ConvertMessages(msgs []types.Message, includeImages bool) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, 0, len(msgs))
	for _, m := range msgs {
		if includeImages && m.HasImage() {
			parts := make([]OpenAICompatContent, 0, len(m.Parts))
			for _, p := range m.Parts {
				if p.IsImage() {
					parts = append(parts, OpenAICompatContent{
						Type:     "image_url",
						ImageURL: &OpenAICompatImgURL{URL: DataURL(p.Image)},
					})
					continue
				}
				if p.Text != "" {
					parts = append(parts, OpenAICompatContent{Type: "text", Text: p.Text})
				}
			}
			out = append(out, OpenAICompatMessage{Role: string(m.Role), Content: parts})
			continue
		}
		out = append(out, OpenAICompatMessage{Role: string(m.Role), Content: m.Text()})
	}
	return out
}

// DataURL encodes inline image bytes as a base64 data URL.
func DataURL(img *types.ImageData) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// ChooseModel returns the first non-empty of the requested, configured and
// fallback model ids.
func ChooseModel(requested, configured, fallback string) string {
	if requested != "" {
		return requested
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// BearerTokenHeaders is the standard Bearer auth header builder used by
// providers without custom header needs.
func BearerTokenHeaders(r *http.Request, apiKey string) {
	r.Header.Set("Authorization", "Bearer "+apiKey)
	r.Header.Set("Content-Type", "application/json")
}

// Send delivers one event unless ctx is cancelled first. It reports whether
// the event was delivered; stream loops stop on false.
func Send(ctx context.Context, ch chan<- types.StreamEvent, ev types.StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- ev:
		return true
	}
}
