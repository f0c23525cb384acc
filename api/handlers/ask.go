package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/askflow/api"
	"github.com/BaSui01/askflow/ask"
	"github.com/BaSui01/askflow/llm"
	"github.com/BaSui01/askflow/types"
	"go.uber.org/zap"
)

// Asker runs one ask to completion. ask.Orchestrator satisfies it.
type Asker interface {
	Ask(ctx context.Context, req ask.Request) ask.Result
}

// AskerFactory builds an orchestrator bound to the given notifier. One
// orchestrator instance serves one in-flight ask, so every request gets a
// fresh one. A nil notifier means the caller does not want incremental
// progress.
type AskerFactory func(n ask.Notifier) Asker

// AskHandler serves the synchronous and SSE ask endpoints.
type AskHandler struct {
	newAsker AskerFactory
	logger   *zap.Logger
}

// NewAskHandler creates an AskHandler around an orchestrator factory.
func NewAskHandler(f AskerFactory, logger *zap.Logger) *AskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AskHandler{
		newAsker: f,
		logger:   logger.With(zap.String("component", "ask_handler")),
	}
}

// HandleAsk serves POST /v1/ask. The response is written after the provider
// stream has fully completed and the exchange has been saved.
func (h *AskHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.AskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateAskRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	started := time.Now()
	res := h.newAsker(nil).Ask(r.Context(), toAskRequest(&req))

	if !res.Success {
		WriteError(w, types.NewError(res.ErrorCode, res.Error), h.logger)
		return
	}

	h.logger.Info("ask completed",
		zap.String("provider", req.Provider),
		zap.String("session_id", res.SessionID),
		zap.Duration("duration", time.Since(started)),
	)

	requestID, _ := types.RequestID(r.Context())
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      toAskResponse(res),
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// HandleStream serves POST /v1/ask/stream. Tokens are forwarded as SSE data
// lines in the normalized chunk shape; the stream ends with "data: [DONE]"
// on success or an error event on failure. Tokens forwarded before a
// failure are not retracted.
func (h *AskHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.AskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateAskRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	notifier := &sseNotifier{w: w, flusher: flusher, logger: h.logger}
	res := h.newAsker(notifier).Ask(r.Context(), toAskRequest(&req))

	if !res.Success {
		// json.Marshal escapes the message so the payload stays valid JSON.
		payload, _ := json.Marshal(map[string]string{
			"error": res.Error,
			"code":  string(res.ErrorCode),
		})
		w.Write([]byte("event: error\n"))
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
		return
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// sseNotifier forwards orchestrator progress as SSE events. Writes happen
// from the orchestrator goroutine only, in token order.
type sseNotifier struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *zap.Logger
}

func (n *sseNotifier) HideInput() {}

func (n *sseNotifier) Chunk(token string) {
	payload, err := json.Marshal(api.NewStreamChunk(token))
	if err != nil {
		n.logger.Error("failed to encode stream chunk", zap.Error(err))
		return
	}
	n.w.Write([]byte("data: "))
	n.w.Write(payload)
	n.w.Write([]byte("\n\n"))
	n.flusher.Flush()
}

// StreamEnd is a no-op on the SSE path: the terminal [DONE] line is written
// only after the exchange has been saved, by the handler itself.
func (n *sseNotifier) StreamEnd() {}

// validateAskRequest rejects requests the orchestrator would refuse anyway,
// before any side effect, plus wire-level mistakes the orchestrator never
// sees.
func validateAskRequest(req *api.AskRequest) *types.Error {
	if strings.TrimSpace(req.Text) == "" {
		return types.NewError(types.ErrEmptyInput, "text is required")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}
	if req.MaxTokens < 0 {
		return types.NewError(types.ErrInvalidRequest, "max_tokens must not be negative")
	}
	if len(req.Image) > 0 && req.ImageMIME == "" {
		return types.NewError(types.ErrInvalidRequest, "image_mime is required when image is set")
	}
	for _, turn := range req.History {
		switch types.Role(turn.Role) {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant:
		default:
			return types.NewError(types.ErrInvalidRequest, "history role must be system, user or assistant")
		}
	}
	return nil
}

// toAskRequest converts the wire request into the orchestrator's form. A
// nil history keeps the stored conversation; an explicit empty one clears
// it for this request.
func toAskRequest(req *api.AskRequest) ask.Request {
	var history []types.Message
	if req.History != nil {
		history = make([]types.Message, 0, len(req.History))
		for _, turn := range req.History {
			history = append(history, types.NewMessage(types.Role(turn.Role), turn.Content))
		}
	}

	return ask.Request{
		Text:      req.Text,
		Image:     req.Image,
		ImageMIME: req.ImageMIME,
		Provider:  req.Provider,
		UserID:    req.UserID,
		Params: llm.Params{
			Model:       req.Model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
		History: history,
	}
}

// toAskResponse converts the orchestrator result into the wire form.
func toAskResponse(res ask.Result) *api.AskResponse {
	return &api.AskResponse{
		Success:      res.Success,
		Response:     res.Response,
		Error:        res.Error,
		ErrorCode:    string(res.ErrorCode),
		PersistError: res.PersistError,
		SessionID:    res.SessionID,
		Usage:        res.Usage,
	}
}
