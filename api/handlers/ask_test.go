package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/askflow/api"
	"github.com/BaSui01/askflow/ask"
	"github.com/BaSui01/askflow/types"
)

// ---------- test doubles ----------

type mockAsker struct {
	askFunc func(ctx context.Context, req ask.Request) ask.Result
}

func (m *mockAsker) Ask(ctx context.Context, req ask.Request) ask.Result {
	return m.askFunc(ctx, req)
}

// staticFactory returns the same asker regardless of notifier.
func staticFactory(m *mockAsker) AskerFactory {
	return func(_ ask.Notifier) Asker { return m }
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

// decodeData re-marshals the envelope's Data into dst.
func decodeData(t *testing.T, resp Response, dst any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func postAsk(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// ---------- synchronous ask ----------

func TestHandleAsk_Success(t *testing.T) {
	var seen ask.Request
	asker := &mockAsker{askFunc: func(_ context.Context, req ask.Request) ask.Result {
		seen = req
		return ask.Result{
			Success:   true,
			Response:  "The capital of France is Paris.",
			SessionID: "sess-42",
			Usage:     &types.TokenUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
		}
	}}
	h := NewAskHandler(staticFactory(asker), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleAsk(w, postAsk(`{"text":"capital of France?","provider":"openai","model":"gpt-4o","temperature":0.5,"max_tokens":256}`))

	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeEnvelope(t, w.Body)
	assert.True(t, resp.Success)
	require.Nil(t, resp.Error)

	var data api.AskResponse
	decodeData(t, resp, &data)
	assert.True(t, data.Success)
	assert.Equal(t, "The capital of France is Paris.", data.Response)
	assert.Equal(t, "sess-42", data.SessionID)
	require.NotNil(t, data.Usage)
	assert.Equal(t, 20, data.Usage.TotalTokens)

	assert.Equal(t, "capital of France?", seen.Text)
	assert.Equal(t, "openai", seen.Provider)
	assert.Equal(t, "gpt-4o", seen.Params.Model)
	assert.InDelta(t, 0.5, float64(seen.Params.Temperature), 0.001)
	assert.Equal(t, 256, seen.Params.MaxTokens)
}

func TestHandleAsk_Validation(t *testing.T) {
	asker := &mockAsker{askFunc: func(context.Context, ask.Request) ask.Result {
		t.Fatal("orchestrator must not run on invalid input")
		return ask.Result{}
	}}
	h := NewAskHandler(staticFactory(asker), zap.NewNop())

	tests := []struct {
		name     string
		body     string
		wantCode types.ErrorCode
	}{
		{"empty text", `{"text":""}`, types.ErrEmptyInput},
		{"whitespace text", `{"text":"   \n\t "}`, types.ErrEmptyInput},
		{"temperature too high", `{"text":"hi","temperature":2.5}`, types.ErrInvalidRequest},
		{"negative temperature", `{"text":"hi","temperature":-0.1}`, types.ErrInvalidRequest},
		{"negative max tokens", `{"text":"hi","max_tokens":-1}`, types.ErrInvalidRequest},
		{"image without mime", `{"text":"hi","image":"aGVsbG8="}`, types.ErrInvalidRequest},
		{"bad history role", `{"text":"hi","history":[{"role":"tool","content":"x"}]}`, types.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleAsk(w, postAsk(tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeEnvelope(t, w.Body)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
		})
	}
}

func TestHandleAsk_MethodNotAllowed(t *testing.T) {
	h := NewAskHandler(staticFactory(&mockAsker{}), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleAsk(w, httptest.NewRequest(http.MethodGet, "/v1/ask", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleAsk_WrongContentType(t *testing.T) {
	h := NewAskHandler(staticFactory(&mockAsker{}), zap.NewNop())

	r := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"text":"hi"}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.HandleAsk(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAsk_InvalidJSON(t *testing.T) {
	h := NewAskHandler(staticFactory(&mockAsker{}), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleAsk(w, postAsk(`{"text":`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeEnvelope(t, w.Body)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestHandleAsk_OrchestratorFailure(t *testing.T) {
	tests := []struct {
		name       string
		code       types.ErrorCode
		wantStatus int
	}{
		{"unknown provider", types.ErrUnsupportedProvider, http.StatusNotFound},
		{"missing credential", types.ErrMissingCredential, http.StatusServiceUnavailable},
		{"stream transport", types.ErrStreamTransport, http.StatusBadGateway},
		{"upstream timeout", types.ErrUpstreamTimeout, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asker := &mockAsker{askFunc: func(context.Context, ask.Request) ask.Result {
				return ask.Result{Success: false, Error: "it broke", ErrorCode: tt.code}
			}}
			h := NewAskHandler(staticFactory(asker), zap.NewNop())

			w := httptest.NewRecorder()
			h.HandleAsk(w, postAsk(`{"text":"hi"}`))

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeEnvelope(t, w.Body)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, "it broke", resp.Error.Message)
		})
	}
}

func TestHandleAsk_HistoryConversion(t *testing.T) {
	var seen ask.Request
	asker := &mockAsker{askFunc: func(_ context.Context, req ask.Request) ask.Result {
		seen = req
		return ask.Result{Success: true, Response: "ok"}
	}}
	h := NewAskHandler(staticFactory(asker), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleAsk(w, postAsk(`{"text":"and now?","history":[{"role":"user","content":"first"},{"role":"assistant","content":"second"}]}`))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, seen.History, 2)
	assert.Equal(t, types.RoleUser, seen.History[0].Role)
	assert.Equal(t, "first", seen.History[0].Text())
	assert.Equal(t, types.RoleAssistant, seen.History[1].Role)
	assert.Equal(t, "second", seen.History[1].Text())
}

func TestHandleAsk_HistoryNilVsEmpty(t *testing.T) {
	var seen ask.Request
	asker := &mockAsker{askFunc: func(_ context.Context, req ask.Request) ask.Result {
		seen = req
		return ask.Result{Success: true}
	}}
	h := NewAskHandler(staticFactory(asker), zap.NewNop())

	// Omitted history keeps the stored conversation.
	w := httptest.NewRecorder()
	h.HandleAsk(w, postAsk(`{"text":"hi"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, seen.History)

	// An explicit empty history clears it for this request.
	w = httptest.NewRecorder()
	h.HandleAsk(w, postAsk(`{"text":"hi","history":[]}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, seen.History)
	assert.Empty(t, seen.History)
}

// ---------- SSE streaming ----------

func TestHandleStream_Success(t *testing.T) {
	factory := func(n ask.Notifier) Asker {
		return &mockAsker{askFunc: func(context.Context, ask.Request) ask.Result {
			n.Chunk("Hello")
			n.Chunk(" world")
			n.StreamEnd()
			return ask.Result{Success: true, Response: "Hello world", SessionID: "sess-7"}
		}}
	}
	h := NewAskHandler(factory, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", strings.NewReader(`{"text":"hi"}`))
	r.Header.Set("Content-Type", "application/json")
	h.HandleStream(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	body := w.Body.String()
	assert.Contains(t, body, `data: {"choices":[{"delta":{"content":"Hello"}}]}`)
	assert.Contains(t, body, `data: {"choices":[{"delta":{"content":" world"}}]}`)
	assert.Contains(t, body, "data: [DONE]\n\n")

	// [DONE] terminates the stream, after every chunk.
	doneAt := strings.Index(body, "data: [DONE]")
	lastChunkAt := strings.LastIndex(body, `" world"`)
	assert.Greater(t, doneAt, lastChunkAt)
}

func TestHandleStream_FailureEmitsErrorEvent(t *testing.T) {
	factory := func(n ask.Notifier) Asker {
		return &mockAsker{askFunc: func(context.Context, ask.Request) ask.Result {
			n.Chunk("partial")
			return ask.Result{
				Success:   false,
				Error:     `connection "reset" mid-stream`,
				ErrorCode: types.ErrStreamTransport,
			}
		}}
	}
	h := NewAskHandler(factory, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", strings.NewReader(`{"text":"hi"}`))
	r.Header.Set("Content-Type", "application/json")
	h.HandleStream(w, r)

	body := w.Body.String()

	// Tokens forwarded before the failure stay forwarded.
	assert.Contains(t, body, `data: {"choices":[{"delta":{"content":"partial"}}]}`)
	assert.NotContains(t, body, "data: [DONE]")

	assert.Contains(t, body, "event: error\n")
	_, payload, found := strings.Cut(body, "event: error\ndata: ")
	require.True(t, found)
	payload = strings.TrimSpace(payload)

	var evt struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal([]byte(payload), &evt), "error payload must stay valid JSON even when the message has quotes")
	assert.Equal(t, `connection "reset" mid-stream`, evt.Error)
	assert.Equal(t, string(types.ErrStreamTransport), evt.Code)
}

func TestHandleStream_ValidationBeforeStream(t *testing.T) {
	h := NewAskHandler(staticFactory(&mockAsker{}), zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", strings.NewReader(`{"text":""}`))
	r.Header.Set("Content-Type", "application/json")
	h.HandleStream(w, r)

	// Rejected as plain JSON before any SSE header goes out.
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	resp := decodeEnvelope(t, w.Body)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrEmptyInput), resp.Error.Code)
}

func TestHandleStream_MethodNotAllowed(t *testing.T) {
	h := NewAskHandler(staticFactory(&mockAsker{}), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleStream(w, httptest.NewRequest(http.MethodGet, "/v1/ask/stream", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// ---------- wire conversion ----------

func TestToAskResponse(t *testing.T) {
	res := ask.Result{
		Success:      true,
		Response:     "answer",
		PersistError: "redis down",
		SessionID:    "sess-9",
		Usage:        &types.TokenUsage{TotalTokens: 5},
	}

	out := toAskResponse(res)
	assert.True(t, out.Success)
	assert.Equal(t, "answer", out.Response)
	assert.Equal(t, "redis down", out.PersistError)
	assert.Equal(t, "sess-9", out.SessionID)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 5, out.Usage.TotalTokens)
}
