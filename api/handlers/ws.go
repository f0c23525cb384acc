package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/askflow/api"
	"github.com/BaSui01/askflow/types"
)

// WSHandler serves GET /v1/ask/ws. The client sends one AskRequest per text
// frame; the gateway answers each with chunk frames followed by exactly one
// result or error frame. Requests on one connection run sequentially.
type WSHandler struct {
	newAsker AskerFactory
	logger   *zap.Logger
}

// NewWSHandler creates a WSHandler around an orchestrator factory.
func NewWSHandler(f AskerFactory, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		newAsker: f,
		logger:   logger.With(zap.String("component", "ws_handler")),
	}
}

// HandleWS upgrades the connection and serves asks until the client goes
// away or the request context is cancelled.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error response.
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Ask payloads can carry an inline image, so the default frame limit
	// is too small.
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	wc := &wsConn{conn: conn}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				h.logger.Debug("websocket closed by client")
			} else if ctx.Err() == nil {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var req api.AskRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.writeError(ctx, wc, types.NewError(types.ErrInvalidRequest, "invalid JSON frame").WithCause(err))
			continue
		}
		if verr := validateAskRequest(&req); verr != nil {
			h.writeError(ctx, wc, verr)
			continue
		}

		notifier := &wsNotifier{ctx: ctx, conn: wc, logger: h.logger}
		res := h.newAsker(notifier).Ask(ctx, toAskRequest(&req))

		if !res.Success {
			h.writeError(ctx, wc, types.NewError(res.ErrorCode, res.Error))
			continue
		}
		if err := wc.writeFrame(ctx, api.WSFrame{Type: api.WSFrameResult, Result: toAskResponse(res)}); err != nil {
			h.logger.Debug("websocket result dropped", zap.Error(err))
			return
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, wc *wsConn, err *types.Error) {
	frame := api.WSFrame{
		Type: api.WSFrameError,
		Error: &api.ErrorDetail{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
		},
	}
	if werr := wc.writeFrame(ctx, frame); werr != nil {
		h.logger.Debug("websocket error frame dropped", zap.Error(werr))
	}
}

// wsConn serializes frame writes. Websocket connections do not support
// concurrent writes, and the notifier writes from the orchestrator
// goroutine while the handler writes the terminal frame.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeFrame(ctx context.Context, frame api.WSFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// wsNotifier forwards orchestrator progress as chunk frames.
type wsNotifier struct {
	ctx    context.Context
	conn   *wsConn
	logger *zap.Logger
}

func (n *wsNotifier) HideInput() {}

func (n *wsNotifier) Chunk(token string) {
	if err := n.conn.writeFrame(n.ctx, api.WSFrame{Type: api.WSFrameChunk, Content: token}); err != nil {
		n.logger.Debug("websocket chunk dropped", zap.Error(err))
	}
}

// StreamEnd is a no-op on the websocket path: the result frame, written
// after saving, is the terminal signal.
func (n *wsNotifier) StreamEnd() {}
