package ask

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/internal/metrics"
	"github.com/BaSui01/askflow/llm"
	"github.com/BaSui01/askflow/llm/factory"
	"github.com/BaSui01/askflow/llm/tokenizer"
	"github.com/BaSui01/askflow/memory"
	"github.com/BaSui01/askflow/persistence"
	"github.com/BaSui01/askflow/types"
)

const (
	defaultFeature      = "ask"
	defaultHistoryLimit = 30
	anonymousUser       = "anonymous"
)

// Request is one ask invocation. It is immutable once handed to Ask and
// owned by that single in-flight orchestration.
type Request struct {
	// Text is the user's question. Empty or whitespace-only text is
	// rejected before any side effect.
	Text string

	// Image optionally attaches visual context. When nil and a screen
	// capturer is configured, the orchestrator captures one itself.
	Image     []byte
	ImageMIME string

	// Provider selects the backend by name ("openai", "anthropic", ...).
	Provider string

	// UserID scopes session persistence. Falls back to the context user
	// id, then to "anonymous".
	UserID string

	// Params carries the generation knobs for this request.
	Params llm.Params

	// History overrides the history collaborator when non-nil.
	History []types.Message
}

// Result is the synchronous outcome of one ask, returned after the stream
// has fully completed. Incremental progress goes through the Notifier.
type Result struct {
	Success      bool              `json:"success"`
	Response     string            `json:"response,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorCode    types.ErrorCode   `json:"error_code,omitempty"`
	PersistError string            `json:"persist_error,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	Usage        *types.TokenUsage `json:"usage,omitempty"`
}

// ProviderFactory constructs the streaming adapter for a request. The llm
// factory satisfies it.
type ProviderFactory interface {
	Provider(ctx context.Context, name string, mode factory.Mode, opts factory.Options) (llm.Provider, error)
}

// Orchestrator drives one request through capture, dispatch, streaming and
// saving. One instance serves one logical session: calls on the same
// instance must be serialized by the caller, while independent sessions get
// independent instances.
type Orchestrator struct {
	factory      ProviderFactory
	store        persistence.SessionStore
	window       *memory.Window
	notifier     Notifier
	capturer     ScreenCapturer
	history      HistoryProvider
	prompter     Prompter
	collector    *metrics.Collector
	logger       *zap.Logger
	feature      string
	historyLimit int

	state State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the UI boundary. Defaults to a no-op.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithSessionStore enables exchange persistence and, unless a history
// provider is set explicitly, store-backed history.
func WithSessionStore(s persistence.SessionStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithWindow sets the per-session conversation memory handed to adapters.
func WithWindow(w *memory.Window) Option {
	return func(o *Orchestrator) { o.window = w }
}

// WithScreenCapturer enables best-effort screenshot context.
func WithScreenCapturer(c ScreenCapturer) Option {
	return func(o *Orchestrator) { o.capturer = c }
}

// WithHistoryProvider sets the history source explicitly.
func WithHistoryProvider(h HistoryProvider) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithPrompter sets the system-prompt builder.
func WithPrompter(p Prompter) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.prompter = p
		}
	}
}

// WithMetrics wires the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithFeature scopes session lookup. Defaults to "ask".
func WithFeature(feature string) Option {
	return func(o *Orchestrator) {
		if feature != "" {
			o.feature = feature
		}
	}
}

// WithHistoryLimit caps the turns loaded from history. Defaults to 30.
func WithHistoryLimit(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.historyLimit = limit
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an Orchestrator around a provider factory.
func New(f ProviderFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		factory:      f,
		notifier:     noopNotifier{},
		prompter:     StaticPrompter(DefaultSystemPrompt),
		logger:       zap.NewNop(),
		feature:      defaultFeature,
		historyLimit: defaultHistoryLimit,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.history == nil && o.store != nil {
		o.history = NewStoreHistory(o.store, o.logger)
	}
	o.logger = o.logger.With(zap.String("component", "ask"))
	return o
}

// State returns the current pipeline state.
func (o *Orchestrator) State() State { return o.state }

// transition moves to the next state, recording the edge. Transitions are
// driven only by Ask's linear flow, so an illegal move is a programming
// error worth a loud log rather than a panic.
func (o *Orchestrator) transition(to State) {
	if !CanTransition(o.state, to) {
		o.logger.Error("illegal state transition",
			zap.String("from", string(o.state)),
			zap.String("to", string(to)))
	}
	o.collector.RecordStateTransition(string(o.state), string(to))
	o.state = to
}

// Ask runs the full pipeline for one request and returns after the stream
// has terminated. Credential overrides travel in ctx (llm package);
// cancelling ctx tears down the provider stream and skips saving.
func (o *Orchestrator) Ask(ctx context.Context, req Request) Result {
	started := time.Now()
	o.state = StateIdle

	if strings.TrimSpace(req.Text) == "" {
		err := types.NewError(types.ErrEmptyInput, "ask text is empty")
		o.transition(StateAborted)
		o.recordAsk(req.Provider, "error", started)
		return failure(err)
	}

	o.transition(StateCapturingContext)
	o.notifier.HideInput()

	image, imageMIME := req.Image, req.ImageMIME
	if len(image) == 0 && o.capturer != nil {
		data, mime, err := o.capturer.Capture(ctx)
		if err != nil {
			o.logger.Warn("screen capture failed, continuing without image", zap.Error(err))
		} else {
			image, imageMIME = data, mime
		}
	}

	userID := o.resolveUserID(ctx, req)
	feature := o.resolveFeature(ctx)
	history := req.History
	if history == nil && o.history != nil {
		turns, err := o.history.History(ctx, userID, feature, o.historyLimit)
		if err != nil {
			o.logger.Warn("history unavailable, continuing without it", zap.Error(err))
		} else {
			history = turns
		}
	}
	if len(history) > o.historyLimit {
		history = history[len(history)-o.historyLimit:]
	}

	messages := o.buildMessages(ctx, req.Text, image, imageMIME, history)

	o.transition(StateDispatched)
	overrides, _ := llm.CredentialOverridesFromContext(ctx)
	provider, err := o.factory.Provider(ctx, req.Provider, factory.ModeStreamingLLM, factory.Options{
		Overrides: overrides,
		Params:    req.Params,
		Window:    o.window,
	})
	if err != nil {
		o.logger.Error("provider construction failed",
			zap.String("provider", req.Provider), zap.Error(err))
		o.transition(StateAborted)
		o.recordAsk(req.Provider, "error", started)
		return failure(err)
	}

	stream, err := provider.StreamGenerate(ctx, messages)
	if err != nil {
		o.logger.Error("stream start failed",
			zap.String("provider", provider.Name()), zap.Error(err))
		o.transition(StateAborted)
		o.recordAsk(provider.Name(), "error", started)
		return failure(err)
	}

	o.transition(StateStreaming)
	var buf strings.Builder
	var terminal *types.StreamEvent
	tokens := 0
	for ev := range stream {
		switch ev.Kind {
		case types.EventToken:
			buf.WriteString(ev.Token)
			tokens++
			o.notifier.Chunk(ev.Token)
		case types.EventEnd, types.EventError:
			ev := ev
			terminal = &ev
		}
	}
	o.collector.RecordStreamTokens(provider.Name(), tokens)

	if terminal == nil {
		// Closed without a terminal event: the stream was cancelled.
		o.logger.Info("stream cancelled",
			zap.String("provider", provider.Name()),
			zap.Int("tokens_forwarded", tokens))
		o.transition(StateAborted)
		o.recordAsk(provider.Name(), "cancelled", started)
		err := types.NewError(types.ErrStreamTransport, "stream cancelled before completion")
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = err.WithCause(ctxErr)
		}
		return failure(err)
	}

	if terminal.Kind == types.EventError {
		streamErr := terminal.Err
		if streamErr == nil {
			streamErr = types.NewError(types.ErrStreamTransport, "stream failed without detail")
		}
		o.logger.Error("stream failed",
			zap.String("provider", provider.Name()),
			zap.Int("tokens_forwarded", tokens),
			zap.Error(streamErr))
		o.transition(StateAborted)
		o.recordAsk(provider.Name(), "error", started)
		return failure(streamErr)
	}

	o.notifier.StreamEnd()
	o.transition(StateSaving)
	response := buf.String()

	var sessionID, persistErr string
	if o.store != nil {
		sessionID, persistErr = o.save(ctx, userID, feature, req.Text, response)
	}

	o.transition(StateDone)
	usage := tokenizer.EstimateUsage(req.Params.Model, messages, response)
	status := "success"
	if persistErr != "" {
		status = "partial"
	}
	o.recordAsk(provider.Name(), status, started)
	o.logger.Info("ask completed",
		zap.String("provider", provider.Name()),
		zap.String("session_id", sessionID),
		zap.Int("tokens", tokens),
		zap.Duration("elapsed", time.Since(started)))

	return Result{
		Success:      true,
		Response:     response,
		PersistError: persistErr,
		SessionID:    sessionID,
		Usage:        &usage,
	}
}

// buildMessages assembles system prompt, history and the user turn in order.
func (o *Orchestrator) buildMessages(ctx context.Context, text string, image []byte, imageMIME string, history []types.Message) []types.Message {
	messages := make([]types.Message, 0, len(history)+2)
	if sys := o.prompter.SystemPrompt(ctx); sys != "" {
		messages = append(messages, types.NewSystemMessage(sys))
	}
	for _, m := range history {
		if m.Role == types.RoleSystem {
			continue
		}
		messages = append(messages, m)
	}
	user := types.NewUserMessage(text)
	if len(image) > 0 {
		user = user.WithImage(imageMIME, image)
	}
	return append(messages, user)
}

// save writes the finished exchange as two ordered rows. The first failure
// stops the sequence so the transcript never holds an assistant turn
// without its user turn.
func (o *Orchestrator) save(ctx context.Context, userID, feature, userText, assistantText string) (string, string) {
	sessionID, err := o.store.GetOrCreateActiveSession(ctx, userID, feature)
	if err != nil {
		o.collector.RecordPersistenceFailure("session")
		o.logger.Error("session open failed", zap.Error(err))
		return "", types.NewError(types.ErrPersistence, "open session").WithCause(err).Error()
	}
	if err := o.store.AddMessage(ctx, sessionID, string(types.RoleUser), userText); err != nil {
		o.collector.RecordPersistenceFailure("message")
		o.logger.Error("user turn save failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return sessionID, types.NewError(types.ErrPersistence, "save user turn").WithCause(err).Error()
	}
	if err := o.store.AddMessage(ctx, sessionID, string(types.RoleAssistant), assistantText); err != nil {
		o.collector.RecordPersistenceFailure("message")
		o.logger.Error("assistant turn save failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return sessionID, types.NewError(types.ErrPersistence, "save assistant turn").WithCause(err).Error()
	}
	return sessionID, ""
}

func (o *Orchestrator) resolveUserID(ctx context.Context, req Request) string {
	if req.UserID != "" {
		return req.UserID
	}
	if id, ok := types.UserID(ctx); ok {
		return id
	}
	return anonymousUser
}

func (o *Orchestrator) resolveFeature(ctx context.Context) string {
	if f, ok := types.Feature(ctx); ok {
		return f
	}
	return o.feature
}

func (o *Orchestrator) recordAsk(provider, status string, started time.Time) {
	if provider == "" {
		provider = "unknown"
	}
	o.collector.RecordAsk(provider, status, time.Since(started))
}

// failure shapes a structured failed Result from a gateway error.
func failure(err error) Result {
	gwErr := types.AsError(err, types.ErrInternalError)
	msg := gwErr.Message
	if gwErr.Cause != nil {
		msg = fmt.Sprintf("%s: %s", gwErr.Message, gwErr.Cause)
	}
	return Result{
		Success:   false,
		Error:     msg,
		ErrorCode: gwErr.Code,
	}
}
