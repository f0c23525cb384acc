package ask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/askflow/credentials"
	"github.com/BaSui01/askflow/internal/metrics"
	"github.com/BaSui01/askflow/llm"
	"github.com/BaSui01/askflow/llm/factory"
	"github.com/BaSui01/askflow/memory"
	"github.com/BaSui01/askflow/persistence"
	"github.com/BaSui01/askflow/types"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

// fakeProvider replays a scripted event sequence and records the messages
// it was asked to stream.
type fakeProvider struct {
	name    string
	events  []types.StreamEvent
	gotMsgs []types.Message
}

func (p *fakeProvider) Generate(_ context.Context, messages []types.Message) (string, error) {
	p.gotMsgs = messages
	var b strings.Builder
	for _, ev := range p.events {
		if ev.Kind == types.EventToken {
			b.WriteString(ev.Token)
		}
	}
	return b.String(), nil
}

func (p *fakeProvider) StreamGenerate(_ context.Context, messages []types.Message) (<-chan types.StreamEvent, error) {
	p.gotMsgs = messages
	ch := make(chan types.StreamEvent, len(p.events))
	for _, ev := range p.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Name() string {
	if p.name == "" {
		return "fake"
	}
	return p.name
}

func (p *fakeProvider) Capabilities() llm.Capability { return llm.CapGenerate | llm.CapStream }

// hangingProvider emits one token, then holds the stream open until the
// context is cancelled and closes it without a terminal event.
type hangingProvider struct {
	firstToken chan struct{}
}

func (p *hangingProvider) Generate(context.Context, []types.Message) (string, error) {
	return "", nil
}

func (p *hangingProvider) StreamGenerate(ctx context.Context, _ []types.Message) (<-chan types.StreamEvent, error) {
	ch := make(chan types.StreamEvent)
	go func() {
		defer close(ch)
		ch <- types.TokenEvent("partial")
		close(p.firstToken)
		<-ctx.Done()
	}()
	return ch, nil
}

func (p *hangingProvider) Name() string                 { return "hanging" }
func (p *hangingProvider) Capabilities() llm.Capability { return llm.CapStream }

type fakeFactory struct {
	provider llm.Provider
	err      error
	calls    int
	lastName string
	lastOpts factory.Options
}

func (f *fakeFactory) Provider(_ context.Context, name string, _ factory.Mode, opts factory.Options) (llm.Provider, error) {
	f.calls++
	f.lastName = name
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

type recordingNotifier struct {
	hidden     bool
	chunks     []string
	streamEnds int
}

func (n *recordingNotifier) HideInput()       { n.hidden = true }
func (n *recordingNotifier) Chunk(tok string) { n.chunks = append(n.chunks, tok) }
func (n *recordingNotifier) StreamEnd()       { n.streamEnds++ }

// failingStore delegates everything except AddMessage, which always fails.
type failingStore struct {
	persistence.SessionStore
}

func (s *failingStore) AddMessage(context.Context, string, string, string) error {
	return errors.New("disk full")
}

type countingHistory struct {
	calls int
	turns []types.Message
}

func (h *countingHistory) History(context.Context, string, string, int) ([]types.Message, error) {
	h.calls++
	return h.turns, nil
}

type fakeCapturer struct {
	data []byte
	mime string
	err  error
}

func (c *fakeCapturer) Capture(context.Context) ([]byte, string, error) {
	return c.data, c.mime, c.err
}

func tokenEvents(tokens ...string) []types.StreamEvent {
	evs := make([]types.StreamEvent, 0, len(tokens)+1)
	for _, tok := range tokens {
		evs = append(evs, types.TokenEvent(tok))
	}
	return append(evs, types.EndEvent())
}

func newMemoryStore(t *testing.T) *persistence.MemorySessionStore {
	t.Helper()
	store := persistence.NewMemorySessionStore()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// ---------------------------------------------------------------------------
// validation and side-effect ordering
// ---------------------------------------------------------------------------

func TestAsk_EmptyInputRejectedBeforeSideEffects(t *testing.T) {
	f := &fakeFactory{provider: &fakeProvider{}}
	n := &recordingNotifier{}
	o := New(f, WithNotifier(n))

	res := o.Ask(context.Background(), Request{Text: " \t\n "})

	assert.False(t, res.Success)
	assert.Equal(t, types.ErrEmptyInput, res.ErrorCode)
	assert.False(t, n.hidden, "input must stay visible when validation fails")
	assert.Zero(t, f.calls)
	assert.Equal(t, StateAborted, o.State())
}

// ---------------------------------------------------------------------------
// happy path
// ---------------------------------------------------------------------------

func TestAsk_StreamsAndPersistsExchange(t *testing.T) {
	store := newMemoryStore(t)
	provider := &fakeProvider{events: tokenEvents("The ", "sky ", "is blue.")}
	n := &recordingNotifier{}
	o := New(&fakeFactory{provider: provider},
		WithNotifier(n),
		WithSessionStore(store),
		WithLogger(zaptest.NewLogger(t)))

	res := o.Ask(context.Background(), Request{
		Text:     "Why is the sky blue?",
		UserID:   "alice",
		Provider: "fake",
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "The sky is blue.", res.Response)
	assert.Empty(t, res.PersistError)
	assert.Equal(t, StateDone, o.State())

	assert.True(t, n.hidden)
	assert.Equal(t, []string{"The ", "sky ", "is blue."}, n.chunks)
	assert.Equal(t, 1, n.streamEnds)

	require.NotEmpty(t, res.SessionID)
	msgs, err := store.Messages(context.Background(), res.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "Why is the sky blue?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "The sky is blue.", msgs[1].Content)

	require.NotNil(t, res.Usage)
	assert.Positive(t, res.Usage.CompletionTokens)
	assert.Equal(t, res.Usage.PromptTokens+res.Usage.CompletionTokens, res.Usage.TotalTokens)
}

func TestAsk_NoStoreStillSucceeds(t *testing.T) {
	provider := &fakeProvider{events: tokenEvents("ok")}
	o := New(&fakeFactory{provider: provider})

	res := o.Ask(context.Background(), Request{Text: "q"})

	require.True(t, res.Success)
	assert.Equal(t, "ok", res.Response)
	assert.Empty(t, res.SessionID)
	assert.Empty(t, res.PersistError)
}

// ---------------------------------------------------------------------------
// failure paths
// ---------------------------------------------------------------------------

func TestAsk_StreamErrorSkipsSave(t *testing.T) {
	store := newMemoryStore(t)
	provider := &fakeProvider{events: []types.StreamEvent{
		types.TokenEvent("half an "),
		types.ErrorEvent(types.NewError(types.ErrModelOverloaded, "upstream overloaded")),
	}}
	n := &recordingNotifier{}
	o := New(&fakeFactory{provider: provider}, WithNotifier(n), WithSessionStore(store))

	res := o.Ask(context.Background(), Request{Text: "hi", UserID: "bob"})

	assert.False(t, res.Success)
	assert.Equal(t, types.ErrModelOverloaded, res.ErrorCode)
	assert.Contains(t, res.Error, "upstream overloaded")
	assert.Equal(t, []string{"half an "}, n.chunks, "forwarded tokens are not retracted")
	assert.Zero(t, n.streamEnds)
	assert.Equal(t, StateAborted, o.State())

	sid, err := store.GetOrCreateActiveSession(context.Background(), "bob", "ask")
	require.NoError(t, err)
	msgs, err := store.Messages(context.Background(), sid, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "an errored stream must not be persisted")
}

func TestAsk_PersistFailureIsPartialSuccess(t *testing.T) {
	store := &failingStore{SessionStore: newMemoryStore(t)}
	provider := &fakeProvider{events: tokenEvents("answer")}
	o := New(&fakeFactory{provider: provider}, WithSessionStore(store))

	res := o.Ask(context.Background(), Request{Text: "q", UserID: "carol"})

	assert.True(t, res.Success, "the answer is not lost because persistence failed")
	assert.Equal(t, "answer", res.Response)
	assert.NotEmpty(t, res.SessionID)
	require.NotEmpty(t, res.PersistError)
	assert.Contains(t, res.PersistError, "save user turn")
	assert.Equal(t, StateDone, o.State())
}

func TestAsk_FactoryFailureSurfacesCode(t *testing.T) {
	f := &fakeFactory{err: types.NewError(types.ErrMissingCredential, "no api key resolved")}
	n := &recordingNotifier{}
	o := New(f, WithNotifier(n))

	res := o.Ask(context.Background(), Request{Text: "q", Provider: "openai"})

	assert.False(t, res.Success)
	assert.Equal(t, types.ErrMissingCredential, res.ErrorCode)
	assert.Contains(t, res.Error, "no api key resolved")
	assert.True(t, n.hidden, "validation passed, side effects already ran")
	assert.Zero(t, n.streamEnds)
	assert.Equal(t, StateAborted, o.State())
}

func TestAsk_CancellationSkipsSaving(t *testing.T) {
	store := newMemoryStore(t)
	provider := &hangingProvider{firstToken: make(chan struct{})}
	n := &recordingNotifier{}
	o := New(&fakeFactory{provider: provider}, WithNotifier(n), WithSessionStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-provider.firstToken
		cancel()
	}()

	res := o.Ask(ctx, Request{Text: "q", UserID: "dave"})

	assert.False(t, res.Success)
	assert.Equal(t, types.ErrStreamTransport, res.ErrorCode)
	assert.Equal(t, []string{"partial"}, n.chunks)
	assert.Zero(t, n.streamEnds, "a cancelled stream never signals clean completion")
	assert.Equal(t, StateAborted, o.State())

	sid, err := store.GetOrCreateActiveSession(context.Background(), "dave", "ask")
	require.NoError(t, err)
	msgs, err := store.Messages(context.Background(), sid, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "cancellation skips the saving phase")
}

// ---------------------------------------------------------------------------
// context capture
// ---------------------------------------------------------------------------

func TestAsk_ScreenCaptureAttachesImage(t *testing.T) {
	provider := &fakeProvider{events: tokenEvents("ok")}
	o := New(&fakeFactory{provider: provider},
		WithScreenCapturer(&fakeCapturer{data: []byte{0x89, 0x50}, mime: "image/png"}))

	res := o.Ask(context.Background(), Request{Text: "what is on screen?"})

	require.True(t, res.Success)
	last := provider.gotMsgs[len(provider.gotMsgs)-1]
	assert.True(t, last.HasImage())
}

func TestAsk_ScreenCaptureFailureDegradesToTextOnly(t *testing.T) {
	provider := &fakeProvider{events: tokenEvents("ok")}
	o := New(&fakeFactory{provider: provider},
		WithScreenCapturer(&fakeCapturer{err: errors.New("no display")}))

	res := o.Ask(context.Background(), Request{Text: "hello"})

	require.True(t, res.Success, "capture failure must not abort the request")
	last := provider.gotMsgs[len(provider.gotMsgs)-1]
	assert.False(t, last.HasImage())
}

func TestAsk_ExplicitImageWinsOverCapture(t *testing.T) {
	provider := &fakeProvider{events: tokenEvents("ok")}
	o := New(&fakeFactory{provider: provider},
		WithScreenCapturer(&fakeCapturer{data: []byte{0xff}, mime: "image/png"}))

	res := o.Ask(context.Background(), Request{
		Text:      "describe",
		Image:     []byte{0x01, 0x02},
		ImageMIME: "image/jpeg",
	})

	require.True(t, res.Success)
	last := provider.gotMsgs[len(provider.gotMsgs)-1]
	require.True(t, last.HasImage())
	require.Len(t, last.Parts, 2)
	assert.Equal(t, "image/jpeg", last.Parts[1].Image.MIMEType)
	assert.Equal(t, []byte{0x01, 0x02}, last.Parts[1].Image.Data)
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func TestAsk_StoreHistoryFlowsIntoPrompt(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	sid, err := store.GetOrCreateActiveSession(ctx, "erin", "ask")
	require.NoError(t, err)
	require.NoError(t, store.AddMessage(ctx, sid, "user", "What is Go?"))
	require.NoError(t, store.AddMessage(ctx, sid, "assistant", "A programming language."))

	provider := &fakeProvider{events: tokenEvents("ok")}
	o := New(&fakeFactory{provider: provider}, WithSessionStore(store))

	res := o.Ask(ctx, Request{Text: "Who created it?", UserID: "erin"})
	require.True(t, res.Success)

	msgs := provider.gotMsgs
	require.Len(t, msgs, 4)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, types.RoleUser, msgs[1].Role)
	assert.Equal(t, "What is Go?", msgs[1].Text())
	assert.Equal(t, types.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "A programming language.", msgs[2].Text())
	assert.Equal(t, types.RoleUser, msgs[3].Role)
	assert.Equal(t, "Who created it?", msgs[3].Text())
}

func TestAsk_HistoryLimitKeepsMostRecent(t *testing.T) {
	var turns []types.Message
	for i := 0; i < 5; i++ {
		turns = append(turns, types.NewUserMessage(fmt.Sprintf("turn %d", i)))
	}
	provider := &fakeProvider{events: tokenEvents("ok")}
	o := New(&fakeFactory{provider: provider},
		WithHistoryLimit(2),
		WithPrompter(StaticPrompter("")))

	res := o.Ask(context.Background(), Request{Text: "now", History: turns})
	require.True(t, res.Success)

	msgs := provider.gotMsgs
	require.Len(t, msgs, 3)
	assert.Equal(t, "turn 3", msgs[0].Text())
	assert.Equal(t, "turn 4", msgs[1].Text())
	assert.Equal(t, "now", msgs[2].Text())
}

func TestAsk_RequestHistorySkipsCollaborator(t *testing.T) {
	h := &countingHistory{turns: []types.Message{types.NewUserMessage("stored turn")}}
	provider := &fakeProvider{events: tokenEvents("ok")}
	o := New(&fakeFactory{provider: provider}, WithHistoryProvider(h))

	o.Ask(context.Background(), Request{Text: "q", History: []types.Message{}})
	assert.Zero(t, h.calls, "a caller-supplied history overrides the collaborator")

	o.Ask(context.Background(), Request{Text: "q"})
	assert.Equal(t, 1, h.calls)
}

func TestAsk_HistoryFailureDegrades(t *testing.T) {
	store := newMemoryStore(t)
	require.NoError(t, store.Close())
	provider := &fakeProvider{events: tokenEvents("ok")}
	o := New(&fakeFactory{provider: provider}, WithHistoryProvider(NewStoreHistory(store, zap.NewNop())))

	res := o.Ask(context.Background(), Request{Text: "q"})

	require.True(t, res.Success, "history failure must not abort the request")
	assert.Equal(t, "ok", res.Response)
}

// ---------------------------------------------------------------------------
// option plumbing
// ---------------------------------------------------------------------------

func TestAsk_FactoryReceivesRequestOptions(t *testing.T) {
	window := memory.NewWindow()
	provider := &fakeProvider{events: tokenEvents("ok")}
	f := &fakeFactory{provider: provider}
	o := New(f, WithWindow(window))

	ctx := llm.WithCredentialOverrides(context.Background(),
		credentials.Overrides{APIKey: "override-key"})
	params := llm.Params{Model: "test-model", Temperature: 0.2, MaxTokens: 64}
	res := o.Ask(ctx, Request{Text: "q", Provider: "anthropic", Params: params})

	require.True(t, res.Success)
	assert.Equal(t, "anthropic", f.lastName)
	assert.Equal(t, params, f.lastOpts.Params)
	assert.Equal(t, "override-key", f.lastOpts.Overrides.APIKey)
	assert.Same(t, window, f.lastOpts.Window)
}

func TestAsk_ContextFeatureScopesSession(t *testing.T) {
	store := newMemoryStore(t)
	provider := &fakeProvider{events: tokenEvents("bonjour")}
	o := New(&fakeFactory{provider: provider}, WithSessionStore(store))

	ctx := types.WithFeature(context.Background(), "translate")
	res := o.Ask(ctx, Request{Text: "hello in French?", UserID: "frank"})
	require.True(t, res.Success)

	sid, err := store.GetOrCreateActiveSession(context.Background(), "frank", "translate")
	require.NoError(t, err)
	assert.Equal(t, sid, res.SessionID)
}

func TestAsk_RecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollectorWith("askflow_test_orch", registry, zap.NewNop())
	provider := &fakeProvider{events: tokenEvents("a", "b")}
	o := New(&fakeFactory{provider: provider}, WithMetrics(collector))

	res := o.Ask(context.Background(), Request{Text: "q", Provider: "fake"})
	require.True(t, res.Success)

	count, err := testutil.GatherAndCount(registry,
		"askflow_test_orch_ask_requests_total",
		"askflow_test_orch_stream_tokens_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	transitions, err := testutil.GatherAndCount(registry,
		"askflow_test_orch_ask_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 5, transitions, "idle through done is five edges")
}

// ---------------------------------------------------------------------------
// end to end through the real factory
// ---------------------------------------------------------------------------

func TestAsk_EndToEndThroughRealFactory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		var body struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		assert.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hello"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":" world"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	store := newMemoryStore(t)
	window := memory.NewWindow()
	fac := factory.New(factory.Config{
		Endpoints: map[string]string{"testprov": server.URL},
	}, credentials.NewResolver(), nil, zaptest.NewLogger(t))
	n := &recordingNotifier{}
	o := New(fac,
		WithNotifier(n),
		WithSessionStore(store),
		WithWindow(window),
		WithLogger(zaptest.NewLogger(t)))

	ctx := llm.WithCredentialOverrides(context.Background(),
		credentials.Overrides{APIKey: "secret-key", ModelID: "test-model"})
	res := o.Ask(ctx, Request{Text: "What's the weather?", UserID: "grace", Provider: "testprov"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Hello world", res.Response)
	assert.Equal(t, []string{"Hello", " world"}, n.chunks)
	assert.Equal(t, 1, n.streamEnds)

	msgs, err := store.Messages(context.Background(), res.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "What's the weather?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "Hello world", msgs[1].Content)

	assert.Equal(t, 2, window.Len(), "the adapter feeds both turns into conversation memory")
}
