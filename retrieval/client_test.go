package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/askflow/types"
)

// scriptedStore returns queued responses in order and records every request.
type scriptedStore struct {
	responses []StoreResponse
	errs      []error
	requests  []StoreRequest
}

func (s *scriptedStore) RetrieveAndGenerate(ctx context.Context, req StoreRequest) (StoreResponse, error) {
	s.requests = append(s.requests, req)
	idx := len(s.requests) - 1
	var resp StoreResponse
	if idx < len(s.responses) {
		resp = s.responses[idx]
	}
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	return resp, err
}

func transportErr() error {
	return types.NewError(types.ErrRetrievalTransport, "store unreachable")
}

func longAnswer() string {
	return strings.Repeat("relevant knowledge ", 5) // 95 chars, above threshold
}

// ---------- disabled ----------

func TestClient_DisabledReturnsFallback(t *testing.T) {
	t.Parallel()

	c := NewClient(nil, Config{}, zap.NewNop())

	text, cites := c.Query(context.Background(), "anything", "model-1", "fallback context")
	assert.Equal(t, "fallback context", text)
	assert.Nil(t, cites)
}

// ---------- first attempt succeeds ----------

func TestClient_StrongFirstAttemptSkipsExpansion(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{
		responses: []StoreResponse{{
			OutputText: longAnswer(),
			Citations:  []StoreCitation{{Content: "excerpt text", SourceURI: "doc://a", Score: 0.9}},
		}},
	}
	c := NewClient(store, Config{KnowledgeBaseID: "kb-1"}, zap.NewNop())

	text, cites := c.Query(context.Background(), "Question: what is a tide?", "model-1", "fallback")

	require.Len(t, store.requests, 1, "second attempt must not fire")
	assert.Equal(t, "kb-1", store.requests[0].KnowledgeBaseID)
	assert.Equal(t, "model-1", store.requests[0].ModelID)
	assert.NotContains(t, store.requests[0].QueryText, "Question:")

	require.Len(t, cites, 1)
	assert.Equal(t, "doc://a", cites[0].SourceID)
	assert.Contains(t, text, longAnswer())
	assert.Contains(t, text, "Sources:")
	assert.Contains(t, text, "[1] doc://a (relevance 0.90)")
}

// ---------- weak first attempt ----------

func TestClient_WeakFirstAttemptTriggersExpandedSecond(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{
		responses: []StoreResponse{
			{OutputText: "short"},
			{OutputText: longAnswer()},
		},
	}
	c := NewClient(store, Config{KnowledgeBaseID: "kb-1"}, zap.NewNop())

	text, _ := c.Query(context.Background(), "what is the weather like?", "model-1", "fallback")

	require.Len(t, store.requests, 2)
	assert.True(t, strings.HasPrefix(store.requests[1].QueryText, "Find information related to: "),
		"second attempt must use the expanded original")
	assert.Contains(t, text, longAnswer())
}

func TestClient_LongerAttemptWins(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{
		responses: []StoreResponse{
			{OutputText: "attempt A body", Citations: []StoreCitation{{SourceURI: "doc://a"}}},
			{OutputText: "tiny"},
		},
	}
	c := NewClient(store, Config{KnowledgeBaseID: "kb-1"}, zap.NewNop())

	text, cites := c.Query(context.Background(), "weather", "model-1", "fallback")

	require.Len(t, store.requests, 2)
	assert.Contains(t, text, "attempt A body")
	require.Len(t, cites, 1)
	assert.Equal(t, "doc://a", cites[0].SourceID)
}

// ---------- transport degradation ----------

func TestClient_BothAttemptsFailDegradesToFallback(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{errs: []error{transportErr(), transportErr()}}
	c := NewClient(store, Config{KnowledgeBaseID: "kb-1"}, zap.NewNop())

	text, cites := c.Query(context.Background(), "weather", "model-1", "fallback context")
	assert.Equal(t, "fallback context", text)
	assert.Nil(t, cites)
}

func TestClient_FirstFailsSecondSucceeds(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{
		responses: []StoreResponse{{}, {OutputText: longAnswer()}},
		errs:      []error{transportErr(), nil},
	}
	c := NewClient(store, Config{KnowledgeBaseID: "kb-1"}, zap.NewNop())

	text, _ := c.Query(context.Background(), "weather", "model-1", "fallback")
	assert.Contains(t, text, longAnswer())
}

func TestClient_BothEmptyDegradesToFallback(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{responses: []StoreResponse{{}, {}}}
	c := NewClient(store, Config{KnowledgeBaseID: "kb-1"}, zap.NewNop())

	text, cites := c.Query(context.Background(), "weather", "model-1", "fallback")
	assert.Equal(t, "fallback", text)
	assert.Nil(t, cites)
}

// ---------- metrics ----------

type countingMetrics struct {
	attempts  map[string]int
	fallbacks int
}

func (m *countingMetrics) RecordRetrievalAttempt(stage string) {
	if m.attempts == nil {
		m.attempts = map[string]int{}
	}
	m.attempts[stage]++
}

func (m *countingMetrics) RecordRetrievalFallback() { m.fallbacks++ }

func TestClient_MetricsSeeAttemptsAndFallback(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{errs: []error{transportErr(), transportErr()}}
	c := NewClient(store, Config{KnowledgeBaseID: "kb-1"}, zap.NewNop())
	m := &countingMetrics{}
	c.SetMetrics(m)

	c.Query(context.Background(), "weather", "model-1", "fallback")

	assert.Equal(t, 1, m.attempts["preprocessed"])
	assert.Equal(t, 1, m.attempts["expanded"])
	assert.Equal(t, 1, m.fallbacks)
}

func TestClient_StrongFirstAttemptRecordsNoFallback(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{responses: []StoreResponse{{OutputText: longAnswer()}}}
	c := NewClient(store, Config{KnowledgeBaseID: "kb-1"}, zap.NewNop())
	m := &countingMetrics{}
	c.SetMetrics(m)

	c.Query(context.Background(), "weather", "model-1", "fallback")

	assert.Equal(t, 1, m.attempts["preprocessed"])
	assert.Zero(t, m.attempts["expanded"])
	assert.Zero(t, m.fallbacks)
}

// ---------- citation shaping ----------

func TestExtractCitations_TruncatesExcerpt(t *testing.T) {
	t.Parallel()

	resp := StoreResponse{Citations: []StoreCitation{{
		Content:   strings.Repeat("a", 300),
		SourceURI: "doc://long",
		Score:     0.5,
	}}}

	cites := extractCitations(resp)
	require.Len(t, cites, 1)
	assert.Len(t, cites[0].Excerpt, excerptLimit)
}
