package retrieval

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// successThreshold is the response length above which the first attempt
	// is accepted without expansion. Short responses proxy a poor query
	// match.
	successThreshold = 50
	// excerptLimit truncates citation excerpts.
	excerptLimit = 200
	// defaultRequestPrefix is the transport label stripped from incoming
	// query text before preprocessing.
	defaultRequestPrefix = "Question:"
)

// Config configures the retrieval client.
type Config struct {
	// KnowledgeBaseID selects the store partition. Empty disables retrieval
	// entirely; Query then returns the fallback unchanged.
	KnowledgeBaseID string
	// ModelID drives the store's generation step when the caller supplies
	// no model of its own.
	ModelID string
	// RequestPrefix is the label stripped from query text. Defaults to
	// "Question:".
	RequestPrefix string
}

// Metrics receives retrieval outcome counts. The gateway collector satisfies
// it; a nil Metrics disables recording.
type Metrics interface {
	RecordRetrievalAttempt(stage string)
	RecordRetrievalFallback()
}

// Client runs the two-attempt retrieval strategy: preprocess and query, and
// if the response looks weak, retry once with the synonym-expanded original.
// Transport failures never propagate; they degrade to the fallback context.
type Client struct {
	store     KnowledgeStore
	optimizer *Optimizer
	cfg       Config
	logger    *zap.Logger
	metrics   Metrics
}

// NewClient creates a retrieval client. store may be nil when retrieval is
// not configured.
func NewClient(store KnowledgeStore, cfg Config, logger *zap.Logger) *Client {
	if cfg.RequestPrefix == "" {
		cfg.RequestPrefix = defaultRequestPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		store:     store,
		optimizer: NewOptimizer(logger),
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "retrieval_client")),
	}
}

// SetMetrics wires an outcome recorder. Safe to leave unset.
func (c *Client) SetMetrics(m Metrics) {
	if c != nil {
		c.metrics = m
	}
}

// Enabled reports whether a knowledge base is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.store != nil && c.cfg.KnowledgeBaseID != ""
}

// Query resolves context text for a user query. It returns the retrieved
// context with a rendered citation block, or the fallback when retrieval is
// disabled or both attempts fail.
func (c *Client) Query(ctx context.Context, text, modelID, fallback string) (string, []Citation) {
	if !c.Enabled() {
		return fallback, nil
	}
	if modelID == "" {
		modelID = c.cfg.ModelID
	}

	stripped := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), c.cfg.RequestPrefix))
	processed := c.optimizer.Preprocess(stripped)

	c.recordAttempt("preprocessed")
	textA, citesA, errA := c.attempt(ctx, processed, modelID)
	diag := c.optimizer.Diagnostics(stripped, processed, textA, citesA)
	c.logger.Debug("retrieval attempt",
		zap.String("stage", "preprocessed"),
		zap.Int("citations", diag.CitationCount),
		zap.Int("length_delta", diag.LengthDelta),
		zap.Bool("looked_successful", diag.LookedSuccessful))

	if errA == nil && utf8.RuneCountInString(textA) > successThreshold {
		return withCitationBlock(textA, citesA), citesA
	}

	// Second attempt broadens the surface by expanding the original text,
	// not the preprocessed form.
	expanded := c.optimizer.Expand(stripped)
	c.recordAttempt("expanded")
	textB, citesB, errB := c.attempt(ctx, expanded, modelID)

	if errA != nil && errB != nil {
		c.logger.Warn("retrieval degraded to fallback",
			zap.NamedError("first_attempt", errA),
			zap.NamedError("second_attempt", errB))
		c.recordFallback()
		return fallback, nil
	}

	chosenText, chosenCites := textA, citesA
	if utf8.RuneCountInString(textB) > utf8.RuneCountInString(textA) {
		chosenText, chosenCites = textB, citesB
	}
	if chosenText == "" {
		c.recordFallback()
		return fallback, nil
	}
	return withCitationBlock(chosenText, chosenCites), chosenCites
}

func (c *Client) recordAttempt(stage string) {
	if c.metrics != nil {
		c.metrics.RecordRetrievalAttempt(stage)
	}
}

func (c *Client) recordFallback() {
	if c.metrics != nil {
		c.metrics.RecordRetrievalFallback()
	}
}

func (c *Client) attempt(ctx context.Context, query, modelID string) (string, []Citation, error) {
	resp, err := c.store.RetrieveAndGenerate(ctx, StoreRequest{
		QueryText:       query,
		KnowledgeBaseID: c.cfg.KnowledgeBaseID,
		ModelID:         modelID,
	})
	if err != nil {
		return "", nil, err
	}
	return resp.OutputText, extractCitations(resp), nil
}

func extractCitations(resp StoreResponse) []Citation {
	if len(resp.Citations) == 0 {
		return nil
	}
	out := make([]Citation, 0, len(resp.Citations))
	for _, c := range resp.Citations {
		excerpt := c.Content
		if utf8.RuneCountInString(excerpt) > excerptLimit {
			excerpt = string([]rune(excerpt)[:excerptLimit])
		}
		out = append(out, Citation{
			SourceID: c.SourceURI,
			Excerpt:  excerpt,
			Score:    c.Score,
		})
	}
	return out
}

func withCitationBlock(text string, citations []Citation) string {
	if len(citations) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nSources:")
	for i, c := range citations {
		b.WriteString(fmt.Sprintf("\n[%d] %s (relevance %.2f)", i+1, c.SourceID, c.Score))
	}
	return b.String()
}
