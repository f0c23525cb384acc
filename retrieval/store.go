package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/internal/tlsutil"
	"github.com/BaSui01/askflow/types"
)

// Citation references the knowledge-store source backing a retrieved passage.
type Citation struct {
	SourceID string  `json:"source_id"`
	Excerpt  string  `json:"excerpt"`
	Score    float64 `json:"score"`
}

// StoreRequest is the knowledge-store query wire shape.
type StoreRequest struct {
	QueryText       string `json:"queryText"`
	KnowledgeBaseID string `json:"knowledgeBaseId"`
	ModelID         string `json:"modelId"`
}

// StoreCitation is one source reference in a knowledge-store answer.
type StoreCitation struct {
	Content   string  `json:"content"`
	SourceURI string  `json:"sourceUri"`
	Score     float64 `json:"score"`
}

// StoreResponse is the knowledge-store answer wire shape.
type StoreResponse struct {
	OutputText string          `json:"outputText"`
	Citations  []StoreCitation `json:"citations"`
}

// KnowledgeStore is the backing retrieval service. One store instance is
// shared across sessions, so implementations must be safe for concurrent use.
type KnowledgeStore interface {
	RetrieveAndGenerate(ctx context.Context, req StoreRequest) (StoreResponse, error)
}

// HTTPStoreConfig configures the HTTP knowledge-store client.
type HTTPStoreConfig struct {
	BaseURL      string
	EndpointPath string
	Timeout      time.Duration

	// Either a bearer key or an access-key set; both may be empty for an
	// unauthenticated store.
	APIKey          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// HTTPStore queries a knowledge store over JSON REST.
type HTTPStore struct {
	cfg    HTTPStoreConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPStore creates an HTTP knowledge-store client.
func NewHTTPStore(cfg HTTPStoreConfig, logger *zap.Logger) *HTTPStore {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/retrieve-and-generate"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPStore{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "knowledge_store")),
	}
}

// RetrieveAndGenerate issues one store query. Transport and HTTP failures
// come back as RETRIEVAL_TRANSPORT errors for the caller to absorb.
func (s *HTTPStore) RetrieveAndGenerate(ctx context.Context, req StoreRequest) (StoreResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return StoreResponse{}, types.NewError(types.ErrRetrievalTransport, "encode store request").WithCause(err)
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return StoreResponse{}, types.NewError(types.ErrRetrievalTransport, "build store request").WithCause(err)
	}
	s.buildHeaders(httpReq)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return StoreResponse{}, types.NewError(types.ErrRetrievalTransport, "knowledge store unreachable").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readStoreError(resp.Body)
		return StoreResponse{}, types.NewError(types.ErrRetrievalTransport,
			fmt.Sprintf("knowledge store status %d: %s", resp.StatusCode, msg)).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500)
	}

	var out StoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StoreResponse{}, types.NewError(types.ErrRetrievalTransport, "decode store response").WithCause(err)
	}
	return out, nil
}

func (s *HTTPStore) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
		return
	}
	if s.cfg.AccessKeyID != "" {
		req.Header.Set("X-Access-Key-Id", s.cfg.AccessKeyID)
		req.Header.Set("X-Secret-Access-Key", s.cfg.SecretAccessKey)
		if s.cfg.SessionToken != "" {
			req.Header.Set("X-Session-Token", s.cfg.SessionToken)
		}
	}
}

func readStoreError(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return strings.TrimSpace(string(data))
}
