package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/credentials"
	"github.com/BaSui01/askflow/internal/tlsutil"
	"github.com/BaSui01/askflow/llm"
	"github.com/BaSui01/askflow/llm/providers"
	"github.com/BaSui01/askflow/types"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-5-sonnet-20241022"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Config holds Anthropic-specific settings.
type Config struct {
	// BaseURL overrides the public API endpoint.
	BaseURL string

	// Timeout bounds one HTTP exchange. Zero leaves streaming unbounded.
	Timeout time.Duration
}

// Provider adapts the Anthropic Messages API. The wire protocol differs from
// the OpenAI dialect in several ways:
//  1. Authentication uses the x-api-key header, not a Bearer token.
//  2. The system message travels in a dedicated top-level field.
//  3. Message content is an array of typed blocks.
//  4. Streaming uses named SSE events (message_start, content_block_delta, ...).
type Provider struct {
	cfg      Config
	client   *http.Client
	logger   *zap.Logger
	creds    credentials.ResolvedCredentials
	params   llm.Params
	enricher *llm.Enricher
}

// New creates an Anthropic provider with fixed credentials.
func New(cfg Config, creds credentials.ResolvedCredentials, params llm.Params, enricher *llm.Enricher, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:      cfg,
		client:   tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:   logger.With(zap.String("provider", "anthropic")),
		creds:    creds,
		params:   params,
		enricher: enricher,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return "anthropic" }

// Capabilities reports what this adapter supports.
func (p *Provider) Capabilities() llm.Capability {
	return llm.CapGenerate | llm.CapStream | llm.CapVision
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type   string        `json:"type"` // text or image
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"` // base64
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Role       string          `json:"role"`
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      *claudeUsage    `json:"usage,omitempty"`
}

type claudeStreamEvent struct {
	Type    string          `json:"type"`
	Index   int             `json:"index,omitempty"`
	Delta   *claudeDelta    `json:"delta,omitempty"`
	Message *claudeResponse `json:"message,omitempty"`
}

type claudeDelta struct {
	Type       string `json:"type"` // text_delta
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func (p *Provider) resolveAPIKey(ctx context.Context) string {
	if o, ok := llm.CredentialOverridesFromContext(ctx); ok {
		if key := strings.TrimSpace(o.APIKey); key != "" {
			return key
		}
	}
	return p.creds.APIKey
}

func (p *Provider) model() string {
	return providers.ChooseModel(p.params.Model, p.creds.ModelID, defaultModel)
}

func (p *Provider) maxTokens() int {
	if p.params.MaxTokens > 0 {
		return p.params.MaxTokens
	}
	// The Messages API rejects requests without max_tokens.
	return defaultMaxTokens
}

// convertMessages lifts the system message into its own return value and
// translates the rest into Claude content blocks.
func convertMessages(msgs []types.Message) (string, []claudeMessage) {
	var system string
	var out []claudeMessage

	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			system = m.Text()
			continue
		}

		cm := claudeMessage{Role: string(m.Role)}
		for _, part := range m.Parts {
			switch {
			case part.IsImage():
				cm.Content = append(cm.Content, claudeContent{
					Type: "image",
					Source: &claudeSource{
						Type:      "base64",
						MediaType: part.Image.MIMEType,
						Data:      base64.StdEncoding.EncodeToString(part.Image.Data),
					},
				})
			case part.Text != "":
				cm.Content = append(cm.Content, claudeContent{Type: "text", Text: part.Text})
			}
		}
		if len(cm.Content) > 0 {
			out = append(out, cm)
		}
	}

	return system, out
}

func (p *Provider) post(ctx context.Context, messages []types.Message, stream bool) (*http.Response, error) {
	system, converted := convertMessages(messages)
	body := claudeRequest{
		Model:       p.model(),
		Messages:    converted,
		System:      system,
		MaxTokens:   p.maxTokens(),
		Temperature: p.params.Temperature,
		Stream:      stream,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	p.buildHeaders(httpReq, p.resolveAPIKey(ctx))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, p.Name())
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

// Generate performs a synchronous completion against /v1/messages.
func (p *Provider) Generate(ctx context.Context, messages []types.Message) (string, error) {
	prepared := p.enricher.Prepare(ctx, messages)

	resp, err := p.post(ctx, prepared, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return "", providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", providers.DecodeError(err, p.Name())
	}

	var sb strings.Builder
	for _, content := range cr.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &types.Error{
			Code:       types.ErrUpstreamError,
			Message:    "response carried no text content",
			HTTPStatus: http.StatusBadGateway,
			Provider:   p.Name(),
		}
	}

	text := llm.SanitizeChunk(sb.String())
	p.enricher.CommitAssistant(text)
	return text, nil
}

// ---------------------------------------------------------------------------
// StreamGenerate
// ---------------------------------------------------------------------------

// StreamGenerate performs a streaming completion. Claude frames its stream
// as named SSE events; only content_block_delta text reaches the caller.
func (p *Provider) StreamGenerate(ctx context.Context, messages []types.Message) (<-chan types.StreamEvent, error) {
	prepared := p.enricher.Prepare(ctx, messages)

	resp, err := p.post(ctx, prepared, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	ch := make(chan types.StreamEvent)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		var full strings.Builder
		finish := func() {
			p.enricher.CommitAssistant(full.String())
			providers.Send(ctx, ch, types.EndEvent())
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					if ctx.Err() != nil {
						return
					}
					providers.Send(ctx, ch, types.ErrorEvent(&types.Error{
						Code:       types.ErrStreamTransport,
						Message:    err.Error(),
						HTTPStatus: http.StatusBadGateway,
						Retryable:  true,
						Provider:   p.Name(),
					}))
					return
				}
				finish()
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "event:") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				finish()
				return
			}

			var event claudeStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				p.logger.Debug("malformed stream chunk salvaged", zap.Error(err))
				full.WriteString(" ")
				if !providers.Send(ctx, ch, types.TokenEvent(" ")) {
					return
				}
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta == nil || event.Delta.Type != "text_delta" {
					continue
				}
				token := llm.SanitizeChunk(event.Delta.Text)
				if token == "" {
					continue
				}
				full.WriteString(token)
				if !providers.Send(ctx, ch, types.TokenEvent(token)) {
					return
				}
			case "message_stop":
				finish()
				return
			}
		}
	}()

	return ch, nil
}
