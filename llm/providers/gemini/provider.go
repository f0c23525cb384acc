package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
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
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash"
)

// Config holds Gemini-specific settings.
type Config struct {
	// BaseURL overrides the public API endpoint.
	BaseURL string

	// Timeout bounds one HTTP exchange. Zero leaves streaming unbounded.
	Timeout time.Duration
}

// Provider adapts the Google Gemini generateContent API:
//  1. Authentication uses the x-goog-api-key header.
//  2. The assistant role is named "model" on the wire.
//  3. The system message travels as a top-level systemInstruction.
//  4. Streaming uses :streamGenerateContent with alt=sse framing.
type Provider struct {
	cfg      Config
	client   *http.Client
	logger   *zap.Logger
	creds    credentials.ResolvedCredentials
	params   llm.Params
	enricher *llm.Enricher
}

// New creates a Gemini provider with fixed credentials.
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
		logger:   logger.With(zap.String("provider", "gemini")),
		creds:    creds,
		params:   params,
		enricher: enricher,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return "gemini" }

// Capabilities reports what this adapter supports.
func (p *Provider) Capabilities() llm.Capability {
	return llm.CapGenerate | llm.CapStream | llm.CapVision
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user or model
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	ResponseID string            `json:"responseId,omitempty"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")
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

// convertMessages lifts the system message into systemInstruction and maps
// the assistant role to Gemini's "model".
func convertMessages(msgs []types.Message) (*geminiContent, []geminiContent) {
	var systemInstruction *geminiContent
	var contents []geminiContent

	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			systemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: m.Text()}},
			}
			continue
		}

		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}

		content := geminiContent{Role: role}
		for _, part := range m.Parts {
			switch {
			case part.IsImage():
				content.Parts = append(content.Parts, geminiPart{
					InlineData: &geminiInlineData{
						MimeType: part.Image.MIMEType,
						Data:     base64.StdEncoding.EncodeToString(part.Image.Data),
					},
				})
			case part.Text != "":
				content.Parts = append(content.Parts, geminiPart{Text: part.Text})
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}

	return systemInstruction, contents
}

func (p *Provider) post(ctx context.Context, messages []types.Message, stream bool) (*http.Response, error) {
	systemInstruction, contents := convertMessages(messages)
	body := geminiRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction,
	}
	if p.params.Temperature > 0 || p.params.MaxTokens > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     p.params.Temperature,
			MaxOutputTokens: p.params.MaxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	action := "generateContent"
	if stream {
		// alt=sse switches the response from a framed JSON array to
		// standard data: events.
		action = "streamGenerateContent?alt=sse"
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s", strings.TrimRight(p.cfg.BaseURL, "/"), p.model(), action)

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

func readErrorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 8192))
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	}
	return strings.TrimSpace(string(data))
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

// Generate performs a synchronous completion against :generateContent.
func (p *Provider) Generate(ctx context.Context, messages []types.Message) (string, error) {
	prepared := p.enricher.Prepare(ctx, messages)

	resp, err := p.post(ctx, prepared, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return "", providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", providers.DecodeError(err, p.Name())
	}

	var sb strings.Builder
	if len(gr.Candidates) > 0 {
		for _, part := range gr.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &types.Error{
			Code:       types.ErrUpstreamError,
			Message:    "response carried no candidates",
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

// StreamGenerate performs a streaming completion. Each data: event carries
// an incremental slice of candidate text; the stream ends when the body
// closes.
func (p *Provider) StreamGenerate(ctx context.Context, messages []types.Message) (<-chan types.StreamEvent, error) {
	prepared := p.enricher.Prepare(ctx, messages)

	resp, err := p.post(ctx, prepared, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := readErrorMessage(resp.Body)
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
				// Gemini has no end sentinel; a clean close is completion.
				finish()
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				p.logger.Debug("malformed stream chunk salvaged", zap.Error(err))
				full.WriteString(" ")
				if !providers.Send(ctx, ch, types.TokenEvent(" ")) {
					return
				}
				continue
			}

			for _, candidate := range chunk.Candidates {
				for _, part := range candidate.Content.Parts {
					token := llm.SanitizeChunk(part.Text)
					if token == "" {
						continue
					}
					full.WriteString(token)
					if !providers.Send(ctx, ch, types.TokenEvent(token)) {
						return
					}
				}
			}
		}
	}()

	return ch, nil
}
