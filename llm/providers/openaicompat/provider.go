// =============================================================================
// AskFlow OpenAI-Compatible Provider Base
// =============================================================================
// Shared implementation for every adapter that speaks the OpenAI chat
// completions dialect. Concrete providers embed this and only override what
// differs (name, base URL, fallback model, headers, capabilities).
// =============================================================================

package openaicompat

import (
	"bufio"
	"bytes"
	"context"
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

// Config holds the static identity of an OpenAI-compatible provider.
// Credentials and per-request parameters arrive separately at construction.
type Config struct {
	// ProviderName is the unique identifier for this provider (e.g. "openai").
	ProviderName string

	// BaseURL is the base URL for the provider's API.
	BaseURL string

	// EndpointPath is the chat completions path. Defaults to "/v1/chat/completions".
	EndpointPath string

	// FallbackModel is used when neither the request parameters nor the
	// resolved credentials name a model.
	FallbackModel string

	// Timeout bounds a single HTTP exchange. Zero means no client-side
	// deadline; streaming callers pass cancellation through ctx instead.
	Timeout time.Duration

	// Capabilities declares what this provider supports. Defaults to
	// CapGenerate|CapStream.
	Capabilities llm.Capability

	// BuildHeaders optionally sets custom headers on each request. If nil,
	// the default "Authorization: Bearer <apiKey>" header is used.
	BuildHeaders func(req *http.Request, apiKey string)

	// RequestHook optionally mutates the wire request before sending, for
	// provider-specific body fields.
	RequestHook func(body *providers.OpenAICompatRequest)
}

// Provider is the base implementation for OpenAI-compatible backends. It
// implements llm.Provider; concrete adapters embed it.
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger

	creds    credentials.ResolvedCredentials
	params   llm.Params
	enricher *llm.Enricher
}

// New creates an OpenAI-compatible provider. Credentials are resolved by the
// caller once and fixed for the adapter's lifetime; enricher may be nil.
func New(cfg Config, creds credentials.ResolvedCredentials, params llm.Params, enricher *llm.Enricher, logger *zap.Logger) *Provider {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.Capabilities == 0 {
		cfg.Capabilities = llm.CapGenerate | llm.CapStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:      cfg,
		Client:   tlsutil.SecureHTTPClient(cfg.Timeout),
		Logger:   logger.With(zap.String("provider", cfg.ProviderName)),
		creds:    creds,
		params:   params,
		enricher: enricher,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

// Capabilities reports what this adapter supports.
func (p *Provider) Capabilities() llm.Capability { return p.Cfg.Capabilities }

// Credentials exposes the resolved credentials for embedding adapters.
func (p *Provider) Credentials() credentials.ResolvedCredentials { return p.creds }

// Enricher exposes the prompt enricher for embedding adapters.
func (p *Provider) Enricher() *llm.Enricher { return p.enricher }

// SetBuildHeaders sets a custom header builder for the provider.
func (p *Provider) SetBuildHeaders(fn func(req *http.Request, apiKey string)) {
	p.Cfg.BuildHeaders = fn
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, apiKey)
		return
	}
	providers.BearerTokenHeaders(req, apiKey)
}

// resolveAPIKey returns the API key, honoring a context override first.
func (p *Provider) resolveAPIKey(ctx context.Context) string {
	if o, ok := llm.CredentialOverridesFromContext(ctx); ok {
		if key := strings.TrimSpace(o.APIKey); key != "" {
			return key
		}
	}
	return p.creds.APIKey
}

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.Cfg.BaseURL, "/") + p.Cfg.EndpointPath
}

// Model returns the model id this adapter sends upstream.
func (p *Provider) Model() string {
	return providers.ChooseModel(p.params.Model, p.creds.ModelID, p.Cfg.FallbackModel)
}

func (p *Provider) buildRequest(messages []types.Message, stream bool) providers.OpenAICompatRequest {
	body := providers.OpenAICompatRequest{
		Model:       p.Model(),
		Messages:    providers.ConvertMessages(messages, p.Cfg.Capabilities.Has(llm.CapVision)),
		MaxTokens:   p.params.MaxTokens,
		Temperature: p.params.Temperature,
		Stream:      stream,
	}
	if p.Cfg.RequestHook != nil {
		p.Cfg.RequestHook(&body)
	}
	return body
}

func (p *Provider) post(ctx context.Context, body providers.OpenAICompatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(httpReq, p.resolveAPIKey(ctx))

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, p.Name())
	}
	return resp, nil
}

// Generate performs a synchronous chat completion.
func (p *Provider) Generate(ctx context.Context, messages []types.Message) (string, error) {
	prepared := p.enricher.Prepare(ctx, messages)

	resp, err := p.post(ctx, p.buildRequest(prepared, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return "", providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return "", providers.DecodeError(err, p.Name())
	}
	if len(oaResp.Choices) == 0 || oaResp.Choices[0].Message == nil {
		return "", &types.Error{
			Code:       types.ErrUpstreamError,
			Message:    "response carried no choices",
			HTTPStatus: http.StatusBadGateway,
			Provider:   p.Name(),
		}
	}

	text := llm.SanitizeChunk(oaResp.Choices[0].Message.Content)
	p.enricher.CommitAssistant(text)
	return text, nil
}

// StreamGenerate performs a streaming chat completion over SSE.
func (p *Provider) StreamGenerate(ctx context.Context, messages []types.Message) (<-chan types.StreamEvent, error) {
	prepared := p.enricher.Prepare(ctx, messages)

	resp, err := p.post(ctx, p.buildRequest(prepared, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	return StreamSSE(ctx, resp.Body, p.Name(), p.enricher, p.Logger), nil
}

// StreamSSE translates an OpenAI-compatible SSE body into the normalized
// event sequence. Every shared rule of the streaming contract lives here:
// tokens are sanitized before forwarding, an unparseable data line is
// salvaged as a single whitespace token instead of killing the stream, a
// transport failure becomes one terminal Error event, and everything else
// ends with exactly one End event. On End the reassembled text is committed
// to conversation memory exactly once.
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string, enricher *llm.Enricher, logger *zap.Logger) <-chan types.StreamEvent {
	if logger == nil {
		logger = zap.NewNop()
	}
	ch := make(chan types.StreamEvent)
	go func() {
		defer body.Close()
		defer close(ch)

		var full strings.Builder
		finish := func() {
			enricher.CommitAssistant(full.String())
			providers.Send(ctx, ch, types.EndEvent())
		}

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					// A read failure caused by cancellation is teardown,
					// not a transport fault.
					if ctx.Err() != nil {
						return
					}
					providers.Send(ctx, ch, types.ErrorEvent(&types.Error{
						Code:       types.ErrStreamTransport,
						Message:    err.Error(),
						HTTPStatus: http.StatusBadGateway,
						Retryable:  true,
						Provider:   providerName,
					}))
					return
				}
				// Upstream closed without [DONE]; what arrived is complete
				// as far as anyone can tell.
				finish()
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				finish()
				return
			}

			var chunk providers.OpenAICompatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logger.Debug("malformed stream chunk salvaged",
					zap.String("provider", providerName),
					zap.Error(err))
				full.WriteString(" ")
				if !providers.Send(ctx, ch, types.TokenEvent(" ")) {
					return
				}
				continue
			}

			for _, choice := range chunk.Choices {
				if choice.Delta == nil {
					continue
				}
				token := llm.SanitizeChunk(choice.Delta.Content)
				if token == "" {
					continue
				}
				full.WriteString(token)
				if !providers.Send(ctx, ch, types.TokenEvent(token)) {
					return
				}
			}
		}
	}()
	return ch
}
