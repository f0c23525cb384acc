package openai

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/credentials"
	"github.com/BaSui01/askflow/llm"
	"github.com/BaSui01/askflow/llm/providers/openaicompat"
)

const (
	defaultBaseURL  = "https://api.openai.com"
	defaultFallback = "gpt-4o-mini"
)

// Config holds OpenAI-specific settings. Credentials arrive separately,
// resolved once by the caller.
type Config struct {
	// BaseURL overrides the public API endpoint, for proxies and
	// compatible gateways.
	BaseURL string

	// Organization optionally scopes requests to an OpenAI organization.
	Organization string

	// Timeout bounds one HTTP exchange. Zero leaves streaming unbounded.
	Timeout time.Duration
}

// Provider is the OpenAI chat adapter. Everything wire-level is inherited
// from the OpenAI-compatible base; only identity and headers differ.
type Provider struct {
	*openaicompat.Provider
}

// New creates an OpenAI provider with fixed credentials.
func New(cfg Config, creds credentials.ResolvedCredentials, params llm.Params, enricher *llm.Enricher, logger *zap.Logger) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	p := &Provider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:  "openai",
			BaseURL:       baseURL,
			FallbackModel: defaultFallback,
			Timeout:       cfg.Timeout,
			Capabilities:  llm.CapGenerate | llm.CapStream | llm.CapVision,
		}, creds, params, enricher, logger),
	}

	p.SetBuildHeaders(func(req *http.Request, apiKey string) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
		if cfg.Organization != "" {
			req.Header.Set("OpenAI-Organization", cfg.Organization)
		}
		req.Header.Set("Content-Type", "application/json")
	})

	return p
}
