package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/credentials"
	"github.com/BaSui01/askflow/llm"
	"github.com/BaSui01/askflow/llm/providers/anthropic"
	"github.com/BaSui01/askflow/llm/providers/gemini"
	"github.com/BaSui01/askflow/llm/providers/openai"
	"github.com/BaSui01/askflow/llm/providers/openaicompat"
	"github.com/BaSui01/askflow/llm/speech"
	"github.com/BaSui01/askflow/memory"
	"github.com/BaSui01/askflow/retrieval"
	"github.com/BaSui01/askflow/types"
)

// Mode selects which adapter shape a request needs.
type Mode string

const (
	// ModeSTT requests a speech-to-text transcriber.
	ModeSTT Mode = "stt"
	// ModeLLM requests a synchronous chat adapter.
	ModeLLM Mode = "llm"
	// ModeStreamingLLM requests a streaming chat adapter.
	ModeStreamingLLM Mode = "streamingLlm"
)

// capability maps a mode onto the capability an adapter must carry.
func (m Mode) capability() (llm.Capability, bool) {
	switch m {
	case ModeSTT:
		return llm.CapTranscribe, true
	case ModeLLM:
		return llm.CapGenerate, true
	case ModeStreamingLLM:
		return llm.CapStream, true
	default:
		return 0, false
	}
}

// capabilityTable is the static provider registry. Transcription support
// here means the factory can pair the name with a speech adapter; the chat
// adapters themselves never report CapTranscribe.
var capabilityTable = map[string]llm.Capability{
	"openai":    llm.CapGenerate | llm.CapStream | llm.CapVision | llm.CapTranscribe,
	"anthropic": llm.CapGenerate | llm.CapStream | llm.CapVision,
	"gemini":    llm.CapGenerate | llm.CapStream | llm.CapVision,
}

var aliases = map[string]string{
	"claude": "anthropic",
}

const defaultSTTProvider = "openai"

// SupportedProviders returns the built-in provider names, sorted, aliases
// excluded. Names outside this list need a configured endpoint and are
// served by the generic OpenAI-compatible adapter.
func SupportedProviders() []string {
	names := make([]string, 0, len(capabilityTable))
	for name := range capabilityTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config carries deployment-level factory settings.
type Config struct {
	// DefaultSTTProvider serves transcription when the requested provider
	// cannot. Defaults to "openai".
	DefaultSTTProvider string

	// Endpoints overrides the base URL per provider name. An entry under a
	// name the static table does not know turns that name into a generic
	// OpenAI-compatible chat provider (Groq, OpenRouter, Ollama, vLLM).
	Endpoints map[string]string

	// OpenAIOrganization optionally scopes OpenAI requests.
	OpenAIOrganization string

	// Timeout bounds one synchronous HTTP exchange. Zero leaves streaming
	// responses unbounded.
	Timeout time.Duration
}

// Factory constructs provider adapters by name and mode against the static
// table. It owns the single cross-provider fallback rule: a transcription
// request against a chat-only provider substitutes the default STT provider,
// logged, with credentials re-resolved from the environment so one
// provider's stored secret never crosses to another.
type Factory struct {
	cfg      Config
	resolver *credentials.Resolver
	kb       *retrieval.Client
	logger   *zap.Logger
}

// New creates a Factory. kb may be nil, which disables retrieval enrichment
// on every adapter it builds.
func New(cfg Config, resolver *credentials.Resolver, kb *retrieval.Client, logger *zap.Logger) *Factory {
	if cfg.DefaultSTTProvider == "" {
		cfg.DefaultSTTProvider = defaultSTTProvider
	}
	if resolver == nil {
		resolver = credentials.NewResolver()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		cfg:      cfg,
		resolver: resolver,
		kb:       kb,
		logger:   logger.With(zap.String("component", "factory")),
	}
}

// Options carries the per-request inputs an adapter is built around.
type Options struct {
	// Overrides is caller-supplied credential material, highest precedence.
	Overrides credentials.Overrides

	// Params sets model, temperature and token budget.
	Params llm.Params

	// Window is the conversation memory the adapter feeds and renders.
	// Nil disables memory enrichment.
	Window *memory.Window
}

func canonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if target, ok := aliases[name]; ok {
		return target
	}
	return name
}

// lookup resolves a canonical name to its capability set. Unknown names
// with a configured endpoint count as generic chat providers.
func (f *Factory) lookup(name string) (llm.Capability, bool) {
	if caps, ok := capabilityTable[name]; ok {
		return caps, true
	}
	if _, ok := f.cfg.Endpoints[name]; ok {
		return llm.CapGenerate | llm.CapStream, true
	}
	return 0, false
}

// Provider constructs the chat adapter for name. mode must be ModeLLM or
// ModeStreamingLLM; ModeSTT goes through Transcriber instead.
func (f *Factory) Provider(ctx context.Context, name string, mode Mode, opts Options) (llm.Provider, error) {
	required, ok := mode.capability()
	if !ok || mode == ModeSTT {
		return nil, types.NewError(types.ErrUnsupportedCapability,
			fmt.Sprintf("mode %q does not produce a chat adapter", mode))
	}

	name = canonicalName(name)
	caps, known := f.lookup(name)
	if !known {
		return nil, types.NewError(types.ErrUnsupportedProvider,
			fmt.Sprintf("unknown provider %q", name)).WithProvider(name)
	}
	if !caps.Has(required) {
		return nil, types.NewError(types.ErrUnsupportedCapability,
			fmt.Sprintf("provider %q does not support mode %q", name, mode)).WithProvider(name)
	}

	creds, err := f.resolver.Resolve(ctx, name, opts.Overrides)
	if err != nil {
		return nil, err
	}

	enricher := llm.NewEnricher(opts.Window, f.kb, creds.ModelID, f.logger)
	baseURL := f.cfg.Endpoints[name]

	switch name {
	case "openai":
		return openai.New(openai.Config{
			BaseURL:      baseURL,
			Organization: f.cfg.OpenAIOrganization,
			Timeout:      f.cfg.Timeout,
		}, creds, opts.Params, enricher, f.logger), nil

	case "anthropic":
		return anthropic.New(anthropic.Config{
			BaseURL: baseURL,
			Timeout: f.cfg.Timeout,
		}, creds, opts.Params, enricher, f.logger), nil

	case "gemini":
		return gemini.New(gemini.Config{
			BaseURL: baseURL,
			Timeout: f.cfg.Timeout,
		}, creds, opts.Params, enricher, f.logger), nil

	default:
		f.logger.Info("creating generic OpenAI-compatible provider",
			zap.String("provider", name),
			zap.String("base_url", baseURL))
		return openaicompat.New(openaicompat.Config{
			ProviderName: name,
			BaseURL:      baseURL,
			Timeout:      f.cfg.Timeout,
		}, creds, opts.Params, enricher, f.logger), nil
	}
}

// Transcriber constructs the speech-to-text adapter for name. A chat-only
// provider does not fail the request: the default STT provider substitutes,
// and its credentials come from the environment alone, never from the
// original provider's override or stored secret.
func (f *Factory) Transcriber(ctx context.Context, name string, opts Options) (speech.Transcriber, error) {
	requested := canonicalName(name)
	caps, known := f.lookup(requested)
	if !known {
		return nil, types.NewError(types.ErrUnsupportedProvider,
			fmt.Sprintf("unknown provider %q", requested)).WithProvider(requested)
	}

	target := requested
	var creds credentials.ResolvedCredentials
	var err error
	if caps.Has(llm.CapTranscribe) {
		creds, err = f.resolver.Resolve(ctx, target, opts.Overrides)
	} else {
		target = canonicalName(f.cfg.DefaultSTTProvider)
		if targetCaps, ok := capabilityTable[target]; !ok || !targetCaps.Has(llm.CapTranscribe) {
			return nil, types.NewError(types.ErrUnsupportedCapability,
				fmt.Sprintf("provider %q does not support transcription and default %q cannot substitute", requested, target)).
				WithProvider(requested)
		}
		f.logger.Warn("provider lacks transcription, substituting default",
			zap.String("requested", requested),
			zap.String("substitute", target))
		creds, err = f.resolver.ResolveFromEnv(ctx, target)
	}
	if err != nil {
		return nil, err
	}

	// Audio uploads run long; the transcriber keeps its own timeout.
	return speech.NewWhisper(speech.WhisperConfig{
		BaseURL: f.cfg.Endpoints[target],
	}, creds, f.logger), nil
}

// BuildRegistry constructs the named chat providers and registers each under
// its canonical name. A provider that fails to initialize is logged and
// skipped so one bad credential does not take the rest down.
func (f *Factory) BuildRegistry(ctx context.Context, names []string, defaultName string, opts Options) (*llm.Registry, error) {
	reg := llm.NewRegistry()

	for _, name := range names {
		p, err := f.Provider(ctx, name, ModeStreamingLLM, opts)
		if err != nil {
			f.logger.Warn("skipping provider: initialization failed",
				zap.String("provider", name),
				zap.Error(err))
			continue
		}
		reg.Register(p.Name(), p)
		f.logger.Info("provider registered", zap.String("provider", p.Name()))
	}

	if defaultName != "" {
		if err := reg.SetDefault(canonicalName(defaultName)); err != nil {
			return reg, fmt.Errorf("set default provider %q: %w", defaultName, err)
		}
	}
	return reg, nil
}
