// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package askflow assembles the streaming LLM gateway from one
// configuration struct.
//
// Usage:
//
//	import "github.com/BaSui01/askflow"
//
//	cfg := config.DefaultConfig()
//	gw, err := askflow.New(ctx, cfg)
//	defer gw.Close()
//
//	res := gw.Ask(ctx, ask.Request{Text: "What is the capital of France?"})
//
// New builds the session store, credential resolver, retrieval client and
// provider factory; Asker hands out a fresh orchestrator per logical
// session. The HTTP surface in cmd/askflow sits on top of this package.
package askflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/askflow/ask"
	"github.com/BaSui01/askflow/config"
	"github.com/BaSui01/askflow/credentials"
	"github.com/BaSui01/askflow/internal/metrics"
	"github.com/BaSui01/askflow/llm/factory"
	"github.com/BaSui01/askflow/memory"
	"github.com/BaSui01/askflow/persistence"
	"github.com/BaSui01/askflow/retrieval"
)

// Gateway holds the long-lived pieces of the ask pipeline: the session
// store, the provider factory and the retrieval client. It is safe for
// concurrent use; per-request state lives in the Asker.
type Gateway struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	secrets   credentials.SecretStore
	store     persistence.SessionStore
	factory   *factory.Factory
	prompter  ask.Prompter
}

// Option configures the Gateway built by New.
type Option func(*Gateway)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithCollector attaches a metrics collector to the pipeline and the
// retrieval client.
func WithCollector(c *metrics.Collector) Option {
	return func(g *Gateway) { g.collector = c }
}

// WithSecretStore attaches a per-user secret backend to the credential
// resolver. Without one, provider secrets come from the environment only.
func WithSecretStore(s credentials.SecretStore) Option {
	return func(g *Gateway) { g.secrets = s }
}

// New builds a Gateway from cfg. A nil cfg uses the development defaults:
// in-memory persistence, retrieval disabled, environment credentials.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	g := &Gateway{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	store, err := persistence.New(ctx, storeConfig(cfg.Store), g.logger)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	g.store = store

	resolverOpts := []credentials.Option{credentials.WithLogger(g.logger)}
	if g.secrets != nil {
		resolverOpts = append(resolverOpts, credentials.WithSecretStore(g.secrets))
	}
	resolver := credentials.NewResolver(resolverOpts...)

	var kb *retrieval.Client
	if cfg.Retrieval.KnowledgeBaseID != "" {
		httpStore := retrieval.NewHTTPStore(retrieval.HTTPStoreConfig{
			BaseURL: cfg.Retrieval.Endpoint,
			Timeout: cfg.Retrieval.Timeout,
			APIKey:  cfg.Retrieval.APIKey,
		}, g.logger)
		kb = retrieval.NewClient(httpStore, retrieval.Config{
			KnowledgeBaseID: cfg.Retrieval.KnowledgeBaseID,
			ModelID:         cfg.Retrieval.ModelID,
			RequestPrefix:   cfg.Retrieval.RequestPrefix,
		}, g.logger)
		if g.collector != nil {
			kb.SetMetrics(g.collector)
		}
	}

	g.factory = factory.New(factory.Config{
		DefaultSTTProvider: cfg.Providers.STTFallback,
		Endpoints:          cfg.Providers.Endpoints,
		OpenAIOrganization: cfg.Providers.OpenAIOrganization,
		Timeout:            cfg.Providers.Timeout,
	}, resolver, kb, g.logger)

	g.prompter = ask.StaticPrompter(ask.DefaultSystemPrompt)
	if cfg.Ask.SystemPrompt != "" {
		g.prompter = ask.StaticPrompter(cfg.Ask.SystemPrompt)
	}

	return g, nil
}

// Asker binds one orchestrator to one logical session. Calls on the same
// Asker must be serialized by the caller; independent sessions take
// independent Askers.
type Asker struct {
	gateway      *Gateway
	orchestrator *ask.Orchestrator
}

// Asker builds a fresh orchestrator with its own conversation window. A
// nil notifier means no incremental progress delivery.
func (g *Gateway) Asker(n ask.Notifier) *Asker {
	opts := []ask.Option{
		ask.WithSessionStore(g.store),
		ask.WithWindow(g.newWindow()),
		ask.WithPrompter(g.prompter),
		ask.WithLogger(g.logger),
	}
	if n != nil {
		opts = append(opts, ask.WithNotifier(n))
	}
	if g.collector != nil {
		opts = append(opts, ask.WithMetrics(g.collector))
	}
	if g.cfg.Ask.Feature != "" {
		opts = append(opts, ask.WithFeature(g.cfg.Ask.Feature))
	}
	if g.cfg.Ask.HistoryLimit > 0 {
		opts = append(opts, ask.WithHistoryLimit(g.cfg.Ask.HistoryLimit))
	}

	return &Asker{
		gateway:      g,
		orchestrator: ask.New(g.factory, opts...),
	}
}

// Ask runs one request to completion, with the configured defaults filled
// into empty fields.
func (a *Asker) Ask(ctx context.Context, req ask.Request) ask.Result {
	return a.orchestrator.Ask(ctx, a.gateway.withDefaults(req))
}

// Ask is the one-shot form: a fresh session, no incremental progress.
func (g *Gateway) Ask(ctx context.Context, req ask.Request) ask.Result {
	return g.Asker(nil).Ask(ctx, req)
}

// Store exposes the session store, mainly for health checks and tooling.
func (g *Gateway) Store() persistence.SessionStore {
	return g.store
}

// Close releases the session store.
func (g *Gateway) Close() error {
	if g.store != nil {
		return g.store.Close()
	}
	return nil
}

// withDefaults fills empty request fields from the ask section.
func (g *Gateway) withDefaults(req ask.Request) ask.Request {
	if req.Provider == "" {
		req.Provider = g.cfg.Ask.DefaultProvider
	}
	if req.Params.Model == "" {
		req.Params.Model = g.cfg.Ask.Model
	}
	if req.Params.Temperature == 0 {
		req.Params.Temperature = g.cfg.Ask.Temperature
	}
	if req.Params.MaxTokens == 0 {
		req.Params.MaxTokens = g.cfg.Ask.MaxTokens
	}
	return req
}

// newWindow builds the per-session conversation memory. Windows are
// single-writer, so every Asker gets its own.
func (g *Gateway) newWindow() *memory.Window {
	opts := make([]memory.Option, 0, 2)
	if g.cfg.Memory.Capacity > 0 {
		opts = append(opts, memory.WithCapacity(g.cfg.Memory.Capacity))
	}
	if g.cfg.Memory.MaxAge > 0 {
		opts = append(opts, memory.WithMaxAge(g.cfg.Memory.MaxAge))
	}
	return memory.NewWindow(opts...)
}

// storeConfig maps the configuration's store section onto the persistence
// package's form.
func storeConfig(cfg config.StoreConfig) persistence.Config {
	return persistence.Config{
		Type: persistence.StoreType(cfg.Type),
		DSN:  cfg.DSN,
		Redis: persistence.RedisConfig{
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		},
		Mongo: persistence.MongoConfig{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		},
	}
}

// NewLogger builds a zap logger from the log section. The zero value
// yields JSON at info level on stdout.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	return zapCfg.Build()
}
