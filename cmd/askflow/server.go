package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/askflow"
	"github.com/BaSui01/askflow/api/handlers"
	"github.com/BaSui01/askflow/ask"
	"github.com/BaSui01/askflow/config"
	"github.com/BaSui01/askflow/internal/metrics"
	"github.com/BaSui01/askflow/internal/server"
	"github.com/BaSui01/askflow/internal/telemetry"
)

// protectedSkipPaths lists the endpoints that stay open when JWT
// authentication is on.
var protectedSkipPaths = []string{
	"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics",
}

// Server assembles the gateway behind the HTTP surface.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	gateway     *askflow.Gateway
	collector   *metrics.Collector
	telemetry   *telemetry.Providers
	httpManager *server.Manager
	watcher     *config.Watcher
	cancel      context.CancelFunc
}

// NewServer creates a Server; Start wires and launches it.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// Start builds the pipeline and begins serving. It returns once the
// listener is bound.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("telemetry init failed, continuing without it", zap.Error(err))
	} else {
		s.telemetry = providers
	}

	s.collector = metrics.NewCollector("askflow", s.logger)

	gw, err := askflow.New(ctx, s.cfg,
		askflow.WithLogger(s.logger),
		askflow.WithCollector(s.collector),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("build gateway: %w", err)
	}
	s.gateway = gw

	handler := Chain(s.buildMux(), s.buildMiddleware(ctx)...)

	s.httpManager = server.NewManager(handler, server.FromServerConfig(s.cfg.Server), s.logger)
	if err := s.httpManager.Start(); err != nil {
		cancel()
		s.gateway.Close()
		return err
	}

	if s.configPath != "" {
		s.startWatcher(ctx)
	}

	s.logger.Info("askflow ready",
		zap.String("addr", s.httpManager.Addr()),
		zap.String("default_provider", s.cfg.Ask.DefaultProvider),
		zap.String("store", s.cfg.Store.Type),
		zap.Bool("retrieval", s.cfg.Retrieval.KnowledgeBaseID != ""),
		zap.Bool("auth", s.cfg.Server.JWTSecret != ""),
	)
	return nil
}

// buildMux registers the routes.
func (s *Server) buildMux() *http.ServeMux {
	askerFactory := func(n ask.Notifier) handlers.Asker {
		return s.gateway.Asker(n)
	}
	askHandler := handlers.NewAskHandler(askerFactory, s.logger)
	wsHandler := handlers.NewWSHandler(askerFactory, s.logger)

	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewPingCheck("session_store", s.gateway.Store().Ping))

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ask", askHandler.HandleAsk)
	mux.HandleFunc("/v1/ask/stream", askHandler.HandleStream)
	mux.HandleFunc("/v1/ask/ws", wsHandler.HandleWS)
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", healthHandler.HandleReady)
	mux.HandleFunc("/readyz", healthHandler.HandleReady)
	mux.HandleFunc("/version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// buildMiddleware assembles the chain, outermost first. Auth and rate
// limiting are present only when configured.
func (s *Server) buildMiddleware(ctx context.Context) []Middleware {
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.cfg.Server.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWTSecret, protectedSkipPaths, s.logger))
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	return middlewares
}

// startWatcher hot-reloads nothing by itself; it logs config file changes
// so operators know a restart is needed for them to take effect.
func (s *Server) startWatcher(ctx context.Context) {
	watcher, err := config.NewWatcher(s.configPath, config.NewLoader().WithConfigPath(s.configPath),
		config.WithWatcherLogger(s.logger))
	if err != nil {
		s.logger.Warn("config watcher unavailable", zap.Error(err))
		return
	}
	watcher.OnReload(func(cfg *config.Config) {
		s.logger.Info("config file changed; restart to apply",
			zap.String("path", s.configPath))
	})
	watcher.OnError(func(err error) {
		s.logger.Warn("config reload failed", zap.Error(err))
	})
	if err := watcher.Start(ctx); err != nil {
		s.logger.Warn("config watcher failed to start", zap.Error(err))
		return
	}
	s.watcher = watcher
}

// WaitForShutdown blocks until the listener stops, then tears the rest
// down.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown stops the watcher and background sweeps, then closes the store
// and telemetry concurrently.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.gateway != nil {
		g.Go(s.gateway.Close)
	}
	if s.telemetry != nil {
		g.Go(func() error { return s.telemetry.Shutdown(gctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("shutdown incomplete", zap.Error(err))
	}

	s.logger.Info("askflow stopped")
}
