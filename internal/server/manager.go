package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/config"
)

// Manager owns the HTTP listener lifecycle: non-blocking start, graceful
// shutdown, and signal handling. One Manager serves one listener.
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// Config holds the listener settings.
type Config struct {
	Addr        string        `yaml:"addr" json:"addr"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout of zero never times out writes. Streaming responses
	// need that; a bounded value cuts SSE and websocket sessions off.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// FromServerConfig maps the gateway's server section onto listener settings.
// The idle timeout is derived as twice the read timeout so keep-alive
// connections outlive a single slow request.
func FromServerConfig(cfg config.ServerConfig) Config {
	out := DefaultConfig()
	out.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.HTTPPort))
	if cfg.ReadTimeout > 0 {
		out.ReadTimeout = cfg.ReadTimeout
		out.IdleTimeout = 2 * cfg.ReadTimeout
	}
	out.WriteTimeout = cfg.WriteTimeout
	if cfg.ShutdownTimeout > 0 {
		out.ShutdownTimeout = cfg.ShutdownTimeout
	}
	return out
}

// NewManager wraps handler in a managed http.Server.
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		server: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		errCh:  make(chan error, 1),
		config: cfg,
		logger: logger.With(zap.String("component", "http_server")),
	}
}

// Start binds the listener and serves in the background. It returns once
// the address is bound, so a failed bind surfaces here rather than on the
// error channel.
func (m *Manager) Start() error {
	listener, err := m.bind()
	if err != nil {
		return err
	}

	m.logger.Info("starting HTTP server", zap.String("addr", listener.Addr().String()))
	go m.serve(func() error { return m.server.Serve(listener) })
	return nil
}

// StartTLS is Start for HTTPS.
func (m *Manager) StartTLS(certFile, keyFile string) error {
	listener, err := m.bind()
	if err != nil {
		return err
	}

	m.logger.Info("starting HTTPS server",
		zap.String("addr", listener.Addr().String()),
		zap.String("cert", certFile),
	)
	go m.serve(func() error { return m.server.ServeTLS(listener, certFile, keyFile) })
	return nil
}

// bind reserves the listen address under the lifecycle lock.
func (m *Manager) bind() (net.Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		return nil, fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = listener
	return listener, nil
}

func (m *Manager) serve(run func() error) {
	if err := run(); err != nil && err != http.ErrServerClosed {
		m.logger.Error("HTTP server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown drains in-flight requests within the configured timeout.
// Calling it again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	m.listener = nil

	m.logger.Info("HTTP server stopped")
	return nil
}

// WaitForShutdown blocks until SIGINT, SIGTERM or a serve failure, then
// shuts the server down.
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-m.errCh:
		if err != nil {
			m.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors exposes asynchronous serve failures.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr reports the bound address while running, which resolves ":0" to the
// actual port, and the configured address otherwise.
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning reports whether the manager has not been shut down.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
