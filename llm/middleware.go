package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/types"
)

// Handler processes a normalized message list and returns the response text.
type Handler func(ctx context.Context, messages []types.Message) (string, error)

// Middleware wraps a handler with additional functionality.
type Middleware func(next Handler) Handler

// Chain represents a middleware chain.
type Chain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewChain creates a new middleware chain.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use adds middleware to the chain.
func (c *Chain) Use(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
	return c
}

// Then wraps a handler with all middleware.
func (c *Chain) Then(h Handler) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Len returns the number of middleware.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middlewares)
}

// LoggingMiddleware logs request/response details. Pass a logger that already
// carries the provider field.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, messages []types.Message) (string, error) {
			start := time.Now()
			logger.Debug("generate request", zap.Int("messages", len(messages)))

			text, err := next(ctx, messages)

			duration := time.Since(start)
			if err != nil {
				logger.Warn("generate failed", zap.Error(err), zap.Duration("duration", duration))
			} else {
				logger.Debug("generate done",
					zap.Int("response_chars", len(text)),
					zap.Duration("duration", duration))
			}
			return text, err
		}
	}
}

// TimeoutMiddleware adds a deadline to requests.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, messages []types.Message) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, messages)
		}
	}
}

// RecoveryMiddleware recovers from panics in the handler below it.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, messages []types.Message) (text string, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("generate panic recovered", zap.Any("panic", r))
					err = &PanicError{Value: r}
				}
			}()
			return next(ctx, messages)
		}
	}
}

// PanicError represents a recovered panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "panic recovered"
}

// MetricsCollector defines metrics collection for the generate path.
type MetricsCollector interface {
	RecordRequest(provider string, duration time.Duration, success bool)
}

// MetricsMiddleware records per-request metrics under the given provider name.
func MetricsMiddleware(collector MetricsCollector, provider string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, messages []types.Message) (string, error) {
			start := time.Now()
			text, err := next(ctx, messages)
			collector.RecordRequest(provider, time.Since(start), err == nil)
			return text, err
		}
	}
}

// WrapGenerate returns a Provider whose Generate path runs through the chain.
// StreamGenerate, Name and Capabilities pass through untouched.
func WrapGenerate(p Provider, chain *Chain) Provider {
	return &chainedProvider{Provider: p, generate: chain.Then(p.Generate)}
}

type chainedProvider struct {
	Provider
	generate Handler
}

func (c *chainedProvider) Generate(ctx context.Context, messages []types.Message) (string, error) {
	return c.generate(ctx, messages)
}
