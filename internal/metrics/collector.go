package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the gateway's Prometheus metrics.
type Collector struct {
	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Ask pipeline
	askTotal            *prometheus.CounterVec
	askDuration         *prometheus.HistogramVec
	askStateTransitions *prometheus.CounterVec
	streamTokens        *prometheus.CounterVec

	// Retrieval
	retrievalAttempts  *prometheus.CounterVec
	retrievalFallbacks prometheus.Counter

	// Persistence
	persistenceFailures *prometheus.CounterVec

	// Providers
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerTokens          *prometheus.CounterVec
	providerCost            *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWith creates a collector registered on the given
// registerer.
func NewCollectorWith(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// =========================================================================
	// HTTP surface
	// =========================================================================

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// =========================================================================
	// Ask pipeline
	// =========================================================================

	c.askTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_requests_total",
			Help:      "Total number of ask requests",
		},
		[]string{"provider", "status"},
	)

	c.askDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "Ask request duration in seconds, streaming included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	c.askStateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_state_transitions_total",
			Help:      "Total number of ask pipeline state transitions",
		},
		[]string{"from", "to"},
	)

	c.streamTokens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_tokens_total",
			Help:      "Total number of stream tokens forwarded to clients",
		},
		[]string{"provider"},
	)

	// =========================================================================
	// Retrieval
	// =========================================================================

	c.retrievalAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_attempts_total",
			Help:      "Total number of knowledge-base retrieval attempts",
		},
		[]string{"stage"}, // stage: preprocessed, expanded
	)

	c.retrievalFallbacks = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_fallbacks_total",
			Help:      "Total number of retrievals degraded to the fallback context",
		},
	)

	// =========================================================================
	// Persistence
	// =========================================================================

	c.persistenceFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Total number of failed session store writes",
		},
		[]string{"operation"}, // operation: session, message
	)

	// =========================================================================
	// Providers
	// =========================================================================

	c.providerRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of upstream provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.providerRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Upstream provider request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.providerTokens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.providerCost = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cost_total",
			Help:      "Total provider cost in USD",
		},
		[]string{"provider", "model"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordAsk records one completed ask request. status is success, error
// or partial.
func (c *Collector) RecordAsk(provider, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.askTotal.WithLabelValues(provider, status).Inc()
	c.askDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordStateTransition records one ask pipeline state transition.
func (c *Collector) RecordStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.askStateTransitions.WithLabelValues(from, to).Inc()
}

// RecordStreamTokens adds forwarded token count for a provider.
func (c *Collector) RecordStreamTokens(provider string, count int) {
	if c == nil || count <= 0 {
		return
	}
	c.streamTokens.WithLabelValues(provider).Add(float64(count))
}

// RecordRetrievalAttempt records one retrieval attempt by stage.
func (c *Collector) RecordRetrievalAttempt(stage string) {
	if c == nil {
		return
	}
	c.retrievalAttempts.WithLabelValues(stage).Inc()
}

// RecordRetrievalFallback records one retrieval degraded to fallback.
func (c *Collector) RecordRetrievalFallback() {
	if c == nil {
		return
	}
	c.retrievalFallbacks.Inc()
}

// RecordPersistenceFailure records one failed session store write.
func (c *Collector) RecordPersistenceFailure(operation string) {
	if c == nil {
		return
	}
	c.persistenceFailures.WithLabelValues(operation).Inc()
}

// RecordProviderRequest records one upstream provider request with its
// token usage.
func (c *Collector) RecordProviderRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int, cost float64) {
	if c == nil {
		return
	}
	c.providerRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.providerRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.providerTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.providerTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	c.providerCost.WithLabelValues(provider, model).Add(cost)
}

// statusCode buckets an HTTP status code for the status label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
