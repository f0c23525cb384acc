package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// readyCheckTimeout bounds the readiness probe as a whole; a hung backend
// must not hang the probe.
const readyCheckTimeout = 5 * time.Second

// HealthCheck is one pluggable readiness probe.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthHandler serves liveness, readiness and version endpoints.
type HealthHandler struct {
	logger *zap.Logger

	mu     sync.RWMutex
	checks []HealthCheck
}

// HealthStatus is the health endpoint response body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one readiness probe.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler creates a HealthHandler with no checks registered.
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger.With(zap.String("component", "health_handler")),
	}
}

// RegisterCheck adds a readiness probe. Safe to call while serving.
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealth serves GET /health. Liveness only; it never consults the
// registered checks.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleHealthz serves GET /healthz, the Kubernetes-style liveness probe.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady serves GET /ready and /readyz. It runs every registered check
// and answers 503 when any fails.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	healthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			healthy = false

			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.Duration("latency", latency),
				zap.Error(err),
			)
		}
		status.Checks[check.Name()] = result
	}

	if !healthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion returns a handler for GET /version with build metadata
// baked in.
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// PingCheck adapts a ping function into a HealthCheck. The session stores
// and other backends expose Ping(ctx) in exactly this shape.
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck creates a named readiness probe from a ping function.
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

// Name returns the probe name used as the map key in the response.
func (c *PingCheck) Name() string { return c.name }

// Check runs the ping.
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
