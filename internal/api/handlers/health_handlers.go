package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthCheck is the result of one dependency check.
type HealthCheck struct {
	Status  string        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// HealthResponse is returned by the probes.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	ChainID   uint64                 `json:"chain_id"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks,omitempty"`
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	dependencies map[string]Pinger
	logger       *zap.Logger
	version      string
	chainID      uint64
	startTime    time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(dependencies map[string]Pinger, chainID uint64, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		dependencies: dependencies,
		logger:       logger,
		version:      version,
		chainID:      chainID,
		startTime:    time.Now(),
	}
}

// Health handles GET /health. It reports liveness only.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		ChainID:   h.chainID,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Ready handles GET /ready, pinging every dependency.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	checks := make(map[string]HealthCheck, len(h.dependencies))
	for name, dep := range h.dependencies {
		start := time.Now()
		check := HealthCheck{Status: "healthy"}
		if err := dep.Ping(ctx); err != nil {
			check.Status = "unhealthy"
			check.Error = err.Error()
			status = "not_ready"
		}
		check.Latency = time.Since(start)
		checks[name] = check
	}

	statusCode := http.StatusOK
	if status != "ready" {
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("Readiness check failed", zap.Any("checks", checks))
	}

	c.JSON(statusCode, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   h.version,
		ChainID:   h.chainID,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    checks,
	})
}

// Metrics exposes Prometheus metrics.
func Metrics() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
