package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const serviceVersion = "1.0.0"

var startTime = time.Now()

// Pinger is a dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// CoreHandlers contains health, readiness and metrics handlers
type CoreHandlers struct {
	checks map[string]Pinger
	logger *zap.Logger
}

// NewCoreHandlers creates a new core handlers instance. checks are probed by
// the readiness endpoint, keyed by dependency name.
func NewCoreHandlers(checks map[string]Pinger, logger *zap.Logger) *CoreHandlers {
	return &CoreHandlers{checks: checks, logger: logger}
}

// HealthCheck represents a health check result
type HealthCheck struct {
	Service   string        `json:"service"`
	Status    string        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Health reports liveness
func (h *CoreHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "tracker_service",
		"version":   serviceVersion,
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().Unix(),
	})
}

// Ready checks if the application is ready to serve traffic
func (h *CoreHandlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ready := true
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, pinger := range h.checks {
		check := probe(ctx, name, pinger)
		if check.Status != "healthy" {
			ready = false
			h.logger.Warn("Readiness check failed", zap.String("service", name), zap.String("error", check.Error))
		}
		checks[name] = check
	}

	status, statusCode := "ready", http.StatusOK
	if !ready {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"timestamp": time.Now(),
		"checks":    checks,
	})
}

func probe(ctx context.Context, name string, pinger Pinger) HealthCheck {
	start := time.Now()
	check := HealthCheck{Service: name, Timestamp: start}

	err := pinger.Ping(ctx)
	check.Latency = time.Since(start)
	if err != nil {
		check.Status = "unhealthy"
		check.Error = err.Error()
	} else {
		check.Status = "healthy"
	}
	return check
}

// Metrics exposes Prometheus metrics
func Metrics() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
