// Package health exposes the liveness/readiness probes cmd/gateway wires into
// the HTTP router (spec §8 "External Interfaces").
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jes11sy/realtime-gateway/internal/v1/logging"
	"go.uber.org/zap"
)

// Bus is the subset of bus.Bus the readiness probe needs.
type Bus interface {
	Ping(ctx context.Context) error
	Ready() bool
}

// Handler manages health check endpoints.
type Handler struct {
	bus Bus
}

// NewHandler creates a new health check handler. bus may be nil for tests
// that want to exercise the handler without a live dependency.
func NewHandler(b Bus) *Handler {
	return &Handler{bus: b}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /healthz. Always 200 while the process is alive;
// it deliberately checks no dependency.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /readyz. Redis absence is reported as
// "degraded" rather than failing the probe outright: the gateway keeps
// serving local-only WebSocket traffic in degraded mode (spec §4.2, §9).
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"redis": h.checkRedis(ctx)}

	status := "ready"
	statusCode := http.StatusOK
	if checks["redis"] == "unhealthy" {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	} else if checks["redis"] == "degraded" {
		status = "degraded"
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis reports "degraded" (not "unhealthy") when the bus has
// deliberately fallen back to single-instance mode, versus "unhealthy" when
// a bus that believes itself connected fails to answer a ping.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.bus == nil {
		return "healthy"
	}
	if !h.bus.Ready() {
		return "degraded"
	}
	if err := h.bus.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
