package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/halverson/custodian/internal/maintenance"
)

// IndexChecker reports vector-index integrity for degraded-state reporting.
type IndexChecker interface {
	CheckIntegrity(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	coordinator *maintenance.Coordinator
	index       IndexChecker // nil when index verification is disabled
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(coordinator *maintenance.Coordinator, index IndexChecker) *HealthHandler {
	return &HealthHandler{coordinator: coordinator, index: index}
}

// Health returns the health status of the service. The service stays
// healthy in maintenance mode; the mode is reported so probes can tell the
// difference between drained-for-deploy and down. Index degradation is
// reported but does not fail the probe.
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.coordinator.GetStatus()

	indexState := "disabled"
	if h.index != nil {
		indexState = "ok"
		if err := h.index.CheckIntegrity(c.Request.Context()); err != nil {
			indexState = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"mode":         status.Mode,
		"running_jobs": status.RunningJobs,
		"index":        indexState,
	})
}
