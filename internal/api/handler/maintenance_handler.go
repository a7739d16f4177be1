package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/halverson/custodian/internal/config"
	"github.com/halverson/custodian/internal/maintenance"
)

// MaintenanceHandler exposes the control endpoints the deployment executor
// drives: enter/exit maintenance, status, drain status, and the recommended
// drain timeout. All routes sit behind the control-token middleware.
type MaintenanceHandler struct {
	coordinator *maintenance.Coordinator
	jobsCfg     config.JobsConfig
}

// NewMaintenanceHandler creates a new maintenance handler.
func NewMaintenanceHandler(coordinator *maintenance.Coordinator, jobsCfg config.JobsConfig) *MaintenanceHandler {
	return &MaintenanceHandler{coordinator: coordinator, jobsCfg: jobsCfg}
}

// Enter switches the service into maintenance mode. Idempotent.
func (h *MaintenanceHandler) Enter(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.EnterMaintenanceMode())
}

// Exit switches the service back to normal mode. Idempotent.
func (h *MaintenanceHandler) Exit(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.ExitMaintenanceMode())
}

// Status returns the mode plus live job counts.
func (h *MaintenanceHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.GetStatus())
}

// Drain reports whether the service has drained and what is still active.
func (h *MaintenanceHandler) Drain(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.GetDrainStatus())
}

// DrainTimeoutResponse carries the timeouts a deployer should respect.
type DrainTimeoutResponse struct {
	MaxJobTimeoutSeconds   int `json:"max_job_timeout_seconds"`
	RecommendedWaitSeconds int `json:"recommended_wait_seconds"`
}

// DrainTimeout returns the configuration-derived drain wait bound.
func (h *MaintenanceHandler) DrainTimeout(c *gin.Context) {
	c.JSON(http.StatusOK, DrainTimeoutResponse{
		MaxJobTimeoutSeconds:   int(maintenance.MaxJobTimeout(h.jobsCfg).Seconds()),
		RecommendedWaitSeconds: int(maintenance.RecommendedDrainTimeout(h.jobsCfg).Seconds()),
	})
}
