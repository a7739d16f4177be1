package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/halverson/custodian/internal/domain"
	"github.com/halverson/custodian/internal/jobs"
	"github.com/halverson/custodian/internal/maintenance"
)

// JobHandler exposes the job tracker over HTTP with the same conflict and
// idempotence semantics as the in-process API: duplicate registration maps
// to 409, maintenance-mode rejection to 503.
type JobHandler struct {
	tracker     *jobs.Tracker
	coordinator *maintenance.Coordinator
}

// NewJobHandler creates a new job handler.
func NewJobHandler(tracker *jobs.Tracker, coordinator *maintenance.Coordinator) *JobHandler {
	return &JobHandler{tracker: tracker, coordinator: coordinator}
}

// RegisterJobRequest is the job registration payload.
type RegisterJobRequest struct {
	JobID         string `json:"job_id" binding:"required"`
	OperationType string `json:"operation_type" binding:"required"`
	Username      string `json:"username" binding:"required"`
	IsAdmin       bool   `json:"is_admin"`
	RepoAlias     string `json:"repo_alias"`
	Metadata      string `json:"metadata"`
}

// DuplicateJobResponse is the structured 409 body.
type DuplicateJobResponse struct {
	Error         string `json:"error"`
	OperationType string `json:"operation_type"`
	RepoAlias     string `json:"repo_alias,omitempty"`
	ExistingJobID string `json:"existing_job_id"`
}

// Register creates a pending job. Admission control: registration is
// refused while the service is in maintenance mode; running jobs are
// unaffected.
func (h *JobHandler) Register(c *gin.Context) {
	var req RegisterJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.coordinator.InMaintenance() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service in maintenance mode"})
		return
	}

	job, err := h.tracker.RegisterJob(c.Request.Context(), jobs.JobSpec{
		JobID:         req.JobID,
		OperationType: req.OperationType,
		Username:      req.Username,
		IsAdmin:       req.IsAdmin,
		RepoAlias:     req.RepoAlias,
		Metadata:      req.Metadata,
	})
	if err != nil {
		var dup *domain.DuplicateJobError
		if errors.As(err, &dup) {
			c.JSON(http.StatusConflict, DuplicateJobResponse{
				Error:         dup.Error(),
				OperationType: dup.OperationType,
				RepoAlias:     dup.RepoAlias,
				ExistingJobID: dup.ExistingJobID,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, job)
}

// Get returns a single job by ID, whether active or terminal.
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.tracker.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListActive returns all pending and running jobs with counts.
func (h *JobHandler) ListActive(c *gin.Context) {
	active := h.tracker.GetActiveJobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":          active,
		"active_count":  len(active),
		"pending_count": h.tracker.GetPendingJobCount(),
	})
}

// UpdateJobRequest carries optional status/progress updates.
type UpdateJobRequest struct {
	Status       *domain.JobStatus `json:"status"`
	Progress     *int              `json:"progress"`
	ProgressInfo *string           `json:"progress_info"`
	Result       string            `json:"result"`
	Error        string            `json:"error"`
}

// Update applies a status or progress update. Terminal statuses route
// through the tracker's completion/failure paths to keep terminal
// idempotence.
func (h *JobHandler) Update(c *gin.Context) {
	jobID := c.Param("id")

	var req UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch {
	case req.Status != nil && *req.Status == domain.JobStatusCompleted:
		err = h.tracker.CompleteJob(ctx, jobID, req.Result)
	case req.Status != nil && *req.Status == domain.JobStatusFailed:
		err = h.tracker.FailJob(ctx, jobID, req.Error)
	default:
		err = h.tracker.UpdateStatus(ctx, jobID, jobs.StatusUpdate{
			Status:       req.Status,
			Progress:     req.Progress,
			ProgressInfo: req.ProgressInfo,
		})
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.tracker.GetJob(ctx, jobID)
	if err != nil || job == nil {
		c.JSON(http.StatusOK, gin.H{"updated": true})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel sets the cooperative cancellation flag on an active job.
func (h *JobHandler) Cancel(c *gin.Context) {
	if err := h.tracker.CancelJob(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
