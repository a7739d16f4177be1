package domain

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle status of a tracked job.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status is completed or failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the status is pending or running.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// OrphanedJobError is the sentinel error written to jobs found non-terminal
// in the store at startup. The process that owned them no longer exists.
const OrphanedJobError = "orphaned by service restart"

// TrackedJob represents a long-lived background operation against an
// optional repository alias. The job ID is caller-supplied and unique.
type TrackedJob struct {
	ID            string     `gorm:"column:job_id;type:text;primaryKey" json:"job_id"`
	OperationType string     `gorm:"type:text;not null;index:idx_op_alias" json:"operation_type"`
	Status        JobStatus  `gorm:"default:pending;index" json:"status"`
	Username      string     `gorm:"type:text;not null" json:"username"`
	IsAdmin       bool       `gorm:"default:false" json:"is_admin"`
	RepoAlias     string     `gorm:"type:text;index:idx_op_alias" json:"repo_alias,omitempty"`
	Progress      int        `gorm:"default:0" json:"progress"`
	ProgressInfo  string     `json:"progress_info,omitempty"`
	Metadata      string     `gorm:"type:text" json:"metadata,omitempty"`
	Cancelled     bool       `gorm:"default:false" json:"cancelled"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	Result        string     `gorm:"type:text" json:"result,omitempty"`
}

// TableName returns the database table name for TrackedJob.
func (TrackedJob) TableName() string {
	return "tracked_jobs"
}

// IsActive reports whether the job still counts against the per-resource
// conflict rule.
func (j *TrackedJob) IsActive() bool {
	return j.Status.IsActive()
}

// DuplicateJobError signals that an active job with the same
// (operation type, repo alias) pair already exists. It is returned from
// registration and conflict probes and is never persisted.
type DuplicateJobError struct {
	OperationType string
	RepoAlias     string
	ExistingJobID string
}

func (e *DuplicateJobError) Error() string {
	if e.RepoAlias == "" {
		return fmt.Sprintf("operation %q already active (job %s)", e.OperationType, e.ExistingJobID)
	}
	return fmt.Sprintf("operation %q already active on %q (job %s)", e.OperationType, e.RepoAlias, e.ExistingJobID)
}
