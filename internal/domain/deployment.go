package domain

import "time"

// DeploymentStatus represents the outcome of the most recent deployment
// attempt on this host.
type DeploymentStatus string

const (
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentSuccess    DeploymentStatus = "success"
	DeploymentFailed     DeploymentStatus = "failed"
)

// DeploymentRecord is the single-slot durable record the deployment executor
// writes before and after every attempt. A record left at in_progress or
// failed means a prior run died mid-deploy and the next start must finish
// the job before doing anything else.
type DeploymentRecord struct {
	Status    DeploymentStatus `json:"status"`
	Message   string           `json:"message"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NeedsRecovery reports whether a prior deployment attempt was left
// unfinished or failed and should be re-run on start.
func (r *DeploymentRecord) NeedsRecovery() bool {
	return r.Status == DeploymentInProgress || r.Status == DeploymentFailed
}
