package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/halverson/custodian/internal/domain"
	"github.com/halverson/custodian/internal/logger"
	"github.com/halverson/custodian/internal/repository"
)

// Tracker is the in-memory index over the durable job store. It provides
// conflict detection, fast counts, and a thread-safe mutation API. Every
// read-then-write path runs under a single mutex so the store and the index
// never disagree from a caller's perspective.
//
// Trackers are constructed per process and injected; there is no package
// level instance.
type Tracker struct {
	mu     sync.Mutex
	repo   *repository.JobRepository
	logger *logger.Logger

	// active indexes pending and running jobs by ID. Terminal jobs drop
	// out of the index and remain only in the store for audit.
	active map[string]*domain.TrackedJob
}

// JobSpec describes a job to register. The ID is caller-supplied and must
// be unique across all jobs ever registered.
type JobSpec struct {
	JobID         string
	OperationType string
	Username      string
	IsAdmin       bool
	RepoAlias     string
	Metadata      string
}

// NewTracker creates a tracker over the given job repository.
func NewTracker(repo *repository.JobRepository, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Tracker{
		repo:   repo,
		logger: log.WithField(logger.FieldComponent, "job_tracker"),
		active: make(map[string]*domain.TrackedJob),
	}
}

// CleanupOrphanedJobsOnStartup marks every pending or running job in the
// store as failed with a sentinel error. Jobs left active in the store at
// process start are necessarily orphaned: no tracker owning them can still
// exist. Must be called before the first registration.
// Returns:
//   - int: number of jobs reconciled.
//   - error: non-nil if the store update fails.
func (t *Tracker) CleanupOrphanedJobsOnStartup(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count, err := t.repo.FailAllActive(ctx, domain.OrphanedJobError)
	if err != nil {
		return 0, fmt.Errorf("orphan cleanup: %w", err)
	}
	if count > 0 {
		t.logger.WithField(logger.FieldCount, count).Warn("Reconciled orphaned jobs from previous run")
	}
	return count, nil
}

// RegisterJob creates a pending job, persists it, and indexes it.
// Returns a DuplicateJobError if an active job with the same
// (operation type, repo alias) pair already exists. Different operation
// types or different aliases never conflict.
func (t *Tracker) RegisterJob(ctx context.Context, spec JobSpec) (*domain.TrackedJob, error) {
	if spec.JobID == "" {
		return nil, fmt.Errorf("job ID required")
	}
	if spec.OperationType == "" {
		return nil, fmt.Errorf("operation type required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing := t.findConflict(spec.OperationType, spec.RepoAlias); existing != nil {
		return nil, &domain.DuplicateJobError{
			OperationType: spec.OperationType,
			RepoAlias:     spec.RepoAlias,
			ExistingJobID: existing.ID,
		}
	}
	if _, ok := t.active[spec.JobID]; ok {
		return nil, fmt.Errorf("job %s already registered", spec.JobID)
	}

	job := &domain.TrackedJob{
		ID:            spec.JobID,
		OperationType: spec.OperationType,
		Status:        domain.JobStatusPending,
		Username:      spec.Username,
		IsAdmin:       spec.IsAdmin,
		RepoAlias:     spec.RepoAlias,
		Metadata:      spec.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
	if err := t.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job %s: %w", spec.JobID, err)
	}
	t.active[job.ID] = job

	t.logger.WithFields(logger.Fields{
		logger.FieldJobID:     job.ID,
		logger.FieldOperation: job.OperationType,
		logger.FieldRepoAlias: job.RepoAlias,
		logger.FieldUserID:    job.Username,
	}).Info("Registered job")

	copied := *job
	return &copied, nil
}

// CheckOperationConflict probes the conflict rule without registering.
// Returns nil when registration would be accepted, or the DuplicateJobError
// that registration would return.
func (t *Tracker) CheckOperationConflict(operationType, repoAlias string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing := t.findConflict(operationType, repoAlias); existing != nil {
		return &domain.DuplicateJobError{
			OperationType: operationType,
			RepoAlias:     repoAlias,
			ExistingJobID: existing.ID,
		}
	}
	return nil
}

// findConflict returns the active job holding the (operationType, repoAlias)
// pair, if any. Caller must hold t.mu.
func (t *Tracker) findConflict(operationType, repoAlias string) *domain.TrackedJob {
	for _, job := range t.active {
		if job.OperationType == operationType && job.RepoAlias == repoAlias {
			return job
		}
	}
	return nil
}

// StatusUpdate carries optional field updates for UpdateStatus. Nil fields
// are left unchanged.
type StatusUpdate struct {
	Status       *domain.JobStatus
	Progress     *int
	ProgressInfo *string
}

// UpdateStatus transitions a job's status and/or updates its progress.
// A transition to running stamps started_at if unset. Terminal transitions
// must go through CompleteJob or FailJob.
func (t *Tracker) UpdateStatus(ctx context.Context, jobID string, upd StatusUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[jobID]
	if !ok {
		return fmt.Errorf("job %s not active", jobID)
	}

	prev := *job
	if upd.Status != nil {
		next := *upd.Status
		if next.IsTerminal() {
			return fmt.Errorf("job %s: terminal transitions go through CompleteJob/FailJob", jobID)
		}
		// Status only moves forward: pending -> running. Same-status updates
		// are no-ops so progress-only callers can resend the current status.
		if next != job.Status && !(job.Status == domain.JobStatusPending && next == domain.JobStatusRunning) {
			return fmt.Errorf("job %s: invalid transition %s -> %s", jobID, job.Status, next)
		}
		if next == domain.JobStatusRunning && job.StartedAt == nil {
			now := time.Now().UTC()
			job.StartedAt = &now
		}
		job.Status = next
	}
	if upd.Progress != nil {
		p := *upd.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		job.Progress = p
	}
	if upd.ProgressInfo != nil {
		job.ProgressInfo = *upd.ProgressInfo
	}

	if err := t.repo.Save(ctx, job); err != nil {
		*job = prev
		return fmt.Errorf("persist job %s: %w", jobID, err)
	}
	return nil
}

// CompleteJob moves a job to completed with an optional result payload.
// Calling it on an already-terminal job is a no-op.
func (t *Tracker) CompleteJob(ctx context.Context, jobID, result string) error {
	return t.finalize(ctx, jobID, domain.JobStatusCompleted, result, "")
}

// FailJob moves a job to failed with an error message.
// Calling it on an already-terminal job is a no-op.
func (t *Tracker) FailJob(ctx context.Context, jobID, errMsg string) error {
	return t.finalize(ctx, jobID, domain.JobStatusFailed, "", errMsg)
}

func (t *Tracker) finalize(ctx context.Context, jobID string, status domain.JobStatus, result, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[jobID]
	if !ok {
		// Already terminal (or never registered): a second terminal call
		// never resurrects a job.
		stored, err := t.repo.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("job %s not found", jobID)
		}
		return nil
	}

	prev := *job
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	if status == domain.JobStatusCompleted {
		job.Progress = 100
		job.Result = result
	} else {
		job.Error = errMsg
	}

	if err := t.repo.Save(ctx, job); err != nil {
		*job = prev
		return fmt.Errorf("persist job %s: %w", jobID, err)
	}
	delete(t.active, jobID)

	t.logger.WithFields(logger.Fields{
		logger.FieldJobID:  jobID,
		logger.FieldStatus: string(status),
	}).Info("Job finished")
	return nil
}

// CancelJob sets the cooperative cancellation flag. The unit of work is
// expected to observe it; the tracker never terminates work forcibly.
func (t *Tracker) CancelJob(ctx context.Context, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[jobID]
	if !ok {
		return fmt.Errorf("job %s not active", jobID)
	}
	if job.Cancelled {
		return nil
	}
	job.Cancelled = true
	if err := t.repo.Save(ctx, job); err != nil {
		job.Cancelled = false
		return fmt.Errorf("persist job %s: %w", jobID, err)
	}
	return nil
}

// GetJob returns a copy of the job, consulting the in-memory index first
// and falling back to the store for terminal jobs. Returns nil when no such
// job exists.
func (t *Tracker) GetJob(ctx context.Context, jobID string) (*domain.TrackedJob, error) {
	t.mu.Lock()
	if job, ok := t.active[jobID]; ok {
		copied := *job
		t.mu.Unlock()
		return &copied, nil
	}
	t.mu.Unlock()

	return t.repo.GetByID(ctx, jobID)
}

// GetActiveJobs returns copies of all pending and running jobs.
func (t *Tracker) GetActiveJobs() []domain.TrackedJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.TrackedJob, 0, len(t.active))
	for _, job := range t.active {
		out = append(out, *job)
	}
	return out
}

// GetActiveJobCount returns the number of pending plus running jobs.
func (t *Tracker) GetActiveJobCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// GetPendingJobCount returns the number of pending jobs.
func (t *Tracker) GetPendingJobCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, job := range t.active {
		if job.Status == domain.JobStatusPending {
			n++
		}
	}
	return n
}

// GetRunningJobCount returns the number of running jobs.
func (t *Tracker) GetRunningJobCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, job := range t.active {
		if job.Status == domain.JobStatusRunning {
			n++
		}
	}
	return n
}
