package repository

import (
	"context"
	"errors"
	"time"

	"github.com/halverson/custodian/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles durable tracked-job records. It is the sole source
// of truth across restarts; the in-memory tracker indexes over it.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record.
func (r *JobRepository) Create(ctx context.Context, job *domain.TrackedJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Save persists all fields of an existing job record.
func (r *JobRepository) Save(ctx context.Context, job *domain.TrackedJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// GetByID retrieves a job by its ID.
// Returns:
//   - *domain.TrackedJob: job record, or nil if no such job exists.
//   - error: non-nil if the lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.TrackedJob, error) {
	var job domain.TrackedJob
	if err := r.db.WithContext(ctx).First(&job, "job_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// ListActive returns all jobs in pending or running state, oldest first.
func (r *JobRepository) ListActive(ctx context.Context) ([]domain.TrackedJob, error) {
	var jobs []domain.TrackedJob
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning}).
		Order("created_at asc").
		Find(&jobs).Error
	return jobs, err
}

// ListByStatus returns all jobs with the given status.
func (r *JobRepository) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.TrackedJob, error) {
	var jobs []domain.TrackedJob
	err := r.db.WithContext(ctx).Where("status = ?", status).Find(&jobs).Error
	return jobs, err
}

// CountByStatus counts jobs with the given status.
func (r *JobRepository) CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.TrackedJob{}).
		Where("status = ?", status).Count(&count).Error
	return count, err
}

// FailAllActive marks every pending or running job as failed with the given
// error message and stamps completed_at. Used by startup orphan cleanup.
// Returns:
//   - int: number of rows changed.
//   - error: non-nil if the update fails.
func (r *JobRepository) FailAllActive(ctx context.Context, errMsg string) (int, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.TrackedJob{}).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusFailed,
			"error":        errMsg,
			"completed_at": now,
		})
	return int(res.RowsAffected), res.Error
}
