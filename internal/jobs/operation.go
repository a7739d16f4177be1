package jobs

import (
	"context"

	"github.com/halverson/custodian/internal/domain"
)

// Operation is the handle handed to a tracked unit of work. It reports
// progress and observes cooperative cancellation for the job it wraps.
type Operation struct {
	tracker *Tracker
	jobID   string
}

// JobID returns the tracked job's ID.
func (o *Operation) JobID() string {
	return o.jobID
}

// SetProgress updates the job's progress percentage and info string.
func (o *Operation) SetProgress(ctx context.Context, pct int, info string) error {
	return o.tracker.UpdateStatus(ctx, o.jobID, StatusUpdate{
		Progress:     &pct,
		ProgressInfo: &info,
	})
}

// Cancelled reports whether cancellation has been requested. The unit of
// work checks this at convenient points and winds down on its own.
func (o *Operation) Cancelled(ctx context.Context) bool {
	job, err := o.tracker.GetJob(ctx, o.jobID)
	if err != nil || job == nil {
		return false
	}
	return job.Cancelled
}

// Run executes fn as a tracked operation. It registers the job, moves it to
// running, and guarantees a terminal state on every exit path:
//
//   - registration conflict: the DuplicateJobError is returned unchanged
//     and the job never enters running;
//   - fn returns an error: the job is failed with that error's message and
//     the same error is returned;
//   - fn panics: the job is failed and the panic is re-raised;
//   - fn returns nil: the job is completed.
func (t *Tracker) Run(ctx context.Context, spec JobSpec, fn func(ctx context.Context, op *Operation) error) error {
	job, err := t.RegisterJob(ctx, spec)
	if err != nil {
		return err
	}

	running := domain.JobStatusRunning
	if err := t.UpdateStatus(ctx, job.ID, StatusUpdate{Status: &running}); err != nil {
		_ = t.FailJob(ctx, job.ID, err.Error())
		return err
	}

	op := &Operation{tracker: t, jobID: job.ID}

	defer func() {
		if r := recover(); r != nil {
			_ = t.FailJob(ctx, job.ID, panicMessage(r))
			panic(r)
		}
	}()

	if err := fn(ctx, op); err != nil {
		_ = t.FailJob(ctx, job.ID, err.Error())
		return err
	}
	return t.CompleteJob(ctx, job.ID, "")
}

func panicMessage(r interface{}) string {
	if err, ok := r.(error); ok {
		return "panic: " + err.Error()
	}
	if s, ok := r.(string); ok {
		return "panic: " + s
	}
	return "panic in tracked operation"
}
