package maintenance

import (
	"sync"
	"time"

	"github.com/halverson/custodian/internal/config"
	"github.com/halverson/custodian/internal/domain"
	"github.com/halverson/custodian/internal/jobs"
	"github.com/halverson/custodian/internal/logger"
)

// Mode is the admission-control state of the service.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeMaintenance Mode = "maintenance"
)

// Status is a point-in-time view of the coordinator plus live job counts.
type Status struct {
	Mode        Mode       `json:"mode"`
	EnteredAt   *time.Time `json:"entered_at,omitempty"`
	RunningJobs int        `json:"running_jobs"`
	QueuedJobs  int        `json:"queued_jobs"`
}

// DrainStatus reports whether the service has drained and how long the
// remaining work is expected to take.
type DrainStatus struct {
	Drained               bool                `json:"drained"`
	RunningJobs           int                 `json:"running_jobs"`
	QueuedJobs            int                 `json:"queued_jobs"`
	EstimatedDrainSeconds int                 `json:"estimated_drain_seconds"`
	ActiveJobs            []domain.TrackedJob `json:"active_jobs"`
}

// Coordinator is the two-state admission-control gate used before mutating
// deployments. It never blocks jobs itself; admission control happens at
// the registration surface, which consults the mode first. Running jobs are
// unaffected by entering maintenance.
type Coordinator struct {
	mu        sync.Mutex
	mode      Mode
	enteredAt *time.Time

	tracker *jobs.Tracker
	jobsCfg config.JobsConfig
	logger  *logger.Logger
}

// NewCoordinator creates a coordinator in normal mode wired to the tracker
// whose counts answer drain queries.
func NewCoordinator(tracker *jobs.Tracker, jobsCfg config.JobsConfig, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Coordinator{
		mode:    ModeNormal,
		tracker: tracker,
		jobsCfg: jobsCfg,
		logger:  log.WithField(logger.FieldComponent, "maintenance"),
	}
}

// EnterMaintenanceMode switches to maintenance. Entering while already in
// maintenance is a no-op returning the current state.
func (c *Coordinator) EnterMaintenanceMode() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeMaintenance {
		now := time.Now().UTC()
		c.mode = ModeMaintenance
		c.enteredAt = &now
		c.logger.Warn("Entered maintenance mode; new job admission suspended")
	}
	return c.statusLocked()
}

// ExitMaintenanceMode switches back to normal. Idempotent.
func (c *Coordinator) ExitMaintenanceMode() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeNormal {
		c.mode = ModeNormal
		c.enteredAt = nil
		c.logger.Info("Exited maintenance mode")
	}
	return c.statusLocked()
}

// InMaintenance reports whether admission is currently suspended.
func (c *Coordinator) InMaintenance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode == ModeMaintenance
}

// GetStatus returns the mode plus live running/queued counts from the
// tracker. The counts are not stored in the coordinator itself.
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// statusLocked builds a Status snapshot. Caller holds c.mu, so the returned
// mode always reflects the transition the caller just performed rather than
// a concurrent flip. The tracker guards its counts with its own mutex.
func (c *Coordinator) statusLocked() Status {
	return Status{
		Mode:        c.mode,
		EnteredAt:   c.enteredAt,
		RunningJobs: c.tracker.GetRunningJobCount(),
		QueuedJobs:  c.tracker.GetPendingJobCount(),
	}
}

// GetDrainStatus reports drained iff no jobs are running or queued, along
// with an estimate of the remaining drain time and the active jobs for
// operator visibility.
func (c *Coordinator) GetDrainStatus() DrainStatus {
	active := c.tracker.GetActiveJobs()

	running, queued := 0, 0
	for _, job := range active {
		if job.Status == domain.JobStatusRunning {
			running++
		} else {
			queued++
		}
	}

	return DrainStatus{
		Drained:               running == 0 && queued == 0,
		RunningJobs:           running,
		QueuedJobs:            queued,
		EstimatedDrainSeconds: c.estimateDrainSeconds(active),
		ActiveJobs:            active,
	}
}

// estimateDrainSeconds is the worst-case remaining runtime over all active
// jobs: each job's configured timeout minus time already spent running.
// Pending jobs are assumed to need their full timeout.
func (c *Coordinator) estimateDrainSeconds(active []domain.TrackedJob) int {
	now := time.Now().UTC()
	var worst time.Duration
	for _, job := range active {
		remaining := c.jobsCfg.OperationTimeout(job.OperationType)
		if job.Status == domain.JobStatusRunning && job.StartedAt != nil {
			remaining -= now.Sub(*job.StartedAt)
		}
		if remaining < 0 {
			remaining = 0
		}
		if remaining > worst {
			worst = remaining
		}
	}
	return int(worst / time.Second)
}

// MaxJobTimeout returns the longest timeout configured for any operation
// type, or the default when nothing longer is configured. Pure function of
// the configuration.
func MaxJobTimeout(cfg config.JobsConfig) time.Duration {
	max := cfg.DefaultTimeout
	for _, d := range cfg.Timeouts {
		if d > max {
			max = d
		}
	}
	return max
}

// RecommendedDrainTimeout scales MaxJobTimeout by the configured safety
// multiplier. This is how long an external deployment process should wait
// before forcing a restart.
func RecommendedDrainTimeout(cfg config.JobsConfig) time.Duration {
	mult := cfg.DrainSafetyMultiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(MaxJobTimeout(cfg)) * mult)
}
