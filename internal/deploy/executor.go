package deploy

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/halverson/custodian/internal/config"
	"github.com/halverson/custodian/internal/domain"
	"github.com/halverson/custodian/internal/logger"
)

// Phase is the executor's position in the deployment state machine.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseUpdateAvailable Phase = "update_available"
	PhaseDraining        Phase = "draining"
	PhaseUpdating        Phase = "updating"
	PhaseRestarting      Phase = "restarting"
	PhaseVerifying       Phase = "verifying"
	PhaseFailed          Phase = "failed"
)

// GitSource is the slice of the git-synchronization collaborator the
// executor consumes: change detection, pull, and the re-clone escalation
// decision. Failure classification happens inside the collaborator.
type GitSource interface {
	RemoteAhead(ctx context.Context, branch string) (bool, error)
	Pull(ctx context.Context, branch string) error
	ShouldReclone(err error) bool
	Reclone(ctx context.Context, branch string) error
}

// IntegrityChecker verifies the vector index after restart.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) error
}

// CommandRunner executes a provisioning shell command in the repo
// directory and returns combined output. Injected for tests.
type CommandRunner func(ctx context.Context, command string) (string, error)

// Executor orchestrates one self-update run: bootstrap recovery, change
// detection, drain, code update, provisioning, restart, and verification.
// It runs as a single-shot process invocation; the file lock in lock.go
// keeps it singular per host.
type Executor struct {
	cfg     config.DeployConfig
	control ControlAPI
	git     GitSource
	status  *StatusFile
	checker IntegrityChecker // nil when index verification is disabled
	run     CommandRunner
	logger  *logger.Logger

	// fallbackDrainWait bounds the drain wait when the control channel
	// cannot report a recommendation (e.g. the service is down).
	fallbackDrainWait time.Duration

	phase Phase
}

// NewExecutor wires an executor from its collaborators.
func NewExecutor(
	cfg config.DeployConfig,
	control ControlAPI,
	git GitSource,
	status *StatusFile,
	checker IntegrityChecker,
	fallbackDrainWait time.Duration,
	log *logger.Logger,
) *Executor {
	if log == nil {
		log = logger.GetDefault()
	}
	e := &Executor{
		cfg:               cfg,
		control:           control,
		git:               git,
		status:            status,
		checker:           checker,
		fallbackDrainWait: fallbackDrainWait,
		logger:            log.WithField(logger.FieldComponent, "deploy"),
		phase:             PhaseIdle,
	}
	e.run = e.shellRun
	return e
}

// SetCommandRunner replaces the shell runner. Used by tests.
func (e *Executor) SetCommandRunner(run CommandRunner) {
	e.run = run
}

// Phase returns the executor's current phase.
func (e *Executor) Phase() Phase {
	return e.phase
}

func (e *Executor) setPhase(p Phase) {
	e.phase = p
	e.logger.WithField(logger.FieldDeployPhase, string(p)).Info("Deployment phase")
}

// Run performs one executor invocation. Before anything else it inspects
// the durable status record: in_progress or failed means a prior run died
// mid-deploy (possibly killed by the very restart it triggered), and the
// full deployment is re-attempted before normal polling. Then it polls the
// upstream for changes and deploys if the remote is ahead.
func (e *Executor) Run(ctx context.Context) error {
	record, err := e.status.Read()
	if err != nil {
		return err
	}
	if record != nil && record.NeedsRecovery() {
		e.logger.WithField(logger.FieldStatus, string(record.Status)).
			Warn("Unfinished deployment found; re-attempting before polling")
		if err := e.deploy(ctx); err != nil {
			return err
		}
	}

	branch := e.cfg.TargetBranch()
	ahead, err := e.git.RemoteAhead(ctx, branch)
	if err != nil {
		if !e.git.ShouldReclone(err) {
			return err
		}
		// A damaged or persistently unreachable working copy is replaced,
		// then deployed from the fresh clone.
		if err := e.git.Reclone(ctx, branch); err != nil {
			return err
		}
		return e.deploy(ctx)
	}
	if !ahead {
		e.setPhase(PhaseIdle)
		return nil
	}

	e.setPhase(PhaseUpdateAvailable)
	return e.deploy(ctx)
}

// deploy runs the drain/update/restart/verify sequence, recording durable
// status on entry and on both outcomes.
func (e *Executor) deploy(ctx context.Context) error {
	branch := e.cfg.TargetBranch()

	if err := e.status.Write(domain.DeploymentInProgress, "deployment started"); err != nil {
		return err
	}

	e.setPhase(PhaseDraining)
	e.drain(ctx)

	e.setPhase(PhaseUpdating)
	if err := e.updateCode(ctx, branch); err != nil {
		return e.fail(ctx, fmt.Errorf("pull %s: %w", branch, err))
	}
	if err := e.installDependencies(ctx); err != nil {
		return e.fail(ctx, fmt.Errorf("install dependencies: %w", err))
	}
	// Tooling is optional: a missing search binary or unit directive is
	// logged and deployment continues.
	e.provisionTooling(ctx)

	e.setPhase(PhaseRestarting)
	if err := e.restartService(ctx); err != nil {
		return e.fail(ctx, fmt.Errorf("restart service: %w", err))
	}

	e.setPhase(PhaseVerifying)
	if err := e.verify(ctx); err != nil {
		return e.fail(ctx, fmt.Errorf("verify: %w", err))
	}

	// The restarted service comes up in normal mode; this clears the gate
	// in case the restart was a no-op process reload.
	if err := e.control.ExitMaintenance(ctx); err != nil {
		e.logger.WithError(err).Warn("Could not confirm maintenance exit")
	}

	e.setPhase(PhaseIdle)
	return e.status.Write(domain.DeploymentSuccess, "deployed "+branch)
}

// drain enters maintenance mode and waits, bounded by the server-reported
// recommended timeout, for active jobs to finish. On expiry the deployment
// proceeds anyway; total latency stays bounded.
func (e *Executor) drain(ctx context.Context) {
	if err := e.control.EnterMaintenance(ctx); err != nil {
		e.logger.WithError(err).Warn("Control channel unavailable; skipping drain wait")
		return
	}

	wait, err := e.control.RecommendedDrainTimeout(ctx)
	if err != nil || wait <= 0 {
		wait = e.fallbackDrainWait
	}
	deadline := time.Now().Add(wait)

	poll := e.cfg.DrainPoll
	if poll <= 0 {
		poll = 5 * time.Second
	}

	for {
		status, err := e.control.DrainStatus(ctx)
		if err != nil {
			e.logger.WithError(err).Warn("Drain status unavailable; proceeding")
			return
		}
		if status.Drained {
			e.logger.Info("Service drained")
			return
		}
		if time.Now().After(deadline) {
			e.logger.WithFields(logger.Fields{
				"running_jobs": status.RunningJobs,
				"queued_jobs":  status.QueuedJobs,
			}).Warn("Drain timeout expired; forcing restart")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}
	}
}

// updateCode pulls the target branch, escalating to a re-clone when the
// classified failure history calls for one.
func (e *Executor) updateCode(ctx context.Context, branch string) error {
	err := e.git.Pull(ctx, branch)
	if err == nil {
		return nil
	}
	if e.git.ShouldReclone(err) {
		return e.git.Reclone(ctx, branch)
	}
	return err
}

func (e *Executor) installDependencies(ctx context.Context) error {
	if e.cfg.InstallCommand == "" {
		return nil
	}
	out, err := e.run(ctx, e.cfg.InstallCommand)
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

func (e *Executor) restartService(ctx context.Context) error {
	out, err := e.run(ctx, e.cfg.RestartCommand)
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

// verify waits for the restarted service to report healthy, then checks
// vector-index integrity when a checker is configured.
func (e *Executor) verify(ctx context.Context) error {
	timeout := e.cfg.HealthTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	deadline := time.Now().Add(timeout)

	for {
		if err := e.control.Healthy(ctx); err == nil {
			break
		} else if time.Now().After(deadline) {
			return fmt.Errorf("service not healthy within %s: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if e.checker != nil {
		if err := e.checker.CheckIntegrity(ctx); err != nil {
			return err
		}
	}
	return nil
}

// fail records the durable failed status, best-effort reopens admission,
// and returns the original error. The next executor start re-attempts the
// deployment from this record.
func (e *Executor) fail(ctx context.Context, cause error) error {
	e.setPhase(PhaseFailed)
	e.logger.WithError(cause).Error("Deployment failed")
	if err := e.control.ExitMaintenance(ctx); err != nil {
		e.logger.WithError(err).Warn("Could not exit maintenance after failure")
	}
	if err := e.status.Write(domain.DeploymentFailed, cause.Error()); err != nil {
		e.logger.WithError(err).Error("Could not record failed deployment")
	}
	return cause
}

// shellRun is the default CommandRunner: the command string runs through
// the shell in the repo directory.
func (e *Executor) shellRun(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.cfg.RepoPath
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
