package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/halverson/custodian/internal/config"
	"github.com/halverson/custodian/internal/domain"
	"github.com/halverson/custodian/internal/gitsync"
	"github.com/halverson/custodian/internal/maintenance"
)

type fakeControl struct {
	events  *[]string
	drained bool
}

func (f *fakeControl) EnterMaintenance(ctx context.Context) error {
	*f.events = append(*f.events, "enter_maintenance")
	return nil
}

func (f *fakeControl) ExitMaintenance(ctx context.Context) error {
	*f.events = append(*f.events, "exit_maintenance")
	return nil
}

func (f *fakeControl) DrainStatus(ctx context.Context) (*maintenance.DrainStatus, error) {
	return &maintenance.DrainStatus{Drained: f.drained}, nil
}

func (f *fakeControl) RecommendedDrainTimeout(ctx context.Context) (time.Duration, error) {
	return 50 * time.Millisecond, nil
}

func (f *fakeControl) Healthy(ctx context.Context) error {
	return nil
}

type fakeGit struct {
	events  *[]string
	ahead   bool
	pullErr error
	reclone bool
}

func (f *fakeGit) RemoteAhead(ctx context.Context, branch string) (bool, error) {
	*f.events = append(*f.events, "remote_ahead")
	return f.ahead, nil
}

func (f *fakeGit) Pull(ctx context.Context, branch string) error {
	*f.events = append(*f.events, "pull")
	return f.pullErr
}

func (f *fakeGit) ShouldReclone(err error) bool { return f.reclone }

func (f *fakeGit) Reclone(ctx context.Context, branch string) error {
	*f.events = append(*f.events, "reclone")
	return nil
}

func newTestExecutor(t *testing.T, control ControlAPI, git GitSource, events *[]string) (*Executor, *StatusFile) {
	t.Helper()
	status := NewStatusFile(filepath.Join(t.TempDir(), "deploy-status.json"))
	cfg := config.DeployConfig{
		FallbackBranch: "main",
		InstallCommand: "install-deps",
		RestartCommand: "restart-svc",
		DrainPoll:      time.Millisecond,
		HealthTimeout:  time.Second,
	}
	e := NewExecutor(cfg, control, git, status, nil, time.Second, nil)
	e.SetCommandRunner(func(ctx context.Context, command string) (string, error) {
		*events = append(*events, "run:"+command)
		return "", nil
	})
	return e, status
}

func TestRunIdleWhenUpToDate(t *testing.T) {
	events := &[]string{}
	control := &fakeControl{events: events, drained: true}
	git := &fakeGit{events: events, ahead: false}
	e, status := newTestExecutor(t, control, git, events)
	e.SetCommandRunner(func(ctx context.Context, command string) (string, error) {
		t.Errorf("command %q ran with no update available", command)
		return "", nil
	})

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Phase() != PhaseIdle {
		t.Errorf("phase = %s, want idle", e.Phase())
	}
	record, _ := status.Read()
	if record != nil {
		t.Errorf("status written on a no-change poll: %+v", record)
	}
}

func TestRunDeploysWhenRemoteAhead(t *testing.T) {
	events := &[]string{}
	control := &fakeControl{events: events, drained: true}
	git := &fakeGit{events: events, ahead: true}
	e, status := newTestExecutor(t, control, git, events)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"remote_ahead", "enter_maintenance", "pull", "run:install-deps", "run:restart-svc", "exit_maintenance"}
	assertSubsequence(t, *events, want)

	record, _ := status.Read()
	if record == nil || record.Status != domain.DeploymentSuccess {
		t.Errorf("final status = %+v, want success", record)
	}
}

func TestRunRecoversUnfinishedDeployment(t *testing.T) {
	events := &[]string{}
	control := &fakeControl{events: events, drained: true}
	// Remote is NOT ahead: recovery must still deploy before polling.
	git := &fakeGit{events: events, ahead: false}
	e, status := newTestExecutor(t, control, git, events)

	if err := status.Write(domain.DeploymentInProgress, "killed mid-deploy"); err != nil {
		t.Fatal(err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The deployment re-attempt happens before the change poll.
	assertSubsequence(t, *events, []string{"pull", "remote_ahead"})

	record, _ := status.Read()
	if record.Status != domain.DeploymentSuccess {
		t.Errorf("status after recovery = %s, want success", record.Status)
	}
}

func TestRunRecoversFailedDeployment(t *testing.T) {
	events := &[]string{}
	control := &fakeControl{events: events, drained: true}
	git := &fakeGit{events: events, ahead: false}
	e, status := newTestExecutor(t, control, git, events)

	if err := status.Write(domain.DeploymentFailed, "install failed"); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	record, _ := status.Read()
	if record.Status != domain.DeploymentSuccess {
		t.Errorf("status after retry = %s, want success", record.Status)
	}
}

func TestFailedInstallRecordsFailure(t *testing.T) {
	events := &[]string{}
	control := &fakeControl{events: events, drained: true}
	git := &fakeGit{events: events, ahead: true}
	e, status := newTestExecutor(t, control, git, events)
	e.SetCommandRunner(func(ctx context.Context, command string) (string, error) {
		*events = append(*events, "run:"+command)
		if command == "install-deps" {
			return "pip exploded", errors.New("exit status 1")
		}
		return "", nil
	})

	err := e.Run(context.Background())
	if err == nil {
		t.Fatal("run succeeded despite install failure")
	}

	record, _ := status.Read()
	if record.Status != domain.DeploymentFailed {
		t.Errorf("status = %s, want failed", record.Status)
	}
	if e.Phase() != PhaseFailed {
		t.Errorf("phase = %s, want failed", e.Phase())
	}
	// Admission reopens even on failure.
	assertSubsequence(t, *events, []string{"run:install-deps", "exit_maintenance"})
	for _, ev := range *events {
		if ev == "run:restart-svc" {
			t.Error("service restarted after a failed install")
		}
	}
}

func TestCorruptionEscalatesToReclone(t *testing.T) {
	events := &[]string{}
	control := &fakeControl{events: events, drained: true}
	corrupt := &gitsync.SyncError{Op: "pull", Category: gitsync.CategoryCorruption, Err: fmt.Errorf("bad object")}
	git := &fakeGit{events: events, ahead: true, pullErr: corrupt, reclone: true}
	e, status := newTestExecutor(t, control, git, events)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertSubsequence(t, *events, []string{"pull", "reclone", "run:install-deps"})

	record, _ := status.Read()
	if record.Status != domain.DeploymentSuccess {
		t.Errorf("status = %s, want success after reclone", record.Status)
	}
}

func TestDrainWaitsUntilDrained(t *testing.T) {
	events := &[]string{}
	control := &fakeControl{events: events, drained: false}
	git := &fakeGit{events: events, ahead: true}
	e, status := newTestExecutor(t, control, git, events)

	// Not drained and never becomes drained: the bounded wait expires and
	// the deployment proceeds anyway.
	start := time.Now()
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("deployment proceeded after %v, want at least the recommended wait", elapsed)
	}

	record, _ := status.Read()
	if record.Status != domain.DeploymentSuccess {
		t.Errorf("status = %s, want success via forced restart", record.Status)
	}
}

// assertSubsequence checks that want appears in order within got.
func assertSubsequence(t *testing.T, got, want []string) {
	t.Helper()
	i := 0
	for _, ev := range got {
		if i < len(want) && ev == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("events %v missing ordered subsequence %v", got, want)
	}
}
