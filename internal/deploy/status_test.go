package deploy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/halverson/custodian/internal/domain"
)

func TestStatusFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy-status.json")
	sf := NewStatusFile(path)

	// Absence means no deployment has ever run.
	record, err := sf.Read()
	if err != nil {
		t.Fatalf("read missing file: %v", err)
	}
	if record != nil {
		t.Fatalf("missing file returned %+v, want nil", record)
	}

	if err := sf.Write(domain.DeploymentInProgress, "deployment started"); err != nil {
		t.Fatalf("write: %v", err)
	}
	record, err = sf.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if record.Status != domain.DeploymentInProgress || record.Message != "deployment started" {
		t.Errorf("record = %+v", record)
	}
	if record.UpdatedAt.IsZero() {
		t.Error("updated_at not stamped")
	}
	if !record.NeedsRecovery() {
		t.Error("in_progress record should need recovery")
	}

	// Overwrite is single-slot: the old record is gone.
	if err := sf.Write(domain.DeploymentSuccess, "deployed main"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	record, _ = sf.Read()
	if record.Status != domain.DeploymentSuccess {
		t.Errorf("status after overwrite = %s, want success", record.Status)
	}
	if record.NeedsRecovery() {
		t.Error("success record should not need recovery")
	}
}

func TestStatusFileWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	sf := NewStatusFile(filepath.Join(dir, "deploy-status.json"))

	for _, status := range []domain.DeploymentStatus{
		domain.DeploymentInProgress,
		domain.DeploymentFailed,
		domain.DeploymentSuccess,
	} {
		if err := sf.Write(status, "msg"); err != nil {
			t.Fatalf("write %s: %v", status, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".deploy-status-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the status file", len(entries))
	}
}

func TestStatusFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy-status.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStatusFile(path).Read(); err == nil {
		t.Error("corrupt status file read succeeded")
	}
}
