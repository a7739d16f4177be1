package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/halverson/custodian/internal/domain"
)

// StatusFile is the durable single-slot deployment record. It is written
// before and after every attempt so a crashed-and-restarted executor can
// detect a run that died mid-deploy.
type StatusFile struct {
	path string
}

// NewStatusFile creates a status file handle at path.
func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: path}
}

// Read returns the last recorded deployment state. A missing file means no
// deployment has ever run and returns (nil, nil).
func (s *StatusFile) Read() (*domain.DeploymentRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read deploy status: %w", err)
	}

	var record domain.DeploymentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse deploy status: %w", err)
	}
	return &record, nil
}

// Write overwrites the record atomically (temp file plus rename) so a crash
// mid-write can never leave a half-written record.
func (s *StatusFile) Write(status domain.DeploymentStatus, message string) error {
	record := domain.DeploymentRecord{
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(&record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode deploy status: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".deploy-status-*")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}
