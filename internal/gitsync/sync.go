package gitsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/halverson/custodian/internal/logger"
)

// Syncer runs git operations against the managed working copy. It tracks
// consecutive transient failures so callers can escalate to a re-clone once
// the threshold is crossed; corruption escalates immediately.
type Syncer struct {
	repoPath  string
	remote    string
	remoteURL string

	transientThreshold int
	transientFailures  int
	// statePath persists the consecutive-failure counter between process
	// invocations; the executor is single-shot, so an in-memory counter
	// would reset to zero on every run and the threshold could never be
	// reached. Empty disables persistence.
	statePath string

	logger *logger.Logger
}

// syncState is the durable failure history next to the deploy status record.
type syncState struct {
	TransientFailures int `json:"transient_failures"`
}

// Options configures a Syncer.
type Options struct {
	RepoPath           string
	Remote             string
	RemoteURL          string
	TransientThreshold int
	StateFile          string
}

// NewSyncer creates a syncer over the working copy at opts.RepoPath.
func NewSyncer(opts Options, log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.GetDefault()
	}
	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}
	threshold := opts.TransientThreshold
	if threshold <= 0 {
		threshold = 3
	}
	s := &Syncer{
		repoPath:           opts.RepoPath,
		remote:             remote,
		remoteURL:          opts.RemoteURL,
		transientThreshold: threshold,
		statePath:          opts.StateFile,
		logger:             log.WithField(logger.FieldComponent, "gitsync"),
	}
	s.loadState()
	return s
}

// loadState restores the persisted failure counter. A missing or unreadable
// file means no recorded history.
func (s *Syncer) loadState() {
	if s.statePath == "" {
		return
	}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		return
	}
	var state syncState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.WithError(err).Warn("Discarding unreadable sync state")
		return
	}
	s.transientFailures = state.TransientFailures
}

// saveState persists the failure counter. Best effort: a write failure only
// delays escalation by one invocation.
func (s *Syncer) saveState() {
	if s.statePath == "" {
		return
	}
	data, err := json.Marshal(syncState{TransientFailures: s.transientFailures})
	if err != nil {
		return
	}
	if err := os.WriteFile(s.statePath, data, 0o644); err != nil {
		s.logger.WithError(err).Warn("Could not persist sync state")
	}
}

func (s *Syncer) resetFailures() {
	if s.transientFailures == 0 {
		return
	}
	s.transientFailures = 0
	s.saveState()
}

// run executes a git subcommand in the working copy, returning combined
// output. Failures come back classified.
func (s *Syncer) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.repoPath
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if err != nil {
		return output, classify(args[0], err, output)
	}
	return output, nil
}

// FetchRemote updates remote-tracking refs for the target branch. A failure
// bumps the consecutive transient-failure counter; success resets it.
func (s *Syncer) FetchRemote(ctx context.Context, branch string) error {
	_, err := s.run(ctx, "fetch", s.remote, branch)
	if err != nil {
		s.noteFailure(ctx, err)
		return err
	}
	s.resetFailures()
	return nil
}

// RemoteAhead reports whether the remote branch has commits the local HEAD
// does not. It fetches first.
func (s *Syncer) RemoteAhead(ctx context.Context, branch string) (bool, error) {
	if err := s.FetchRemote(ctx, branch); err != nil {
		return false, err
	}

	local, err := s.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return false, err
	}
	remote, err := s.run(ctx, "rev-parse", s.remote+"/"+branch)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(local) != strings.TrimSpace(remote), nil
}

// Pull fast-forwards the working copy to the remote branch.
func (s *Syncer) Pull(ctx context.Context, branch string) error {
	out, err := s.run(ctx, "pull", s.remote, branch)
	if err != nil {
		s.noteFailure(ctx, err)
		return err
	}
	s.resetFailures()
	logger.CtxInfo(ctx, "Pulled %s/%s: %s", s.remote, branch, strings.TrimSpace(out))
	return nil
}

// ShouldReclone reports whether the failure history calls for discarding
// the working copy: immediately on corruption, or once transient failures
// reach the threshold.
func (s *Syncer) ShouldReclone(err error) bool {
	if IsCorruption(err) {
		return true
	}
	return IsTransient(err) && s.transientFailures >= s.transientThreshold
}

// Reclone removes the working copy and clones fresh from the remote URL.
func (s *Syncer) Reclone(ctx context.Context, branch string) error {
	if s.remoteURL == "" {
		return fmt.Errorf("reclone: no remote URL configured")
	}

	parent := filepath.Dir(s.repoPath)
	if err := os.RemoveAll(s.repoPath); err != nil {
		return fmt.Errorf("reclone: remove working copy: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--branch", branch, s.remoteURL, s.repoPath)
	cmd.Dir = parent
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return classify("clone", err, buf.String())
	}

	s.resetFailures()
	s.logger.WithField("repo_path", s.repoPath).Warn("Re-cloned working copy")
	return nil
}

func (s *Syncer) noteFailure(ctx context.Context, err error) {
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		return
	}
	if syncErr.Category == CategoryTransient {
		s.transientFailures++
		s.saveState()
		logger.CtxWarn(ctx, "Transient git failure %d/%d: %v",
			s.transientFailures, s.transientThreshold, err)
		return
	}
	logger.CtxError(ctx, "Repository corruption detected: %v", err)
}
