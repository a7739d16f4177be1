package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   ErrorCategory
	}{
		{"bad object", "fatal: bad object 3f2a9c", CategoryCorruption},
		{"loose object", "fatal: loose object 1a2b is corrupt", CategoryCorruption},
		{"packfile", "error: packfile .git/objects/pack/pack-1.pack does not match index", CategoryCorruption},
		{"corrupt index", "fatal: index file corrupt", CategoryCorruption},
		{"broken branch", "fatal: your current branch appears to be broken", CategoryCorruption},
		{"missing blob", "error: missing blob 9c1d", CategoryCorruption},
		{"mixed case marker", "FATAL: Bad Object deadbeef", CategoryCorruption},
		{"unreachable remote", "fatal: unable to access 'https://example.com/repo.git/': Could not resolve host", CategoryTransient},
		{"timeout", "fatal: the remote end hung up unexpectedly", CategoryTransient},
		{"auth failure", "fatal: Authentication failed", CategoryTransient},
		{"empty output", "", CategoryTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("fetch", errors.New("exit status 128"), tt.output)
			if err.Category != tt.want {
				t.Errorf("classify(%q).Category = %s, want %s", tt.output, err.Category, tt.want)
			}
		})
	}
}

func TestCategoryPredicatesUnwrap(t *testing.T) {
	corrupt := classify("pull", errors.New("exit status 128"), "fatal: bad object abc")
	wrapped := fmt.Errorf("pull main: %w", corrupt)

	if !IsCorruption(wrapped) {
		t.Error("IsCorruption(wrapped) = false")
	}
	if IsTransient(wrapped) {
		t.Error("IsTransient(wrapped) = true for a corruption error")
	}
	if IsCorruption(errors.New("plain")) {
		t.Error("IsCorruption(plain error) = true")
	}
}

func TestShouldRecloneThreshold(t *testing.T) {
	s := NewSyncer(Options{RepoPath: t.TempDir(), TransientThreshold: 3}, nil)

	transient := classify("fetch", errors.New("exit status 128"), "could not resolve host")
	corrupt := classify("fetch", errors.New("exit status 128"), "fatal: bad object abc")

	// Corruption escalates immediately, regardless of failure history.
	if !s.ShouldReclone(corrupt) {
		t.Error("ShouldReclone(corruption) = false on first failure")
	}

	if s.ShouldReclone(transient) {
		t.Error("ShouldReclone(transient) = true with zero recorded failures")
	}
	s.transientFailures = 2
	if s.ShouldReclone(transient) {
		t.Error("ShouldReclone(transient) = true below threshold")
	}
	s.transientFailures = 3
	if !s.ShouldReclone(transient) {
		t.Error("ShouldReclone(transient) = false at threshold")
	}

	// Unclassified errors never trigger a re-clone.
	if s.ShouldReclone(errors.New("plain")) {
		t.Error("ShouldReclone(plain error) = true")
	}
}

func TestTransientFailuresSurviveRestarts(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		RepoPath:           dir,
		TransientThreshold: 3,
		StateFile:          filepath.Join(dir, "sync-state.json"),
	}
	transient := classify("fetch", errors.New("exit status 128"), "could not resolve host")
	ctx := context.Background()

	// Each invocation is a fresh process with a fresh Syncer; the counter
	// must accumulate through the state file for the threshold to mean
	// anything.
	for i := 0; i < 2; i++ {
		s := NewSyncer(opts, nil)
		s.noteFailure(ctx, transient)
		if s.ShouldReclone(transient) {
			t.Fatalf("escalated after %d failures, threshold is 3", i+1)
		}
	}

	s := NewSyncer(opts, nil)
	s.noteFailure(ctx, transient)
	if !s.ShouldReclone(transient) {
		t.Fatal("three consecutive single-shot failures did not escalate to re-clone")
	}

	// A success resets the persisted history.
	s.resetFailures()
	fresh := NewSyncer(opts, nil)
	if fresh.transientFailures != 0 {
		t.Errorf("failures after reset = %d, want 0", fresh.transientFailures)
	}
	if fresh.ShouldReclone(transient) {
		t.Error("escalated with a reset history")
	}
}

func TestUnreadableSyncStateIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "sync-state.json")
	if err := os.WriteFile(statePath, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewSyncer(Options{RepoPath: dir, TransientThreshold: 3, StateFile: statePath}, nil)
	if s.transientFailures != 0 {
		t.Errorf("failures from garbage state = %d, want 0", s.transientFailures)
	}
}
