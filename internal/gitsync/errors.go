package gitsync

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies why a git operation failed. Corruption warrants
// an immediate re-clone; transient failures warrant waiting until a small
// consecutive-failure threshold is crossed.
type ErrorCategory string

const (
	CategoryCorruption ErrorCategory = "corruption"
	CategoryTransient  ErrorCategory = "transient"
)

// SyncError wraps a failed git operation with its classification. Consumers
// branch on Category only; classification itself lives here.
type SyncError struct {
	Op       string
	Category ErrorCategory
	Err      error
	Output   string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("git %s: %s failure: %v", e.Op, e.Category, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// corruptionMarkers are substrings in git output that indicate a damaged
// object store or pack files rather than an unreachable remote.
var corruptionMarkers = []string{
	"fatal: bad object",
	"fatal: loose object",
	"error: object file",
	"error: packfile",
	"fatal: packfile",
	"error: garbage at end of loose object",
	"fatal: unable to read tree",
	"fatal: your current branch appears to be broken",
	"error: refs/",
	"fatal: index file corrupt",
	"missing blob",
	"missing tree",
	"did not receive expected object",
}

// classify buckets a git failure from its combined output. Anything not
// recognizably a damaged local store is treated as transient, which errs on
// the side of waiting rather than re-cloning.
func classify(op string, err error, output string) *SyncError {
	category := CategoryTransient
	lower := strings.ToLower(output)
	for _, marker := range corruptionMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			category = CategoryCorruption
			break
		}
	}
	return &SyncError{Op: op, Category: category, Err: err, Output: output}
}

// IsCorruption reports whether err is a SyncError classified as corruption.
func IsCorruption(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr) && syncErr.Category == CategoryCorruption
}

// IsTransient reports whether err is a SyncError classified as transient.
func IsTransient(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr) && syncErr.Category == CategoryTransient
}
