package deploy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLockHeld is returned when another executor invocation holds the
// deployment lock. The caller exits non-zero without side effects rather
// than queueing behind the running deployment.
var ErrLockHeld = fmt.Errorf("deployment lock held by another process")

// FileLock guards against two concurrent executor invocations on one host.
type FileLock struct {
	fl *flock.Flock
}

// NewFileLock creates a lock handle at the fixed path, creating the parent
// directory if needed.
func NewFileLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &FileLock{fl: flock.New(path)}, nil
}

// TryAcquire attempts the lock without blocking.
func (l *FileLock) TryAcquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire deployment lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *FileLock) Release() error {
	return l.fl.Unlock()
}
