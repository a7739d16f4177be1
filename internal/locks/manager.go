package locks

import (
	"sync"
	"time"

	"github.com/halverson/custodian/internal/logger"
)

// WriteLockManager serializes mutating operations against a repository
// alias. Locks are advisory, non-blocking, and process-local: they protect
// in-process races, not crash safety, so nothing is persisted and a restart
// releases everything.
type WriteLockManager struct {
	mu     sync.Mutex
	locks  map[string]*writeLock
	logger *logger.Logger
}

type writeLock struct {
	owner      string
	acquiredAt time.Time
}

// NewWriteLockManager creates an empty lock manager.
func NewWriteLockManager(log *logger.Logger) *WriteLockManager {
	if log == nil {
		log = logger.GetDefault()
	}
	return &WriteLockManager{
		locks:  make(map[string]*writeLock),
		logger: log.WithField(logger.FieldComponent, "write_locks"),
	}
}

// Acquire takes the lock for alias on behalf of owner. Re-acquiring a lock
// you already hold succeeds, which keeps retries idempotent. A lock held by
// a different owner fails immediately; callers retry or skip rather than
// block.
func (m *WriteLockManager) Acquire(alias, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.locks[alias]; ok {
		if held.owner == owner {
			return true
		}
		m.logger.WithFields(logger.Fields{
			logger.FieldRepoAlias: alias,
			"owner":               owner,
			"holder":              held.owner,
		}).Debug("Write lock contended")
		return false
	}

	m.locks[alias] = &writeLock{owner: owner, acquiredAt: time.Now().UTC()}
	return true
}

// Release clears the lock for alias only if owner holds it. Releasing a
// lock you do not hold is a no-op; callers that need strictness check
// IsLocked first.
func (m *WriteLockManager) Release(alias, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.locks[alias]
	if !ok || held.owner != owner {
		return
	}
	delete(m.locks, alias)
}

// IsLocked reports whether alias is currently locked.
func (m *WriteLockManager) IsLocked(alias string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[alias]
	return ok
}

// Holder returns the current owner of alias and when it was acquired.
// ok is false when the alias is unlocked.
func (m *WriteLockManager) Holder(alias string) (owner string, acquiredAt time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, found := m.locks[alias]
	if !found {
		return "", time.Time{}, false
	}
	return held.owner, held.acquiredAt, true
}
