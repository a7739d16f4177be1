package locks

import "testing"

func TestLockOwnership(t *testing.T) {
	m := NewWriteLockManager(nil)

	if !m.Acquire("r1", "A") {
		t.Fatal("initial acquire by A failed")
	}
	if m.Acquire("r1", "B") {
		t.Error("acquire by B succeeded while A holds the lock")
	}

	// Wrong-owner release is a no-op, never an error.
	m.Release("r1", "B")
	if !m.IsLocked("r1") {
		t.Error("release by non-holder cleared the lock")
	}
	if owner, _, ok := m.Holder("r1"); !ok || owner != "A" {
		t.Errorf("holder = %q/%v, want A", owner, ok)
	}

	m.Release("r1", "A")
	if m.IsLocked("r1") {
		t.Error("lock still held after owner release")
	}
	if !m.Acquire("r1", "B") {
		t.Error("acquire by B failed on a released lock")
	}
}

func TestSameOwnerReacquire(t *testing.T) {
	m := NewWriteLockManager(nil)

	if !m.Acquire("golden", "refresh-scheduler") {
		t.Fatal("initial acquire failed")
	}
	// Idempotent retry path.
	if !m.Acquire("golden", "refresh-scheduler") {
		t.Error("same-owner re-acquire failed")
	}

	m.Release("golden", "refresh-scheduler")
	if m.IsLocked("golden") {
		t.Error("lock held after release despite double acquire")
	}
}

func TestAliasesAreIndependent(t *testing.T) {
	m := NewWriteLockManager(nil)

	if !m.Acquire("r1", "A") || !m.Acquire("r2", "B") {
		t.Fatal("acquires on distinct aliases failed")
	}
	if !m.IsLocked("r1") || !m.IsLocked("r2") {
		t.Error("both aliases should be locked")
	}

	m.Release("r1", "A")
	if m.IsLocked("r1") {
		t.Error("r1 still locked")
	}
	if !m.IsLocked("r2") {
		t.Error("releasing r1 released r2")
	}
}

func TestReleaseUnknownAlias(t *testing.T) {
	m := NewWriteLockManager(nil)
	// Releasing a never-locked alias must not panic or create state.
	m.Release("ghost", "A")
	if m.IsLocked("ghost") {
		t.Error("release created a lock")
	}
}
