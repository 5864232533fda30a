package codedb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBlocking runs fn in a goroutine and returns a channel that closes
// when fn returns.
func startBlocking(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	return done
}

func requireBlocked(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
		t.Fatal("expected the call to block")
	case <-time.After(50 * time.Millisecond):
	}
}

func requireFinished(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the call to finish")
	}
}

// =============================================================================
// Read-only
// =============================================================================

func TestLock_ReadOnlyShared(t *testing.T) {
	t.Parallel()
	l := NewDatabaseLock()
	assert.False(t, l.IsLocked())

	l.AcquireReadOnly(false)
	l.AcquireReadOnly(false)
	assert.True(t, l.IsLocked())
	assert.Equal(t, LockStateReadOnly, l.State())

	l.ReleaseReadOnly()
	assert.True(t, l.IsLocked())
	l.ReleaseReadOnly()
	assert.False(t, l.IsLocked())
	assert.Equal(t, LockStateUnlocked, l.State())
}

func TestLock_ReadOnlyAlongsideReadPossibleWrite(t *testing.T) {
	t.Parallel()
	l := NewDatabaseLock()
	l.AcquireReadPossibleWrite(false)

	done := startBlocking(func() { l.AcquireReadOnly(false) })
	requireFinished(t, done)
	assert.Equal(t, LockStateReadOnlyAndReadPossibleWrite, l.State())

	l.ReleaseReadOnly()
	l.ReleaseReadPossibleWrite()
	assert.False(t, l.IsLocked())
}

// =============================================================================
// Read-possible-write
// =============================================================================

func TestLock_ReadPossibleWriteExclusive(t *testing.T) {
	t.Parallel()
	l := NewDatabaseLock()
	l.AcquireReadPossibleWrite(false)

	done := startBlocking(func() { l.AcquireReadPossibleWrite(false) })
	requireBlocked(t, done)

	l.ReleaseReadPossibleWrite()
	requireFinished(t, done)
	assert.Equal(t, LockStateReadOnlyAndReadPossibleWrite, l.State())
	l.ReleaseReadPossibleWrite()
}

func TestLock_ReleaseReadPossibleWriteLeavesReaders(t *testing.T) {
	t.Parallel()
	l := NewDatabaseLock()
	l.AcquireReadOnly(false)
	l.AcquireReadPossibleWrite(false)

	l.ReleaseReadPossibleWrite()
	assert.Equal(t, LockStateReadOnly, l.State())
	assert.True(t, l.IsLocked())
	l.ReleaseReadOnly()
}

// =============================================================================
// Upgrade and downgrade
// =============================================================================

func TestLock_UpgradeWaitsForReaders(t *testing.T) {
	t.Parallel()
	l := NewDatabaseLock()
	l.AcquireReadOnly(false)
	l.AcquireReadPossibleWrite(false)

	done := startBlocking(l.UpgradeToReadWrite)
	requireBlocked(t, done)

	l.ReleaseReadOnly()
	requireFinished(t, done)
	assert.Equal(t, LockStateReadWrite, l.State())
	l.ReleaseReadWrite()
	assert.False(t, l.IsLocked())
}

func TestLock_WaitingUpgradeBlocksNewReaders(t *testing.T) {
	t.Parallel()
	l := NewDatabaseLock()
	l.AcquireReadOnly(false)
	l.AcquireReadPossibleWrite(false)

	upgraded := startBlocking(l.UpgradeToReadWrite)
	requireBlocked(t, upgraded)
	require.Equal(t, LockStateWaitingForReadWrite, l.State())

	reader := startBlocking(func() { l.AcquireReadOnly(false) })
	requireBlocked(t, reader)

	l.ReleaseReadOnly()
	requireFinished(t, upgraded)
	requireBlocked(t, reader)

	l.DowngradeToReadPossibleWrite()
	requireFinished(t, reader)

	l.ReleaseReadOnly()
	l.ReleaseReadPossibleWrite()
	assert.False(t, l.IsLocked())
}

func TestLock_ReadWriteBlocksEveryone(t *testing.T) {
	t.Parallel()
	l := NewDatabaseLock()
	l.AcquireReadPossibleWrite(false)
	l.UpgradeToReadWrite()

	reader := startBlocking(func() { l.AcquireReadOnly(true) })
	writer := startBlocking(func() { l.AcquireReadPossibleWrite(true) })
	requireBlocked(t, reader)
	requireBlocked(t, writer)

	l.ReleaseReadWrite()
	requireFinished(t, reader)
	requireFinished(t, writer)
	assert.Equal(t, LockStateReadOnlyAndReadPossibleWrite, l.State())
	l.ReleaseReadOnly()
	l.ReleaseReadPossibleWrite()
}

// =============================================================================
// Priority
// =============================================================================

func TestLock_PriorityWaiterHoldsBackOthers(t *testing.T) {
	t.Parallel()
	l := NewDatabaseLock()
	l.AcquireReadOnly(false)
	l.AcquireReadPossibleWrite(false)

	priority := startBlocking(func() { l.AcquireReadPossibleWrite(true) })
	requireBlocked(t, priority)

	// Readers are allowed in this state, but not ahead of a priority waiter.
	reader := startBlocking(func() { l.AcquireReadOnly(false) })
	requireBlocked(t, reader)

	l.ReleaseReadPossibleWrite()
	requireFinished(t, priority)
	requireFinished(t, reader)
	assert.Equal(t, LockStateReadOnlyAndReadPossibleWrite, l.State())

	l.ReleaseReadOnly()
	l.ReleaseReadOnly()
	l.ReleaseReadPossibleWrite()
	assert.False(t, l.IsLocked())
}
