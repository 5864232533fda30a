package codedb

import (
	"sync"
	"time"

	"github.com/jward/xrefdb/internal/observability"
)

// LockState is the state of the DatabaseLock. States are ordered so that
// comparisons like state > LockStateReadOnly are meaningful.
type LockState uint8

const (
	LockStateUnlocked LockState = iota
	LockStateReadOnly
	LockStateReadOnlyAndReadPossibleWrite
	LockStateWaitingForReadWrite
	LockStateReadWrite
)

func (s LockState) String() string {
	switch s {
	case LockStateUnlocked:
		return "unlocked"
	case LockStateReadOnly:
		return "read-only"
	case LockStateReadOnlyAndReadPossibleWrite:
		return "read-only-and-read-possible-write"
	case LockStateWaitingForReadWrite:
		return "waiting-for-read-write"
	case LockStateReadWrite:
		return "read-write"
	}
	return "invalid"
}

// DatabaseLock allows any number of read-only holders plus at most one
// read-possible-write holder, which may upgrade to exclusive read-write
// once it is the only holder. Priority callers are only blocked by the
// current state, never by other waiting callers.
//
// It does not protect against misuse such as releasing a lock kind that
// isn't held. Accessor enforces that.
type DatabaseLock struct {
	mu   sync.Mutex
	cond *sync.Cond

	state           LockState
	activeLocks     int
	waitingPriority int
}

// NewDatabaseLock returns an unlocked DatabaseLock.
func NewDatabaseLock() *DatabaseLock {
	l := &DatabaseLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// AcquireReadOnly blocks until a read-only lock can be held.
func (l *DatabaseLock) AcquireReadOnly(priority bool) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if priority {
		l.waitingPriority++
		for l.state > LockStateReadOnlyAndReadPossibleWrite {
			l.cond.Wait()
		}
		l.waitingPriority--
		if l.waitingPriority == 0 {
			l.cond.Broadcast()
		}
	} else {
		for l.waitingPriority > 0 || l.state > LockStateReadOnlyAndReadPossibleWrite {
			l.cond.Wait()
		}
	}

	if l.state == LockStateUnlocked {
		l.state = LockStateReadOnly
	}
	l.activeLocks++
	observability.LockWaitSeconds.WithLabelValues("read-only").Observe(time.Since(start).Seconds())
}

// AcquireReadPossibleWrite blocks until the caller is the only
// read-possible-write holder.
func (l *DatabaseLock) AcquireReadPossibleWrite(priority bool) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if priority {
		l.waitingPriority++
		for l.state > LockStateReadOnly {
			l.cond.Wait()
		}
		l.waitingPriority--
		if l.waitingPriority == 0 {
			l.cond.Broadcast()
		}
	} else {
		for l.waitingPriority > 0 || l.state > LockStateReadOnly {
			l.cond.Wait()
		}
	}

	l.state = LockStateReadOnlyAndReadPossibleWrite
	l.activeLocks++
	observability.LockWaitSeconds.WithLabelValues("read-possible-write").Observe(time.Since(start).Seconds())
}

// UpgradeToReadWrite must only be called by the read-possible-write
// holder. It blocks new read-only holders and waits for the existing ones
// to leave.
func (l *DatabaseLock) UpgradeToReadWrite() {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = LockStateWaitingForReadWrite
	for l.activeLocks != 1 {
		l.cond.Wait()
	}
	l.state = LockStateReadWrite
	observability.LockWaitSeconds.WithLabelValues("upgrade").Observe(time.Since(start).Seconds())
}

// DowngradeToReadPossibleWrite lets read-only holders back in.
func (l *DatabaseLock) DowngradeToReadPossibleWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = LockStateReadOnlyAndReadPossibleWrite
	l.cond.Broadcast()
}

// ReleaseReadOnly releases a read-only lock.
func (l *DatabaseLock) ReleaseReadOnly() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.activeLocks--
	switch {
	case l.activeLocks == 0:
		l.state = LockStateUnlocked
	case l.activeLocks == 1 && l.state == LockStateWaitingForReadWrite:
		l.cond.Broadcast()
	}
}

// ReleaseReadPossibleWrite releases a read-possible-write lock.
func (l *DatabaseLock) ReleaseReadPossibleWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.activeLocks--
	if l.activeLocks == 0 {
		l.state = LockStateUnlocked
	} else {
		l.state = LockStateReadOnly
	}
	l.cond.Broadcast()
}

// ReleaseReadWrite releases an upgraded lock.
func (l *DatabaseLock) ReleaseReadWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.activeLocks = 0
	l.state = LockStateUnlocked
	l.cond.Broadcast()
}

// IsLocked reports whether any lock is held.
func (l *DatabaseLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeLocks > 0
}

// State returns the current state.
func (l *DatabaseLock) State() LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
