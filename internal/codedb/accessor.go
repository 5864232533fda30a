package codedb

import (
	"context"
	"database/sql"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/symbols"
)

// LockKind is the kind of DatabaseLock an accessor holds.
type LockKind uint8

const (
	LockNone LockKind = iota
	LockReadOnly
	LockReadPossibleWrite
	LockReadWrite
)

func (k LockKind) String() string {
	switch k {
	case LockNone:
		return "none"
	case LockReadOnly:
		return "read-only"
	case LockReadPossibleWrite:
		return "read-possible-write"
	case LockReadWrite:
		return "read-write"
	}
	return "invalid"
}

// poisonedLevel marks an accessor whose transaction was rolled back.
const poisonedLevel = -1

// Accessor is a single goroutine's handle to the code database. It owns a
// dedicated connection, holds at most one kind of lock, and tracks
// transaction nesting. It is not safe for concurrent use.
//
// Lock and field precondition violations are programming errors and panic
// with a *errors.DomainError. Database failures are returned.
type Accessor struct {
	m        *Manager
	conn     *sql.Conn
	priority bool

	lockHeld         LockKind
	transactionLevel int

	classIDs   *IDLookupCache[symbols.ClassString]
	contextIDs *IDLookupCache[symbols.ContextString]
}

func newAccessor(m *Manager, conn *sql.Conn, priority bool) *Accessor {
	return &Accessor{
		m:          m,
		conn:       conn,
		priority:   priority,
		classIDs:   NewIDLookupCache[symbols.ClassString](),
		contextIDs: NewIDLookupCache[symbols.ContextString](),
	}
}

// Close returns the connection to the pool. The accessor must not hold a
// lock or be inside a transaction.
func (a *Accessor) Close() error {
	if a.conn == nil {
		return nil
	}
	if a.transactionLevel > 0 {
		errors.Panicf(errors.CodeLockDiscipline, "closing an accessor inside a transaction")
	}
	if a.lockHeld != LockNone {
		errors.Panicf(errors.CodeLockDiscipline, "closing an accessor holding a %s lock", a.lockHeld)
	}
	err := a.conn.Close()
	a.conn = nil
	return errors.Store(err, "close connection")
}

// --- Locks ---

// LockHeld returns the kind of lock currently held.
func (a *Accessor) LockHeld() LockKind {
	return a.lockHeld
}

// GetReadOnlyLock blocks until a read-only lock is held.
func (a *Accessor) GetReadOnlyLock() {
	if a.lockHeld != LockNone {
		badLockChange(a.lockHeld, LockReadOnly, LockNone)
	}
	a.m.lock.AcquireReadOnly(a.priority)
	a.lockHeld = LockReadOnly
}

// GetReadPossibleWriteLock blocks until a lock that may later be upgraded
// is held. Only one such lock exists at a time.
func (a *Accessor) GetReadPossibleWriteLock() {
	if a.lockHeld != LockNone {
		badLockChange(a.lockHeld, LockReadPossibleWrite, LockNone)
	}
	a.m.lock.AcquireReadPossibleWrite(a.priority)
	a.lockHeld = LockReadPossibleWrite
}

// UpgradeToReadWriteLock blocks until every other holder has left.
func (a *Accessor) UpgradeToReadWriteLock() {
	if a.lockHeld == LockReadWrite {
		return
	}
	if a.lockHeld != LockReadPossibleWrite {
		badLockChange(a.lockHeld, LockReadWrite, LockReadPossibleWrite)
	}
	a.m.lock.UpgradeToReadWrite()
	a.lockHeld = LockReadWrite
}

// DowngradeToReadPossibleWriteLock lets readers back in.
func (a *Accessor) DowngradeToReadPossibleWriteLock() {
	if a.lockHeld == LockReadPossibleWrite {
		return
	}
	if a.lockHeld != LockReadWrite {
		badLockChange(a.lockHeld, LockReadPossibleWrite, LockReadWrite)
	}
	a.m.lock.DowngradeToReadPossibleWrite()
	a.lockHeld = LockReadPossibleWrite
}

// ReleaseLock releases whatever lock is held and forgets cached interned
// IDs, which may be freed by other accessors from now on.
func (a *Accessor) ReleaseLock() {
	switch a.lockHeld {
	case LockReadOnly:
		a.m.lock.ReleaseReadOnly()
	case LockReadPossibleWrite:
		a.m.lock.ReleaseReadPossibleWrite()
	case LockReadWrite:
		a.m.lock.ReleaseReadWrite()
	}
	a.lockHeld = LockNone
	a.classIDs.Clear()
	a.contextIDs.Clear()
}

// RequireAtLeast panics unless the held lock is at least minimum. A
// read-possible-write lock is upgraded when read-write is required.
func (a *Accessor) RequireAtLeast(minimum LockKind) {
	if a.lockHeld == LockReadPossibleWrite && minimum == LockReadWrite {
		a.UpgradeToReadWriteLock()
		return
	}
	if a.lockHeld < minimum {
		panic(errors.AddContext(
			errors.Newf(errors.CodeLockDiscipline, "operation requires a %s lock but %s is held", minimum, a.lockHeld),
			errors.CtxLock, a.lockHeld.String()))
	}
}

func badLockChange(held, want, required LockKind) {
	errors.Panicf(errors.CodeLockDiscipline, "cannot get a %s lock while holding %s; requires %s", want, held, required)
}

// --- Field preconditions ---

func fieldError(op, field, format string) {
	panic(errors.AddContext(errors.AddContext(
		errors.Newf(errors.CodeFieldPrecondition, format, op, field),
		errors.CtxOperation, op), errors.CtxField, field))
}

func requireZero[N ~int | ~int64](op, field string, value N) {
	if value != 0 {
		fieldError(op, field, "%s: %s must be zero")
	}
}

func requireNonZero[N ~int | ~int64](op, field string, value N) {
	if value == 0 {
		fieldError(op, field, "%s: %s must be set")
	}
}

func requireContent[S ~string](op, field string, value S) {
	if value == "" {
		fieldError(op, field, "%s: %s must have content")
	}
}

func requireNotValue[N ~int | ~uint8](op, field string, value, invalid N) {
	if value == invalid {
		fieldError(op, field, "%s: %s has an invalid value")
	}
}

// --- Transactions ---

// BeginTransaction starts a transaction, or nests inside the current one.
// It requires a read-write lock.
func (a *Accessor) BeginTransaction(ctx context.Context) error {
	switch a.transactionLevel {
	case poisonedLevel:
		return errors.New(errors.CodePoisoned, "cannot start a transaction after one was rolled back")
	case 0:
		a.RequireAtLeast(LockReadWrite)
		if _, err := a.conn.ExecContext(context.WithoutCancel(ctx), "BEGIN IMMEDIATE TRANSACTION"); err != nil {
			return errors.Store(err, "begin transaction")
		}
	}
	a.transactionLevel++
	return nil
}

// CommitTransaction ends one level of nesting, committing at the outermost
// level.
func (a *Accessor) CommitTransaction(ctx context.Context) error {
	switch a.transactionLevel {
	case poisonedLevel:
		return errors.New(errors.CodePoisoned, "cannot commit after a transaction was rolled back")
	case 0:
		errors.Panicf(errors.CodeLockDiscipline, "committing a transaction that was never started")
	case 1:
		a.RequireAtLeast(LockReadWrite)
		if _, err := a.conn.ExecContext(context.WithoutCancel(ctx), "COMMIT TRANSACTION"); err != nil {
			return errors.Store(err, "commit transaction")
		}
	}
	a.transactionLevel--
	return nil
}

// RollbackTransactionForError rolls back the whole transaction and poisons
// the accessor. In-memory state such as ID sets and caches can't be rolled
// back, so no further transaction is allowed.
func (a *Accessor) RollbackTransactionForError() {
	if a.transactionLevel >= 1 {
		_, _ = a.conn.ExecContext(context.Background(), "ROLLBACK TRANSACTION")
	}
	a.transactionLevel = poisonedLevel
}

// IsPoisoned reports whether a rollback has made the accessor unusable for
// transactions.
func (a *Accessor) IsPoisoned() bool {
	return a.transactionLevel == poisonedLevel
}

// writeCtx strips cancellation from ctx. Cancellation is only honored
// between units of work so a started transaction always completes.
func writeCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// inTransaction runs fn inside BeginTransaction and CommitTransaction,
// rolling back if either fn or the commit fails.
func (a *Accessor) inTransaction(ctx context.Context, fn func() error) error {
	if err := a.BeginTransaction(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		a.RollbackTransactionForError()
		return err
	}
	if err := a.CommitTransaction(ctx); err != nil {
		a.RollbackTransactionForError()
		return err
	}
	return nil
}
