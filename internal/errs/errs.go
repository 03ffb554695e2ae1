// Package errs centralizes the sentinel errors raised across the buffer
// pool, the B+ tree, and the lock manager, wrapped with
// github.com/go-faster/errors so call sites keep a stack trace without
// reaching for fmt.Errorf("%w") boilerplate everywhere.
package errs

import "github.com/go-faster/errors"

var (
	// ErrNoFreeFrames is returned when the buffer pool has no free frame and
	// the replacer has no evictable victim either.
	ErrNoFreeFrames = errors.New("bufferpool: no free frames available")
	// ErrFrameUnknown is returned by the replacer when asked to operate on a
	// frame it has never recorded an access for.
	ErrFrameUnknown = errors.New("bufferpool: frame unknown to replacer")
	// ErrFrameOutOfRange is returned when a frame id falls outside the
	// pool's configured frame range.
	ErrFrameOutOfRange = errors.New("bufferpool: frame id out of range")
	// ErrPageNotFound is returned when a page is not resident in the buffer
	// pool (Unpin, FlushPage) or its file id was never registered with the
	// disk manager.
	ErrPageNotFound = errors.New("bufferpool: page not found")
	// ErrPagePinned is returned by DeletePage when the page still has
	// outstanding pins.
	ErrPagePinned = errors.New("bufferpool: page is pinned")

	// ErrIteratorEnd is returned by dereferencing or advancing an iterator
	// already positioned at END.
	ErrIteratorEnd = errors.New("bptree: iterator at end")

	// ErrTxnAborted is returned when an operation is attempted by a
	// transaction already in the ABORTED state.
	ErrTxnAborted = errors.New("txn: transaction is aborted")
	// ErrLockOnShrinking is returned when a transaction in the SHRINKING
	// phase attempts to acquire a lock its isolation level forbids there.
	ErrLockOnShrinking = errors.New("lockmanager: lock requested during shrinking phase")
	// ErrLockSharedOnReadUncommitted is returned when a READ_UNCOMMITTED
	// transaction attempts to take a shared-family lock.
	ErrLockSharedOnReadUncommitted = errors.New("lockmanager: shared lock requested under read uncommitted")
	// ErrTableLockNotHeld is returned when a row lock is requested without
	// an appropriate table-level lock.
	ErrTableLockNotHeld = errors.New("lockmanager: required table lock not held")
	// ErrIncompatibleUpgrade is returned when the requested lock-mode
	// upgrade is not on the allowed upgrade lattice.
	ErrIncompatibleUpgrade = errors.New("lockmanager: incompatible lock upgrade")
	// ErrUpgradeConflict is returned when a second transaction attempts to
	// upgrade its lock on a resource while another upgrade is pending.
	ErrUpgradeConflict = errors.New("lockmanager: concurrent upgrade conflict")
	// ErrAttemptedIntentionLockOnRow is returned when an intention lock
	// mode is requested on a row (only table locks support it).
	ErrAttemptedIntentionLockOnRow = errors.New("lockmanager: intention lock requested on a row")
	// ErrUnlockWithoutLock is returned by Unlock when the transaction does
	// not hold the lock it is trying to release.
	ErrUnlockWithoutLock = errors.New("lockmanager: unlock attempted without holding the lock")
	// ErrTableUnlockedBeforeRows is returned when a table is unlocked while
	// the transaction still holds row locks under that table.
	ErrTableUnlockedBeforeRows = errors.New("lockmanager: table unlocked before its row locks")

	// Wrap and New are re-exported so callers only need to import this
	// package for both sentinel errors and wrapping.
	Wrap = errors.Wrap
	New  = errors.New
	Is   = errors.Is
	As   = errors.As
)
