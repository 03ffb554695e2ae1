// Package txn models a single transaction's two-phase-locking state: its
// phase, isolation level, and the lock sets the lock manager books locks
// into. original_source ships no standalone transaction type (lock_manager.h
// tracks per-mode lock sets inline on the Transaction it assumes exists
// elsewhere in BusTub's wider tree, which this pack doesn't carry), so the
// per-mode set bookkeeping here follows lock_manager.h's documented
// GetSharedRowLockSet/GetExclusiveTableLockSet-style contract directly,
// collapsed onto this module's single Mode type.
package txn

import (
	"sync"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/lockmanager"
)

// Transaction is the unit of isolation the lock manager enforces 2PL
// against.
type Transaction struct {
	mu sync.Mutex

	id        common.TxnID
	isolation lockmanager.IsolationLevel
	phase     lockmanager.TxnPhase

	tableLocks map[lockmanager.Mode]map[lockmanager.TableOID]struct{}
	rowLocks   map[lockmanager.Mode]map[lockmanager.RowID]struct{}
}

func New(id common.TxnID, isolation lockmanager.IsolationLevel) *Transaction {
	return &Transaction{
		id:        id,
		isolation: isolation,
		phase:     lockmanager.PhaseGrowing,
		tableLocks: map[lockmanager.Mode]map[lockmanager.TableOID]struct{}{
			lockmanager.ModeIntentionShared:          {},
			lockmanager.ModeIntentionExclusive:       {},
			lockmanager.ModeShared:                   {},
			lockmanager.ModeSharedIntentionExclusive: {},
			lockmanager.ModeExclusive:                {},
		},
		rowLocks: map[lockmanager.Mode]map[lockmanager.RowID]struct{}{
			lockmanager.ModeShared:    {},
			lockmanager.ModeExclusive: {},
		},
	}
}

func (t *Transaction) ID() common.TxnID                        { return t.id }
func (t *Transaction) IsolationLevel() lockmanager.IsolationLevel { return t.isolation }

func (t *Transaction) Phase() lockmanager.TxnPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

func (t *Transaction) SetPhase(p lockmanager.TxnPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = p
}

// TableLockMode returns the mode this transaction currently holds on oid
// and whether it holds any table lock there at all.
func (t *Transaction) TableLockMode(oid lockmanager.TableOID) (lockmanager.Mode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for mode, set := range t.tableLocks {
		if _, ok := set[oid]; ok {
			return mode, true
		}
	}
	return lockmanager.Mode{}, false
}

func (t *Transaction) RowLockMode(row lockmanager.RowID) (lockmanager.Mode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for mode, set := range t.rowLocks {
		if _, ok := set[row]; ok {
			return mode, true
		}
	}
	return lockmanager.Mode{}, false
}

// HasAnyRowLockUnder reports whether the transaction holds any row lock under
// table oid — used to enforce TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS.
func (t *Transaction) HasAnyRowLockUnder(oid lockmanager.TableOID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, set := range t.rowLocks {
		for row := range set {
			if row.Table == oid {
				return true
			}
		}
	}
	return false
}

func (t *Transaction) RecordTableLock(mode lockmanager.Mode, oid lockmanager.TableOID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableLocks[mode][oid] = struct{}{}
}

func (t *Transaction) ForgetTableLock(mode lockmanager.Mode, oid lockmanager.TableOID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tableLocks[mode], oid)
}

func (t *Transaction) RecordRowLock(mode lockmanager.Mode, row lockmanager.RowID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rowLocks[mode][row] = struct{}{}
}

func (t *Transaction) ForgetRowLock(mode lockmanager.Mode, row lockmanager.RowID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rowLocks[mode], row)
}

// HeldRowLocks snapshots every row this transaction currently holds a lock
// on. Used by the transaction manager to release everything on
// commit/abort without the caller needing to know which modes are in use.
func (t *Transaction) HeldRowLocks() []lockmanager.RowID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rows []lockmanager.RowID
	for _, set := range t.rowLocks {
		for row := range set {
			rows = append(rows, row)
		}
	}
	return rows
}

// HeldTableLocks snapshots every table this transaction currently holds a
// lock on.
func (t *Transaction) HeldTableLocks() []lockmanager.TableOID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var oids []lockmanager.TableOID
	for _, set := range t.tableLocks {
		for oid := range set {
			oids = append(oids, oid)
		}
	}
	return oids
}
