package txn

import (
	"sync"
	"sync/atomic"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/errs"
	"github.com/darleet/coredb/internal/lockmanager"
)

// Manager hands out Transactions with ascending ids and tears them down
// through the lock manager on commit/abort. Grounded on darleet-GraphDB's
// src/txns.Manager.UnlockAll: snapshot the resources a transaction holds,
// then walk the snapshot releasing each one, tolerating a resource already
// released by an earlier step.
type Manager struct {
	locks *lockmanager.Manager

	mu      sync.Mutex
	nextID  common.TxnID
	running map[common.TxnID]*Transaction
}

func NewManager(locks *lockmanager.Manager) *Manager {
	return &Manager{
		locks:   locks,
		running: make(map[common.TxnID]*Transaction),
	}
}

// Begin starts a new transaction at the given isolation level.
func (m *Manager) Begin(isolation lockmanager.IsolationLevel) *Transaction {
	id := common.TxnID(atomic.AddUint64((*uint64)(&m.nextID), 1))
	t := New(id, isolation)

	m.mu.Lock()
	m.running[id] = t
	m.mu.Unlock()

	return t
}

// Commit releases every lock t holds and marks it COMMITTED. Returns
// ErrTxnAborted if the transaction was already aborted (by the deadlock
// detector or an earlier failed lock request) instead of committing it.
func (m *Manager) Commit(t *Transaction) error {
	if t.Phase() == lockmanager.PhaseAborted {
		return errs.ErrTxnAborted
	}

	m.releaseAll(t)
	t.SetPhase(lockmanager.PhaseCommitted)
	m.forget(t)

	return nil
}

// Abort releases every lock t holds and marks it ABORTED. Idempotent:
// aborting an already-aborted transaction (e.g. one the deadlock detector
// just victimized) is a no-op past the release step.
func (m *Manager) Abort(t *Transaction) error {
	m.releaseAll(t)
	t.SetPhase(lockmanager.PhaseAborted)
	m.forget(t)

	return nil
}

// releaseAll drops every row lock before any table lock, mirroring
// UnlockTable's own TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS enforcement: if
// table locks were released first here that check would reject the very
// release this method is trying to perform.
func (m *Manager) releaseAll(t *Transaction) {
	for _, row := range t.HeldRowLocks() {
		_ = m.locks.UnlockRow(t, row.Table, row.Row, true)
	}
	for _, oid := range t.HeldTableLocks() {
		_ = m.locks.UnlockTable(t, oid)
	}
}

func (m *Manager) forget(t *Transaction) {
	m.mu.Lock()
	delete(m.running, t.ID())
	m.mu.Unlock()
}
