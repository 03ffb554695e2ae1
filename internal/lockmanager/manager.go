package lockmanager

import (
	"container/list"
	"sync"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/errs"
)

// Manager grants and releases table/row locks under two-phase locking,
// running a background deadlock detector over the resulting waits-for
// graph. Structurally grounded on darleet-GraphDB's src/txns.Manager
// (separate guarded maps for table/row queues) with the acquisition
// algorithm itself ported from original_source/.../lock_manager.h's
// LockTable/LockRow/UpgradeLockTable/GrantLock.
type Manager struct {
	tablesMu sync.Mutex
	tables   map[TableOID]*queue

	rowsMu sync.Mutex
	rows   map[RowID]*queue

	txnsMu sync.Mutex
	txns   map[common.TxnID]Txn

	detector *deadlockDetector
}

func NewManager() *Manager {
	m := &Manager{
		tables: make(map[TableOID]*queue),
		rows:   make(map[RowID]*queue),
		txns:   make(map[common.TxnID]Txn),
	}
	m.detector = newDeadlockDetector(m)
	return m
}

// register remembers t so the background detector can abort it by id alone
// (the detector only ever sees waits-for graph edges, not Transaction
// pointers).
func (m *Manager) register(t Txn) {
	m.txnsMu.Lock()
	defer m.txnsMu.Unlock()
	m.txns[t.ID()] = t
}

// abortVictim marks a transaction ABORTED and wakes every queue so its
// blocked waiter (if any) observes the new phase and unwinds.
func (m *Manager) abortVictim(id common.TxnID) {
	m.txnsMu.Lock()
	victim, ok := m.txns[id]
	m.txnsMu.Unlock()
	if !ok {
		return
	}

	victim.SetPhase(PhaseAborted)

	m.tablesMu.Lock()
	tables := make([]*queue, 0, len(m.tables))
	for _, q := range m.tables {
		tables = append(tables, q)
	}
	m.tablesMu.Unlock()

	m.rowsMu.Lock()
	rows := make([]*queue, 0, len(m.rows))
	for _, q := range m.rows {
		rows = append(rows, q)
	}
	m.rowsMu.Unlock()

	for _, q := range tables {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
	for _, q := range rows {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// StartDeadlockDetection launches the background detector loop; it runs
// until StopDeadlockDetection is called.
func (m *Manager) StartDeadlockDetection(intervalMS int) {
	m.detector.start(intervalMS)
}

func (m *Manager) StopDeadlockDetection() {
	m.detector.stop()
}

func (m *Manager) tableQueue(oid TableOID) *queue {
	m.tablesMu.Lock()
	defer m.tablesMu.Unlock()

	q, ok := m.tables[oid]
	if !ok {
		q = newQueue()
		m.tables[oid] = q
	}
	return q
}

func (m *Manager) rowQueue(row RowID) *queue {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()

	q, ok := m.rows[row]
	if !ok {
		q = newQueue()
		m.rows[row] = q
	}
	return q
}

// checkIsolationPolicy implements spec.md §4.4's per-level legality table.
// Returns a sentinel error (not wrapped into an abort) the caller should
// surface as a transaction abort if non-nil.
func checkIsolationPolicy(t Txn, mode Mode) error {
	phase := t.Phase()

	switch t.IsolationLevel() {
	case ReadUncommitted:
		if mode == ModeShared || mode == ModeIntentionShared || mode == ModeSharedIntentionExclusive {
			return errs.ErrLockSharedOnReadUncommitted
		}
		if phase == PhaseShrinking {
			return errs.ErrLockOnShrinking
		}
	case ReadCommitted:
		if phase == PhaseShrinking && mode != ModeShared && mode != ModeIntentionShared {
			return errs.ErrLockOnShrinking
		}
	case RepeatableRead:
		if phase == PhaseShrinking {
			return errs.ErrLockOnShrinking
		}
	}

	return nil
}

// LockTable acquires mode on oid for t, blocking until granted or the
// transaction is aborted (by deadlock detection or elsewhere). Returns
// false (not an error) when the transaction was already aborted while
// waiting, per spec.md's "graceful denial vs. structured abort" split.
func (m *Manager) LockTable(t Txn, mode Mode, oid TableOID) (bool, error) {
	m.register(t)

	if err := checkIsolationPolicy(t, mode); err != nil {
		t.SetPhase(PhaseAborted)
		return false, err
	}

	q := m.tableQueue(oid)

	if held, ok := t.TableLockMode(oid); ok {
		if held == mode {
			return true, nil
		}
		return m.upgradeTable(t, q, held, mode, oid)
	}

	q.mu.Lock()
	elem := q.requests.PushBack(&request{txnID: t.ID(), mode: mode})
	q.grantNewLocksIfPossible()

	ok := m.waitForGrant(t, q, elem)
	q.mu.Unlock()

	if !ok {
		return false, nil
	}

	t.RecordTableLock(mode, oid)

	return true, nil
}

func (m *Manager) upgradeTable(t Txn, q *queue, held, mode Mode, oid TableOID) (bool, error) {
	q.mu.Lock()

	if q.hasUpgrader {
		q.mu.Unlock()
		t.SetPhase(PhaseAborted)
		return false, errs.ErrUpgradeConflict
	}

	if !held.Upgradable(mode) {
		q.mu.Unlock()
		t.SetPhase(PhaseAborted)
		return false, errs.ErrIncompatibleUpgrade
	}

	// Drop the currently granted request from the queue.
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if r.txnID == t.ID() && r.granted {
			q.requests.Remove(e)
			break
		}
	}
	t.ForgetTableLock(held, oid)

	// Reinsert at the head of the ungranted suffix (spec.md: "Upgrade
	// reinsertion point").
	newReq := &request{txnID: t.ID(), mode: mode}
	var elem *list.Element
	inserted := false
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if !r.granted {
			elem = q.requests.InsertBefore(newReq, e)
			inserted = true
			break
		}
	}
	if !inserted {
		elem = q.requests.PushBack(newReq)
	}

	q.hasUpgrader = true
	q.upgradingTxn = t.ID()

	q.grantNewLocksIfPossible()

	ok := m.waitForGrant(t, q, elem)

	q.hasUpgrader = false
	q.mu.Unlock()

	if !ok {
		return false, nil
	}

	t.RecordTableLock(mode, oid)

	return true, nil
}

// waitForGrant blocks on q's condition variable until elem is granted or t
// aborts. Caller must hold q.mu. Returns false (and removes elem) if the
// transaction aborted before being granted.
func (m *Manager) waitForGrant(t Txn, q *queue, elem *list.Element) bool {
	r := elem.Value.(*request)

	for !r.granted {
		if t.Phase() == PhaseAborted {
			q.requests.Remove(elem)
			if q.hasUpgrader && q.upgradingTxn == t.ID() {
				q.hasUpgrader = false
			}
			q.cond.Broadcast()
			return false
		}
		q.cond.Wait()
	}

	return true
}

// UnlockTable releases t's lock on oid, granting any now-compatible waiters
// and transitioning t's phase per the isolation policy.
func (m *Manager) UnlockTable(t Txn, oid TableOID) error {
	mode, ok := t.TableLockMode(oid)
	if !ok {
		t.SetPhase(PhaseAborted)
		return errs.ErrUnlockWithoutLock
	}

	if t.HasAnyRowLockUnder(oid) {
		t.SetPhase(PhaseAborted)
		return errs.ErrTableUnlockedBeforeRows
	}

	q := m.tableQueue(oid)

	q.mu.Lock()
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if r.txnID == t.ID() && r.granted {
			q.requests.Remove(e)
			break
		}
	}
	q.grantNewLocksIfPossible()
	q.cond.Broadcast()
	q.mu.Unlock()

	t.ForgetTableLock(mode, oid)
	transitionOnUnlock(t, mode)

	return nil
}

// LockRow acquires mode (S or X only) on row for t, first checking that t
// holds an appropriate table-level lock.
func (m *Manager) LockRow(t Txn, mode Mode, oid TableOID, row uint64) (bool, error) {
	m.register(t)

	if mode.IsIntention() {
		t.SetPhase(PhaseAborted)
		return false, errs.ErrAttemptedIntentionLockOnRow
	}

	if err := checkIsolationPolicy(t, mode); err != nil {
		t.SetPhase(PhaseAborted)
		return false, err
	}

	tableMode, held := t.TableLockMode(oid)
	if !held || !appropriateTableLock(tableMode, mode) {
		t.SetPhase(PhaseAborted)
		return false, errs.ErrTableLockNotHeld
	}

	rid := RowID{Table: oid, Row: row}
	q := m.rowQueue(rid)

	if heldRowMode, ok := t.RowLockMode(rid); ok {
		if heldRowMode == mode {
			return true, nil
		}
		return m.upgradeRow(t, q, heldRowMode, mode, rid)
	}

	q.mu.Lock()
	elem := q.requests.PushBack(&request{txnID: t.ID(), mode: mode})
	q.grantNewLocksIfPossible()
	ok := m.waitForGrant(t, q, elem)
	q.mu.Unlock()

	if !ok {
		return false, nil
	}

	t.RecordRowLock(mode, rid)

	return true, nil
}

func (m *Manager) upgradeRow(t Txn, q *queue, held, mode Mode, rid RowID) (bool, error) {
	q.mu.Lock()

	if q.hasUpgrader {
		q.mu.Unlock()
		t.SetPhase(PhaseAborted)
		return false, errs.ErrUpgradeConflict
	}
	if !held.Upgradable(mode) {
		q.mu.Unlock()
		t.SetPhase(PhaseAborted)
		return false, errs.ErrIncompatibleUpgrade
	}

	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if r.txnID == t.ID() && r.granted {
			q.requests.Remove(e)
			break
		}
	}
	t.ForgetRowLock(held, rid)

	newReq := &request{txnID: t.ID(), mode: mode}
	var elem *list.Element
	inserted := false
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if !r.granted {
			elem = q.requests.InsertBefore(newReq, e)
			inserted = true
			break
		}
	}
	if !inserted {
		elem = q.requests.PushBack(newReq)
	}

	q.hasUpgrader = true
	q.upgradingTxn = t.ID()
	q.grantNewLocksIfPossible()

	ok := m.waitForGrant(t, q, elem)
	q.hasUpgrader = false
	q.mu.Unlock()

	if !ok {
		return false, nil
	}

	t.RecordRowLock(mode, rid)

	return true, nil
}

// UnlockRow releases t's lock on (oid, row). force=true skips the
// isolation-level phase transition, used when a tuple proved invisible
// after acquisition.
func (m *Manager) UnlockRow(t Txn, oid TableOID, row uint64, force bool) error {
	rid := RowID{Table: oid, Row: row}

	mode, ok := t.RowLockMode(rid)
	if !ok {
		t.SetPhase(PhaseAborted)
		return errs.ErrUnlockWithoutLock
	}

	q := m.rowQueue(rid)

	q.mu.Lock()
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if r.txnID == t.ID() && r.granted {
			q.requests.Remove(e)
			break
		}
	}
	q.grantNewLocksIfPossible()
	q.cond.Broadcast()
	q.mu.Unlock()

	t.ForgetRowLock(mode, rid)

	if !force {
		transitionOnUnlock(t, mode)
	}

	return nil
}

// appropriateTableLock implements spec.md §4.4's "parent lock" rule: X/IX
// rows need X, IX, or SIX on the table; S rows need S, IS, or stronger.
func appropriateTableLock(tableMode, rowMode Mode) bool {
	if rowMode == ModeExclusive {
		return tableMode == ModeExclusive || tableMode == ModeIntentionExclusive || tableMode == ModeSharedIntentionExclusive
	}
	return tableMode == ModeShared || tableMode == ModeIntentionShared ||
		tableMode == ModeSharedIntentionExclusive || tableMode == ModeIntentionExclusive || tableMode == ModeExclusive
}

// transitionOnUnlock implements spec.md §4.4's "Release" state-transition
// table. Only S/X unlocks change phase.
func transitionOnUnlock(t Txn, mode Mode) {
	if mode != ModeShared && mode != ModeExclusive {
		return
	}

	switch t.IsolationLevel() {
	case RepeatableRead:
		t.SetPhase(PhaseShrinking)
	case ReadCommitted:
		if mode == ModeExclusive {
			t.SetPhase(PhaseShrinking)
		}
	case ReadUncommitted:
		if mode == ModeExclusive {
			t.SetPhase(PhaseShrinking)
		}
	}
}
