package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darleet/coredb/internal/errs"
	"github.com/darleet/coredb/internal/lockmanager"
)

const table lockmanager.TableOID = 1

func TestManagerBeginAssignsAscendingIDs(t *testing.T) {
	m := NewManager(lockmanager.NewManager())

	t1 := m.Begin(lockmanager.RepeatableRead)
	t2 := m.Begin(lockmanager.RepeatableRead)

	assert.Less(t, t1.ID(), t2.ID())
	assert.Equal(t, lockmanager.PhaseGrowing, t1.Phase())
}

func TestManagerCommitReleasesAllHeldLocks(t *testing.T) {
	locks := lockmanager.NewManager()
	m := NewManager(locks)

	tr := m.Begin(lockmanager.RepeatableRead)

	ok, err := locks.LockTable(tr, lockmanager.ModeIntentionExclusive, table)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locks.LockRow(tr, lockmanager.ModeExclusive, table, 7)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Commit(tr))

	assert.Equal(t, lockmanager.PhaseCommitted, tr.Phase())
	assert.Empty(t, tr.HeldTableLocks())
	assert.Empty(t, tr.HeldRowLocks())

	// The released table lock must really be gone: a second transaction
	// should be able to take an exclusive lock on it immediately.
	other := m.Begin(lockmanager.RepeatableRead)
	ok, err = locks.LockTable(other, lockmanager.ModeExclusive, table)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManagerCommitAbortedTransactionFails(t *testing.T) {
	locks := lockmanager.NewManager()
	m := NewManager(locks)

	tr := m.Begin(lockmanager.RepeatableRead)
	tr.SetPhase(lockmanager.PhaseAborted)

	err := m.Commit(tr)
	assert.ErrorIs(t, err, errs.ErrTxnAborted)
}

func TestManagerAbortReleasesAllHeldLocks(t *testing.T) {
	locks := lockmanager.NewManager()
	m := NewManager(locks)

	tr := m.Begin(lockmanager.RepeatableRead)

	ok, err := locks.LockTable(tr, lockmanager.ModeIntentionExclusive, table)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locks.LockRow(tr, lockmanager.ModeShared, table, 3)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Abort(tr))

	assert.Equal(t, lockmanager.PhaseAborted, tr.Phase())
	assert.Empty(t, tr.HeldTableLocks())
	assert.Empty(t, tr.HeldRowLocks())
}

func TestManagerAbortIsIdempotentAfterExternalAbort(t *testing.T) {
	locks := lockmanager.NewManager()
	m := NewManager(locks)

	tr := m.Begin(lockmanager.RepeatableRead)

	ok, err := locks.LockTable(tr, lockmanager.ModeExclusive, table)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate the deadlock detector marking the transaction aborted out
	// from under the caller before the caller gets a chance to unwind it.
	tr.SetPhase(lockmanager.PhaseAborted)

	require.NoError(t, m.Abort(tr))
	assert.Equal(t, lockmanager.PhaseAborted, tr.Phase())
	assert.Empty(t, tr.HeldTableLocks())
}
