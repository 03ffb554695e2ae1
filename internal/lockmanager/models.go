// Package lockmanager implements the hierarchical multi-granularity lock
// manager: table/row locks with FIFO request queues, two-phase locking
// under three isolation levels, upgrade handling, and background
// waits-for-graph deadlock detection. Grounded on
// original_source/.../lock_manager.h's documented contract ([LOCK_NOTE],
// [UNLOCK_NOTE]) and structurally on darleet-GraphDB's src/txns package
// (TaggedType guard against cross-casting lock-mode values, generic
// Manager[LockModeType, ObjectIDType]).
package lockmanager

import (
	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/pkg/assert"
)

// taggedMode forbids constructing a Mode from a bare integer literal
// outside this package, same trick as darleet-GraphDB's
// TaggedType[T any]struct{ v T }.
type taggedMode struct{ v uint8 }

// Mode is a lock mode shared by both table and row resources. Rows only
// ever use ModeShared/ModeExclusive; requesting an intention mode on a row
// is rejected by the manager, not by the type system, to keep a single
// Mode type (and a single compatibility/upgrade table) for both
// granularities, matching spec.md §4.4's single 5-mode matrix.
type Mode taggedMode

var (
	ModeIntentionShared           = Mode{0}
	ModeIntentionExclusive        = Mode{1}
	ModeShared                    = Mode{2}
	ModeSharedIntentionExclusive  = Mode{3}
	ModeExclusive                 = Mode{4}
)

func (m Mode) String() string {
	switch m {
	case ModeIntentionShared:
		return "IS"
	case ModeIntentionExclusive:
		return "IX"
	case ModeShared:
		return "S"
	case ModeSharedIntentionExclusive:
		return "SIX"
	case ModeExclusive:
		return "X"
	default:
		return "?"
	}
}

func (m Mode) IsIntention() bool {
	return m == ModeIntentionShared || m == ModeIntentionExclusive || m == ModeSharedIntentionExclusive
}

// compatMatrix[holder][requester] mirrors spec.md §4.4's table exactly,
// indexed by the iota order IS, IX, S, SIX, X.
var compatMatrix = [5][5]bool{
	/* IS  */ {true, true, true, true, false},
	/* IX  */ {true, true, false, false, false},
	/* S   */ {true, false, true, false, false},
	/* SIX */ {true, false, false, false, false},
	/* X   */ {false, false, false, false, false},
}

// Compatible reports whether a lock already held in mode m is compatible
// with a new request in mode other.
func (m Mode) Compatible(other Mode) bool {
	return compatMatrix[m.v][other.v]
}

// upgradeLattice[from] lists the modes from may legally upgrade to,
// per spec.md §4.4: IS -> {S,X,IX,SIX}; S -> {X,SIX}; IX -> {X,SIX};
// SIX -> {X}; X has no further upgrade.
var upgradeLattice = map[Mode]map[Mode]bool{
	ModeIntentionShared: {
		ModeShared: true, ModeExclusive: true, ModeIntentionExclusive: true, ModeSharedIntentionExclusive: true,
	},
	ModeShared:                   {ModeExclusive: true, ModeSharedIntentionExclusive: true},
	ModeIntentionExclusive:       {ModeExclusive: true, ModeSharedIntentionExclusive: true},
	ModeSharedIntentionExclusive: {ModeExclusive: true},
	ModeExclusive:                {},
}

// Upgradable reports whether a transaction already holding m may upgrade to
// to.
func (m Mode) Upgradable(to Mode) bool {
	if m == to {
		return true
	}
	return upgradeLattice[m][to]
}

// IsolationLevel controls which lock modes are legal to request in which
// transaction phase, per spec.md §4.4's isolation policy table.
type IsolationLevel uint8

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// TxnPhase is the two-phase-locking state machine: GROWING while
// acquiring, SHRINKING once an S or X lock has been released (any such
// release under REPEATABLE_READ, only an X release under the other
// levels; intention-lock releases never change the phase), terminal at
// COMMITTED/ABORTED.
type TxnPhase uint8

const (
	PhaseGrowing TxnPhase = iota
	PhaseShrinking
	PhaseCommitted
	PhaseAborted
)

// TableOID identifies a table-level resource.
type TableOID uint64

// RowID identifies a row-level resource, scoped to its owning table.
type RowID struct {
	Table TableOID
	Row   uint64
}

// Txn is the lock-bookkeeping surface the manager needs from a
// transaction. Defined here rather than depending on internal/txn.Transaction
// directly, since internal/txn imports this package for Mode/TableOID/RowID
// — a concrete dependency back onto internal/txn would be a cycle.
// internal/txn.Transaction satisfies this interface structurally.
type Txn interface {
	ID() common.TxnID
	Phase() TxnPhase
	SetPhase(TxnPhase)
	IsolationLevel() IsolationLevel

	TableLockMode(TableOID) (Mode, bool)
	RecordTableLock(Mode, TableOID)
	ForgetTableLock(Mode, TableOID)
	HasAnyRowLockUnder(TableOID) bool

	RowLockMode(RowID) (Mode, bool)
	RecordRowLock(Mode, RowID)
	ForgetRowLock(Mode, RowID)
}

func init() {
	assert.Assert(len(compatMatrix) == 5, "compatibility matrix must cover all 5 modes")
}
