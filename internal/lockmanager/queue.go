package lockmanager

import (
	"container/list"
	"sync"

	"github.com/darleet/coredb/internal/common"
)

// request is one entry in a resource's FIFO queue.
type request struct {
	txnID   common.TxnID
	mode    Mode
	granted bool
}

// queue is a single resource's lock request queue: FIFO list, condition
// variable, and an upgrading slot, matching
// original_source/.../lock_manager.h's LockRequestQueue exactly (list +
// cv + mutex + upgrading_).
type queue struct {
	mu           sync.Mutex
	cond         *sync.Cond
	requests     *list.List // of *request
	upgradingTxn common.TxnID
	hasUpgrader  bool
}

func newQueue() *queue {
	q := &queue{requests: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// grantable reports whether candidate (already in the list at position
// elem) may be granted now: every already-granted request ahead of it must
// be compatible with its mode, and it must be the first ungranted request
// (FIFO — unless the caller is checking an upgrade-reinsertion candidate,
// which is always placed at the head of the ungranted suffix so this still
// holds).
func (q *queue) grantable(elem *list.Element) bool {
	candidate := elem.Value.(*request)

	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if r.granted && !r.mode.Compatible(candidate.mode) {
			return false
		}
	}

	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if !r.granted {
			return e == elem
		}
	}

	return true
}

// grantNewLocksIfPossible walks the ungranted prefix and grants every
// request that is compatible with all currently granted requests, in
// order, stopping at the first one that is not grantable. This is the
// "batch grant" behavior spec.md describes: several compatible waiters at
// the front of the ungranted suffix can all be granted together.
func (q *queue) grantNewLocksIfPossible() {
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if r.granted {
			continue
		}
		if !q.grantable(e) {
			return
		}
		r.granted = true
	}
}
