package lockmanager

import (
	"sort"
	"sync"
	"time"

	"github.com/darleet/coredb/internal/common"
)

// deadlockDetector periodically builds a waits-for graph from every
// resource queue's granted/ungranted requests and aborts the youngest
// transaction in any cycle it finds. Algorithm (deterministic DFS starting
// from the lowest unvisited txn id, abort the highest id on the discovered
// cycle) ported from original_source/.../lock_manager.h's RunCycleDetection
// contract.
type deadlockDetector struct {
	mgr *Manager

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

func newDeadlockDetector(mgr *Manager) *deadlockDetector {
	return &deadlockDetector{mgr: mgr}
}

func (d *deadlockDetector) start(intervalMS int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	if intervalMS <= 0 {
		intervalMS = 50
	}
	d.stopCh = make(chan struct{})
	d.running = true

	go d.loop(time.Duration(intervalMS) * time.Millisecond, d.stopCh)
}

func (d *deadlockDetector) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	close(d.stopCh)
	d.running = false
}

func (d *deadlockDetector) loop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.runOnce()
		}
	}
}

// runOnce builds the waits-for graph across every table and row queue and
// aborts one victim per cycle found, repeating until the graph is acyclic —
// a single pass may leave further cycles once a victim's edges vanish, so
// cycles are re-scanned after each abort within this tick.
func (d *deadlockDetector) runOnce() {
	for {
		edges := d.buildWaitsForGraph()
		cycle := findCycle(edges)
		if cycle == nil {
			return
		}

		victim := youngest(cycle)
		d.abort(victim)
	}
}

func (d *deadlockDetector) buildWaitsForGraph() map[common.TxnID]map[common.TxnID]bool {
	graph := make(map[common.TxnID]map[common.TxnID]bool)

	addEdges := func(q *queue) {
		q.mu.Lock()
		defer q.mu.Unlock()

		var granted, waiting []*request
		for e := q.requests.Front(); e != nil; e = e.Next() {
			r := e.Value.(*request)
			if r.granted {
				granted = append(granted, r)
			} else {
				waiting = append(waiting, r)
			}
		}

		for _, w := range waiting {
			for _, g := range granted {
				if g.txnID == w.txnID {
					continue
				}
				if !g.mode.Compatible(w.mode) {
					if graph[w.txnID] == nil {
						graph[w.txnID] = make(map[common.TxnID]bool)
					}
					graph[w.txnID][g.txnID] = true
				}
			}
		}
	}

	d.mgr.tablesMu.Lock()
	tables := make([]*queue, 0, len(d.mgr.tables))
	for _, q := range d.mgr.tables {
		tables = append(tables, q)
	}
	d.mgr.tablesMu.Unlock()

	d.mgr.rowsMu.Lock()
	rows := make([]*queue, 0, len(d.mgr.rows))
	for _, q := range d.mgr.rows {
		rows = append(rows, q)
	}
	d.mgr.rowsMu.Unlock()

	for _, q := range tables {
		addEdges(q)
	}
	for _, q := range rows {
		addEdges(q)
	}

	return graph
}

// findCycle runs DFS starting from the lowest-numbered unvisited node each
// time, always visiting a node's neighbors in ascending order, so the
// result is deterministic across runs over the same graph.
func findCycle(graph map[common.TxnID]map[common.TxnID]bool) []common.TxnID {
	nodes := make([]common.TxnID, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	state := make(map[common.TxnID]int)
	var stack []common.TxnID

	var visit func(common.TxnID) []common.TxnID
	visit = func(n common.TxnID) []common.TxnID {
		state[n] = onStack
		stack = append(stack, n)

		neighbors := make([]common.TxnID, 0, len(graph[n]))
		for m := range graph[n] {
			neighbors = append(neighbors, m)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

		for _, m := range neighbors {
			switch state[m] {
			case unvisited:
				if cycle := visit(m); cycle != nil {
					return cycle
				}
			case onStack:
				for i, s := range stack {
					if s == m {
						return append([]common.TxnID{}, stack[i:]...)
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[n] = done
		return nil
	}

	for _, n := range nodes {
		if state[n] == unvisited {
			if cycle := visit(n); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

func youngest(cycle []common.TxnID) common.TxnID {
	max := cycle[0]
	for _, id := range cycle[1:] {
		if id > max {
			max = id
		}
	}
	return max
}

// abort sets victim's phase to ABORTED and wakes every queue so its blocked
// waitForGrant call observes the new phase and unwinds on its own.
func (d *deadlockDetector) abort(victim common.TxnID) {
	d.mgr.abortVictim(victim)
}
