package bufferpool

import (
	"sync"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/errs"
)

// lruKNode tracks up to k most-recent access timestamps for a single frame,
// same bookkeeping as original_source/.../lru_k_replacer.cpp's LRUKNode.
type lruKNode struct {
	history    []uint64 // oldest first, capped at k entries (FIFO)
	k          int
	evictable  bool
}

func newLRUKNode(k int) *lruKNode {
	return &lruKNode{history: make([]uint64, 0, k), k: k}
}

func (n *lruKNode) recordAccess(ts uint64) {
	n.history = append(n.history, ts)
	if len(n.history) > n.k {
		n.history = n.history[1:]
	}
}

// backwardKDistance is the distance from now back to the k-th most recent
// access. A frame with fewer than k recorded accesses has infinite
// backward distance so it is always preferred for eviction.
func (n *lruKNode) backwardKDistance(now uint64) uint64 {
	if len(n.history) < n.k {
		return ^uint64(0)
	}
	return now - n.history[0]
}

func (n *lruKNode) earliestAccess() uint64 {
	if len(n.history) == 0 {
		return ^uint64(0)
	}
	return n.history[0]
}

// LRUKReplacer picks an eviction victim among the frames marked evictable,
// preferring the frame with the largest backward k-distance and breaking
// ties by earliest overall access time, exactly as
// original_source/.../lru_k_replacer.cpp does.
type LRUKReplacer struct {
	mu sync.Mutex

	k              int
	capacity       common.FrameID
	currentTS      uint64
	nodes          map[common.FrameID]*lruKNode
	evictableCount int
}

// NewLRUKReplacer builds a replacer over capacity frames (0..capacity-1 are
// valid frame ids), evicting via LRU-K with history depth k.
func NewLRUKReplacer(capacity int, k int) *LRUKReplacer {
	if k < 1 {
		k = 1
	}
	return &LRUKReplacer{
		k:        k,
		capacity: common.FrameID(capacity),
		nodes:    make(map[common.FrameID]*lruKNode),
	}
}

// RecordAccess logs a fresh access to frameID, creating tracking state for
// frames seen for the first time. New frames start non-evictable, just as
// in BusTub (a fresh frame is pinned before it can be recorded here).
func (r *LRUKReplacer) RecordAccess(frameID common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentTS++

	node, ok := r.nodes[frameID]
	if !ok {
		node = newLRUKNode(r.k)
		r.nodes[frameID] = node
	}
	node.recordAccess(r.currentTS)
}

// SetEvictable toggles whether frameID may be chosen as a victim by Evict.
// It fails with ErrFrameOutOfRange if frameID falls outside the replacer's
// configured capacity, and ErrFrameUnknown if no access has been recorded
// for it yet.
func (r *LRUKReplacer) SetEvictable(frameID common.FrameID, evictable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameID >= r.capacity {
		return errs.ErrFrameOutOfRange
	}

	node, ok := r.nodes[frameID]
	if !ok {
		return errs.ErrFrameUnknown
	}

	if node.evictable && !evictable {
		r.evictableCount--
	} else if !node.evictable && evictable {
		r.evictableCount++
	}
	node.evictable = evictable

	return nil
}

// Evict selects and removes the current victim frame, if any evictable
// frame exists.
func (r *LRUKReplacer) Evict() (common.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		victim    common.FrameID
		found     bool
		maxDist   uint64
		maxEarly  uint64
	)

	for frameID, node := range r.nodes {
		if !node.evictable {
			continue
		}

		dist := node.backwardKDistance(r.currentTS)
		switch {
		case !found || dist > maxDist:
			found = true
			maxDist = dist
			victim = frameID
			maxEarly = node.earliestAccess()
		case dist == maxDist && node.earliestAccess() < maxEarly:
			victim = frameID
			maxEarly = node.earliestAccess()
		}
	}

	if !found {
		return 0, false
	}

	delete(r.nodes, victim)
	r.evictableCount--

	return victim, true
}

// Remove drops all tracking state for frameID. It is a no-op if the frame
// is not tracked, returns ErrFrameOutOfRange if frameID is past the
// replacer's capacity, and returns an error wrapping ErrPagePinned if the
// frame is currently pinned/non-evictable.
func (r *LRUKReplacer) Remove(frameID common.FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameID >= r.capacity {
		return errs.ErrFrameOutOfRange
	}

	node, ok := r.nodes[frameID]
	if !ok {
		return nil
	}

	if !node.evictable {
		return errs.Wrap(errs.ErrPagePinned, "cannot remove a non-evictable frame from the replacer")
	}

	delete(r.nodes, frameID)
	r.evictableCount--

	return nil
}

// Size returns the number of frames currently eligible for eviction.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.evictableCount
}
