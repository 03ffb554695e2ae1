package page

import (
	"unsafe"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/pkg/assert"
)

type leafEntry struct {
	key   Key
	value common.RecordID
}

const leafCapacity = int((common.PageSize - uint32(headerSize)) / uint32(unsafe.Sizeof(leafEntry{})))

// LeafPage overlays a B+ tree leaf node onto a raw page buffer: a header
// followed by a sorted, dense array of (key, RecordID) entries and a
// right-sibling page id for ordered range scans.
type LeafPage struct {
	data *[common.PageSize]byte
}

// NewLeafPage wraps a raw page buffer still containing zero bytes and
// initializes its header. maxSize must be <= leafCapacity.
func NewLeafPage(data *[common.PageSize]byte, maxSize int) *LeafPage {
	assert.Assert(maxSize > 0 && maxSize <= leafCapacity, "leaf maxSize out of range: %d", maxSize)

	h := headerOf(data)
	h.nodeType = NodeTypeLeaf
	h.size = 0
	h.maxSize = mustPositive(maxSize)
	h.nextPageID = common.InvalidPageID

	return &LeafPage{data: data}
}

// WrapLeafPage views an already-initialized buffer as a LeafPage, asserting
// it actually holds leaf data.
func WrapLeafPage(data *[common.PageSize]byte) *LeafPage {
	assert.Assert(GetNodeType(data) == NodeTypeLeaf, "page is not a leaf page")
	return &LeafPage{data: data}
}

func (p *LeafPage) header() *nodeHeader { return headerOf(p.data) }

func (p *LeafPage) Lock()           { p.header().Lock() }
func (p *LeafPage) Unlock()         { p.header().Unlock() }
func (p *LeafPage) RLock()          { p.header().RLock() }
func (p *LeafPage) RUnlock()        { p.header().RUnlock() }
func (p *LeafPage) IsDirty() bool   { return p.header().IsDirty() }
func (p *LeafPage) SetDirty(v bool) { p.header().SetDirty(v) }
func (p *LeafPage) Size() int       { return p.header().Size() }
func (p *LeafPage) MaxSize() int    { return p.header().MaxSize() }
func (p *LeafPage) IsFull() bool    { return p.header().IsFull() }
func (p *LeafPage) IsUnderflow() bool {
	return p.header().IsUnderflow()
}

func (p *LeafPage) NextPageID() common.PageID       { return p.header().nextPageID }
func (p *LeafPage) SetNextPageID(id common.PageID)  { p.header().nextPageID = id }

func (p *LeafPage) entries() []leafEntry {
	base := unsafe.Add(unsafe.Pointer(p.data), headerSize)
	return unsafe.Slice((*leafEntry)(base), leafCapacity)
}

// KeyAt returns the key stored at index i, 0 <= i < Size().
func (p *LeafPage) KeyAt(i int) Key {
	assert.Assert(i >= 0 && i < p.Size(), "leaf KeyAt index out of range")
	return p.entries()[i].key
}

// ValueAt returns the RecordID stored at index i.
func (p *LeafPage) ValueAt(i int) common.RecordID {
	assert.Assert(i >= 0 && i < p.Size(), "leaf ValueAt index out of range")
	return p.entries()[i].value
}

// find returns the index of the first entry with key >= target, and whether
// that entry's key equals target exactly (classic lower_bound).
func (p *LeafPage) find(target Key) (idx int, exact bool) {
	lo, hi := 0, p.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if p.entries()[mid].key < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < p.Size() && p.entries()[lo].key == target
}

// LowerBound returns the index of the first entry with key >= target,
// possibly p.Size() if every key is smaller. Used by range iteration to
// position at the start of a key's run.
func (p *LeafPage) LowerBound(target Key) int {
	idx, _ := p.find(target)
	return idx
}

// GetValue looks up target, returning its RecordID and whether it was
// found.
func (p *LeafPage) GetValue(target Key) (common.RecordID, bool) {
	idx, exact := p.find(target)
	if !exact {
		return common.RecordID{}, false
	}
	return p.entries()[idx].value, true
}

// Insert places (key, value) in sorted order. Returns false if the key
// already exists (unique-key semantics) without modifying the page.
func (p *LeafPage) Insert(key Key, value common.RecordID) bool {
	idx, exact := p.find(key)
	if exact {
		return false
	}

	h := p.header()
	assert.Assert(int(h.size) < leafCapacity, "leaf page is full")

	ents := p.entries()
	copy(ents[idx+1:h.size+1], ents[idx:h.size])
	ents[idx] = leafEntry{key: key, value: value}
	h.size++

	return true
}

// Remove deletes key if present, returning whether it was found.
func (p *LeafPage) Remove(key Key) bool {
	idx, exact := p.find(key)
	if !exact {
		return false
	}

	h := p.header()
	ents := p.entries()
	copy(ents[idx:h.size-1], ents[idx+1:h.size])
	h.size--

	return true
}

// Split moves the upper half of this page's entries into right, which must
// already be initialized and empty, and returns the first key moved (the
// separator key the parent should use). Mirrors BusTub's leaf Split: right
// gets ceil(n/2) entries so both halves stay at or above the minimum
// occupancy after an insert-triggered split.
func (p *LeafPage) Split(right *LeafPage) Key {
	h := p.header()
	total := int(h.size)
	moveFrom := total / 2

	src := p.entries()
	dst := right.entries()
	n := copy(dst[:total-moveFrom], src[moveFrom:total])
	assert.Assert(n == total-moveFrom, "short copy during leaf split")

	right.header().size = mustPositive(total - moveFrom)
	h.size = mustPositive(moveFrom)

	right.SetNextPageID(p.NextPageID())
	p.SetNextPageID(0) // caller overwrites with right's real page id

	return right.KeyAt(0)
}

// Merge appends all of right's entries onto p (p must be the left sibling)
// and adopts right's next-pointer. right is left empty; the caller is
// responsible for deallocating its page.
func (p *LeafPage) Merge(right *LeafPage) {
	h := p.header()
	rh := right.header()
	assert.Assert(int(h.size)+int(rh.size) <= leafCapacity, "merge would overflow leaf capacity")

	dst := p.entries()
	src := right.entries()
	copy(dst[h.size:int(h.size)+int(rh.size)], src[:rh.size])

	h.size += rh.size
	p.SetNextPageID(right.NextPageID())
	rh.size = 0
}

// Redistribute borrows entries across a sibling boundary so that after the
// call both pages are at or above the minimum occupancy. If from is the
// left sibling of p, its last entry moves to the front of p; otherwise
// from's first entry moves to the end of p. Returns the new separator key
// the parent must adopt.
func (p *LeafPage) Redistribute(from *LeafPage, fromIsLeft bool) Key {
	h := p.header()
	fh := from.header()

	if fromIsLeft {
		last := from.entries()[fh.size-1]
		ents := p.entries()
		copy(ents[1:h.size+1], ents[0:h.size])
		ents[0] = last
		h.size++
		fh.size--
		return last.key
	}

	first := from.entries()[0]
	ents := p.entries()
	ents[h.size] = first
	h.size++

	fents := from.entries()
	copy(fents[0:fh.size-1], fents[1:fh.size])
	fh.size--

	return from.KeyAt(0)
}
