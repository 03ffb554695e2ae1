package page

import (
	"unsafe"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/pkg/assert"
)

type internalEntry struct {
	key   Key
	child common.PageID
}

const internalCapacity = int((common.PageSize - uint32(headerSize)) / uint32(unsafe.Sizeof(internalEntry{})))

// InternalPage overlays a B+ tree internal node: n children and n-1
// separator keys, stored as n (key, child) pairs where entries()[0].key is
// never read (mirrors BusTub's "first key is always invalid" convention —
// see original_source/.../b_plus_tree_internal_page.h).
type InternalPage struct {
	data *[common.PageSize]byte
}

func NewInternalPage(data *[common.PageSize]byte, maxSize int) *InternalPage {
	assert.Assert(maxSize > 0 && maxSize <= internalCapacity, "internal maxSize out of range: %d", maxSize)

	h := headerOf(data)
	h.nodeType = NodeTypeInternal
	h.size = 0
	h.maxSize = mustPositive(maxSize)
	h.nextPageID = common.InvalidPageID

	return &InternalPage{data: data}
}

func WrapInternalPage(data *[common.PageSize]byte) *InternalPage {
	assert.Assert(GetNodeType(data) == NodeTypeInternal, "page is not an internal page")
	return &InternalPage{data: data}
}

func (p *InternalPage) header() *nodeHeader { return headerOf(p.data) }

func (p *InternalPage) Lock()           { p.header().Lock() }
func (p *InternalPage) Unlock()         { p.header().Unlock() }
func (p *InternalPage) RLock()          { p.header().RLock() }
func (p *InternalPage) RUnlock()        { p.header().RUnlock() }
func (p *InternalPage) IsDirty() bool   { return p.header().IsDirty() }
func (p *InternalPage) SetDirty(v bool) { p.header().SetDirty(v) }

// Size returns the number of valid children (== number of valid keys + 1).
func (p *InternalPage) Size() int    { return p.header().Size() }
func (p *InternalPage) MaxSize() int { return p.header().MaxSize() }
func (p *InternalPage) IsFull() bool { return p.header().IsFull() }
func (p *InternalPage) IsUnderflow() bool {
	return p.header().IsUnderflow()
}

func (p *InternalPage) entries() []internalEntry {
	base := unsafe.Add(unsafe.Pointer(p.data), headerSize)
	return unsafe.Slice((*internalEntry)(base), internalCapacity)
}

// KeyAt returns the separator key at index i; i must be >= 1.
func (p *InternalPage) KeyAt(i int) Key {
	assert.Assert(i >= 1 && i < p.Size(), "internal KeyAt index out of range")
	return p.entries()[i].key
}

func (p *InternalPage) ChildAt(i int) common.PageID {
	assert.Assert(i >= 0 && i < p.Size(), "internal ChildAt index out of range")
	return p.entries()[i].child
}

func (p *InternalPage) SetChildAt(i int, child common.PageID) {
	assert.Assert(i >= 0 && i < p.Size(), "internal SetChildAt index out of range")
	p.entries()[i].child = child
}

// SetKeyAt overwrites the separator key at index i; i must be >= 1. Used to
// install a new separator after a sibling redistribute.
func (p *InternalPage) SetKeyAt(i int, key Key) {
	assert.Assert(i >= 1 && i < p.Size(), "internal SetKeyAt index out of range")
	p.entries()[i].key = key
}

// InitRoot is used only when creating the very first root after the tree
// grows from one leaf into height 2: it seeds a brand new internal page
// with a single separator key and two children.
func (p *InternalPage) InitRoot(left common.PageID, sep Key, right common.PageID) {
	h := p.header()
	assert.Assert(h.size == 0, "InitRoot called on a non-empty internal page")

	ents := p.entries()
	ents[0] = internalEntry{child: left}
	ents[1] = internalEntry{key: sep, child: right}
	h.size = 2
}

// Lookup returns the index of the child subtree that may contain key: the
// largest i such that KeyAt(i) <= key, or 0 if key is smaller than every
// separator.
func (p *InternalPage) Lookup(key Key) int {
	ents := p.entries()
	size := p.Size()

	lo, hi := 1, size
	for lo < hi {
		mid := (lo + hi) / 2
		if ents[mid].key <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo - 1
}

// ValueIndex returns the index of child in this page's children, or -1.
func (p *InternalPage) ValueIndex(child common.PageID) int {
	ents := p.entries()
	for i := 0; i < p.Size(); i++ {
		if ents[i].child == child {
			return i
		}
	}
	return -1
}

// InsertAfter inserts a new (separator, child) pair immediately after the
// existing child at position idx (idx is the left child's index, as
// returned by ValueIndex): used after a child split to thread in the new
// right sibling.
func (p *InternalPage) InsertAfter(idx int, sep Key, child common.PageID) {
	h := p.header()
	assert.Assert(int(h.size) < internalCapacity, "internal page is full")

	ents := p.entries()
	pos := idx + 1
	copy(ents[pos+1:int(h.size)+1], ents[pos:h.size])
	ents[pos] = internalEntry{key: sep, child: child}
	h.size++
}

// Remove deletes the child at searchIndex along with the separator key that
// precedes it (mirrors BusTub: "remove the right child of the search
// index, because of the way we merge internal pages").
func (p *InternalPage) Remove(searchIndex int) {
	h := p.header()
	assert.Assert(searchIndex >= 1 && searchIndex < int(h.size), "internal Remove index out of range")

	ents := p.entries()
	copy(ents[searchIndex:h.size-1], ents[searchIndex+1:h.size])
	h.size--
}

// Split keeps the first ceil(n/2) entries in p and moves the remaining
// floor(n/2) entries (including their separator keys) into right, and
// returns the key that must be pushed up into the parent (right's former
// first separator, now invalid in right and meaningless in p).
func (p *InternalPage) Split(right *InternalPage) Key {
	h := p.header()
	total := int(h.size)
	moveFrom := (total + 1) / 2

	src := p.entries()
	dst := right.entries()
	n := copy(dst[:total-moveFrom], src[moveFrom:total])
	assert.Assert(n == total-moveFrom, "short copy during internal split")

	upKey := dst[0].key
	dst[0].key = 0 // first key of a page is never read

	right.header().size = mustPositive(total - moveFrom)
	h.size = mustPositive(moveFrom)

	return upKey
}

// Merge folds right (with separator key sep, pushed down from the parent)
// onto the end of p and empties right.
func (p *InternalPage) Merge(right *InternalPage, sep Key) {
	h := p.header()
	rh := right.header()
	assert.Assert(int(h.size)+int(rh.size) <= internalCapacity, "merge would overflow internal capacity")

	dst := p.entries()
	src := right.entries()
	copy(dst[h.size:int(h.size)+int(rh.size)], src[:rh.size])
	dst[h.size].key = sep

	h.size += rh.size
	rh.size = 0
}

// Redistribute borrows one child across a sibling boundary, given sep (the
// parent's current separator key between p and from) and returns the new
// separator the parent must adopt.
func (p *InternalPage) Redistribute(from *InternalPage, sep Key, fromIsLeft bool) Key {
	h := p.header()
	fh := from.header()

	if fromIsLeft {
		lastChild := from.entries()[fh.size-1].child

		ents := p.entries()
		copy(ents[1:h.size+1], ents[0:h.size])
		ents[0] = internalEntry{child: lastChild}
		ents[1].key = sep
		h.size++

		newSep := from.entries()[fh.size-1].key
		fh.size--
		return newSep
	}

	firstChild := from.entries()[0].child
	ents := p.entries()
	ents[h.size] = internalEntry{key: sep, child: firstChild}
	h.size++

	fents := from.entries()
	newSep := fents[1].key
	copy(fents[0:fh.size-1], fents[1:fh.size])
	fents[0].key = 0
	fh.size--

	return newSep
}
