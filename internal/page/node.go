// Package page implements the fixed-size, in-place B+ tree node layouts the
// buffer pool hands out as frames. It reuses the teacher's slotted-page
// trick of overlaying a Go struct onto a raw [common.PageSize]byte array via
// unsafe.Pointer instead of marshaling on every access.
//
// Keys are fixed-width int64s and values are common.RecordID, matching
// spec.md's "Values are fixed-size record ids" — see DESIGN.md for why a
// single concrete key type was chosen over a fully generic KeyType.
package page

import (
	"sync"
	"unsafe"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/pkg/assert"
)

// NodeType distinguishes a B+ tree leaf page from an internal page. Also
// doubles as a canary: a freshly zeroed page reads as NodeTypeInvalid, which
// every accessor rejects via assert.
type NodeType uint8

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeLeaf
	NodeTypeInternal
)

// Key is the B+ tree's fixed-width key type.
type Key = int64

// nodeHeader sits at byte offset 0 of every B+ tree node page. It is
// identical in shape for leaf and internal pages so GetNodeType can be
// called before the caller knows which kind of page it fetched.
type nodeHeader struct {
	latch sync.RWMutex

	dirty bool

	nodeType NodeType
	size     uint16 // number of entries stored (keys on a leaf, children on an internal page)
	maxSize  uint16 // split threshold: a leaf splits on reaching it, an internal page once it exceeds it

	// nextPageID chains leaf pages left-to-right for range scans; unused
	// (left as common.InvalidPageID) on internal pages.
	nextPageID common.PageID
}

const headerSize = uint16(unsafe.Sizeof(nodeHeader{}))

func headerOf(data *[common.PageSize]byte) *nodeHeader {
	return (*nodeHeader)(unsafe.Pointer(&data[0]))
}

// LatchOf overlays just the content-level RWMutex at the start of any page
// kind (nodeHeader, treeHeaderData — every page header in this package
// leads with its latch), so page guards can lock/unlock a page generically
// without knowing whether it is a leaf, an internal, or a header page.
func LatchOf(data *[common.PageSize]byte) *sync.RWMutex {
	return (*sync.RWMutex)(unsafe.Pointer(&data[0]))
}

// GetNodeType reads the page's type without requiring the caller to already
// know whether it is a *LeafPage or an *InternalPage.
func GetNodeType(data *[common.PageSize]byte) NodeType {
	return headerOf(data).nodeType
}

func (h *nodeHeader) Lock()    { h.latch.Lock() }
func (h *nodeHeader) Unlock()  { h.latch.Unlock() }
func (h *nodeHeader) RLock()   { h.latch.RLock() }
func (h *nodeHeader) RUnlock() { h.latch.RUnlock() }

func (h *nodeHeader) IsDirty() bool     { return h.dirty }
func (h *nodeHeader) SetDirty(v bool)   { h.dirty = v }
func (h *nodeHeader) Size() int         { return int(h.size) }
func (h *nodeHeader) MaxSize() int      { return int(h.maxSize) }
func (h *nodeHeader) IsLeaf() bool      { return h.nodeType == NodeTypeLeaf }
func (h *nodeHeader) IsInternal() bool  { return h.nodeType == NodeTypeInternal }

// IsFull reports whether the node has reached its split threshold.
func (h *nodeHeader) IsFull() bool { return int(h.size) >= int(h.maxSize) }

// IsUnderflow reports whether the node has fewer entries than half its
// capacity, the standard B+ tree merge/redistribute trigger. The root is
// exempt from this check by its caller.
func (h *nodeHeader) IsUnderflow() bool {
	return int(h.size) < (int(h.maxSize)+1)/2
}

func mustPositive(n int) uint16 {
	assert.Assert(n >= 0 && n <= int(^uint16(0)), "size out of range: %d", n)
	return uint16(n)
}
