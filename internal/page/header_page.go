package page

import (
	"sync"
	"unsafe"

	"github.com/darleet/coredb/internal/common"
)

// treeHeaderData is the entire contents of a B+ tree's header page: just
// the current root. Indirecting root_page_id through a page (rather than
// caching it in the Tree struct) lets concurrent inserts/deletes that
// change the root take a latch on this one page instead of a global lock,
// same as original_source/.../b_plus_tree.h's header_page_.
type treeHeaderData struct {
	latch       sync.RWMutex
	rootPageID  common.PageID
}

// HeaderPage overlays the B+ tree's root-pointer page.
type HeaderPage struct {
	data *[common.PageSize]byte
}

func NewHeaderPage(data *[common.PageSize]byte) *HeaderPage {
	h := (*treeHeaderData)(unsafe.Pointer(&data[0]))
	h.rootPageID = common.InvalidPageID
	return &HeaderPage{data: data}
}

func WrapHeaderPage(data *[common.PageSize]byte) *HeaderPage {
	return &HeaderPage{data: data}
}

func (p *HeaderPage) raw() *treeHeaderData {
	return (*treeHeaderData)(unsafe.Pointer(&p.data[0]))
}

func (p *HeaderPage) Lock()    { p.raw().latch.Lock() }
func (p *HeaderPage) Unlock()  { p.raw().latch.Unlock() }
func (p *HeaderPage) RLock()   { p.raw().latch.RLock() }
func (p *HeaderPage) RUnlock() { p.raw().latch.RUnlock() }

func (p *HeaderPage) RootPageID() common.PageID          { return p.raw().rootPageID }
func (p *HeaderPage) SetRootPageID(id common.PageID)     { p.raw().rootPageID = id }
func (p *HeaderPage) IsEmpty() bool                      { return p.raw().rootPageID == common.InvalidPageID }
