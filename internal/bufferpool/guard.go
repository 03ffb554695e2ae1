package bufferpool

import (
	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/page"
)

// BasicPageGuard owns one pin on a page but takes no content latch itself;
// callers that need crabbing-safe concurrent access should use
// ReadPageGuard or WritePageGuard instead. Move-only by convention: Drop() is idempotent and
// callers must not use a guard after passing ownership of it elsewhere.
// Grounded on original_source/.../page_guard.cpp's Basic/Read/WritePageGuard
// trio and their critical "latch before unpin" drop ordering.
type BasicPageGuard struct {
	bpm     *Manager
	ident   common.PageIdentity
	data    *[common.PageSize]byte
	isDirty bool
	dropped bool
}

func newBasicGuard(bpm *Manager, ident common.PageIdentity, data *[common.PageSize]byte) BasicPageGuard {
	return BasicPageGuard{bpm: bpm, ident: ident, data: data}
}

// Data returns the raw page buffer. Callers wrap it with page.WrapLeafPage /
// page.WrapInternalPage / page.WrapHeaderPage as appropriate.
func (g *BasicPageGuard) Data() *[common.PageSize]byte { return g.data }

func (g *BasicPageGuard) PageIdentity() common.PageIdentity { return g.ident }

// MarkDirty flags the page as modified; Drop propagates this to the buffer
// pool's Unpin call so the page is eventually flushed.
func (g *BasicPageGuard) MarkDirty() { g.isDirty = true }

// Drop unpins the page. Safe to call multiple times.
func (g *BasicPageGuard) Drop() {
	if g.dropped || g.bpm == nil {
		return
	}
	_ = g.bpm.Unpin(g.ident, g.isDirty)
	g.dropped = true
}

// UpgradeRead converts this basic guard into a ReadPageGuard, taking the
// content-level shared latch.
func (g BasicPageGuard) UpgradeRead() ReadPageGuard {
	page.LatchOf(g.data).RLock()
	return ReadPageGuard{inner: g}
}

// UpgradeWrite converts this basic guard into a WritePageGuard, taking the
// content-level exclusive latch.
func (g BasicPageGuard) UpgradeWrite() WritePageGuard {
	page.LatchOf(g.data).Lock()
	return WritePageGuard{inner: g}
}

// ReadPageGuard holds a pin plus a shared content latch. Drop releases the
// latch strictly before unpinning, matching BusTub's ReadPageGuard::Drop —
// releasing the pin first would let the buffer pool pick this frame as an
// eviction victim while another thread still believes it holds the latch.
type ReadPageGuard struct {
	inner   BasicPageGuard
	dropped bool
}

func (g *ReadPageGuard) Data() *[common.PageSize]byte      { return g.inner.data }
func (g *ReadPageGuard) PageIdentity() common.PageIdentity { return g.inner.ident }

func (g *ReadPageGuard) Drop() {
	if g.dropped {
		return
	}
	if g.inner.data != nil {
		page.LatchOf(g.inner.data).RUnlock()
	}
	g.inner.Drop()
	g.dropped = true
}

// WritePageGuard holds a pin plus the content's exclusive latch.
type WritePageGuard struct {
	inner   BasicPageGuard
	dropped bool
}

func (g *WritePageGuard) Data() *[common.PageSize]byte      { return g.inner.data }
func (g *WritePageGuard) PageIdentity() common.PageIdentity { return g.inner.ident }
func (g *WritePageGuard) MarkDirty()                        { g.inner.MarkDirty() }

func (g *WritePageGuard) Drop() {
	if g.dropped {
		return
	}
	if g.inner.data != nil {
		page.LatchOf(g.inner.data).Unlock()
	}
	g.inner.Drop()
	g.dropped = true
}

// FetchPageBasic pins ident without taking a content latch.
func (m *Manager) FetchPageBasic(ident common.PageIdentity) (BasicPageGuard, error) {
	data, err := m.FetchPage(ident)
	if err != nil {
		return BasicPageGuard{}, err
	}
	return newBasicGuard(m, ident, data), nil
}

// FetchPageRead pins ident and takes its shared content latch.
func (m *Manager) FetchPageRead(ident common.PageIdentity) (ReadPageGuard, error) {
	g, err := m.FetchPageBasic(ident)
	if err != nil {
		return ReadPageGuard{}, err
	}
	return g.UpgradeRead(), nil
}

// FetchPageWrite pins ident and takes its exclusive content latch.
func (m *Manager) FetchPageWrite(ident common.PageIdentity) (WritePageGuard, error) {
	g, err := m.FetchPageBasic(ident)
	if err != nil {
		return WritePageGuard{}, err
	}
	return g.UpgradeWrite(), nil
}

// NewPageGuardedWrite allocates a fresh page already pinned and
// write-latched, for callers about to initialize its contents.
func (m *Manager) NewPageGuardedWrite(fileID common.FileID) (WritePageGuard, error) {
	ident, data, err := m.NewPage(fileID)
	if err != nil {
		return WritePageGuard{}, err
	}
	g := newBasicGuard(m, ident, data)
	return g.UpgradeWrite(), nil
}
