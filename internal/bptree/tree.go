// Package bptree implements a concurrent B+ tree index over pages managed
// by internal/bufferpool, using latch crabbing for both read and write
// descents. Algorithm grounded directly on spec.md §4.3 and
// original_source/src/storage/page/b_plus_tree_{internal,leaf}_page.h for
// the exact split/merge/redistribute contracts; the crabbing discipline
// itself (stack of held write guards, released once a node is proven safe)
// follows the read/write crabbing pattern in the pack's gojodb
// (findLeafForIterator) generalized to BusTub's write-descent rule.
package bptree

import (
	"github.com/darleet/coredb/internal/bufferpool"
	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/errs"
	"github.com/darleet/coredb/internal/page"
)

// Tree is a single B+ tree index rooted at a header page. One file holds
// every page of the tree (header, internal, leaf).
type Tree struct {
	bpm          *bufferpool.Manager
	fileID       common.FileID
	headerPageID common.PageID
	leafMax      int
	internalMax  int
}

// NewTree allocates a fresh, empty tree (a new header page with an invalid
// root) in fileID.
func NewTree(bpm *bufferpool.Manager, fileID common.FileID, leafMax, internalMax int) (*Tree, error) {
	ident, data, err := bpm.NewPage(fileID)
	if err != nil {
		return nil, errs.Wrap(err, "allocate b+ tree header page")
	}
	page.NewHeaderPage(data)
	if err := bpm.Unpin(ident, true); err != nil {
		return nil, err
	}

	return &Tree{
		bpm:          bpm,
		fileID:       fileID,
		headerPageID: ident.PageID,
		leafMax:      leafMax,
		internalMax:  internalMax,
	}, nil
}

// OpenTree attaches to an already-initialized tree whose header page is
// known (e.g. loaded from a catalog on startup).
func OpenTree(bpm *bufferpool.Manager, fileID common.FileID, headerPageID common.PageID, leafMax, internalMax int) *Tree {
	return &Tree{
		bpm:          bpm,
		fileID:       fileID,
		headerPageID: headerPageID,
		leafMax:      leafMax,
		internalMax:  internalMax,
	}
}

func (t *Tree) ident(pid common.PageID) common.PageIdentity {
	return common.PageIdentity{FileID: t.fileID, PageID: pid}
}

func (t *Tree) headerIdent() common.PageIdentity {
	return t.ident(t.headerPageID)
}

func minSize(maxSize int) int { return (maxSize + 1) / 2 }

// ancestorStack tracks every write-latched guard held for the current
// operation (the header plus a stack of internal-node guards) so they can
// all be released in one call once a node proves safe, or at the very end
// of the operation. Mirrors spec.md §4.3's "held latches tracked in a
// per-operation context; on return every latch must be released exactly
// once."
type ancestorStack struct {
	header *bufferpool.WritePageGuard
	nodes  []*bufferpool.WritePageGuard
}

func (a *ancestorStack) releaseAll() {
	if a.header != nil {
		a.header.Drop()
		a.header = nil
	}
	for _, g := range a.nodes {
		g.Drop()
	}
	a.nodes = a.nodes[:0]
}

func (a *ancestorStack) push(g *bufferpool.WritePageGuard) {
	a.nodes = append(a.nodes, g)
}

func (a *ancestorStack) pop() *bufferpool.WritePageGuard {
	n := len(a.nodes)
	g := a.nodes[n-1]
	a.nodes = a.nodes[:n-1]
	return g
}

// GetValue performs a read-descent search for key.
func (t *Tree) GetValue(key page.Key) (common.RecordID, bool, error) {
	hg, err := t.bpm.FetchPageRead(t.headerIdent())
	if err != nil {
		return common.RecordID{}, false, errs.Wrap(err, "fetch b+ tree header")
	}
	hp := page.WrapHeaderPage(hg.Data())
	root := hp.RootPageID()
	if root == common.InvalidPageID {
		hg.Drop()
		return common.RecordID{}, false, nil
	}

	guard, err := t.bpm.FetchPageRead(t.ident(root))
	if err != nil {
		hg.Drop()
		return common.RecordID{}, false, errs.Wrap(err, "fetch b+ tree root")
	}
	hg.Drop()

	for {
		if page.GetNodeType(guard.Data()) == page.NodeTypeLeaf {
			leaf := page.WrapLeafPage(guard.Data())
			rid, found := leaf.GetValue(key)
			guard.Drop()
			return rid, found, nil
		}

		internal := page.WrapInternalPage(guard.Data())
		child := internal.ChildAt(internal.Lookup(key))

		next, err := t.bpm.FetchPageRead(t.ident(child))
		if err != nil {
			guard.Drop()
			return common.RecordID{}, false, errs.Wrap(err, "fetch b+ tree child")
		}
		guard.Drop()
		guard = next
	}
}

// Insert places (key, rid) in the tree. Returns false without modifying
// anything if key is already present.
func (t *Tree) Insert(key page.Key, rid common.RecordID) (bool, error) {
	hgv, err := t.bpm.FetchPageWrite(t.headerIdent())
	if err != nil {
		return false, errs.Wrap(err, "fetch b+ tree header")
	}
	hg := &hgv
	hp := page.WrapHeaderPage(hg.Data())

	if hp.IsEmpty() {
		lgv, err := t.bpm.NewPageGuardedWrite(t.fileID)
		if err != nil {
			hg.Drop()
			return false, errs.Wrap(err, "allocate first leaf")
		}
		leaf := page.NewLeafPage(lgv.Data(), t.leafMax)
		leaf.Insert(key, rid)
		lgv.MarkDirty()

		hp.SetRootPageID(lgv.PageIdentity().PageID)
		hg.MarkDirty()

		lgv.Drop()
		hg.Drop()
		return true, nil
	}

	anc := &ancestorStack{header: hg}

	curv, err := t.bpm.FetchPageWrite(t.ident(hp.RootPageID()))
	if err != nil {
		anc.releaseAll()
		return false, errs.Wrap(err, "fetch b+ tree root")
	}
	cur := &curv

	for page.GetNodeType(cur.Data()) == page.NodeTypeInternal {
		internal := page.WrapInternalPage(cur.Data())
		if internal.Size() < t.internalMax {
			anc.releaseAll()
		}
		anc.push(cur)

		child := internal.ChildAt(internal.Lookup(key))
		nextv, err := t.bpm.FetchPageWrite(t.ident(child))
		if err != nil {
			anc.releaseAll()
			return false, errs.Wrap(err, "fetch b+ tree child during insert descent")
		}
		cur = &nextv
	}

	leaf := page.WrapLeafPage(cur.Data())
	safe := leaf.Size() < t.leafMax-1
	if safe {
		anc.releaseAll()
	}

	if !leaf.Insert(key, rid) {
		cur.Drop()
		anc.releaseAll()
		return false, nil
	}
	cur.MarkDirty()

	if !leaf.IsFull() {
		cur.Drop()
		anc.releaseAll()
		return true, nil
	}

	rightv, err := t.bpm.NewPageGuardedWrite(t.fileID)
	if err != nil {
		cur.Drop()
		anc.releaseAll()
		return false, errs.Wrap(err, "allocate leaf split sibling")
	}
	rightLeaf := page.NewLeafPage(rightv.Data(), t.leafMax)
	upKey := leaf.Split(rightLeaf)
	leaf.SetNextPageID(rightv.PageIdentity().PageID)
	cur.MarkDirty()
	rightv.MarkDirty()

	pendingLeft := cur.PageIdentity().PageID
	propKey := upKey
	propChild := rightv.PageIdentity().PageID

	cur.Drop()
	rightv.Drop()

	for {
		if len(anc.nodes) == 0 {
			// Propagation reached past the last internal ancestor: pendingLeft
			// is the old root's unchanged page id, propChild its freshly split
			// sibling. Allocate a new root with both as children.
			newRootGuard, err := t.bpm.NewPageGuardedWrite(t.fileID)
			if err != nil {
				anc.releaseAll()
				return false, errs.Wrap(err, "allocate new root")
			}
			newRoot := page.NewInternalPage(newRootGuard.Data(), t.internalMax)
			newRoot.InitRoot(pendingLeft, propKey, propChild)
			newRootGuard.MarkDirty()

			hp.SetRootPageID(newRootGuard.PageIdentity().PageID)
			anc.header.MarkDirty()

			newRootGuard.Drop()
			anc.releaseAll()
			return true, nil
		}

		parentGuard := anc.pop()
		parent := page.WrapInternalPage(parentGuard.Data())

		idx := parent.ValueIndex(pendingLeft)
		parent.InsertAfter(idx, propKey, propChild)
		parentGuard.MarkDirty()

		if parent.Size() <= t.internalMax {
			parentGuard.Drop()
			anc.releaseAll()
			return true, nil
		}

		newGuard, err := t.bpm.NewPageGuardedWrite(t.fileID)
		if err != nil {
			parentGuard.Drop()
			anc.releaseAll()
			return false, errs.Wrap(err, "allocate internal split sibling")
		}
		newInternal := page.NewInternalPage(newGuard.Data(), t.internalMax)
		splitKey := parent.Split(newInternal)
		parentGuard.MarkDirty()
		newGuard.MarkDirty()

		pendingLeft = parentGuard.PageIdentity().PageID
		propKey = splitKey
		propChild = newGuard.PageIdentity().PageID

		parentGuard.Drop()
		newGuard.Drop()
	}
}

// Delete removes key if present. Missing keys are a silent no-op, matching
// spec.md §4.3's failure semantics.
func (t *Tree) Delete(key page.Key) error {
	hgv, err := t.bpm.FetchPageWrite(t.headerIdent())
	if err != nil {
		return errs.Wrap(err, "fetch b+ tree header")
	}
	hg := &hgv
	hp := page.WrapHeaderPage(hg.Data())

	if hp.IsEmpty() {
		hg.Drop()
		return nil
	}

	anc := &ancestorStack{header: hg}

	curv, err := t.bpm.FetchPageWrite(t.ident(hp.RootPageID()))
	if err != nil {
		anc.releaseAll()
		return errs.Wrap(err, "fetch b+ tree root")
	}
	cur := &curv

	for page.GetNodeType(cur.Data()) == page.NodeTypeInternal {
		internal := page.WrapInternalPage(cur.Data())
		if internal.Size() > minSize(internal.MaxSize()) {
			anc.releaseAll()
		}
		anc.push(cur)

		child := internal.ChildAt(internal.Lookup(key))
		nextv, err := t.bpm.FetchPageWrite(t.ident(child))
		if err != nil {
			anc.releaseAll()
			return errs.Wrap(err, "fetch b+ tree child during delete descent")
		}
		cur = &nextv
	}

	leaf := page.WrapLeafPage(cur.Data())
	if leaf.Size() > minSize(leaf.MaxSize()) {
		anc.releaseAll()
	}

	if !leaf.Remove(key) {
		cur.Drop()
		anc.releaseAll()
		return nil
	}
	cur.MarkDirty()

	if len(anc.nodes) == 0 {
		// Leaf is the root: only an empty root collapses to INVALID, per
		// spec.md §4.3's root-collapse rule. A below-minimum root leaf is
		// otherwise left as-is (no sibling to redistribute with or merge
		// into).
		if leaf.Size() == 0 {
			hp.SetRootPageID(common.InvalidPageID)
			anc.header.MarkDirty()
		}
		cur.Drop()
		anc.releaseAll()
		return nil
	}

	if leaf.Size() >= minSize(leaf.MaxSize()) {
		cur.Drop()
		anc.releaseAll()
		return nil
	}

	return t.rebalanceLeaf(anc, hp, cur, leaf)
}

// rebalanceLeaf handles the leaf that just underflowed, redistributing from
// or merging with an adjacent sibling, then hands off to rebalanceInternal
// if the merge propagates an underflow upward. Caller holds cur's write
// guard and every ancestor needed to reach it; guards are fully released by
// the time this returns, regardless of outcome.
func (t *Tree) rebalanceLeaf(anc *ancestorStack, hp *page.HeaderPage, cur *bufferpool.WritePageGuard, leaf *page.LeafPage) error {
	childPageID := cur.PageIdentity().PageID

	parentGuard := anc.pop()
	parent := page.WrapInternalPage(parentGuard.Data())
	idx := parent.ValueIndex(childPageID)

	var siblingIdx int
	var fromIsLeft bool
	if idx > 0 {
		siblingIdx, fromIsLeft = idx-1, true
	} else {
		siblingIdx, fromIsLeft = idx+1, false
	}

	siblingGuardV, err := t.bpm.FetchPageWrite(t.ident(parent.ChildAt(siblingIdx)))
	if err != nil {
		cur.Drop()
		parentGuard.Drop()
		anc.releaseAll()
		return errs.Wrap(err, "fetch leaf sibling for rebalance")
	}
	siblingGuard := &siblingGuardV
	siblingLeaf := page.WrapLeafPage(siblingGuard.Data())

	sepIdx := idx
	if !fromIsLeft {
		sepIdx = siblingIdx
	}

	if siblingLeaf.Size() > minSize(siblingLeaf.MaxSize()) {
		newSep := leaf.Redistribute(siblingLeaf, fromIsLeft)
		parent.SetKeyAt(sepIdx, newSep)

		cur.MarkDirty()
		siblingGuard.MarkDirty()
		parentGuard.MarkDirty()

		cur.Drop()
		siblingGuard.Drop()
		parentGuard.Drop()
		anc.releaseAll()
		return nil
	}

	// Merge: fold the right sibling into the left, unlink it from the
	// leaf chain, and remove its separator from the parent.
	var left *page.LeafPage
	var leftGuard, rightGuard *bufferpool.WritePageGuard
	var removeIdx int
	if fromIsLeft {
		left, leftGuard, rightGuard, removeIdx = siblingLeaf, siblingGuard, cur, idx
	} else {
		left, leftGuard, rightGuard, removeIdx = leaf, cur, siblingGuard, siblingIdx
	}

	left.Merge(page.WrapLeafPage(rightGuard.Data()))
	leftGuard.MarkDirty()

	discarded := rightGuard.PageIdentity()
	rightGuard.Drop()
	_ = t.bpm.DeletePage(discarded)

	parent.Remove(removeIdx)
	parentGuard.MarkDirty()
	leftGuard.Drop()

	return t.rebalanceInternal(anc, hp, parentGuard, parent)
}

// rebalanceInternal handles an internal node that underflowed (either
// because a child merge removed one of its entries, or because the caller
// is propagating a further-up underflow). Same redistribute/merge/collapse
// structure as rebalanceLeaf, generalized to InternalPage's sibling ops.
func (t *Tree) rebalanceInternal(anc *ancestorStack, hp *page.HeaderPage, cur *bufferpool.WritePageGuard, node *page.InternalPage) error {
	if len(anc.nodes) == 0 {
		if node.Size() == 1 {
			onlyChild := node.ChildAt(0)
			hp.SetRootPageID(onlyChild)
			anc.header.MarkDirty()

			oldRoot := cur.PageIdentity()
			cur.Drop()
			_ = t.bpm.DeletePage(oldRoot)
			anc.header.Drop()
			return nil
		}
		cur.Drop()
		anc.releaseAll()
		return nil
	}

	if node.Size() >= minSize(node.MaxSize()) {
		cur.Drop()
		anc.releaseAll()
		return nil
	}

	childPageID := cur.PageIdentity().PageID

	parentGuard := anc.pop()
	parent := page.WrapInternalPage(parentGuard.Data())
	idx := parent.ValueIndex(childPageID)

	var siblingIdx int
	var fromIsLeft bool
	if idx > 0 {
		siblingIdx, fromIsLeft = idx-1, true
	} else {
		siblingIdx, fromIsLeft = idx+1, false
	}

	siblingGuardV, err := t.bpm.FetchPageWrite(t.ident(parent.ChildAt(siblingIdx)))
	if err != nil {
		cur.Drop()
		parentGuard.Drop()
		anc.releaseAll()
		return errs.Wrap(err, "fetch internal sibling for rebalance")
	}
	siblingGuard := &siblingGuardV
	siblingInternal := page.WrapInternalPage(siblingGuard.Data())

	sepIdx := idx
	if !fromIsLeft {
		sepIdx = siblingIdx
	}
	currentSep := parent.KeyAt(sepIdx)

	if siblingInternal.Size() > minSize(siblingInternal.MaxSize()) {
		newSep := node.Redistribute(siblingInternal, currentSep, fromIsLeft)
		parent.SetKeyAt(sepIdx, newSep)

		cur.MarkDirty()
		siblingGuard.MarkDirty()
		parentGuard.MarkDirty()

		cur.Drop()
		siblingGuard.Drop()
		parentGuard.Drop()
		anc.releaseAll()
		return nil
	}

	var left *page.InternalPage
	var leftGuard, rightGuard *bufferpool.WritePageGuard
	var removeIdx int
	if fromIsLeft {
		left, leftGuard, rightGuard, removeIdx = siblingInternal, siblingGuard, cur, idx
	} else {
		left, leftGuard, rightGuard, removeIdx = node, cur, siblingGuard, siblingIdx
	}

	left.Merge(page.WrapInternalPage(rightGuard.Data()), currentSep)
	leftGuard.MarkDirty()

	discarded := rightGuard.PageIdentity()
	rightGuard.Drop()
	_ = t.bpm.DeletePage(discarded)

	parent.Remove(removeIdx)
	parentGuard.MarkDirty()
	leftGuard.Drop()

	return t.rebalanceInternal(anc, hp, parentGuard, parent)
}
