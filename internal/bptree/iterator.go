package bptree

import (
	"github.com/darleet/coredb/internal/bufferpool"
	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/errs"
	"github.com/darleet/coredb/internal/page"
)

// Iterator is a read-latched cursor over a leaf chain. A zero-value
// Iterator (created by reaching the end of the tree) is the END sentinel:
// Valid reports false, and Key/Value/Next are errors.
type Iterator struct {
	tree  *Tree
	guard *bufferpool.ReadPageGuard
	leaf  *page.LeafPage
	index int
}

// Valid reports whether the iterator is positioned at a real entry.
func (it *Iterator) Valid() bool {
	return it != nil && it.guard != nil
}

func (it *Iterator) Key() (page.Key, error) {
	if !it.Valid() {
		return 0, errs.ErrIteratorEnd
	}
	return it.leaf.KeyAt(it.index), nil
}

func (it *Iterator) Value() (common.RecordID, error) {
	if !it.Valid() {
		return common.RecordID{}, errs.ErrIteratorEnd
	}
	return it.leaf.ValueAt(it.index), nil
}

// Next advances the cursor, following the leaf chain hand-over-hand: the
// next leaf's shared latch is acquired before the current one is released,
// per spec.md §4.3's range-iteration contract.
func (it *Iterator) Next() error {
	if !it.Valid() {
		return errs.ErrIteratorEnd
	}

	it.index++
	if it.index < it.leaf.Size() {
		return nil
	}

	nextPageID := it.leaf.NextPageID()
	if nextPageID == common.InvalidPageID {
		it.guard.Drop()
		it.guard = nil
		it.leaf = nil
		return nil
	}

	nextGuard, err := it.tree.bpm.FetchPageRead(it.tree.ident(nextPageID))
	if err != nil {
		return errs.Wrap(err, "fetch next leaf during iteration")
	}
	it.guard.Drop()

	it.guard = &nextGuard
	it.leaf = page.WrapLeafPage(nextGuard.Data())
	it.index = 0

	return nil
}

// Begin positions an iterator at the leftmost entry of the tree.
func (t *Tree) Begin() (*Iterator, error) {
	hg, err := t.bpm.FetchPageRead(t.headerIdent())
	if err != nil {
		return nil, errs.Wrap(err, "fetch b+ tree header")
	}
	hp := page.WrapHeaderPage(hg.Data())
	root := hp.RootPageID()
	if root == common.InvalidPageID {
		hg.Drop()
		return &Iterator{}, nil
	}

	guard, err := t.bpm.FetchPageRead(t.ident(root))
	if err != nil {
		hg.Drop()
		return nil, errs.Wrap(err, "fetch b+ tree root")
	}
	hg.Drop()

	for page.GetNodeType(guard.Data()) == page.NodeTypeInternal {
		internal := page.WrapInternalPage(guard.Data())
		child := internal.ChildAt(0)

		next, err := t.bpm.FetchPageRead(t.ident(child))
		if err != nil {
			guard.Drop()
			return nil, errs.Wrap(err, "fetch leftmost child during begin")
		}
		guard.Drop()
		guard = next
	}

	leaf := page.WrapLeafPage(guard.Data())
	if leaf.Size() == 0 {
		guard.Drop()
		return &Iterator{}, nil
	}

	return &Iterator{tree: t, guard: &guard, leaf: leaf, index: 0}, nil
}

// BeginAt positions an iterator at the first entry with key == target, or
// returns the END sentinel if no such entry exists.
func (t *Tree) BeginAt(target page.Key) (*Iterator, error) {
	hg, err := t.bpm.FetchPageRead(t.headerIdent())
	if err != nil {
		return nil, errs.Wrap(err, "fetch b+ tree header")
	}
	hp := page.WrapHeaderPage(hg.Data())
	root := hp.RootPageID()
	if root == common.InvalidPageID {
		hg.Drop()
		return &Iterator{}, nil
	}

	guard, err := t.bpm.FetchPageRead(t.ident(root))
	if err != nil {
		hg.Drop()
		return nil, errs.Wrap(err, "fetch b+ tree root")
	}
	hg.Drop()

	for page.GetNodeType(guard.Data()) == page.NodeTypeInternal {
		internal := page.WrapInternalPage(guard.Data())
		child := internal.ChildAt(internal.Lookup(target))

		next, err := t.bpm.FetchPageRead(t.ident(child))
		if err != nil {
			guard.Drop()
			return nil, errs.Wrap(err, "fetch child during begin-at descent")
		}
		guard.Drop()
		guard = next
	}

	leaf := page.WrapLeafPage(guard.Data())
	if _, found := leaf.GetValue(target); !found {
		guard.Drop()
		return &Iterator{}, nil
	}

	idx := leaf.LowerBound(target)
	return &Iterator{tree: t, guard: &guard, leaf: leaf, index: idx}, nil
}
