package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darleet/coredb/internal/common"
)

func newInternal(t *testing.T, maxSize int) *InternalPage {
	t.Helper()
	var buf [common.PageSize]byte
	return NewInternalPage(&buf, maxSize)
}

func TestInternalPageInitRoot(t *testing.T) {
	p := newInternal(t, 8)
	p.InitRoot(1, 10, 2)

	assert.Equal(t, 2, p.Size())
	assert.Equal(t, common.PageID(1), p.ChildAt(0))
	assert.Equal(t, common.PageID(2), p.ChildAt(1))
	assert.Equal(t, Key(10), p.KeyAt(1))
}

func TestInternalPageLookupFindsContainingChild(t *testing.T) {
	p := newInternal(t, 8)
	p.InitRoot(1, 10, 2)
	p.InsertAfter(p.ValueIndex(2), 20, 3)

	assert.Equal(t, 0, p.Lookup(5))
	assert.Equal(t, 1, p.Lookup(10))
	assert.Equal(t, 1, p.Lookup(15))
	assert.Equal(t, 2, p.Lookup(20))
	assert.Equal(t, 2, p.Lookup(100))
}

func TestInternalPageValueIndex(t *testing.T) {
	p := newInternal(t, 8)
	p.InitRoot(1, 10, 2)

	assert.Equal(t, 0, p.ValueIndex(1))
	assert.Equal(t, 1, p.ValueIndex(2))
	assert.Equal(t, -1, p.ValueIndex(99))
}

func TestInternalPageInsertAfterThreadsInRightSibling(t *testing.T) {
	p := newInternal(t, 8)
	p.InitRoot(1, 10, 2)

	p.InsertAfter(p.ValueIndex(2), 20, 3)

	require.Equal(t, 3, p.Size())
	assert.Equal(t, common.PageID(3), p.ChildAt(2))
	assert.Equal(t, Key(20), p.KeyAt(2))
}

func TestInternalPageRemoveDropsChildAndPrecedingSeparator(t *testing.T) {
	p := newInternal(t, 8)
	p.InitRoot(1, 10, 2)
	p.InsertAfter(p.ValueIndex(2), 20, 3)

	p.Remove(p.ValueIndex(2))

	require.Equal(t, 2, p.Size())
	assert.Equal(t, common.PageID(1), p.ChildAt(0))
	assert.Equal(t, common.PageID(3), p.ChildAt(1))
}

func TestInternalPageSplitMovesUpperHalf(t *testing.T) {
	p := newInternal(t, 8)
	p.InitRoot(1, 10, 2)
	p.InsertAfter(p.ValueIndex(2), 20, 3)
	p.InsertAfter(p.ValueIndex(3), 30, 4)

	right := newInternal(t, 8)
	upKey := p.Split(right)

	assert.Equal(t, Key(20), upKey)
	assert.Equal(t, 2, p.Size())
	assert.Equal(t, 2, right.Size())
	assert.Equal(t, common.PageID(3), right.ChildAt(0))
	assert.Equal(t, common.PageID(4), right.ChildAt(1))
}

func TestInternalPageMergeFoldsRightOntoLeft(t *testing.T) {
	left := newInternal(t, 8)
	left.InitRoot(1, 0, 2)

	right := newInternal(t, 8)
	right.InitRoot(3, 0, 4)

	left.Merge(right, 50)

	require.Equal(t, 4, left.Size())
	assert.Equal(t, common.PageID(1), left.ChildAt(0))
	assert.Equal(t, common.PageID(2), left.ChildAt(1))
	assert.Equal(t, Key(50), left.KeyAt(2))
	assert.Equal(t, common.PageID(3), left.ChildAt(2))
	assert.Equal(t, common.PageID(4), left.ChildAt(3))
	assert.Equal(t, 0, right.Size())
}

func TestInternalPageRedistributeFromLeftSibling(t *testing.T) {
	left := newInternal(t, 8)
	left.InitRoot(1, 10, 2)
	left.InsertAfter(left.ValueIndex(2), 20, 3)

	right := newInternal(t, 8)
	right.InitRoot(4, 0, 5)

	newSep := right.Redistribute(left, 30, true)

	assert.Equal(t, Key(20), newSep)
	assert.Equal(t, 2, left.Size())
	assert.Equal(t, 3, right.Size())
	assert.Equal(t, common.PageID(3), right.ChildAt(0))
	assert.Equal(t, Key(30), right.KeyAt(1))
	assert.Equal(t, common.PageID(4), right.ChildAt(1))
}
