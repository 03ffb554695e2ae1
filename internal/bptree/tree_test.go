package bptree

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darleet/coredb/internal/bufferpool"
	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/diskio"
	"github.com/darleet/coredb/internal/page"
)

// newTestTree builds a tree over an in-memory afero filesystem with a small
// fanout so split/merge paths trigger with only a handful of keys, the same
// "small maxSize to exercise tree shape" approach the teacher uses in its
// own index tests.
func newTestTree(t *testing.T, poolSize, leafMax, internalMax int) *Tree {
	t.Helper()

	fs := afero.NewMemMapFs()
	disk := diskio.New(fs)
	require.NoError(t, disk.Register(0, "index.db"))

	bpm, err := bufferpool.New(poolSize, 2, disk, nil)
	require.NoError(t, err)

	tree, err := NewTree(bpm, 0, leafMax, internalMax)
	require.NoError(t, err)

	return tree
}

func rid(n int64) common.RecordID {
	return common.RecordID{PageID: common.PageID(n), SlotNum: 0}
}

func TestTreeInsertAndGetValue(t *testing.T) {
	tree := newTestTree(t, 32, 4, 4)

	for i := int64(0); i < 20; i++ {
		ok, err := tree.Insert(page.Key(i), rid(i))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := int64(0); i < 20; i++ {
		v, found, err := tree.GetValue(page.Key(i))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, rid(i), v)
	}

	_, found, err := tree.GetValue(page.Key(999))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTreeInsertDuplicateKeyRejected(t *testing.T) {
	tree := newTestTree(t, 32, 4, 4)

	ok, err := tree.Insert(page.Key(1), rid(1))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(page.Key(1), rid(2))
	require.NoError(t, err)
	assert.False(t, ok)

	v, _, err := tree.GetValue(page.Key(1))
	require.NoError(t, err)
	assert.Equal(t, rid(1), v)
}

func TestTreeSplitCascadeThenReadBack(t *testing.T) {
	tree := newTestTree(t, 64, 4, 4)

	const n = 200
	for i := int64(0); i < n; i++ {
		ok, err := tree.Insert(page.Key(i), rid(i))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := int64(0); i < n; i++ {
		v, found, err := tree.GetValue(page.Key(i))
		require.NoError(t, err)
		require.True(t, found, "key %d should be found after split cascade", i)
		assert.Equal(t, rid(i), v)
	}
}

func TestTreeDeleteWithMergeAndRootCollapse(t *testing.T) {
	tree := newTestTree(t, 64, 4, 4)

	const n = 50
	for i := int64(0); i < n; i++ {
		_, err := tree.Insert(page.Key(i), rid(i))
		require.NoError(t, err)
	}

	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Delete(page.Key(i)))
	}

	for i := int64(0); i < n; i++ {
		_, found, err := tree.GetValue(page.Key(i))
		require.NoError(t, err)
		assert.False(t, found, "key %d should be gone after delete", i)
	}
}

func TestTreeDeleteMissingKeyIsNoop(t *testing.T) {
	tree := newTestTree(t, 32, 4, 4)

	_, err := tree.Insert(page.Key(1), rid(1))
	require.NoError(t, err)

	require.NoError(t, tree.Delete(page.Key(2)))

	v, found, err := tree.GetValue(page.Key(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rid(1), v)
}

func TestTreeIteratorBeginOrdersKeysAscending(t *testing.T) {
	tree := newTestTree(t, 64, 4, 4)

	const n = 30
	for i := int64(n - 1); i >= 0; i-- {
		_, err := tree.Insert(page.Key(i), rid(i))
		require.NoError(t, err)
	}

	it, err := tree.Begin()
	require.NoError(t, err)

	var seen []int64
	for it.Valid() {
		k, err := it.Key()
		require.NoError(t, err)
		seen = append(seen, int64(k))
		require.NoError(t, it.Next())
	}

	want := make([]int64, n)
	for i := range want {
		want[i] = int64(i)
	}
	assert.Equal(t, want, seen)
}

func TestTreeIteratorBeginAtMissingKeyIsInvalid(t *testing.T) {
	tree := newTestTree(t, 32, 4, 4)

	_, err := tree.Insert(page.Key(1), rid(1))
	require.NoError(t, err)

	it, err := tree.BeginAt(page.Key(42))
	require.NoError(t, err)
	assert.False(t, it.Valid())
}
