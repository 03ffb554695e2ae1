package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darleet/coredb/internal/common"
)

// mustNewPage allocates a page and unpins it immediately, returning its
// identity so a test can fetch it fresh through whichever guard flavor it is
// exercising.
func mustNewPage(t *testing.T, m *Manager) common.PageIdentity {
	t.Helper()
	ident, _, err := m.NewPage(0)
	require.NoError(t, err)
	require.NoError(t, m.Unpin(ident, false))
	return ident
}

func TestBasicPageGuardDropIsIdempotent(t *testing.T) {
	m := newTestManager(t, 4, 2)

	g, err := m.FetchPageBasic(mustNewPage(t, m))
	require.NoError(t, err)

	g.Drop()
	g.Drop() // must not double-unpin or panic

	// The frame is now unpinned; deleting it must succeed.
	assert.NoError(t, m.DeletePage(g.PageIdentity()))
}

func TestReadPageGuardDropReleasesLatchBeforeUnpin(t *testing.T) {
	m := newTestManager(t, 4, 2)
	ident := mustNewPage(t, m)

	g, err := m.FetchPageRead(ident)
	require.NoError(t, err)

	g.Drop()

	// An exclusive latch can only be taken once every reader has released
	// its RLock; this call would block forever on this same goroutine if
	// Drop had not actually released it.
	wg, err := m.FetchPageWrite(ident)
	require.NoError(t, err)
	wg.Drop()
}

func TestWritePageGuardMarkDirtyPersistsOnDrop(t *testing.T) {
	m := newTestManager(t, 4, 2)
	ident := mustNewPage(t, m)

	g, err := m.FetchPageWrite(ident)
	require.NoError(t, err)
	g.Data()[0] = 0x42
	g.MarkDirty()
	g.Drop()

	require.NoError(t, m.FlushPage(ident))

	raw := make([]byte, 4096)
	require.NoError(t, m.disk.ReadPage(ident, raw))
	assert.Equal(t, byte(0x42), raw[0])
}

func TestNewPageGuardedWriteReturnsAlreadyLatchedPage(t *testing.T) {
	m := newTestManager(t, 4, 2)

	g, err := m.NewPageGuardedWrite(0)
	require.NoError(t, err)
	g.Data()[0] = 7
	g.MarkDirty()
	g.Drop()

	fetched, err := m.FetchPageBasic(g.PageIdentity())
	require.NoError(t, err)
	assert.Equal(t, byte(7), fetched.Data()[0])
	fetched.Drop()
}
