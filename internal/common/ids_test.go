package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageIdentityMarshalRoundTrips(t *testing.T) {
	want := PageIdentity{FileID: 7, PageID: 12345}

	data, err := want.MarshalBinary()
	require.NoError(t, err)

	var got PageIdentity
	require.NoError(t, got.UnmarshalBinary(data))

	assert.Equal(t, want, got)
}

func TestRecordIDPageIdentityDropsSlotNum(t *testing.T) {
	r := RecordID{FileID: 1, PageID: 2, SlotNum: 3}
	assert.Equal(t, PageIdentity{FileID: 1, PageID: 2}, r.PageIdentity())
}
