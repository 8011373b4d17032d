package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateReturnsDistinctPointers(t *testing.T) {
	h := New()
	a, err := h.Allocate(16, 8, 1)
	require.NoError(t, err)
	b, err := h.Allocate(16, 8, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, Null, a)
}

func TestGetHeaderRecoversAllocation(t *testing.T) {
	h := New()
	p, err := h.Allocate(24, 8, 7)
	require.NoError(t, err)

	hdr := h.GetHeader(p)
	require.NotNil(t, hdr)
	assert.Equal(t, int32(7), hdr.TypeId)
	assert.Equal(t, uint32(24), hdr.Size)
	assert.Equal(t, Young, hdr.Generation)
	assert.Equal(t, White, hdr.Mark)
}

func TestAllObjectsListEnumeratesEveryAllocation(t *testing.T) {
	h := New()
	var ptrs []Ptr
	for i := 0; i < 5; i++ {
		p, err := h.Allocate(8, 8, 0)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}

	seen := map[Ptr]bool{}
	h.Each(func(p Ptr, hdr *Header) {
		seen[p] = true
	})
	assert.Len(t, seen, 5)
	for _, p := range ptrs {
		assert.True(t, seen[p])
	}
}

func TestYoungListIsSubsetOfAllObjects(t *testing.T) {
	h := New()
	p, _ := h.Allocate(8, 8, 0)

	youngSeen := false
	h.EachYoung(func(q Ptr, hdr *Header) {
		if q == p {
			youngSeen = true
		}
	})
	assert.True(t, youngSeen)
}

func TestDataResolvesUserBytes(t *testing.T) {
	h := New()
	p, err := h.Allocate(16, 8, 0)
	require.NoError(t, err)

	data := h.Data(p)
	require.Len(t, data, 16)
	data[0] = 0xAB
	assert.Equal(t, byte(0xAB), h.Data(p)[0])

	assert.Nil(t, h.Data(Ptr(12345)), "an unknown pointer resolves to no data")
}

func TestFreeRemovesFromAllObjects(t *testing.T) {
	h := New()
	p, _ := h.Allocate(8, 8, 0)
	h.Free(p)

	_, ok := h.TryGetHeader(p)
	assert.False(t, ok)

	count := 0
	h.Each(func(Ptr, *Header) { count++ })
	assert.Equal(t, 0, count)
}

func TestAllocationHookFires(t *testing.T) {
	h := New()
	calls := 0
	h.SetAllocationHook(func(Ptr, int) { calls++ })
	h.Allocate(8, 8, 0)
	h.Allocate(8, 8, 0)
	assert.Equal(t, 2, calls)
}

func TestFreedSlotIsReused(t *testing.T) {
	h := New()
	p1, _ := h.Allocate(64, 8, 0)
	h.Free(p1)
	committedBefore := h.Committed()
	h.Allocate(64, 8, 0)
	assert.Equal(t, committedBefore, h.Committed(), "reusing a freed slot should not grow committed bytes")
}

func TestReservedSizeMatchesSpec(t *testing.T) {
	h := New()
	assert.Equal(t, ReserveSize, h.Reserved())
	assert.Equal(t, 2<<30, ReserveSize)
}
