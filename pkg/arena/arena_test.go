package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalls/pkg/heap"
)

func TestAllocateRespectsAlignment(t *testing.T) {
	a := New()

	off1 := a.Allocate(3, 1)
	off2 := a.Allocate(8, 8)
	assert.Equal(t, 0, off1)
	assert.Equal(t, 0, off2%8, "slots honor the requested alignment")
	assert.GreaterOrEqual(t, off2, 3)
}

func TestGeometricGrowthKeepsEarlierSlots(t *testing.T) {
	a := New()

	slot := a.Allocate(4, 4)
	a.PutPtr(slot, heap.Ptr(0xBEEF))

	// Force growth past the initial capacity.
	for i := 0; i < 64; i++ {
		a.Allocate(1024, 8)
	}

	assert.Equal(t, heap.Ptr(0xBEEF), a.GetPtr(slot), "growth preserves earlier slot contents")
}

func TestEnumerateRootsVisitsTrackedSlots(t *testing.T) {
	a := New()

	s1 := a.Allocate(4, 4)
	s2 := a.Allocate(4, 4)
	untracked := a.Allocate(4, 4)
	a.PutPtr(s1, heap.Ptr(1))
	a.PutPtr(s2, heap.Ptr(2))
	putPtr(a.buf, untracked, heap.Ptr(3))

	var seen []heap.Ptr
	a.EnumerateRoots(func(p heap.Ptr) { seen = append(seen, p) })
	assert.Equal(t, []heap.Ptr{1, 2}, seen, "only tracked slots are enumerated, in tracking order")
}

func TestClearZeroesAndDropsTracking(t *testing.T) {
	a := New()

	slot := a.Allocate(4, 4)
	a.PutPtr(slot, heap.Ptr(7))
	require.Equal(t, 4, a.Len())

	a.Clear()
	assert.Equal(t, 0, a.Len())

	visits := 0
	a.EnumerateRoots(func(heap.Ptr) { visits++ })
	assert.Equal(t, 0, visits, "tracked references are dropped")

	reused := a.Allocate(4, 4)
	assert.Equal(t, heap.Ptr(0), a.GetPtr(reused), "memory was zeroed")
}
