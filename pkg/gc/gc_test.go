package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalls/pkg/heap"
)

// allocChain builds n objects where object i points to object i+1, and
// returns the pointers in allocation order.
func allocChain(t *testing.T, h *heap.Heap, n int) []heap.Ptr {
	t.Helper()
	ptrs := make([]heap.Ptr, n)
	for i := n - 1; i >= 0; i-- {
		p, err := h.Allocate(8, 8, 0)
		require.NoError(t, err)
		ptrs[i] = p
		if i < n-1 {
			h.SetRefs(p, []heap.Ptr{ptrs[i+1]})
		}
	}
	return ptrs
}

func TestMajorCollectReclaimsUnreachableChain(t *testing.T) {
	h := heap.New()
	c := New(h)
	root := heap.Null
	c.AddRootProvider(func() []heap.Ptr {
		if root == heap.Null {
			return nil
		}
		return []heap.Ptr{root}
	})

	ptrs := allocChain(t, h, 3)
	root = ptrs[0]

	require.True(t, c.CollectMajor(nil))
	assert.Equal(t, 3, h.Count(), "reachable chain must survive")

	root = heap.Null
	require.True(t, c.CollectMajor(nil))
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 3, c.Stats().ObjectsFreed, "dropping the root reclaims every node exactly once")
}

func TestProtectedHandleSurvivesEvenWhenWhite(t *testing.T) {
	h := heap.New()
	c := New(h)
	p, err := h.Allocate(8, 8, 0)
	require.NoError(t, err)
	c.Protect(p)

	c.CollectMajor(nil)
	_, ok := h.TryGetHeader(p)
	assert.True(t, ok, "a protected handle is not reclaimed even if unmarked")
}

func TestNoDoubleFree(t *testing.T) {
	h := heap.New()
	c := New(h)
	freedTotal := 0
	for i := 0; i < 3; i++ {
		h.Allocate(8, 8, 0)
		c.CollectMajor(nil)
		freedTotal = c.Stats().ObjectsFreed
	}
	assert.Equal(t, 3, freedTotal, "every object is destructed at most once across repeated cycles")
}

func TestStoreBarrierShadesWhiteTargetOfBlackObject(t *testing.T) {
	h := heap.New()
	c := New(h)
	container, _ := h.Allocate(8, 8, 0)
	target, _ := h.Allocate(8, 8, 0)

	hdr := h.GetHeader(container)
	hdr.Mark = heap.Black

	c.StoreBarrier(container, target)

	thdr := h.GetHeader(target)
	assert.Equal(t, heap.Gray, thdr.Mark, "storing a white value into a black object must shade it gray")
}

func TestRememberedSetEnqueueMarksCardDirty(t *testing.T) {
	h := heap.New()
	c := New(h)
	old, _ := h.Allocate(8, 8, 0)

	assert.False(t, c.CardTable().IsDirty(uint32(old)))
	c.RememberedSetEnqueue(old)
	assert.True(t, c.CardTable().IsDirty(uint32(old)), "remembered-set enqueue dirties the card")
}

func TestPromotionAfterSurvivingTwoMinorCycles(t *testing.T) {
	h := heap.New()
	c := New(h)
	p, err := h.Allocate(8, 8, 0)
	require.NoError(t, err)

	c.AddRootProvider(func() []heap.Ptr { return []heap.Ptr{p} })

	for i := 0; i < PromotionAge; i++ {
		require.True(t, c.CollectMinorStep(0, nil))
	}

	hdr := h.GetHeader(p)
	assert.Equal(t, heap.Old, hdr.Generation, "surviving PromotionAge minor cycles promotes the object")
}

func TestOldToYoungEdgeKeepsYoungAliveAcrossMinor(t *testing.T) {
	h := heap.New()
	c := New(h)
	var roots []heap.Ptr
	c.AddRootProvider(func() []heap.Ptr { return roots })

	old, err := h.Allocate(8, 8, 0)
	require.NoError(t, err)
	roots = []heap.Ptr{old}
	for i := 0; i < PromotionAge; i++ {
		require.True(t, c.CollectMinorStep(0, nil))
	}
	require.Equal(t, heap.Old, h.GetHeader(old).Generation)

	young, err := h.Allocate(8, 8, 0)
	require.NoError(t, err)
	h.AddRef(old, young)
	c.StoreBarrier(old, young)

	require.True(t, c.CollectMinorStep(0, nil))
	_, ok := h.TryGetHeader(young)
	assert.True(t, ok, "a young object reachable only through a remembered old object survives the minor cycle")
}

func TestStaleRememberedEntryDroppedOnScan(t *testing.T) {
	h := heap.New()
	c := New(h)
	var roots []heap.Ptr
	c.AddRootProvider(func() []heap.Ptr { return roots })

	old, err := h.Allocate(8, 8, 0)
	require.NoError(t, err)
	roots = []heap.Ptr{old}
	for i := 0; i < PromotionAge; i++ {
		require.True(t, c.CollectMinorStep(0, nil))
	}

	c.RememberedSetEnqueue(old)
	require.Equal(t, 1, c.RememberedCount())

	require.True(t, c.CollectMinorStep(0, nil))
	assert.Equal(t, 0, c.RememberedCount(),
		"an old object with no young referent is dropped from the remembered set on the next scan")
}

func TestMinorCycleLeavesYoungListConsistent(t *testing.T) {
	h := heap.New()
	c := New(h)
	var roots []heap.Ptr
	c.AddRootProvider(func() []heap.Ptr { return roots })

	p, _ := h.Allocate(8, 8, 0)
	roots = []heap.Ptr{p}

	require.True(t, c.CollectMinorStep(0, nil))

	seen := false
	h.EachYoung(func(q heap.Ptr, _ *heap.Header) {
		if q == p {
			seen = true
		}
	})
	assert.True(t, seen, "a young survivor below PromotionAge stays on the young list")
}
