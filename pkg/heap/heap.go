// Package heap implements the Smalls managed heap: a reserved
// 2 GiB address range committed lazily and carved up by a free-list
// allocator. Each allocation reserves room for a fixed per-object
// header and a back-pointer before the user data, but neither is
// written into the backing bytes: headers live in a side table keyed
// by the object's user pointer.
//
// Go gives no portable way to reserve-then-commit raw address space,
// so the heap over-allocates a single backing slice up to ReserveSize
// and tracks committed length.
package heap

import "fmt"

// ReserveSize is the virtual range the heap reserves at
// construction.
const ReserveSize = 2 << 30

// pageSize is the commit granularity.
const pageSize = 4096

// Ptr is a 32-bit offset into the reserved range. Zero is the null
// sentinel.
type Ptr uint32

// Null is the zero heap pointer.
const Null Ptr = 0

// MarkColor is the collector's tri-color mark state.
type MarkColor uint8

const (
	White MarkColor = iota
	Gray
	Black
)

// Generation distinguishes the young and old generations.
type Generation uint8

const (
	Young Generation = iota
	Old
)

// Header is the fixed per-object record, kept in the heap's header
// table under the object's user pointer.
type Header struct {
	// freeListNext/Prev are not used: free spans are tracked in
	// Heap.free, not through headers.
	freeListNext, freeListPrev int32

	TypeId     int32 // types.Id, stored as int32 to avoid an import cycle
	Mark       MarkColor
	Generation Generation
	Age        uint8
	Size       uint32

	NextObject      Ptr // intrusive all-objects list
	NextYoungObject Ptr // intrusive young-objects list; 0 if not young or tail

	// Refs holds the object's outgoing heap pointers. In the full
	// system these would be discovered by reading the object's raw
	// memory through the type registry's value-scanner; since the
	// bytecode interpreter that gives objects their physical layout is
	// out of scope, the mutator (or a test) records outgoing
	// references explicitly as it constructs a value, and the
	// collector's tracer (pkg/gc) walks this list instead of raw bytes.
	Refs []Ptr

	offset   int // base offset of this header within the heap's backing slice
	dataOff  int // offset of the user data region (after header+back-pointer)
	slotSize int // size of the free-list span acquired for this object
}

const headerSize = 40 // stable layout size used for padding calculations

// freeBlock is a free-list node describing one reusable span.
type freeBlock struct {
	offset int
	size   int
}

// Heap is the managed heap. A Heap is owned by one
// runtime instance and mutated only by the mutator's allocations and
// the collector's frees.
type Heap struct {
	storage   []byte
	committed int

	headers map[Ptr]*Header
	free    []freeBlock

	allObjects Ptr
	youngList  Ptr

	youngBytes uint64
	oldBytes   uint64

	onAllocate func(ptr Ptr, size int) // GC hook; may run incremental mark work
}

// New constructs a heap. The backing storage grows lazily in pageSize
// increments up to ReserveSize, mirroring "commits pages lazily"
//.
func New() *Heap {
	return &Heap{
		headers: make(map[Ptr]*Header, 1024),
	}
}

// SetAllocationHook installs the callback invoked at the end of every
// Allocate call. The new object's pointer is passed so the collector
// can shade it while a mark phase is active.
func (h *Heap) SetAllocationHook(fn func(ptr Ptr, size int)) {
	h.onAllocate = fn
}

func align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// commit grows the backing storage so that at least upto bytes are
// addressable, in page-sized increments, never exceeding ReserveSize.
func (h *Heap) commit(upto int) error {
	if upto <= h.committed {
		return nil
	}
	if upto > ReserveSize {
		return fmt.Errorf("heap: allocation would exceed reserved %d bytes", ReserveSize)
	}
	newCommitted := align(upto, pageSize)
	if newCommitted > ReserveSize {
		newCommitted = ReserveSize
	}
	if newCommitted > cap(h.storage) {
		grown := make([]byte, newCommitted)
		copy(grown, h.storage)
		h.storage = grown
	} else {
		h.storage = h.storage[:newCommitted]
	}
	h.committed = newCommitted
	return nil
}

// Allocate reserves size bytes aligned to alignment and returns the
// heap pointer to the object's user data: pad for
// header+back-pointer+alignment, acquire a free-list slot (committing
// pages as needed), construct the header, link the object onto the
// all-objects and young-objects lists, and notify the GC hook.
func (h *Heap) Allocate(size int, alignment int, typeId int32) (Ptr, error) {
	if alignment < 1 {
		alignment = 1
	}
	backPtrSize := 8
	padded := headerSize + backPtrSize + size + (alignment - 1)

	offset, err := h.acquireFreeSlot(padded)
	if err != nil {
		return Null, err
	}

	hdr := &Header{
		TypeId:     typeId,
		Mark:       White,
		Generation: Young,
		Age:        0,
		Size:       uint32(size),
		offset:     offset,
		slotSize:   padded,
	}

	dataOff := align(offset+headerSize+backPtrSize, alignment)
	hdr.dataOff = dataOff

	hdr.NextObject = h.allObjects
	h.allObjects = Ptr(dataOff)
	hdr.NextYoungObject = h.youngList
	h.youngList = Ptr(dataOff)

	h.headers[Ptr(dataOff)] = hdr
	h.youngBytes += uint64(size)

	if h.onAllocate != nil {
		h.onAllocate(Ptr(dataOff), size)
	}

	return Ptr(dataOff), nil
}

// acquireFreeSlot finds or creates a free span of at least size
// bytes, committing pages as needed, and returns its base offset.
func (h *Heap) acquireFreeSlot(size int) (int, error) {
	for i, b := range h.free {
		if b.size >= size {
			h.free = append(h.free[:i], h.free[i+1:]...)
			if b.size > size {
				h.free = append(h.free, freeBlock{offset: b.offset + size, size: b.size - size})
			}
			return b.offset, nil
		}
	}
	offset := h.committed
	if err := h.commit(offset + size); err != nil {
		return 0, err
	}
	return offset, nil
}

// Free returns an object's slot to the free list. Callers are the
// collector's sweep phases.
func (h *Heap) Free(ptr Ptr) {
	hdr, ok := h.headers[ptr]
	if !ok {
		return
	}
	delete(h.headers, ptr)
	h.free = append(h.free, freeBlock{offset: hdr.offset, size: hdr.slotSize})
	if hdr.Generation == Young {
		h.youngBytes -= uint64(hdr.Size)
	} else {
		h.oldBytes -= uint64(hdr.Size)
	}
}

// Data resolves ptr to the object's user-data bytes within the
// backing storage.
func (h *Heap) Data(ptr Ptr) []byte {
	hdr, ok := h.headers[ptr]
	if !ok {
		return nil
	}
	return h.storage[hdr.dataOff : hdr.dataOff+int(hdr.Size)]
}

// GetHeader recovers an object's header from its user pointer by a
// header-table lookup.
func (h *Heap) GetHeader(ptr Ptr) *Header {
	return h.headers[ptr]
}

// TryGetHeader validates ptr before dereferencing it, tolerating
// stale or invalid raw pointers encountered while tracing value
// registers.
func (h *Heap) TryGetHeader(ptr Ptr) (*Header, bool) {
	hdr, ok := h.headers[ptr]
	return hdr, ok
}

// SetRefs records ptr's outgoing heap references, replacing any
// previous set. Called by the mutator when it constructs or mutates a
// heap value.
func (h *Heap) SetRefs(ptr Ptr, refs []Ptr) {
	if hdr, ok := h.headers[ptr]; ok {
		hdr.Refs = refs
	}
}

// AddRef appends a single outgoing reference to ptr's ref list,
// matching a field/element store that introduces a new edge in the
// object graph.
func (h *Heap) AddRef(ptr Ptr, ref Ptr) {
	if hdr, ok := h.headers[ptr]; ok {
		hdr.Refs = append(hdr.Refs, ref)
	}
}

// Refs returns ptr's current outgoing heap references.
func (h *Heap) Refs(ptr Ptr) []Ptr {
	if hdr, ok := h.headers[ptr]; ok {
		return hdr.Refs
	}
	return nil
}

// AllObjects returns the head of the intrusive all-objects list.
func (h *Heap) AllObjects() Ptr { return h.allObjects }

// SetAllObjects rebuilds the all-objects list head, used by the
// collector's major sweep.
func (h *Heap) SetAllObjects(p Ptr) { h.allObjects = p }

// YoungObjects returns the head of the intrusive young-objects list.
func (h *Heap) YoungObjects() Ptr { return h.youngList }

// SetYoungObjects rebuilds the young-objects list head.
func (h *Heap) SetYoungObjects(p Ptr) { h.youngList = p }

// YoungBytes and OldBytes report the live-byte accounting the
// collector uses to decide when to start a major cycle.
func (h *Heap) YoungBytes() uint64 { return h.youngBytes }
func (h *Heap) OldBytes() uint64   { return h.oldBytes }

func (h *Heap) AddYoungBytes(delta int64) {
	if delta < 0 {
		h.youngBytes -= uint64(-delta)
	} else {
		h.youngBytes += uint64(delta)
	}
}

// SetOldBytes overwrites the old-generation byte count, used by the
// collector's major sweep which recomputes it from survivors.
func (h *Heap) SetOldBytes(n uint64) { h.oldBytes = n }

func (h *Heap) AddOldBytes(delta int64) {
	if delta < 0 {
		h.oldBytes -= uint64(-delta)
	} else {
		h.oldBytes += uint64(delta)
	}
}

// Reserved reports the virtual range the heap pretends to reserve.
func (h *Heap) Reserved() int { return ReserveSize }

// Committed reports how many bytes have actually been committed.
func (h *Heap) Committed() int { return h.committed }

// Each calls fn for every live object's pointer, in all-objects-list
// order, the order the collector's sweep phases walk in.
func (h *Heap) Each(fn func(Ptr, *Header)) {
	for p := h.allObjects; p != Null; {
		hdr, ok := h.headers[p]
		if !ok {
			return
		}
		next := hdr.NextObject
		fn(p, hdr)
		p = next
	}
}

// EachYoung calls fn for every object on the young-objects list.
func (h *Heap) EachYoung(fn func(Ptr, *Header)) {
	for p := h.youngList; p != Null; {
		hdr, ok := h.headers[p]
		if !ok {
			return
		}
		next := hdr.NextYoungObject
		fn(p, hdr)
		p = next
	}
}

// Count returns the number of currently-live objects.
func (h *Heap) Count() int {
	return len(h.headers)
}
