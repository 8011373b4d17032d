// Package arena implements the config arena: a bump allocator backed
// by a single contiguous buffer for long-lived module-global storage,
// with explicit tracking of the heap references embedded in it so the
// collector can scan them at every mark-roots phase.
package arena

import "smalls/pkg/heap"

const initialCapacity = 4096

// Arena is the config arena. A module's global storage
// lives in one Arena for the module's lifetime; Clear resets it as a
// single operation.
type Arena struct {
	buf    []byte
	offset int

	tracked []int // byte offsets of tracked heap.Ptr-sized slots
}

// New creates an empty arena.
func New() *Arena {
	return &Arena{}
}

func align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// Allocate returns an offset-addressed slot of size bytes aligned to
// alignment; the slot remains valid until the arena is cleared.
// Geometric growth doubles the backing buffer (from initialCapacity)
// whenever the current one is exhausted.
func (a *Arena) Allocate(size, alignment int) int {
	if alignment < 1 {
		alignment = 1
	}
	start := align(a.offset, alignment)
	end := start + size
	if end > len(a.buf) {
		newCap := cap(a.buf)
		if newCap == 0 {
			newCap = initialCapacity
		}
		for newCap < end {
			newCap *= 2
		}
		grown := make([]byte, newCap)
		copy(grown, a.buf)
		a.buf = grown
	} else if end > cap(a.buf) {
		a.buf = a.buf[:len(a.buf)]
	}
	if end > len(a.buf) {
		a.buf = a.buf[:end]
	}
	a.offset = end
	return start
}

// Bytes returns the live region of the arena's backing buffer, for
// callers that write directly into an allocated slot.
func (a *Arena) Bytes() []byte {
	return a.buf[:a.offset]
}

// TrackHeapRef records that the 4 bytes at offset hold a heap.Ptr the
// GC must scan.
func (a *Arena) TrackHeapRef(offset int) {
	a.tracked = append(a.tracked, offset)
}

// PutPtr writes a heap.Ptr at offset and tracks it in one step, the
// usual way module-initialization code stores a heap reference into
// arena-owned global storage.
func (a *Arena) PutPtr(offset int, p heap.Ptr) {
	putPtr(a.buf, offset, p)
	a.TrackHeapRef(offset)
}

// GetPtr reads the heap.Ptr stored at offset.
func (a *Arena) GetPtr(offset int) heap.Ptr {
	return getPtr(a.buf, offset)
}

func putPtr(buf []byte, offset int, p heap.Ptr) {
	buf[offset] = byte(p)
	buf[offset+1] = byte(p >> 8)
	buf[offset+2] = byte(p >> 16)
	buf[offset+3] = byte(p >> 24)
}

func getPtr(buf []byte, offset int) heap.Ptr {
	return heap.Ptr(buf[offset]) | heap.Ptr(buf[offset+1])<<8 |
		heap.Ptr(buf[offset+2])<<16 | heap.Ptr(buf[offset+3])<<24
}

// EnumerateRoots invokes visitor with every tracked heap reference
// currently stored in the arena, in tracking order. The GC calls it
// at every mark-roots phase.
func (a *Arena) EnumerateRoots(visitor func(ptr heap.Ptr)) {
	for _, off := range a.tracked {
		visitor(getPtr(a.buf, off))
	}
}

// Clear resets the arena to empty, zeroing memory and dropping
// tracked references. Destructing any data
// stored in the arena is the caller's responsibility: the arena
// itself carries no per-object metadata.
func (a *Arena) Clear() {
	for i := range a.buf {
		a.buf[i] = 0
	}
	a.offset = 0
	a.tracked = a.tracked[:0]
}

// Len reports how many bytes are currently allocated from the arena.
func (a *Arena) Len() int { return a.offset }
