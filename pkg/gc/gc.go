// Package gc implements the Smalls collector: tri-color incremental
// marking plus generational (young/old) promotion over pkg/heap, with
// a card table and remembered set bridging the two. Incremental
// stepping uses explicit phase enums and resumable cursors, not
// goroutines.
//
// The bytecode interpreter that gives heap objects their physical
// layout is a separate component, so tracing does not scan raw object
// memory: the mutator records each object's outgoing references
// directly (heap.Header.Refs) as it constructs or mutates a value,
// and the collector walks that list to discover every embedded heap
// pointer.
package gc

import (
	"log/slog"
	"time"

	"smalls/pkg/heap"
)

// Phase is the major-cycle phase enum.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMarkRoots
	PhaseMarkIncremental
	PhaseSweep
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMarkRoots:
		return "mark_roots"
	case PhaseMarkIncremental:
		return "mark_incremental"
	case PhaseSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// MinorPhase is the minor-cycle sub-phase enum.
type MinorPhase int

const (
	MinorIdle MinorPhase = iota
	MinorMarkRoots
	MinorScanRemembered
	MinorTraceGray
	MinorSweepPromote
)

// PromotionAge is the number of minor collections a young object must
// survive before being promoted to the old generation.
const PromotionAge = 2

// DefaultMajorThresholdPercent triggers a major cycle once old bytes
// exceed this fraction of committed bytes.
const DefaultMajorThresholdPercent = 0.8

// RootProvider supplies one source of GC roots: the interpreter
// stack, module globals, a config arena, or the embedder handle
// table. Each call returns the heap pointers currently reachable
// from that source.
type RootProvider func() []heap.Ptr

// Stats is the collector's cumulative accounting.
type Stats struct {
	MinorCycles     int
	MajorCycles     int
	BytesFreed      uint64
	ObjectsFreed    int
	CumulativePause time.Duration
	MaxPause        time.Duration
	PhaseMicros     map[string]int64
}

// Collector is the Smalls garbage collector. One
// Collector is owned by one runtime instance.
type Collector struct {
	heap  *heap.Heap
	cards *CardTable
	log   *slog.Logger

	phase      Phase
	minorPhase MinorPhase

	gray []heap.Ptr

	remembered    map[heap.Ptr]bool
	rememberedVec []heap.Ptr

	roots     []RootProvider
	protected map[heap.Ptr]bool

	majorThresholdPercent float64

	stats Stats

	// Resumable cursor for the incremental remembered-set scan.
	rememberedCursor int
}

// New constructs a collector over h, discarding GC-cycle logs unless
// a logger is installed with SetLogger.
func New(h *heap.Heap) *Collector {
	c := &Collector{
		heap:                  h,
		cards:                 NewCardTable(),
		log:                   slog.New(slog.NewTextHandler(discardWriter{}, nil)),
		remembered:            make(map[heap.Ptr]bool),
		protected:             make(map[heap.Ptr]bool),
		majorThresholdPercent: DefaultMajorThresholdPercent,
		stats:                 Stats{PhaseMicros: make(map[string]int64)},
	}
	h.SetAllocationHook(c.OnAllocation)
	return c
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// SetLogger installs a structured logger for cycle/phase events.
func (c *Collector) SetLogger(l *slog.Logger) {
	if l != nil {
		c.log = l
	}
}

// AddRootProvider registers a source of GC roots.
func (c *Collector) AddRootProvider(p RootProvider) {
	c.roots = append(c.roots, p)
}

// Protect marks ptr as held by a non-VM-owned handle, exempting it
// from reclamation even if white at sweep time.
func (c *Collector) Protect(ptr heap.Ptr) {
	c.protected[ptr] = true
}

// Unprotect removes ptr's handle protection.
func (c *Collector) Unprotect(ptr heap.Ptr) {
	delete(c.protected, ptr)
}

func (c *Collector) shade(ptr heap.Ptr) {
	if ptr == heap.Null {
		return
	}
	hdr, ok := c.heap.TryGetHeader(ptr)
	if !ok || hdr.Mark != heap.White {
		return
	}
	hdr.Mark = heap.Gray
	c.gray = append(c.gray, ptr)
}

// shadeYoung is the minor-cycle variant: only young white objects
// are shaded.
func (c *Collector) shadeYoung(ptr heap.Ptr) {
	if ptr == heap.Null {
		return
	}
	hdr, ok := c.heap.TryGetHeader(ptr)
	if !ok || hdr.Mark != heap.White || hdr.Generation != heap.Young {
		return
	}
	hdr.Mark = heap.Gray
	c.gray = append(c.gray, ptr)
}

// StoreBarrier is the write barrier on a store into a heap object:
// if container is black and value is white, shade value gray to
// preserve the no-black-to-white invariant. An old container taking a
// young value additionally enters the remembered set.
func (c *Collector) StoreBarrier(container heap.Ptr, value heap.Ptr) {
	if value == heap.Null {
		return
	}
	hdr, ok := c.heap.TryGetHeader(container)
	if !ok {
		return
	}
	if hdr.Mark == heap.Black {
		c.shade(value)
	}
	if hdr.Generation == heap.Old {
		if vhdr, ok := c.heap.TryGetHeader(value); ok && vhdr.Generation == heap.Young {
			c.RememberedSetEnqueue(container)
		}
	}
}

// RootSlotBarrier is the write barrier on a store into a non-heap
// root (a module global or config-arena slot): during an active mark
// phase, shade the new value gray.
func (c *Collector) RootSlotBarrier(value heap.Ptr) {
	if c.phase == PhaseMarkRoots || c.phase == PhaseMarkIncremental {
		c.shade(value)
	}
}

// RememberedSetEnqueue records that oldPtr (an old-generation object)
// now references a younger object, deduplicating against the
// remembered set and marking oldPtr's card dirty.
func (c *Collector) RememberedSetEnqueue(oldPtr heap.Ptr) {
	if !c.remembered[oldPtr] {
		c.remembered[oldPtr] = true
		c.rememberedVec = append(c.rememberedVec, oldPtr)
	}
	c.cards.MarkDirty(uint32(oldPtr))
}

// traceRefs walks ptr's outgoing references and shades each one. It
// reports whether any young pointer was observed, used by the
// remembered-set scan to decide whether the source should remain
// remembered.
func (c *Collector) traceRefs(ptr heap.Ptr, youngOnly bool) bool {
	sawYoung := false
	for _, ref := range c.heap.Refs(ptr) {
		if ref == heap.Null {
			continue
		}
		if hdr, ok := c.heap.TryGetHeader(ref); ok && hdr.Generation == heap.Young {
			sawYoung = true
		}
		if youngOnly {
			c.shadeYoung(ref)
		} else {
			c.shade(ref)
		}
	}
	return sawYoung
}

// refersToYoung probes ptr's outgoing references for a young target
// without shading anything, used by the promotion sweep where mark
// state must not change.
func (c *Collector) refersToYoung(ptr heap.Ptr) bool {
	for _, ref := range c.heap.Refs(ptr) {
		if hdr, ok := c.heap.TryGetHeader(ref); ok && hdr.Generation == heap.Young {
			return true
		}
	}
	return false
}

// drainGray exhausts the gray stack, blackening every object it
// traces, honoring an optional work budget and deadline. It returns
// true when the gray stack was fully drained.
func (c *Collector) drainGray(budget int, deadline *time.Time, youngOnly bool) bool {
	work := 0
	for len(c.gray) > 0 {
		if budget > 0 && work >= budget {
			return false
		}
		if deadline != nil && time.Now().After(*deadline) {
			return false
		}
		n := len(c.gray) - 1
		ptr := c.gray[n]
		c.gray = c.gray[:n]
		c.traceRefs(ptr, youngOnly)
		if hdr, ok := c.heap.TryGetHeader(ptr); ok {
			hdr.Mark = heap.Black
		}
		work++
	}
	return true
}

func (c *Collector) enumerateRoots(youngOnly bool) {
	for _, provider := range c.roots {
		for _, ptr := range provider() {
			if youngOnly {
				c.shadeYoung(ptr)
			} else {
				c.shade(ptr)
			}
		}
	}
	for ptr := range c.protected {
		if youngOnly {
			c.shadeYoung(ptr)
		} else {
			c.shade(ptr)
		}
	}
}

// minorTriggerBytes is the young-generation volume that starts a new
// minor cycle from the allocation hook.
const minorTriggerBytes = 256 << 10

// allocationBudget bounds the incremental slice one allocation drives.
const allocationBudget = 64

// OnAllocation is the mutator's allocation hook; it may execute one
// incremental slice of GC work. A new object is allocated gray while
// any mark phase is active, so an in-progress cycle's sweep cannot
// reclaim it before the mutator has had a chance to root it.
func (c *Collector) OnAllocation(ptr heap.Ptr, size int) {
	if c.minorPhase == MinorIdle && c.heap.YoungBytes() >= minorTriggerBytes {
		c.minorPhase = MinorMarkRoots
	}
	if c.minorPhase != MinorIdle || c.phase == PhaseMarkRoots || c.phase == PhaseMarkIncremental {
		c.shade(ptr)
	}
	if c.minorPhase != MinorIdle {
		c.CollectMinorStep(allocationBudget, nil)
	}

	if c.shouldStartMajor() && c.phase == PhaseIdle {
		c.phase = PhaseMarkRoots
	}
	if c.phase != PhaseIdle {
		c.stepMajor(allocationBudget, nil)
	}
}

func (c *Collector) shouldStartMajor() bool {
	committed := c.heap.Committed()
	if committed == 0 {
		return false
	}
	return float64(c.heap.OldBytes()) > c.majorThresholdPercent*float64(committed)
}

// CollectMinorStep runs one bounded step of the minor cycle (reclaim
// only the young generation), honoring budget and an optional
// deadline, and reports whether the cycle ran to completion.
func (c *Collector) CollectMinorStep(budget int, deadline *time.Time) bool {
	start := time.Now()
	defer func() { c.recordPause(start) }()

	switch c.minorPhase {
	case MinorIdle:
		c.minorPhase = MinorMarkRoots
		fallthrough
	case MinorMarkRoots:
		c.enumerateRoots(true)
		c.minorPhase = MinorScanRemembered
		fallthrough
	case MinorScanRemembered:
		for c.rememberedCursor < len(c.rememberedVec) {
			if deadline != nil && time.Now().After(*deadline) {
				return false
			}
			old := c.rememberedVec[c.rememberedCursor]
			c.rememberedCursor++
			if _, ok := c.heap.TryGetHeader(old); !ok {
				delete(c.remembered, old)
				continue
			}
			// Trace the old object's outgoing edges, shading its young
			// referents; a stale entry with no young referent left is
			// dropped.
			if !c.traceRefs(old, true) {
				delete(c.remembered, old)
			}
		}
		compacted := c.rememberedVec[:0]
		for _, p := range c.rememberedVec {
			if c.remembered[p] {
				compacted = append(compacted, p)
			}
		}
		c.rememberedVec = compacted
		c.rememberedCursor = 0
		c.minorPhase = MinorTraceGray
		fallthrough
	case MinorTraceGray:
		if !c.drainGray(budget, deadline, true) {
			return false
		}
		c.minorPhase = MinorSweepPromote
		fallthrough
	case MinorSweepPromote:
		c.sweepYoungPromote()
		c.minorPhase = MinorIdle
		c.stats.MinorCycles++
		c.log.Debug("minor cycle complete",
			"cycles", c.stats.MinorCycles,
			"objects_freed", c.stats.ObjectsFreed,
			"remembered", len(c.remembered))
		return true
	}
	return true
}

// sweepYoungPromote walks the young list: white objects are
// unlinked from the all-objects list and freed; survivors have their age incremented; those
// reaching PromotionAge flip to old, move their bytes to OldBytes,
// dirty their card, and enter the remembered set if they still
// reference young data.
func (c *Collector) sweepYoungPromote() {
	var survivors []heap.Ptr
	var freedBytes uint64
	freedCount := 0
	dead := make(map[heap.Ptr]bool)

	c.heap.EachYoung(func(ptr heap.Ptr, hdr *heap.Header) {
		if hdr.Mark == heap.White && !c.protected[ptr] {
			freedBytes += uint64(hdr.Size)
			freedCount++
			dead[ptr] = true
			return
		}
		hdr.Mark = heap.White
		hdr.Age++
		if hdr.Age >= PromotionAge {
			hdr.Generation = heap.Old
			c.heap.AddYoungBytes(-int64(hdr.Size))
			c.heap.AddOldBytes(int64(hdr.Size))
			c.cards.MarkDirty(uint32(ptr))
			if c.refersToYoung(ptr) {
				c.RememberedSetEnqueue(ptr)
			}
		} else {
			survivors = append(survivors, ptr)
		}
	})

	var prev *heap.Header
	c.heap.Each(func(ptr heap.Ptr, hdr *heap.Header) {
		if !dead[ptr] {
			prev = hdr
			return
		}
		if prev == nil {
			c.heap.SetAllObjects(hdr.NextObject)
		} else {
			prev.NextObject = hdr.NextObject
		}
		c.heap.Free(ptr)
	})

	// Rebuild the young-objects list from the still-young survivors;
	// promoted objects leave it, consistent with "The young-objects
	// list is a subset of the all-objects list containing exactly the
	// objects whose header generation bit is 0".
	var head heap.Ptr = heap.Null
	for i := len(survivors) - 1; i >= 0; i-- {
		ptr := survivors[i]
		hdr, ok := c.heap.TryGetHeader(ptr)
		if !ok {
			continue
		}
		hdr.NextYoungObject = head
		head = ptr
	}
	c.heap.SetYoungObjects(head)

	c.stats.BytesFreed += freedBytes
	c.stats.ObjectsFreed += freedCount
}

// CollectMajor runs a full major cycle (reclaim the entire heap) to
// completion, or until deadline if given, resuming from wherever a
// prior partial call left off. It returns
// true once the cycle completes.
func (c *Collector) CollectMajor(deadline *time.Time) bool {
	if c.phase == PhaseIdle {
		c.phase = PhaseMarkRoots
	}
	return c.stepMajor(0, deadline)
}

func (c *Collector) stepMajor(budget int, deadline *time.Time) bool {
	start := time.Now()
	defer func() { c.recordPause(start) }()

	switch c.phase {
	case PhaseIdle:
		return true
	case PhaseMarkRoots:
		c.enumerateRoots(false)
		c.phase = PhaseMarkIncremental
		fallthrough
	case PhaseMarkIncremental:
		if !c.drainGray(budget, deadline, false) {
			return false
		}
		c.phase = PhaseSweep
		fallthrough
	case PhaseSweep:
		c.sweepMajor()
		c.phase = PhaseIdle
		c.stats.MajorCycles++
		c.log.Debug("major cycle complete",
			"cycles", c.stats.MajorCycles,
			"bytes_freed", c.stats.BytesFreed,
			"old_bytes", c.heap.OldBytes())
		return true
	}
	return true
}

// sweepMajor walks the all-objects list: white objects are
// destructed and freed; black objects repaint white; old-byte
// accounting and the young list are recomputed in the same
// traversal.
func (c *Collector) sweepMajor() {
	var survivorsHead heap.Ptr = heap.Null
	var youngHead heap.Ptr = heap.Null
	var survivors []heap.Ptr
	var oldBytes uint64
	var freedBytes uint64
	freedCount := 0

	c.heap.Each(func(ptr heap.Ptr, hdr *heap.Header) {
		if hdr.Mark == heap.White && !c.protected[ptr] {
			freedBytes += uint64(hdr.Size)
			freedCount++
			c.heap.Free(ptr)
			return
		}
		hdr.Mark = heap.White
		survivors = append(survivors, ptr)
		if hdr.Generation == heap.Old {
			oldBytes += uint64(hdr.Size)
		}
	})

	for i := len(survivors) - 1; i >= 0; i-- {
		ptr := survivors[i]
		hdr, ok := c.heap.TryGetHeader(ptr)
		if !ok {
			continue
		}
		hdr.NextObject = survivorsHead
		survivorsHead = ptr
		if hdr.Generation == heap.Young {
			hdr.NextYoungObject = youngHead
			youngHead = ptr
		}
	}
	c.heap.SetAllObjects(survivorsHead)
	c.heap.SetYoungObjects(youngHead)
	c.heap.SetOldBytes(oldBytes)

	c.stats.BytesFreed += freedBytes
	c.stats.ObjectsFreed += freedCount
}

func (c *Collector) recordPause(start time.Time) {
	d := time.Since(start)
	c.stats.CumulativePause += d
	if d > c.stats.MaxPause {
		c.stats.MaxPause = d
	}
	c.stats.PhaseMicros[c.phase.String()] += d.Microseconds()
}

// Stats returns a snapshot of the collector's cumulative statistics.
func (c *Collector) Stats() Stats {
	return c.stats
}

// CardTable exposes the collector's card table, e.g. for diagnostics
// dumping which cards are dirty.
func (c *Collector) CardTable() *CardTable { return c.cards }

// RememberedCount reports how many old-generation objects are
// currently in the remembered set.
func (c *Collector) RememberedCount() int { return len(c.remembered) }

// Phase reports the current major-cycle phase.
func (c *Collector) Phase() Phase { return c.phase }
