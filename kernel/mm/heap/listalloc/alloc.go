// Package listalloc implements a first-fit free-list allocator with deferred
// coalescing. Released blocks are parked on a garbage list and only merged
// back into the address-ordered free list when a garbage collection pass runs.
package listalloc

import (
	"efiboot/kernel"
	"efiboot/kernel/mm"
)

// MinAlign is the minimum alignment of every allocation and the granularity
// of all span sizes.
const MinAlign = headerSize

var (
	errMisalignedRegion = &kernel.Error{Module: "listalloc", Message: "region address or size is not a multiple of the minimum alignment"}
	errNilRegion        = &kernel.Error{Module: "listalloc", Message: "region starts at the null address"}
	errBadAlign         = &kernel.Error{Module: "listalloc", Message: "alignment is not a power of two"}
	errAccounting       = &kernel.Error{Module: "listalloc", Message: "byte accounting is inconsistent"}
	errFreeListOrder    = &kernel.Error{Module: "listalloc", Message: "free list is not strictly address ordered"}
)

// Config tunes the allocator.
type Config struct {
	// GarbageLimit is the garbage list length that triggers an automatic
	// collection at the end of a release or an allocation.
	GarbageLimit int

	// DebugChecks enables full list traversals after every public
	// operation. The O(1) byte accounting check always runs.
	DebugChecks bool
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{GarbageLimit: 1024, DebugChecks: true}
}

// Stats is a snapshot of the allocator's byte and span counters.
type Stats struct {
	TotalBytes     uintptr
	AllocatedBytes uintptr
	FreeBytes      uintptr
	GarbageBytes   uintptr
	FreeSpans      int
	GarbageSpans   int
}

// Region describes a contiguous byte range.
type Region struct {
	Address uintptr
	Size    uintptr
}

// Allocator manages the memory regions handed to it via Provide. It is not
// safe for concurrent use; callers serialize access externally.
type Allocator struct {
	mem mm.Memory
	cfg Config

	freeList    SpanList
	garbageList SpanList

	totalBytes     uintptr
	allocatedBytes uintptr
	freeBytes      uintptr
	garbageBytes   uintptr
}

// New returns an empty allocator whose span headers are accessed through mem.
func New(mem mm.Memory, cfg Config) *Allocator {
	if cfg.GarbageLimit <= 0 {
		cfg.GarbageLimit = DefaultConfig().GarbageLimit
	}
	return &Allocator{mem: mem, cfg: cfg}
}

// Provide donates the region [addr, addr+size) to the allocator. The region
// must be MinAlign aligned and must not overlap any region provided before.
// The region is accounted as allocated and then released, so it becomes
// available after the next collection pass.
func (a *Allocator) Provide(addr, size uintptr) {
	if size == 0 {
		return
	}
	if addr == 0 {
		panic(errNilRegion)
	}
	if addr%MinAlign != 0 || size%MinAlign != 0 {
		panic(errMisalignedRegion)
	}

	for size > 0 {
		chunk := size
		if chunk > MaxSpanSize {
			chunk = MaxSpanSize
		}

		a.totalBytes += chunk
		a.allocatedBytes += chunk
		a.Release(addr, chunk)

		addr += chunk
		size -= chunk
	}
}

// Allocate reserves size bytes aligned to align and returns the block address.
// The size is rounded up to MinAlign and align is raised to at least MinAlign.
// If no span can satisfy the request even after a collection pass, Allocate
// returns an *mm.ExhaustedError carrying the original request.
func (a *Allocator) Allocate(size, align uintptr) (uintptr, error) {
	if !mm.IsPowerOfTwo(align) {
		panic(errBadAlign)
	}

	request := mm.Layout{Size: size, Align: align}
	if size > MaxSpanSize {
		return 0, &mm.ExhaustedError{Request: request}
	}

	size = mm.AlignUp(size, MinAlign)
	if size == 0 {
		size = MinAlign
	}
	if align < MinAlign {
		align = MinAlign
	}

	if !a.searchFreeList(size, align) {
		a.GC()
		if !a.searchFreeList(size, align) {
			a.collectAtLimit()
			return 0, &mm.ExhaustedError{Request: request}
		}
	}

	span := a.freeList.Pop()
	a.freeBytes -= span.Size()

	start := mm.AlignUp(span.Address(), align)
	end := start + size

	if end < span.Limit() {
		rest := span.splitAt(end)
		a.freeList.Push(rest)
		a.freeBytes += rest.Size()
	}

	if start > span.Address() {
		block := span.splitAt(start)
		a.freeList.Push(span)
		a.freeBytes += span.Size()
		span = block
	}

	a.allocatedBytes += span.Size()
	a.collectAtLimit()
	return span.Address(), nil
}

// searchFreeList moves spans that cannot satisfy the request from the head of
// the free list to the garbage list. It returns true if the head of the free
// list can hold size bytes at the requested alignment.
func (a *Allocator) searchFreeList(size, align uintptr) bool {
	for !a.freeList.Empty() {
		span := a.freeList.First()
		start := mm.AlignUp(span.Address(), align)
		if start >= span.Address() && start+size >= start && start+size <= span.Limit() {
			return true
		}

		span = a.freeList.Pop()
		a.freeBytes -= span.Size()
		a.garbageList.Push(span)
		a.garbageBytes += span.Size()
	}

	return false
}

// Release returns the block [addr, addr+size) to the allocator. The size is
// rounded up to MinAlign exactly like Allocate does, so callers pass the same
// size they requested. The block is parked on the garbage list; once the
// garbage list reaches the configured limit a collection pass runs.
func (a *Allocator) Release(addr, size uintptr) {
	if addr == 0 {
		panic(errNilRegion)
	}
	if addr%MinAlign != 0 {
		panic(errMisalignedRegion)
	}

	size = mm.AlignUp(size, MinAlign)
	if size == 0 {
		size = MinAlign
	}
	if size > a.allocatedBytes {
		panic(errAccounting)
	}

	a.garbageList.Push(newSpan(a.mem, addr, size))
	a.allocatedBytes -= size
	a.garbageBytes += size
	a.collectAtLimit()
}

// collectAtLimit runs a collection pass once the garbage list has reached the
// configured limit. Spans parked by a failed free list scan count as well.
func (a *Allocator) collectAtLimit() {
	if a.garbageList.Len() >= a.cfg.GarbageLimit {
		a.GC()
		return
	}
	a.check()
}

// GC sorts the garbage list and merges it into the free list, coalescing
// every pair of address-adjacent spans. Overlapping spans are fatal.
func (a *Allocator) GC() {
	garbage := a.garbageList.Take()
	garbage.Sort()

	a.freeList = mergeSpanLists(a.freeList.Take(), garbage)
	a.freeBytes += a.garbageBytes
	a.garbageBytes = 0
	a.check()
}

// Stats returns the current counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		TotalBytes:     a.totalBytes,
		AllocatedBytes: a.allocatedBytes,
		FreeBytes:      a.freeBytes,
		GarbageBytes:   a.garbageBytes,
		FreeSpans:      a.freeList.Len(),
		GarbageSpans:   a.garbageList.Len(),
	}
}

// FreeRegions returns the spans on the free list in list order.
func (a *Allocator) FreeRegions() []Region {
	return regionsOf(&a.freeList)
}

// GarbageRegions returns the spans on the garbage list in list order.
func (a *Allocator) GarbageRegions() []Region {
	return regionsOf(&a.garbageList)
}

func regionsOf(l *SpanList) []Region {
	out := make([]Region, 0, l.Len())
	l.Each(func(s Span) bool {
		out = append(out, Region{Address: s.Address(), Size: s.Size()})
		return true
	})
	return out
}

// check enforces the accounting equation and, when debug checks are enabled,
// runs a full consistency pass over both lists.
func (a *Allocator) check() {
	if a.totalBytes != a.allocatedBytes+a.freeBytes+a.garbageBytes {
		panic(errAccounting)
	}

	if a.cfg.DebugChecks {
		a.CheckInvariants()
	}
}

// CheckInvariants traverses both lists and panics if any structural invariant
// is violated: the lists must be acyclic with matching cached lengths, the
// free list must be strictly address ordered with no two adjacent spans, and
// the per-list byte counters must match the span sizes.
func (a *Allocator) CheckInvariants() {
	if a.totalBytes != a.allocatedBytes+a.freeBytes+a.garbageBytes {
		panic(errAccounting)
	}

	a.freeList.checkLinks()
	a.garbageList.checkLinks()

	var (
		freeBytes    uintptr
		garbageBytes uintptr
		prevLimit    uintptr
	)

	a.freeList.Each(func(s Span) bool {
		if prevLimit != 0 && prevLimit >= s.Address() {
			panic(errFreeListOrder)
		}
		prevLimit = s.Limit()
		freeBytes += s.Size()
		return true
	})

	a.garbageList.Each(func(s Span) bool {
		garbageBytes += s.Size()
		return true
	})

	if freeBytes != a.freeBytes || garbageBytes != a.garbageBytes {
		panic(errAccounting)
	}
}
