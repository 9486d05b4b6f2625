package buddy

import (
	"efiboot/kernel"
	"efiboot/kernel/mm"
	"errors"
)

var (
	errBadUnit       = &kernel.Error{Module: "buddy", Message: "allocation unit is not a power of two"}
	errRegionOutside = &kernel.Error{Module: "buddy", Message: "region lies outside the managed byte range"}
)

// Heap adapts an Allocator to byte addresses. Unit offset u maps to the
// address origin + u*unit, where origin is base rounded down to the size of
// the root block. Every block is therefore aligned to its own size as an
// address, and the units between origin and base stay allocated.
type Heap struct {
	alloc     *Allocator
	origin    uintptr
	base      uintptr
	unit      uintptr
	unitShift uint
}

// NewHeap returns a heap managing [base, base+size). The end of the range is
// truncated to a whole number of units. Nothing is available until Provide
// is called.
func NewHeap(base, size, unit uintptr, bitmap, tree []uint64) *Heap {
	origin, limit := heapOrigin(base, size, unit)
	return &Heap{
		alloc:     New(limit, bitmap, tree),
		origin:    origin,
		base:      base,
		unit:      unit,
		unitShift: uint(mm.Log2(uint64(unit))),
	}
}

// HeapWords returns the bitmap and tree buffer sizes NewHeap needs for the
// range [base, base+size) split into units of unit bytes.
func HeapWords(base, size, unit uintptr) (bitmapWords, treeWords int) {
	_, limit := heapOrigin(base, size, unit)
	return BitmapWords(limit), TreeWords(limit)
}

// heapOrigin returns base rounded down to the size of the root block and the
// number of units from there to base+size. Moving the origin down can raise
// the root rank, so it repeats until both agree.
func heapOrigin(base, size, unit uintptr) (origin, limit uintptr) {
	if !mm.IsPowerOfTwo(unit) {
		panic(errBadUnit)
	}

	shift := uint(mm.Log2(uint64(unit)))
	origin = mm.AlignDown(base, unit)
	limit = (base + size - origin) >> shift
	for {
		next := mm.AlignDown(base, unit<<uint(RootRank(limit)))
		if next == origin {
			return origin, limit
		}
		origin = next
		limit = (base + size - origin) >> shift
	}
}

// Allocator returns the underlying unit allocator.
func (h *Heap) Allocator() *Allocator { return h.alloc }

// Unit returns the allocation unit in bytes.
func (h *Heap) Unit() uintptr { return h.unit }

// FreeBytes returns the number of free bytes.
func (h *Heap) FreeBytes() uintptr { return h.alloc.FreeUnits() << h.unitShift }

// CheckInvariants verifies the unit allocator.
func (h *Heap) CheckInvariants() { h.alloc.CheckInvariants() }

// Provide makes the whole units inside [addr, addr+size) available. The
// region must lie inside the managed range.
func (h *Heap) Provide(addr, size uintptr) {
	if addr < h.base || addr+size < addr || addr+size > h.origin+h.alloc.Limit()<<h.unitShift {
		panic(errRegionOutside)
	}

	start := mm.AlignUp(addr-h.origin, h.unit) >> h.unitShift
	end := mm.AlignDown(addr+size-h.origin, h.unit) >> h.unitShift
	if start < end {
		h.alloc.Free(start, end-start)
	}
}

// Allocate returns a block of at least size bytes aligned to align.
func (h *Heap) Allocate(size, align uintptr) (uintptr, error) {
	request := mm.Layout{Size: size, Align: align}
	if size > h.alloc.Limit()<<h.unitShift {
		return 0, &mm.ExhaustedError{Request: request}
	}

	alignRank := 0
	if align > h.unit {
		if !mm.IsPowerOfTwo(align) {
			return 0, &mm.ExhaustedError{Request: request}
		}
		alignRank = mm.Log2(uint64(align >> h.unitShift))

		// Past the root block only the origin itself can be that aligned.
		if rootRank := h.alloc.RootRank(); alignRank > rootRank && h.origin&(align-1) == 0 {
			alignRank = rootRank
		}
	}

	units := h.units(size)
	off, err := h.alloc.AllocAligned(units, alignRank)
	if err != nil {
		var exhausted *mm.ExhaustedError
		if errors.As(err, &exhausted) {
			request.Rank = exhausted.Request.Rank
		}
		return 0, &mm.ExhaustedError{Request: request}
	}
	return h.origin + off<<h.unitShift, nil
}

// Release returns a block obtained from Allocate with the same size.
func (h *Heap) Release(addr, size uintptr) {
	if addr < h.base {
		panic(errRegionOutside)
	}
	h.alloc.Free((addr-h.origin)>>h.unitShift, h.units(size))
}

func (h *Heap) units(size uintptr) uintptr {
	units := (size + h.unit - 1) >> h.unitShift
	if units == 0 {
		units = 1
	}
	return units
}
