// Package buddy implements a binary buddy allocator backed by a per-unit
// bitmap for small blocks and a summary tree for large ones.
//
// Every tree node stores a bitmask of the ranks for which its subtree holds
// at least one free block. A node whose value is 0 is fully allocated and a
// node whose value equals exactly its own rank bit is one whole free block;
// in both cases the contents of its children (or its bitmap segment) are
// stale and are rebuilt on demand. Nodes on the path from the root to the
// cached pivot do not hold their own summary: each one stores the summary of
// everything outside the subtree of its child on the path. Two whole buddies
// split by the path only coalesce once the pivot climbs past them, so
// tree[pivot] | tree[pivot/2] lists real free blocks but may miss the
// larger block they form together.
package buddy

import (
	"efiboot/kernel"
	"efiboot/kernel/mm"
	"math/bits"
)

// MaxRank is the largest rank a request may carry.
const MaxRank = 63

var (
	errBadRank         = &kernel.Error{Module: "buddy", Message: "block rank out of range"}
	errMisalignedBlock = &kernel.Error{Module: "buddy", Message: "block address is not aligned to its rank"}
	errOutOfRange      = &kernel.Error{Module: "buddy", Message: "block extends past the managed range"}
	errDoubleFree      = &kernel.Error{Module: "buddy", Message: "block released while already free"}
	errCorruptTree     = &kernel.Error{Module: "buddy", Message: "summary tree is inconsistent"}
	errCorruptBitmap   = &kernel.Error{Module: "buddy", Message: "bitmap segment has no block of the summarized rank"}
	errShortBuffer     = &kernel.Error{Module: "buddy", Message: "bookkeeping buffer is too small for the managed range"}
	errLimitTooLarge   = &kernel.Error{Module: "buddy", Message: "managed range exceeds the largest representable rank"}
	errAccounting      = &kernel.Error{Module: "buddy", Message: "free unit count does not match the tree"}
)

// RootRank returns the rank of the tree root for a heap of limit units.
func RootRank(limit uintptr) int {
	rank := mm.CeilLog2(uint64(limit))
	if rank < bitmapRank {
		rank = bitmapRank
	}
	return rank
}

// BitmapWords returns the number of words the bitmap buffer must provide for
// a heap of limit units.
func BitmapWords(limit uintptr) int {
	return int(mm.AlignUp(limit, segmentUnits) / 64)
}

// TreeWords returns the number of words the tree buffer must provide for a
// heap of limit units.
func TreeWords(limit uintptr) int {
	return 2 << uint(RootRank(limit)-bitmapRank)
}

// Allocator hands out power-of-two blocks of units from the range
// [0, limit). A freshly created allocator has every unit allocated; callers
// make memory available with Free. The allocator is not safe for concurrent
// use.
type Allocator struct {
	limit    uintptr
	rootRank int

	// pivot is the tree index of the cached cursor and pivotRank its rank.
	pivot     uintptr
	pivotRank int

	bitmap []uint64
	tree   []uint64

	freeUnits uintptr
}

// New returns an allocator managing limit units. The bitmap and tree buffers
// must hold at least BitmapWords(limit) and TreeWords(limit) words; their
// previous contents do not matter.
func New(limit uintptr, bitmap, tree []uint64) *Allocator {
	if mm.CeilLog2(uint64(limit)) > MaxRank {
		panic(errLimitTooLarge)
	}
	if len(bitmap) < BitmapWords(limit) || len(tree) < TreeWords(limit) {
		panic(errShortBuffer)
	}

	rootRank := RootRank(limit)
	tree[0] = 0
	tree[1] = 0

	return &Allocator{
		limit:     limit,
		rootRank:  rootRank,
		pivot:     1,
		pivotRank: rootRank,
		bitmap:    bitmap,
		tree:      tree,
	}
}

// Limit returns the number of managed units.
func (a *Allocator) Limit() uintptr { return a.limit }

// RootRank returns the rank of the tree root.
func (a *Allocator) RootRank() int { return a.rootRank }

// FreeUnits returns the number of units currently free.
func (a *Allocator) FreeUnits() uintptr { return a.freeUnits }

// AllocRank allocates one block of 1<<rank units and returns its offset. If
// no free block of at least that rank exists an *mm.ExhaustedError is
// returned.
func (a *Allocator) AllocRank(rank int) (uintptr, error) {
	if rank < 0 {
		panic(errBadRank)
	}
	if rank > MaxRank {
		return 0, &mm.ExhaustedError{Request: mm.Layout{Rank: rank}}
	}

	rankBit := uint64(1) << uint(rank)
	master := a.tree[a.pivot] | a.tree[a.pivot/2]
	if rankBit > master {
		master = a.rootSummary()
		if rankBit > master {
			return 0, &mm.ExhaustedError{Request: mm.Layout{Size: 1 << uint(rank), Rank: rank}}
		}
	}

	// Smallest free rank that can satisfy the request.
	searchBit := rankBit
	for searchBit&master == 0 {
		searchBit <<= 1
	}

	a.searchUp(searchBit)
	a.searchDown(searchBit, rank)

	if a.pivotRank == rank {
		a.tree[a.pivot] = 0
		a.freeUnits -= 1 << uint(rank)
		return a.pivotAddress(), nil
	}

	if a.pivotRank != bitmapRank {
		panic(errCorruptTree)
	}

	addr := a.pivotAddress()
	seg := a.segment(addr)
	if a.tree[a.pivot] == 1<<bitmapRank {
		for i := range seg {
			seg[i] = allOnes
		}
	}

	off := allocInSegment(seg, rank)
	a.tree[a.pivot] = summarizeSegment(seg)
	a.freeUnits -= 1 << uint(rank)
	return addr + uintptr(off), nil
}

// FreeRank releases the block of 1<<rank units at addr. Releasing a block
// that is already free, fully or partially, is fatal.
func (a *Allocator) FreeRank(rank int, addr uintptr) {
	if rank < 0 || rank > a.rootRank {
		panic(errBadRank)
	}

	size := uintptr(1) << uint(rank)
	if addr&(size-1) != 0 {
		panic(errMisalignedBlock)
	}
	if addr+size > a.limit || addr+size < addr {
		panic(errOutOfRange)
	}

	a.searchAddressUp(addr, rank)
	a.searchAddressDown(addr, rank)

	if a.pivotRank == rank {
		if a.tree[a.pivot] != 0 {
			panic(errDoubleFree)
		}
		a.tree[a.pivot] = 1 << uint(rank)
		a.freeUnits += size
		return
	}

	if a.pivotRank != bitmapRank {
		panic(errCorruptTree)
	}

	seg := a.segment(addr)
	switch a.tree[a.pivot] {
	case 0:
		for i := range seg {
			seg[i] = 0
		}
	case 1 << bitmapRank:
		panic(errDoubleFree)
	}

	freeInSegment(seg, rank, addr&(segmentUnits-1))
	a.tree[a.pivot] = summarizeSegment(seg)
	a.freeUnits += size
}

// Alloc allocates units contiguous units. Requests that are not a power of
// two are served from the next rank and the unused tail is released
// immediately.
func (a *Allocator) Alloc(units uintptr) (uintptr, error) {
	return a.AllocAligned(units, 0)
}

// AllocAligned allocates units contiguous units whose offset is a multiple of
// 1<<alignRank.
func (a *Allocator) AllocAligned(units uintptr, alignRank int) (uintptr, error) {
	if units == 0 {
		units = 1
	}

	rank := mm.CeilLog2(uint64(units))
	if alignRank > rank {
		rank = alignRank
	}

	addr, err := a.AllocRank(rank)
	if err != nil {
		return 0, &mm.ExhaustedError{Request: mm.Layout{
			Size:  units,
			Align: uintptr(1) << uint(alignRank),
			Rank:  rank,
		}}
	}

	if tail := uintptr(1)<<uint(rank) - units; tail > 0 {
		a.Free(addr+units, tail)
	}
	return addr, nil
}

// Free releases units contiguous units starting at offset by splitting the
// range into maximal aligned power-of-two blocks.
func (a *Allocator) Free(offset, units uintptr) {
	for units > 0 {
		rank := a.rootRank
		if offset != 0 {
			if tz := bits.TrailingZeros64(uint64(offset)); tz < rank {
				rank = tz
			}
		}
		if l := mm.Log2(uint64(units)); l < rank {
			rank = l
		}

		a.FreeRank(rank, offset)
		offset += 1 << uint(rank)
		units -= 1 << uint(rank)
	}
}

// ResetPivot moves the cursor back to the root, restoring every node on the
// way to its own summary. It never changes what is allocated.
func (a *Allocator) ResetPivot() {
	for a.pivot > 1 {
		a.climb()
	}
}

// rootSummary returns the summary the root would hold with the pivot moved
// back to it, coalescing whole buddies along the path. The tree is left
// untouched.
func (a *Allocator) rootSummary() uint64 {
	summary := a.tree[a.pivot]
	bit := uint64(1) << uint(a.pivotRank)
	for p := a.pivot; p > 1; p /= 2 {
		if summary == bit && a.tree[p^1] == bit {
			summary = bit << 1
		} else {
			summary |= a.tree[p^1]
		}
		bit <<= 1
	}
	return summary
}

// nodeAddress returns the unit offset of the first block covered by node.
func (a *Allocator) nodeAddress(node uintptr, rank int) uintptr {
	return (node - uintptr(1)<<uint(a.rootRank-rank)) << uint(rank)
}

func (a *Allocator) pivotAddress() uintptr {
	return a.nodeAddress(a.pivot, a.pivotRank)
}

func (a *Allocator) segment(addr uintptr) []uint64 {
	i := (addr >> bitmapRank) * segmentWords
	return a.bitmap[i : i+segmentWords : i+segmentWords]
}

// climb moves the pivot to its parent and stores the parent's own summary.
// Two whole buddies coalesce into one whole parent.
func (a *Allocator) climb() {
	p := a.pivot
	bit := uint64(1) << uint(a.pivotRank)

	if a.tree[p] == bit && a.tree[p^1] == bit {
		a.tree[p/2] = bit << 1
	} else {
		a.tree[p/2] = a.tree[p] | a.tree[p^1]
	}

	a.pivot = p / 2
	a.pivotRank++
}

// descend moves the pivot to one of its children (0 left, 1 right) and turns
// the old pivot into the summary of everything outside the new one.
func (a *Allocator) descend(child uintptr) {
	p := 2*a.pivot + child
	a.tree[p/2] = a.tree[p/4] | a.tree[p^1]

	a.pivot = p
	a.pivotRank--
}

// split turns a whole pivot into two whole children of half its rank.
func (a *Allocator) split() {
	half := uint64(1) << uint(a.pivotRank-1)
	a.tree[2*a.pivot] = half
	a.tree[2*a.pivot+1] = half
}

// searchUp climbs until the pivot subtree holds a free block of searchBit.
func (a *Allocator) searchUp(searchBit uint64) {
	for a.tree[a.pivot]&searchBit == 0 {
		if a.pivot == 1 {
			panic(errCorruptTree)
		}
		a.climb()
	}
}

// searchDown descends towards a free block of searchBit until it reaches
// either the requested rank or the bitmap boundary.
func (a *Allocator) searchDown(searchBit uint64, rank int) {
	for a.pivotRank > bitmapRank && a.pivotRank > rank {
		if a.tree[a.pivot] == uint64(1)<<uint(a.pivotRank) {
			a.split()
			searchBit >>= 1
		}

		var child uintptr
		if a.tree[2*a.pivot]&searchBit == 0 {
			child = 1
		}
		a.descend(child)
	}
}

// searchAddressUp climbs until the pivot subtree contains addr and is at
// least rank high.
func (a *Allocator) searchAddressUp(addr uintptr, rank int) {
	for a.pivotRank < rank || addr>>uint(a.pivotRank) != a.pivotAddress()>>uint(a.pivotRank) {
		if a.pivot == 1 {
			panic(errCorruptTree)
		}
		a.climb()
	}
}

// searchAddressDown descends towards addr until it reaches either rank or the
// bitmap boundary. Fully allocated nodes hand zeroed children down; passing
// through a whole free node means the block is already free.
func (a *Allocator) searchAddressDown(addr uintptr, rank int) {
	for a.pivotRank > bitmapRank && a.pivotRank > rank {
		switch a.tree[a.pivot] {
		case uint64(1) << uint(a.pivotRank):
			panic(errDoubleFree)
		case 0:
			a.tree[2*a.pivot] = 0
			a.tree[2*a.pivot+1] = 0
		}

		a.descend((addr >> uint(a.pivotRank-1)) & 1)
	}
}
