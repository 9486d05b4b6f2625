package buddy

import "math/bits"

// Snapshot is a canonical copy of the allocator state. Stale nodes and stale
// bitmap segments are zeroed so two allocators holding the same free blocks
// produce equal snapshots regardless of their history.
type Snapshot struct {
	Tree   []uint64
	Bitmap []uint64
}

// Snapshot moves the pivot to the root and returns the canonical state.
func (a *Allocator) Snapshot() Snapshot {
	a.ResetPivot()

	s := Snapshot{
		Tree:   make([]uint64, TreeWords(a.limit)),
		Bitmap: make([]uint64, BitmapWords(a.limit)),
	}
	a.snapshotNode(&s, 1, a.rootRank)
	return s
}

func (a *Allocator) snapshotNode(s *Snapshot, node uintptr, rank int) {
	v := a.tree[node]
	s.Tree[node] = v
	if v == 0 || v == uint64(1)<<uint(rank) {
		return
	}

	if rank == bitmapRank {
		i := (a.nodeAddress(node, rank) >> bitmapRank) * segmentWords
		copy(s.Bitmap[i:i+segmentWords], a.segment(a.nodeAddress(node, rank)))
		return
	}

	a.snapshotNode(s, 2*node, rank-1)
	a.snapshotNode(s, 2*node+1, rank-1)
}

// CheckInvariants moves the pivot to the root and panics if any live node
// disagrees with its children or its bitmap segment, if two whole buddies
// were left uncoalesced, if a free block lies past the limit or if the free
// unit counter is off.
func (a *Allocator) CheckInvariants() {
	a.ResetPivot()

	if a.tree[0] != 0 {
		panic(errCorruptTree)
	}
	if free := a.checkNode(1, a.rootRank); free != a.freeUnits {
		panic(errAccounting)
	}
}

// checkNode validates the subtree at node and returns its free unit count.
func (a *Allocator) checkNode(node uintptr, rank int) uintptr {
	v := a.tree[node]
	whole := uint64(1) << uint(rank)

	switch {
	case v == 0:
		return 0
	case v&^(whole<<1-1) != 0:
		panic(errCorruptTree)
	case v == whole:
		if a.nodeAddress(node, rank)+uintptr(1)<<uint(rank) > a.limit {
			panic(errCorruptTree)
		}
		return uintptr(1) << uint(rank)
	}

	if rank == bitmapRank {
		seg := a.segment(a.nodeAddress(node, rank))
		if summarizeSegment(seg) != v {
			panic(errCorruptTree)
		}

		var free int
		for _, w := range seg {
			free += bits.OnesCount64(w)
		}
		return uintptr(free)
	}

	left, right := a.tree[2*node], a.tree[2*node+1]
	half := whole >> 1
	if left == half && right == half {
		panic(errCorruptTree)
	}
	if v != left|right {
		panic(errCorruptTree)
	}

	return a.checkNode(2*node, rank-1) + a.checkNode(2*node+1, rank-1)
}
