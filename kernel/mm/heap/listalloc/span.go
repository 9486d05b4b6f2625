package listalloc

import (
	"efiboot/kernel"
	"efiboot/kernel/mm"
)

const (
	// headerSize is the size of the span header stored at the start of
	// every free range: a size word followed by a next word.
	headerSize = 2 * mm.PointerSize

	// sizeReservedBit must never be set in a span size.
	sizeReservedBit = uintptr(1) << 63

	// MaxSpanSize is the largest size a single span may describe.
	MaxSpanSize = sizeReservedBit - headerSize
)

var (
	errSpanTooLarge     = &kernel.Error{Module: "listalloc", Message: "span size collides with the reserved size bit"}
	errSplitOutOfRange  = &kernel.Error{Module: "listalloc", Message: "span split point leaves a fragment smaller than a header"}
	errSpanCycle        = &kernel.Error{Module: "listalloc", Message: "span list contains a cycle"}
	errLengthMismatch   = &kernel.Error{Module: "listalloc", Message: "span list length does not match its traversal count"}
	errOverlappingSpans = &kernel.Error{Module: "listalloc", Message: "span list contains overlapping spans"}
	errPopEmpty         = &kernel.Error{Module: "listalloc", Message: "pop from an empty span list"}
	errSplitOffRange    = &kernel.Error{Module: "listalloc", Message: "span list split index out of range"}
)

// Span is a handle to a free byte range. Its header (size, next) lives in the
// first headerSize bytes of the range itself; the handle is the range's start
// address. The zero Span is the list terminator.
type Span struct {
	mem  mm.Memory
	addr uintptr
}

// newSpan writes a fresh header at addr and returns its handle.
func newSpan(mem mm.Memory, addr, size uintptr) Span {
	s := Span{mem: mem, addr: addr}
	s.setSize(size)
	s.setNext(Span{})
	return s
}

// IsNil returns true for the list terminator.
func (s Span) IsNil() bool { return s.addr == 0 }

// Address returns the first byte covered by the span.
func (s Span) Address() uintptr { return s.addr }

// Size returns the number of bytes covered by the span.
func (s Span) Size() uintptr { return uintptr(s.mem.Uint64(s.addr)) }

// Limit returns the first byte past the span.
func (s Span) Limit() uintptr { return s.addr + s.Size() }

// Overlaps returns true if both spans cover at least one common byte.
func (s Span) Overlaps(other Span) bool {
	return !(s.Limit() <= other.addr || other.Limit() <= s.addr)
}

// IsAdjacent returns true if next starts exactly where s ends.
func (s Span) IsAdjacent(next Span) bool {
	return s.Limit() == next.addr
}

func (s Span) setSize(size uintptr) {
	if size&sizeReservedBit != 0 {
		panic(errSpanTooLarge)
	}
	s.mem.SetUint64(s.addr, uint64(size))
}

func (s Span) next() Span {
	return Span{mem: s.mem, addr: uintptr(s.mem.Uint64(s.addr + 8))}
}

func (s Span) setNext(next Span) {
	s.mem.SetUint64(s.addr+8, uint64(next.addr))
}

// splitAt shrinks s to end at addr and returns a new span covering
// [addr, old limit). Both halves must be able to hold a header.
func (s Span) splitAt(addr uintptr) Span {
	if addr < s.addr+headerSize || addr+headerSize > s.Limit() {
		panic(errSplitOutOfRange)
	}

	back := newSpan(s.mem, addr, s.Limit()-addr)
	s.setSize(addr - s.addr)
	return back
}

// SpanList is a singly linked chain of spans with a cached length. A span is
// reachable from at most one list at a time.
type SpanList struct {
	first  Span
	length int
}

// Len returns the cached number of spans in the list.
func (l *SpanList) Len() int { return l.length }

// Empty returns true if the list has no spans.
func (l *SpanList) Empty() bool { return l.first.IsNil() }

// First returns the head of the list or the nil Span.
func (l *SpanList) First() Span { return l.first }

// Push prepends s to the list.
func (l *SpanList) Push(s Span) {
	s.setNext(l.first)
	l.first = s
	l.length++
}

// Pop detaches and returns the head of the list.
func (l *SpanList) Pop() Span {
	if l.Empty() {
		panic(errPopEmpty)
	}

	s := l.first
	l.first = s.next()
	l.length--
	s.setNext(Span{})
	return s
}

// Take moves the contents of l into a new list, leaving l empty.
func (l *SpanList) Take() SpanList {
	taken := *l
	*l = SpanList{}
	return taken
}

// Each calls fn for every span in list order until fn returns false.
func (l *SpanList) Each(fn func(Span) bool) {
	for s := l.first; !s.IsNil(); s = s.next() {
		if !fn(s) {
			return
		}
	}
}

// splitOff keeps the first n spans in l and returns the remainder.
func (l *SpanList) splitOff(n int) SpanList {
	if n <= 0 || n >= l.length {
		panic(errSplitOffRange)
	}

	last := l.first
	for i := 1; i < n; i++ {
		last = last.next()
	}

	rest := SpanList{first: last.next(), length: l.length - n}
	last.setNext(Span{})
	l.length = n
	return rest
}

// Sort orders the list by address using a top-down merge sort. Adjacent
// spans are coalesced as a side effect and overlapping spans are fatal.
func (l *SpanList) Sort() {
	if l.length <= 1 {
		return
	}

	rest := l.splitOff(l.length / 2)
	l.Sort()
	rest.Sort()
	*l = mergeSpanLists(l.Take(), rest)
}

// mergeSpanLists merges two address-sorted lists into one address-sorted
// list, coalescing every pair of address-adjacent spans. Overlapping spans
// indicate a double release or a corrupted list and are fatal.
func mergeSpanLists(a, b SpanList) SpanList {
	var (
		out  SpanList
		tail Span
		next Span
	)

	for !a.Empty() || !b.Empty() {
		if b.Empty() || (!a.Empty() && a.first.addr < b.first.addr) {
			next = a.Pop()
		} else {
			next = b.Pop()
		}

		switch {
		case tail.IsNil():
			out.first = next
			out.length = 1
		case tail.Limit() > next.addr:
			panic(errOverlappingSpans)
		case tail.IsAdjacent(next):
			tail.setSize(tail.Size() + next.Size())
			continue
		default:
			tail.setNext(next)
			out.length++
		}
		tail = next
	}

	return out
}

// checkLinks verifies that the list is acyclic and that its cached length
// matches the number of reachable spans. Visited spans are tracked in a
// separate set so span headers are never modified.
func (l *SpanList) checkLinks() {
	visited := make(map[uintptr]struct{}, l.length)
	for s := l.first; !s.IsNil(); s = s.next() {
		if _, seen := visited[s.addr]; seen {
			panic(errSpanCycle)
		}
		visited[s.addr] = struct{}{}
	}

	if len(visited) != l.length {
		panic(errLengthMismatch)
	}
}
