// Package mm contains the memory primitives shared by the page table code and
// the heap allocators: frame numbers, allocation layouts, the exhaustion error
// and the Memory accessors through which every intrusive header is read.
package mm

// Frame is the index of a physical page.
type Frame uintptr

// InvalidFrame is returned by page table entries that do not reference a
// frame.
const InvalidFrame = ^Frame(0)

// Valid reports whether f references a page.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of the page.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

// FrameFromAddress returns the frame holding physAddr.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> PageShift)
}

// Pages returns the number of pages needed to hold size bytes.
func Pages(size uintptr) uintptr {
	return AlignUp(size, PageSize) >> PageShift
}
