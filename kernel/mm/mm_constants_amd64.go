package mm

const (
	// PointerSize is the size of a machine word. Span headers and page
	// table entries are built from words of this size.
	PointerSize = uintptr(8)

	// PageShift converts between physical addresses and frame numbers.
	PageShift = uintptr(12)

	// PageSize is the size of the smallest page the MMU can map.
	PageSize = uintptr(1 << PageShift)
)
