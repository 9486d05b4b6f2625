package mm

import "math/bits"

// Layout describes an allocation request. Rank is only meaningful for
// power-of-two allocators where the request is expressed as a block rank.
type Layout struct {
	Size  uintptr
	Align uintptr
	Rank  int
}

// ExhaustedError is returned when an allocator cannot satisfy a request. It
// carries the request exactly as the caller issued it so the caller can pick
// an alternate strategy.
type ExhaustedError struct {
	Request Layout
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return "out of memory: no free block can satisfy the request"
}

// IsPowerOfTwo returns true if v is a non-zero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}

// AlignUp rounds v up to the next multiple of align which must be a power of
// two.
func AlignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// AlignDown rounds v down to a multiple of align which must be a power of two.
func AlignDown(v, align uintptr) uintptr {
	return v &^ (align - 1)
}

// Log2 returns floor(log2(v)). Log2(0) returns -1.
func Log2(v uint64) int {
	return bits.Len64(v) - 1
}

// CeilLog2 returns the smallest r such that 1<<r >= v. CeilLog2(0) and
// CeilLog2(1) return 0.
func CeilLog2(v uint64) int {
	if v <= 1 {
		return 0
	}
	return bits.Len64(v - 1)
}
