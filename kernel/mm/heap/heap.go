// Package heap provides the kernel heap: a single allocation front end that
// serializes access to whichever backend allocator was selected at boot.
package heap

import (
	"efiboot/kernel"
	"efiboot/kernel/mm/heap/buddy"
	"efiboot/kernel/mm/heap/listalloc"
	"efiboot/kernel/mm/vmm"
	"efiboot/kernel/sync"
)

var (
	errNoHeap = &kernel.Error{Module: "heap", Message: "heap has not been initialized"}

	// defaultFront is the heap installed by Init.
	defaultFront *Front
)

// Backend is implemented by the allocators that can serve the heap. A backend
// is only ever called with the front end lock held and must not call back
// into the front end.
type Backend interface {
	// Provide donates the byte range [addr, addr+size) to the backend.
	Provide(addr, size uintptr)

	// Allocate returns a block of at least size bytes aligned to align or
	// an *mm.ExhaustedError.
	Allocate(size, align uintptr) (uintptr, error)

	// Release returns a block previously obtained from Allocate with the
	// same size.
	Release(addr, size uintptr)
}

// Collector is implemented by backends with deferred coalescing.
type Collector interface {
	GC()
}

// Checker is implemented by backends that can verify their internal
// structures. Violations are fatal.
type Checker interface {
	CheckInvariants()
}

var (
	_ Backend   = (*listalloc.Allocator)(nil)
	_ Collector = (*listalloc.Allocator)(nil)
	_ Checker   = (*listalloc.Allocator)(nil)
	_ Backend   = (*buddy.Heap)(nil)
	_ Checker   = (*buddy.Heap)(nil)
)

// Stats holds the front end counters.
type Stats struct {
	ProvidedBytes uintptr
	InUseBytes    uintptr
	Allocations   uint64
	Releases      uint64
	Failures      uint64
}

// Front guards a Backend with a spinlock. Every call holds the lock for its
// whole duration, including any collection pass the backend runs.
type Front struct {
	lock    sync.Spinlock
	backend Backend
	stats   Stats
}

// NewFront returns a front end for backend.
func NewFront(backend Backend) *Front {
	return &Front{backend: backend}
}

// Provide donates the virtual range [addr, addr+size) to the backend.
func (f *Front) Provide(addr, size uintptr) {
	f.lock.Acquire()
	defer f.lock.Release()

	f.backend.Provide(addr, size)
	f.stats.ProvidedBytes += size
}

// Feed donates the physical range [phys, phys+size) through the flat
// mapping.
func (f *Front) Feed(phys, size uintptr) {
	f.Provide(vmm.PhysToVirt(phys), size)
}

// Allocate reserves size bytes aligned to align.
func (f *Front) Allocate(size, align uintptr) (uintptr, error) {
	f.lock.Acquire()
	defer f.lock.Release()

	addr, err := f.backend.Allocate(size, align)
	if err != nil {
		f.stats.Failures++
		return 0, err
	}

	f.stats.Allocations++
	f.stats.InUseBytes += size
	return addr, nil
}

// Release returns a block obtained from Allocate.
func (f *Front) Release(addr, size uintptr) {
	f.lock.Acquire()
	defer f.lock.Release()

	f.backend.Release(addr, size)
	f.stats.Releases++
	f.stats.InUseBytes -= size
}

// Collect runs a collection pass if the backend supports one.
func (f *Front) Collect() {
	f.lock.Acquire()
	defer f.lock.Release()

	if c, ok := f.backend.(Collector); ok {
		c.GC()
	}
}

// CheckInvariants verifies the backend structures if the backend supports
// it.
func (f *Front) CheckInvariants() {
	f.lock.Acquire()
	defer f.lock.Release()

	if c, ok := f.backend.(Checker); ok {
		c.CheckInvariants()
	}
}

// Backend returns the allocator behind the front end. Callers must not use it
// while other goroutines access the front end.
func (f *Front) Backend() Backend {
	return f.backend
}

// Stats returns a copy of the counters.
func (f *Front) Stats() Stats {
	f.lock.Acquire()
	defer f.lock.Release()

	return f.stats
}

// Init installs a front end over backend as the kernel heap.
func Init(backend Backend) *Front {
	defaultFront = NewFront(backend)
	return defaultFront
}

// Default returns the kernel heap or nil before Init.
func Default() *Front {
	return defaultFront
}

// Allocate reserves memory from the kernel heap.
func Allocate(size, align uintptr) (uintptr, error) {
	if defaultFront == nil {
		return 0, errNoHeap
	}
	return defaultFront.Allocate(size, align)
}

// Release returns memory to the kernel heap.
func Release(addr, size uintptr) {
	if defaultFront == nil {
		panic(errNoHeap)
	}
	defaultFront.Release(addr, size)
}
