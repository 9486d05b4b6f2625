// Package kmain contains the boot sequence that runs once the firmware entry
// stub has collected the memory map and exited boot services.
package kmain

import (
	"efiboot/efi"
	"efiboot/kernel"
	"efiboot/kernel/kfmt"
	"efiboot/kernel/mm"
	"efiboot/kernel/mm/heap"
	"efiboot/kernel/mm/heap/buddy"
	"efiboot/kernel/mm/heap/listalloc"
	"efiboot/kernel/mm/vmm"
	"io"
	"unsafe"
)

var (
	errKmainReturned     = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoUsableMemory    = &kernel.Error{Module: "kmain", Message: "memory map has no usable region"}
	errNoBookkeepingRoom = &kernel.Error{Module: "kmain", Message: "no usable region can hold the buddy bookkeeping"}

	// The following functions are mocked by tests.
	initHighMappingFn = vmm.InitializeHighMapping
	panicFn           = kfmt.Panic

	// firmwareMemory reaches physical memory through the identity mapping
	// left by the firmware.
	firmwareMemory mm.Memory = mm.Direct{}

	// kernelPlatform reaches physical memory through the flat mapping.
	kernelPlatform = Platform{Memory: mm.Direct{}, Bookkeeping: bookkeepingAt}
)

// Platform describes how the heap reaches flat-mapped memory.
type Platform struct {
	// Memory is used for the free-list span headers.
	Memory mm.Memory

	// Bookkeeping returns words backed by the flat-mapped memory at
	// virtAddr. The buddy backend keeps its bitmap and tree there.
	Bookkeeping func(virtAddr uintptr, words int) []uint64
}

// region is a physical address range [start, end).
type region struct {
	start, end uintptr
}

// Kmain is invoked by the entry stub after ExitBootServices. It installs the
// flat mapping, selects the heap backend from the load options and feeds it
// every usable memory range.
//
// Kmain is not expected to return. If it does, the system halts.
//
//go:noinline
func Kmain(info *efi.BootInfo) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[kmain] ")}

	cfg, err := ParseConfig(info.CmdLine())
	if err != nil {
		panic(err)
	}

	initHighMappingFn(firmwareMemory)
	kfmt.Fprintf(&w, "physical memory mapped at 0x%x\n", vmm.FlatMemoryStart)

	if _, err = InitHeap(&w, info.MemoryMap, cfg, kernelPlatform); err != nil {
		panic(err)
	}

	// Use panicFn instead of panic to prevent the compiler from treating
	// kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// InitHeap creates the configured backend, installs it as the kernel heap and
// feeds it the usable ranges of memMap.
func InitHeap(w io.Writer, memMap *efi.MemoryMap, cfg Config, p Platform) (*heap.Front, *kernel.Error) {
	regions := usableRegions(memMap)
	if len(regions) == 0 {
		return nil, errNoUsableMemory
	}

	var backend heap.Backend
	switch cfg.Backend {
	case BackendBuddy:
		h, err := newBuddyHeap(regions, cfg.Unit, p.Bookkeeping)
		if err != nil {
			return nil, err
		}
		backend = h
	default:
		backend = listalloc.New(p.Memory, listalloc.Config{
			GarbageLimit: cfg.GCLimit,
			DebugChecks:  cfg.Debug,
		})
	}

	front := heap.Init(backend)
	for _, r := range regions {
		if r.start >= r.end {
			continue
		}
		kfmt.Fprintf(w, "feeding [0x%16x - 0x%16x]\n", r.start, r.end)
		front.Feed(r.start, r.end-r.start)
	}

	if cfg.Debug {
		front.CheckInvariants()
	}

	kfmt.Fprintf(w, "heap backend: %s, available: %dKb\n", cfg.Backend, uint64(front.Stats().ProvidedBytes>>10))
	return front, nil
}

// usableRegions returns the usable ranges of memMap in map order. The first
// physical page is never handed out.
func usableRegions(memMap *efi.MemoryMap) []region {
	var regions []region

	memMap.VisitMemRegions(func(d *efi.MemoryDescriptor) bool {
		if !d.Type.Usable() || d.NumberOfPages == 0 {
			return true
		}

		r := region{start: uintptr(d.PhysicalStart), end: uintptr(d.End())}
		if r.start < mm.PageSize {
			r.start = mm.PageSize
		}
		if r.start < r.end {
			regions = append(regions, r)
		}
		return true
	})

	return regions
}

// newBuddyHeap builds a buddy heap spanning every region. Its bookkeeping is
// carved from the start of the first region large enough to hold it and that
// part of the region is removed from regions.
func newBuddyHeap(regions []region, unit uintptr, bookkeeping func(uintptr, int) []uint64) (*buddy.Heap, *kernel.Error) {
	lo, hi := regions[0].start, regions[0].end
	for _, r := range regions[1:] {
		if r.start < lo {
			lo = r.start
		}
		if r.end > hi {
			hi = r.end
		}
	}
	lo = mm.AlignDown(lo, unit)
	hi = mm.AlignUp(hi, unit)

	base := vmm.PhysToVirt(lo)
	bitmapWords, treeWords := buddy.HeapWords(base, hi-lo, unit)
	reserved := mm.AlignUp(uintptr(bitmapWords+treeWords)*8, unit)

	for i := range regions {
		if regions[i].end-regions[i].start < reserved {
			continue
		}

		words := bookkeeping(vmm.PhysToVirt(regions[i].start), bitmapWords+treeWords)
		regions[i].start += reserved

		return buddy.NewHeap(base, hi-lo, unit, words[:bitmapWords], words[bitmapWords:]), nil
	}

	return nil, errNoBookkeepingRoom
}

// bookkeepingAt returns a slice of words backed by the flat-mapped memory at
// virtAddr.
func bookkeepingAt(virtAddr uintptr, words int) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(virtAddr)), words)
}
