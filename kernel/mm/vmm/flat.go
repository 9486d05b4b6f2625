package vmm

import (
	"efiboot/kernel"
	"efiboot/kernel/cpu"
	"efiboot/kernel/irq"
	"efiboot/kernel/kfmt"
	"efiboot/kernel/mm"
)

var (
	// activePDTFn and flushTLBFn are mocked by tests as they fault when
	// called in user-mode.
	activePDTFn = cpu.ActivePDT
	flushTLBFn  = cpu.FlushTLB

	// uninterruptibleFn is mocked by tests.
	uninterruptibleFn = irq.Uninterruptible

	errUpperHalfMapped = &kernel.Error{Module: "vmm", Message: "upper half of the root page table is already in use"}
)

// PhysToVirt returns the flat-mapped virtual address for physAddr. The result
// is only dereferenceable after InitializeHighMapping has run.
func PhysToVirt(physAddr uintptr) uintptr {
	return physAddr + FlatMemoryStart
}

// VirtToPhys reverses PhysToVirt for addresses inside the flat mapping.
func VirtToPhys(virtAddr uintptr) uintptr {
	return virtAddr - FlatMemoryStart
}

// RootTable returns the active root table accessed through the flat mapping.
func RootTable(mem mm.Memory) Table {
	return TableAt(mem, PhysToVirt(activePDTFn()&ptePhysPageMask), Level4)
}

// InitializeHighMapping copies the lower 256 entries of the active root table
// into its upper 256 entries, making every physical address p reachable at
// FlatMemoryStart + p. The firmware must still identity-map physical memory:
// the root table is accessed at its physical address through mem. The copy
// runs with interrupts disabled.
func InitializeHighMapping(mem mm.Memory) {
	uninterruptibleFn(func() {
		MirrorLowerHalf(TableAt(mem, activePDTFn()&ptePhysPageMask, Level4))
		flushTLBFn()
	})
}

// MirrorLowerHalf copies the lower half entries of the root table into its
// upper half. Every upper-half entry must be unused. If any is present the
// system panics before touching a single entry, as the mapping belongs to
// the firmware.
func MirrorLowerHalf(root Table) {
	if root.level != Level4 {
		panic(errBadLevel)
	}

	for i := halfEntries; i < EntriesPerTable; i++ {
		if !root.Entry(i).IsUnused() {
			kfmt.Printf("[vmm] root entry %d already maps %s\n", i, root.Entry(i).String())
			panic(errUpperHalfMapped)
		}
	}

	for i := 0; i < halfEntries; i++ {
		root.SetEntry(i+halfEntries, root.Entry(i))
	}
}
