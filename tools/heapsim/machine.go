package main

import (
	"efiboot/efi"
	"efiboot/kernel/kmain"
	"efiboot/kernel/mm"
	"efiboot/kernel/mm/vmm"
	"fmt"
	"unsafe"
)

const (
	hugePageSize = uintptr(1) << 21

	// Physical layout of the simulated machine.
	rootTablePhys   = uintptr(0x1000)
	l3TablePhys     = uintptr(0x2000)
	l2TablePhys     = uintptr(0x3000)
	memoryMapPhys   = uintptr(0x4000)
	lowMemoryEnd    = uintptr(0xa0000)
	kernelImagePhys = uintptr(0x100000)
	highMemoryPhys  = uintptr(0x200000)
	acpiTablesSize  = uintptr(0x10000)

	descriptorSize = 48

	minMachineSize = 2 * hugePageSize
	maxMachineSize = uintptr(1) << 30
)

// machine is a simulated computer whose physical memory is an mmap-backed
// arena. The same bytes are reachable at their physical addresses, as the
// firmware identity mapping does, and through the flat mapping.
type machine struct {
	size   uintptr
	phys   *mm.MmapArena
	flat   *mm.Arena
	memMap *efi.MemoryMap
}

// newMachine maps size bytes of simulated RAM and writes the firmware state:
// page tables identity mapping all of RAM with 2MiB pages and the memory map.
func newMachine(size uintptr) (*machine, error) {
	if size < minMachineSize || size > maxMachineSize || size%hugePageSize != 0 {
		return nil, fmt.Errorf("memory size must be a multiple of 2MiB between %d and %d bytes, got %d", minMachineSize, maxMachineSize, size)
	}

	phys, err := mm.NewMmapArena(0, size)
	if err != nil {
		return nil, fmt.Errorf("mapping simulated memory: %w", err)
	}

	m := &machine{
		size: size,
		phys: phys,
		flat: mm.ArenaOver(vmm.FlatMemoryStart, phys.Bytes(0, size)),
	}

	m.writePageTables()

	memMap, kerr := efi.WriteMemoryMap(phys, memoryMapPhys, descriptorSize, m.firmwareDescriptors())
	if kerr != nil {
		_ = phys.Close()
		return nil, kerr
	}
	m.memMap = memMap

	return m, nil
}

func (m *machine) writePageTables() {
	root := vmm.TableAt(m.phys, rootTablePhys, vmm.Level4)
	l3 := vmm.TableAt(m.phys, l3TablePhys, vmm.Level3)
	l2 := vmm.TableAt(m.phys, l2TablePhys, vmm.Level2)

	var e vmm.Entry
	e.Set(l3TablePhys, vmm.FlagPresent|vmm.FlagRW)
	root.SetEntry(0, e)
	e.Set(l2TablePhys, vmm.FlagPresent|vmm.FlagRW)
	l3.SetEntry(0, e)

	for i := 0; uintptr(i)*hugePageSize < m.size; i++ {
		e.Set(uintptr(i)*hugePageSize, vmm.FlagPresent|vmm.FlagRW|vmm.FlagHugePage)
		l2.SetEntry(i, e)
	}
}

func (m *machine) firmwareDescriptors() []efi.MemoryDescriptor {
	pages := func(size uintptr) uint64 { return uint64(mm.Pages(size)) }

	return []efi.MemoryDescriptor{
		{Type: efi.BootServicesData, PhysicalStart: 0, NumberOfPages: 1},
		{Type: efi.LoaderData, PhysicalStart: uint64(rootTablePhys), NumberOfPages: pages(memoryMapPhys - rootTablePhys + mm.PageSize)},
		{Type: efi.ConventionalMemory, PhysicalStart: uint64(memoryMapPhys + mm.PageSize), NumberOfPages: pages(lowMemoryEnd - memoryMapPhys - mm.PageSize)},
		{Type: efi.ReservedMemoryType, PhysicalStart: uint64(lowMemoryEnd), NumberOfPages: pages(kernelImagePhys - lowMemoryEnd)},
		{Type: efi.LoaderCode, PhysicalStart: uint64(kernelImagePhys), NumberOfPages: pages(highMemoryPhys - kernelImagePhys)},
		{Type: efi.ConventionalMemory, PhysicalStart: uint64(highMemoryPhys), NumberOfPages: pages(m.size - highMemoryPhys - acpiTablesSize)},
		{Type: efi.ACPIReclaimMemory, PhysicalStart: uint64(m.size - acpiTablesSize), NumberOfPages: pages(acpiTablesSize)},
		{Type: efi.MemoryMappedIO, PhysicalStart: 0xfee00000, NumberOfPages: 1},
	}
}

// bootstrap installs the flat mapping and verifies that it reaches every
// huge page of RAM.
func (m *machine) bootstrap() error {
	vmm.MirrorLowerHalf(vmm.TableAt(m.phys, rootTablePhys, vmm.Level4))

	root := m.flatRoot()
	for p := uintptr(0); p < m.size; p += hugePageSize {
		phys, err := vmm.Translate(root, vmm.PhysToVirt(p))
		if err != nil {
			return fmt.Errorf("flat mapping of 0x%x: %w", p, err)
		}
		if phys != p {
			return fmt.Errorf("flat mapping of 0x%x translates to 0x%x", p, phys)
		}
	}

	return nil
}

// flatRoot returns the root table accessed through the flat mapping.
func (m *machine) flatRoot() vmm.Table {
	return vmm.TableAt(m.flat, vmm.PhysToVirt(rootTablePhys), vmm.Level4)
}

// platform returns the heap platform for the flat mapping of the machine.
func (m *machine) platform() kmain.Platform {
	return kmain.Platform{
		Memory: m.flat,
		Bookkeeping: func(virtAddr uintptr, words int) []uint64 {
			b := m.flat.Bytes(virtAddr, uintptr(words)*8)
			return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), words)
		},
	}
}

// bootInfo returns the boot information the entry stub would collect.
func (m *machine) bootInfo(cmdLine string) (*efi.BootInfo, error) {
	opts, err := efi.EncodeLoadOptions(cmdLine)
	if err != nil {
		return nil, err
	}
	return &efi.BootInfo{MemoryMap: m.memMap, LoadOptions: opts}, nil
}

func (m *machine) close() error {
	return m.phys.Close()
}
