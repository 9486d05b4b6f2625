// Package efi decodes the data the UEFI firmware hands to the boot stub: the
// memory map and the image load options.
package efi

import (
	"efiboot/kernel"
	"efiboot/kernel/mm"
)

// PageShift is the shift of the fixed 4KiB page unit used by memory
// descriptors regardless of the platform page size.
const PageShift = 12

// MemoryType identifies the use of a memory range reported by the firmware.
type MemoryType uint32

// nolint
const (
	ReservedMemoryType MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory

	// Any value >= memTypeUnknown is reported as ReservedMemoryType.
	memTypeUnknown
)

// String implements fmt.Stringer for MemoryType.
func (t MemoryType) String() string {
	switch t {
	case ReservedMemoryType:
		return "reserved"
	case LoaderCode:
		return "loader code"
	case LoaderData:
		return "loader data"
	case BootServicesCode:
		return "boot services code"
	case BootServicesData:
		return "boot services data"
	case RuntimeServicesCode:
		return "runtime services code"
	case RuntimeServicesData:
		return "runtime services data"
	case ConventionalMemory:
		return "conventional"
	case UnusableMemory:
		return "unusable"
	case ACPIReclaimMemory:
		return "ACPI (reclaimable)"
	case ACPIMemoryNVS:
		return "ACPI NVS"
	case MemoryMappedIO:
		return "MMIO"
	case MemoryMappedIOPortSpace:
		return "MMIO port space"
	case PalCode:
		return "PAL code"
	case PersistentMemory:
		return "persistent"
	default:
		return "unknown"
	}
}

// Usable returns true for ranges the kernel may hand to its heap once boot
// services have been exited. Loader ranges hold the running image and are
// never usable.
func (t MemoryType) Usable() bool {
	switch t {
	case ConventionalMemory, BootServicesCode, BootServicesData:
		return true
	default:
		return false
	}
}

// descriptorLayoutSize is the size of the descriptor fields defined by the
// UEFI specification. Firmware may report a larger stride.
const descriptorLayoutSize = 40

var errBadDescriptorSize = &kernel.Error{Module: "efi", Message: "memory map descriptor size is invalid"}

// MemoryDescriptor describes one memory range.
type MemoryDescriptor struct {
	Type          MemoryType
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// Length returns the size of the range in bytes.
func (d *MemoryDescriptor) Length() uint64 {
	return d.NumberOfPages << PageShift
}

// End returns the first physical address past the range.
func (d *MemoryDescriptor) End() uint64 {
	return d.PhysicalStart + d.Length()
}

// MemRegionVisitor is invoked by VisitMemRegions for each descriptor. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryDescriptor) bool

// MemoryMap is a view over the memory map buffer returned by GetMemoryMap.
type MemoryMap struct {
	mem            mm.Memory
	addr           uintptr
	size           uintptr
	descriptorSize uintptr
}

// NewMemoryMap returns a view over size bytes of descriptors at addr, each
// descriptorSize bytes apart.
func NewMemoryMap(mem mm.Memory, addr, size, descriptorSize uintptr) (*MemoryMap, *kernel.Error) {
	if descriptorSize < descriptorLayoutSize || descriptorSize%8 != 0 || size%descriptorSize != 0 {
		return nil, errBadDescriptorSize
	}

	return &MemoryMap{mem: mem, addr: addr, size: size, descriptorSize: descriptorSize}, nil
}

// WriteMemoryMap encodes descs at addr using the given stride and returns a
// view over them. Padding bytes between descriptors are left untouched.
func WriteMemoryMap(mem mm.Memory, addr, descriptorSize uintptr, descs []MemoryDescriptor) (*MemoryMap, *kernel.Error) {
	m, err := NewMemoryMap(mem, addr, uintptr(len(descs))*descriptorSize, descriptorSize)
	if err != nil {
		return nil, err
	}

	for i := range descs {
		ptr := addr + uintptr(i)*descriptorSize
		mem.SetUint64(ptr, uint64(descs[i].Type))
		mem.SetUint64(ptr+8, descs[i].PhysicalStart)
		mem.SetUint64(ptr+16, descs[i].VirtualStart)
		mem.SetUint64(ptr+24, descs[i].NumberOfPages)
		mem.SetUint64(ptr+32, descs[i].Attribute)
	}
	return m, nil
}

// Len returns the number of descriptors in the map.
func (m *MemoryMap) Len() int {
	return int(m.size / m.descriptorSize)
}

// VisitMemRegions invokes visitor for each descriptor in map order.
func (m *MemoryMap) VisitMemRegions(visitor MemRegionVisitor) {
	var desc MemoryDescriptor

	for ptr, end := m.addr, m.addr+m.size; ptr != end; ptr += m.descriptorSize {
		desc = MemoryDescriptor{
			Type:          MemoryType(uint32(m.mem.Uint64(ptr))),
			PhysicalStart: m.mem.Uint64(ptr + 8),
			VirtualStart:  m.mem.Uint64(ptr + 16),
			NumberOfPages: m.mem.Uint64(ptr + 24),
			Attribute:     m.mem.Uint64(ptr + 32),
		}

		// Mark unknown entry types as reserved
		if desc.Type >= memTypeUnknown {
			desc.Type = ReservedMemoryType
		}

		if !visitor(&desc) {
			return
		}
	}
}

// UsableBytes returns the total size of all usable ranges.
func (m *MemoryMap) UsableBytes() uint64 {
	var total uint64
	m.VisitMemRegions(func(d *MemoryDescriptor) bool {
		if d.Type.Usable() {
			total += d.Length()
		}
		return true
	})
	return total
}
