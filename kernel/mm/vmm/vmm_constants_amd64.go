package vmm

import "efiboot/kernel/mm"

const (
	// levelBits is the number of virtual address bits consumed by each
	// page level. Each table therefore holds 1 << levelBits entries.
	levelBits = 9

	// EntriesPerTable is the number of entries in a page table of any level.
	EntriesPerTable = 1 << levelBits

	// entrySize is the size of a page table entry in bytes.
	entrySize = mm.PointerSize

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// FlatMemoryStart is the start of the upper virtual memory half on
	// processors with 4-level page tables and 48-bit virtual addresses.
	// Once InitializeHighMapping has run, physical address p is reachable
	// at FlatMemoryStart + p.
	FlatMemoryStart = uintptr(0xffff800000000000)

	// halfEntries is the index of the first root table entry that maps
	// the upper half of the virtual address space.
	halfEntries = EntriesPerTable / 2
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent EntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set on level 3 and level 2 entries that map a 1GiB or
	// 2MiB page directly instead of pointing to a next level table.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute EntryFlag = 1 << 63
)
