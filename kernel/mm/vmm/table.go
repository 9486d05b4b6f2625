package vmm

import (
	"efiboot/kernel"
	"efiboot/kernel/mm"
	"strconv"
)

var (
	errLeafTable    = &kernel.Error{Module: "vmm", Message: "level 1 tables have no next level"}
	errBadLevel     = &kernel.Error{Module: "vmm", Message: "page table level must be between 1 and 4"}
	errEntryIndex   = &kernel.Error{Module: "vmm", Message: "page table entry index out of range"}
	errTableAligned = &kernel.Error{Module: "vmm", Message: "page tables must be 4096-byte aligned"}
)

// Level identifies the position of a table in the 4-level hierarchy. Level4
// is the root table referenced by CR3; Level1 tables map 4KiB pages.
type Level uint8

// The supported table levels.
const (
	Level1 Level = iota + 1
	Level2
	Level3
	Level4
)

// Shift returns the number of virtual address bits below the index bits of
// this level.
func (l Level) Shift() uintptr {
	return mm.PageShift + uintptr(l-1)*levelBits
}

// IsLeaf returns true for Level1.
func (l Level) IsLeaf() bool {
	return l == Level1
}

// Index returns the table index that virtAddr selects at this level.
func (l Level) Index(virtAddr uintptr) int {
	return int((virtAddr >> l.Shift()) & (EntriesPerTable - 1))
}

// String implements fmt.Stringer.
func (l Level) String() string {
	return "L" + strconv.Itoa(int(l))
}

// Table is a view over a 512-entry page table living at a virtual address
// reachable through mem.
type Table struct {
	mem   mm.Memory
	addr  uintptr
	level Level
}

// TableAt returns a view of the level table located at virtAddr.
func TableAt(mem mm.Memory, virtAddr uintptr, level Level) Table {
	if level < Level1 || level > Level4 {
		panic(errBadLevel)
	}
	if virtAddr&(mm.PageSize-1) != 0 {
		panic(errTableAligned)
	}

	return Table{mem: mem, addr: virtAddr, level: level}
}

// Level returns the table level.
func (t Table) Level() Level { return t.level }

// Address returns the virtual address of the table.
func (t Table) Address() uintptr { return t.addr }

// Entry returns the entry at index.
func (t Table) Entry(index int) Entry {
	return Entry(t.mem.Uint64(t.entryAddr(index)))
}

// SetEntry overwrites the entry at index.
func (t Table) SetEntry(index int, e Entry) {
	t.mem.SetUint64(t.entryAddr(index), uint64(e))
}

// Clear marks every entry in the table as unused.
func (t Table) Clear() {
	for i := 0; i < EntriesPerTable; i++ {
		t.SetEntry(i, 0)
	}
}

// NextTable returns the table referenced by the entry at index. The second
// result is false if the entry is not present or maps a huge page. Calling
// NextTable on a Level1 table is a programming error.
func (t Table) NextTable(index int) (Table, bool) {
	if t.level.IsLeaf() {
		panic(errLeafTable)
	}

	e := t.Entry(index)
	if e.HasFlags(FlagHugePage) {
		return Table{}, false
	}

	frameAddr, ok := e.FrameAddress()
	if !ok {
		return Table{}, false
	}

	return Table{mem: t.mem, addr: PhysToVirt(frameAddr), level: t.level - 1}, true
}

func (t Table) entryAddr(index int) uintptr {
	if index < 0 || index >= EntriesPerTable {
		panic(errEntryIndex)
	}
	return t.addr + uintptr(index)*entrySize
}
