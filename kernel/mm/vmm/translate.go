package vmm

import "efiboot/kernel"

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// Translate walks the hierarchy rooted at root and returns the physical
// address that virtAddr maps to. Huge pages at levels 3 and 2 are honoured.
func Translate(root Table, virtAddr uintptr) (uintptr, *kernel.Error) {
	table := root
	for {
		index := table.level.Index(virtAddr)
		entry := table.Entry(index)

		frameAddr, ok := entry.FrameAddress()
		if !ok {
			return 0, ErrInvalidMapping
		}

		if table.level.IsLeaf() || entry.HasFlags(FlagHugePage) {
			// The entry maps a page of 1 << Shift() bytes; the
			// low address bits index into it.
			pageMask := uintptr(1)<<table.level.Shift() - 1
			return (frameAddr &^ pageMask) | (virtAddr & pageMask), nil
		}

		table, _ = table.NextTable(index)
	}
}

// walkLevels calls visitor with every present table reachable from root, in
// depth-first order. Returning false from visitor skips the table's children.
func walkLevels(root Table, visitor func(Table) bool) {
	if !visitor(root) || root.level.IsLeaf() {
		return
	}

	for i := 0; i < EntriesPerTable; i++ {
		if next, ok := root.NextTable(i); ok {
			walkLevels(next, visitor)
		}
	}
}

// CountTables returns the number of tables reachable from root including
// root itself.
func CountTables(root Table) int {
	count := 0
	walkLevels(root, func(Table) bool {
		count++
		return true
	})
	return count
}
