package vmm

import (
	"efiboot/kernel"
	"efiboot/kernel/mm"
	"strconv"
	"strings"
)

var (
	errUnalignedFrame = &kernel.Error{Module: "vmm", Message: "frame address is not page aligned or exceeds the physical address width"}
)

// EntryFlag describes a flag that can be applied to a page table entry.
type EntryFlag uint64

// allFlags lists the flags that Flags extracts from an entry.
const allFlags = FlagPresent | FlagRW | FlagUserAccessible | FlagWriteThroughCaching |
	FlagDoNotCache | FlagAccessed | FlagDirty | FlagHugePage | FlagGlobal | FlagNoExecute

var flagNames = [...]struct {
	flag EntryFlag
	name string
}{
	{FlagPresent, "P"},
	{FlagRW, "RW"},
	{FlagUserAccessible, "U"},
	{FlagWriteThroughCaching, "PWT"},
	{FlagDoNotCache, "PCD"},
	{FlagAccessed, "A"},
	{FlagDirty, "D"},
	{FlagHugePage, "PS"},
	{FlagGlobal, "G"},
	{FlagNoExecute, "NX"},
}

// String returns the flag names joined by '|'.
func (f EntryFlag) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}

// Entry is a page table entry in the exact amd64 hardware format: a 4KiB
// aligned physical frame address in bits 12-51 plus the flag bits.
type Entry uint64

// IsUnused returns true if every bit of the entry is clear.
func (e Entry) IsUnused() bool {
	return e == 0
}

// Clear resets the entry to the unused state.
func (e *Entry) Clear() {
	*e = 0
}

// Flags returns the known flags set on this entry.
func (e Entry) Flags() EntryFlag {
	return EntryFlag(e) & allFlags
}

// HasFlags returns true if this entry has all the input flags set.
func (e Entry) HasFlags(flags EntryFlag) bool {
	return EntryFlag(e)&flags == flags
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (e Entry) HasAnyFlag(flags EntryFlag) bool {
	return EntryFlag(e)&flags != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (e *Entry) SetFlags(flags EntryFlag) {
	*e |= Entry(flags)
}

// ClearFlags unsets the input list of flags from the page table entry.
func (e *Entry) ClearFlags(flags EntryFlag) {
	*e &^= Entry(flags)
}

// Frame returns the physical frame this entry points to, regardless of
// whether the entry is present.
func (e Entry) Frame() mm.Frame {
	return mm.Frame((uintptr(e) & ptePhysPageMask) >> mm.PageShift)
}

// FrameAddress returns the physical address encoded in the entry. The second
// result is false if the entry is not present.
func (e Entry) FrameAddress() (uintptr, bool) {
	if !e.HasFlags(FlagPresent) {
		return 0, false
	}
	return uintptr(e) & ptePhysPageMask, true
}

// SetFrame updates the entry to point to frame, leaving the flags intact.
func (e *Entry) SetFrame(frame mm.Frame) {
	*e = Entry((uintptr(*e) &^ ptePhysPageMask) | frame.Address())
}

// Set overwrites the entry with the given frame address and flags. The
// address must be page aligned and fit in bits 12-51.
func (e *Entry) Set(frameAddr uintptr, flags EntryFlag) {
	if frameAddr&^ptePhysPageMask != 0 {
		panic(errUnalignedFrame)
	}
	*e = Entry(uint64(frameAddr) | uint64(flags))
}

// String returns "0" for non-present entries and (raw,frame,flags) otherwise.
func (e Entry) String() string {
	addr, ok := e.FrameAddress()
	if !ok {
		return "0"
	}

	return "(" + strconv.FormatUint(uint64(e), 16) + "," +
		strconv.FormatUint(uint64(addr), 16) + "," +
		e.Flags().String() + ")"
}
