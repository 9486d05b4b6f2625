// Package cpu exposes the handful of privileged amd64 instructions the boot
// stub needs. All functions are implemented in assembly and will fault if
// they are invoked from user-mode; callers reach them through package-level
// function variables so tests can substitute them.
package cpu

const (
	// flagInterruptEnable is the IF bit in RFLAGS.
	flagInterruptEnable = 1 << 9
)

var (
	readFlagsFn = ReadFlags
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// ReadFlags returns the contents of the RFLAGS register.
func ReadFlags() uint64

// InterruptsEnabled returns true if the IF flag is set for the current CPU.
func InterruptsEnabled() bool {
	return readFlagsFn()&flagInterruptEnable != 0
}

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// FlushTLB reloads CR3 which invalidates all non-global TLB entries.
func FlushTLB()
