package irq

import "efiboot/kernel/cpu"

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// Uninterruptible runs fn with hardware interrupts disabled. The interrupt
// state observed on entry is restored when fn returns or panics; the panic
// then continues to unwind with the original state already in place.
func Uninterruptible(fn func()) {
	wasEnabled := interruptsEnabledFn()
	disableInterruptsFn()

	defer func() {
		if wasEnabled {
			enableInterruptsFn()
		}
	}()

	fn()
}
