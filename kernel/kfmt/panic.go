package kfmt

import (
	"efiboot/kernel"
	"efiboot/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints e to the output sink and halts the CPU; it never returns.
// Allocator invariant violations raise a *kernel.Error with the built-in
// panic, which kernel builds redirect here.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	err := panicError(e)

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** boot stub panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// panicError converts a panic value into a kernel error. Values other than
// strings and errors yield nil.
func panicError(e interface{}) *kernel.Error {
	switch t := e.(type) {
	case *kernel.Error:
		return t
	case string:
		errRuntimePanic.Message = t
	case error:
		errRuntimePanic.Message = t.Error()
	default:
		return nil
	}
	return errRuntimePanic
}
