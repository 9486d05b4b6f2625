package mm

import (
	"efiboot/kernel"
	"encoding/binary"
	"unsafe"
)

var (
	errOutOfArena = &kernel.Error{Module: "mm", Message: "memory access outside of arena bounds"}
)

// Memory provides word access to virtual addresses. Allocators keep their
// span headers and page tables inside the memory they manage and reach it
// exclusively through this interface.
type Memory interface {
	// Uint64 loads the 64-bit word stored at addr.
	Uint64(addr uintptr) uint64

	// SetUint64 stores v at addr.
	SetUint64(addr uintptr, v uint64)
}

// Direct accesses memory through raw pointers. It is the Memory used by the
// kernel once the flat mapping is in place.
type Direct struct{}

// Uint64 implements Memory.
func (Direct) Uint64(addr uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(addr))
}

// SetUint64 implements Memory.
func (Direct) SetUint64(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}

// Arena exposes a byte slice as the memory window [base, base+len(buf)).
// Accesses outside the window panic.
type Arena struct {
	base uintptr
	buf  []byte
}

// NewArena allocates a zeroed arena of size bytes mapped at base.
func NewArena(base, size uintptr) *Arena {
	return &Arena{base: base, buf: make([]byte, size)}
}

// ArenaOver exposes buf as the memory window starting at base.
func ArenaOver(base uintptr, buf []byte) *Arena {
	return &Arena{base: base, buf: buf}
}

// Base returns the first address covered by the arena.
func (a *Arena) Base() uintptr { return a.base }

// Size returns the arena size in bytes.
func (a *Arena) Size() uintptr { return uintptr(len(a.buf)) }

// Contains returns true if [addr, addr+size) lies within the arena.
func (a *Arena) Contains(addr, size uintptr) bool {
	return addr >= a.base && size <= a.Size() && addr-a.base <= a.Size()-size
}

// Bytes returns the arena bytes backing [addr, addr+size).
func (a *Arena) Bytes(addr, size uintptr) []byte {
	off := a.offset(addr, size)
	return a.buf[off : off+size]
}

// Fill sets every byte in [addr, addr+size) to value.
func (a *Arena) Fill(addr, size uintptr, value byte) {
	b := a.Bytes(addr, size)
	if len(b) == 0 {
		return
	}

	// Seed the first byte and double the initialized prefix on each copy.
	b[0] = value
	for n := 1; n < len(b); n *= 2 {
		copy(b[n:], b[:n])
	}
}

// Uint64 implements Memory.
func (a *Arena) Uint64(addr uintptr) uint64 {
	off := a.offset(addr, 8)
	return binary.LittleEndian.Uint64(a.buf[off:])
}

// SetUint64 implements Memory.
func (a *Arena) SetUint64(addr uintptr, v uint64) {
	off := a.offset(addr, 8)
	binary.LittleEndian.PutUint64(a.buf[off:], v)
}

func (a *Arena) offset(addr, size uintptr) uintptr {
	if !a.Contains(addr, size) {
		panic(errOutOfArena)
	}
	return addr - a.base
}
