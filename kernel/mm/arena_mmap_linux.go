package mm

import "golang.org/x/sys/unix"

// MmapArena is an Arena whose backing store is an anonymous host mapping.
// Pages are only committed when touched which makes it suitable for
// simulating large, sparsely used physical address ranges.
type MmapArena struct {
	Arena
}

// NewMmapArena maps size bytes of anonymous memory (rounded up to PageSize)
// and exposes them at base.
func NewMmapArena(base, size uintptr) (*MmapArena, error) {
	size = AlignUp(size, PageSize)

	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return nil, err
	}

	return &MmapArena{Arena: Arena{base: base, buf: buf}}, nil
}

// Discard returns the host pages backing [addr, addr+size) to the OS. The
// range reads back as zeroes afterwards. Both ends are shrunk to page
// boundaries.
func (a *MmapArena) Discard(addr, size uintptr) error {
	start := AlignUp(addr-a.base, PageSize)
	end := AlignDown(addr-a.base+size, PageSize)
	if end <= start {
		return nil
	}

	return unix.Madvise(a.buf[start:end], unix.MADV_DONTNEED)
}

// Close unmaps the arena. The arena must not be used afterwards.
func (a *MmapArena) Close() error {
	if a.buf == nil {
		return nil
	}

	err := unix.Munmap(a.buf)
	a.buf = nil
	return err
}
