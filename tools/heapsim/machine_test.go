package main

import (
	"efiboot/efi"
	"efiboot/kernel/mm"
	"efiboot/kernel/mm/vmm"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T, size uintptr) *machine {
	t.Helper()

	m, err := newMachine(size)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.close()) })
	return m
}

func TestNewMachineRejectsBadSizes(t *testing.T) {
	for _, size := range []uintptr{0, hugePageSize, 3*hugePageSize + mm.PageSize, 2 * maxMachineSize} {
		_, err := newMachine(size)
		require.Error(t, err, "size %d", size)
	}
}

func TestMachineFirmwareState(t *testing.T) {
	const size = 4 << 20
	m := newTestMachine(t, size)

	require.Equal(t, 8, m.memMap.Len())
	require.Equal(t, uint64(0x1000+0x9b000+0x1f0000), m.memMap.UsableBytes())

	var last uint64
	m.memMap.VisitMemRegions(func(d *efi.MemoryDescriptor) bool {
		require.GreaterOrEqual(t, d.PhysicalStart, last, "descriptors are sorted and disjoint")
		last = d.End()
		return true
	})

	// The firmware identity mapping covers RAM with 2MiB pages and the
	// upper half is untouched until bootstrap.
	root := vmm.TableAt(m.phys, rootTablePhys, vmm.Level4)
	require.False(t, root.Entry(0).IsUnused())
	for i := vmm.EntriesPerTable / 2; i < vmm.EntriesPerTable; i++ {
		require.True(t, root.Entry(i).IsUnused())
	}

	l2 := vmm.TableAt(m.phys, l2TablePhys, vmm.Level2)
	require.True(t, l2.Entry(1).HasFlags(vmm.FlagPresent|vmm.FlagHugePage))
	require.True(t, l2.Entry(2).IsUnused())
}

func TestMachineBootstrap(t *testing.T) {
	m := newTestMachine(t, 4<<20)
	require.NoError(t, m.bootstrap())

	root := m.flatRoot()
	phys, err := vmm.Translate(root, vmm.PhysToVirt(0x123456))
	require.Nil(t, err)
	require.Equal(t, uintptr(0x123456), phys)

	// The identity mapping is still in place.
	phys, err = vmm.Translate(root, 0x3000)
	require.Nil(t, err)
	require.Equal(t, uintptr(0x3000), phys)

	_, err = vmm.Translate(root, vmm.PhysToVirt(4<<20))
	require.Equal(t, vmm.ErrInvalidMapping, err)
}

func TestMachinePlatformSharesMemory(t *testing.T) {
	m := newTestMachine(t, 4<<20)

	words := m.platform().Bookkeeping(vmm.PhysToVirt(0x300000), 4)
	require.Len(t, words, 4)

	words[1] = 0xdeadbeef
	require.Equal(t, uint64(0xdeadbeef), m.phys.Uint64(0x300008))
	require.Equal(t, uint64(0xdeadbeef), m.platform().Memory.Uint64(vmm.PhysToVirt(0x300008)))
}

func TestMachineBootInfo(t *testing.T) {
	m := newTestMachine(t, 4<<20)

	info, err := m.bootInfo("heap.backend=buddy heap.unit=512")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"heap.backend": "buddy", "heap.unit": "512"}, info.CmdLine())
	require.Equal(t, m.memMap, info.MemoryMap)
}
