package mm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMmapArena(t *testing.T) {
	const base = uintptr(0xffff800000000000)

	arena, err := NewMmapArena(base, 3*PageSize+1)
	require.NoError(t, err)
	defer func() { require.NoError(t, arena.Close()) }()

	require.Equal(t, 4*PageSize, arena.Size())

	arena.SetUint64(base+PageSize, 42)
	arena.SetUint64(base+3*PageSize, 7)
	require.Equal(t, uint64(42), arena.Uint64(base+PageSize))

	// Only whole pages are discarded.
	require.NoError(t, arena.Discard(base+8, 2*PageSize))
	require.Equal(t, uint64(0), arena.Uint64(base+PageSize))
	require.Equal(t, uint64(7), arena.Uint64(base+3*PageSize))

	require.NoError(t, arena.Discard(base+8, 16))
}
