package listalloc

import (
	"efiboot/kernel/mm"
	"testing"

	"github.com/stretchr/testify/require"
)

func spanAddrs(l *SpanList) []uintptr {
	var out []uintptr
	l.Each(func(s Span) bool {
		out = append(out, s.Address())
		return true
	})
	return out
}

func TestSpanHeader(t *testing.T) {
	mem := mm.NewArena(0x1000, 256)
	s := newSpan(mem, 0x1040, 0x40)

	require.Equal(t, uintptr(0x1040), s.Address())
	require.Equal(t, uintptr(0x40), s.Size())
	require.Equal(t, uintptr(0x1080), s.Limit())
	require.True(t, s.next().IsNil())

	back := s.splitAt(0x1060)
	require.Equal(t, uintptr(0x20), s.Size())
	require.Equal(t, uintptr(0x1060), back.Address())
	require.Equal(t, uintptr(0x20), back.Size())
	require.True(t, s.IsAdjacent(back))
	require.False(t, back.IsAdjacent(s))
	require.False(t, s.Overlaps(back))

	other := Span{mem: mem, addr: 0x1050}
	mem.SetUint64(0x1050, 0x20)
	require.True(t, s.Overlaps(other))
	require.True(t, other.Overlaps(back))

	t.Run("split too close to the edges", func(t *testing.T) {
		require.PanicsWithValue(t, errSplitOutOfRange, func() { s.splitAt(0x1048) })
		require.PanicsWithValue(t, errSplitOutOfRange, func() { back.splitAt(0x1078) })
	})

	t.Run("reserved size bit", func(t *testing.T) {
		require.PanicsWithValue(t, errSpanTooLarge, func() { s.setSize(sizeReservedBit | 0x20) })
	})
}

func TestSpanListPushPop(t *testing.T) {
	mem := mm.NewArena(0x1000, 256)

	var l SpanList
	require.True(t, l.Empty())
	require.PanicsWithValue(t, errPopEmpty, func() { l.Pop() })

	l.Push(newSpan(mem, 0x1000, 0x10))
	l.Push(newSpan(mem, 0x1080, 0x20))
	l.Push(newSpan(mem, 0x1040, 0x10))
	require.Equal(t, 3, l.Len())
	require.Equal(t, []uintptr{0x1040, 0x1080, 0x1000}, spanAddrs(&l))

	s := l.Pop()
	require.Equal(t, uintptr(0x1040), s.Address())
	require.True(t, s.next().IsNil())
	require.Equal(t, 2, l.Len())

	taken := l.Take()
	require.True(t, l.Empty())
	require.Zero(t, l.Len())
	require.Equal(t, 2, taken.Len())
	require.Equal(t, []uintptr{0x1080, 0x1000}, spanAddrs(&taken))
	require.NotPanics(t, taken.checkLinks)
}

func TestSpanListSplitOff(t *testing.T) {
	mem := mm.NewArena(0x1000, 256)

	var l SpanList
	for addr := uintptr(0x10e0); addr >= 0x1000; addr -= 0x20 {
		l.Push(newSpan(mem, addr, 0x10))
	}
	require.Equal(t, 8, l.Len())

	rest := l.splitOff(3)
	require.Equal(t, 3, l.Len())
	require.Equal(t, 5, rest.Len())
	require.Equal(t, []uintptr{0x1000, 0x1020, 0x1040}, spanAddrs(&l))
	require.Equal(t, []uintptr{0x1060, 0x1080, 0x10a0, 0x10c0, 0x10e0}, spanAddrs(&rest))

	require.PanicsWithValue(t, errSplitOffRange, func() { l.splitOff(0) })
	require.PanicsWithValue(t, errSplitOffRange, func() { l.splitOff(3) })
}

func TestSpanListSort(t *testing.T) {
	mem := mm.NewArena(0x1000, 0x1000)

	var l SpanList
	for _, addr := range []uintptr{0x1300, 0x1000, 0x1200, 0x1100, 0x1600, 0x1040} {
		l.Push(newSpan(mem, addr, 0x40))
	}

	l.Sort()
	require.NotPanics(t, l.checkLinks)

	// 0x1000 and 0x1040 coalesce, 0x1100 absorbs nothing, 0x1200 and 0x1300
	// are not adjacent.
	var got []Region
	l.Each(func(s Span) bool {
		got = append(got, Region{Address: s.Address(), Size: s.Size()})
		return true
	})
	require.Equal(t, []Region{
		{0x1000, 0x80},
		{0x1100, 0x40},
		{0x1200, 0x40},
		{0x1300, 0x40},
		{0x1600, 0x40},
	}, got)
}

func TestMergeSpanLists(t *testing.T) {
	mem := mm.NewArena(0x1000, 0x1000)

	build := func(regions ...Region) SpanList {
		var l SpanList
		for i := len(regions) - 1; i >= 0; i-- {
			l.Push(newSpan(mem, regions[i].Address, regions[i].Size))
		}
		return l
	}

	t.Run("coalesce chains across both inputs", func(t *testing.T) {
		a := build(Region{0x1000, 0x40}, Region{0x1080, 0x40}, Region{0x1400, 0x10})
		b := build(Region{0x1040, 0x40}, Region{0x10c0, 0x40}, Region{0x1800, 0x10})

		out := mergeSpanLists(a, b)
		require.Equal(t, 3, out.Len())
		require.NotPanics(t, out.checkLinks)

		first := out.First()
		require.Equal(t, uintptr(0x1000), first.Address())
		require.Equal(t, uintptr(0x100), first.Size())
		require.Equal(t, []uintptr{0x1000, 0x1400, 0x1800}, spanAddrs(&out))
	})

	t.Run("one side empty", func(t *testing.T) {
		out := mergeSpanLists(SpanList{}, build(Region{0x1000, 0x10}, Region{0x1010, 0x10}))
		require.Equal(t, 1, out.Len())
		require.Equal(t, uintptr(0x20), out.First().Size())
	})

	t.Run("overlap is fatal", func(t *testing.T) {
		a := build(Region{0x1000, 0x40})
		b := build(Region{0x1020, 0x40})
		require.PanicsWithValue(t, errOverlappingSpans, func() { mergeSpanLists(a, b) })
	})
}

func TestSpanListCheckLinks(t *testing.T) {
	mem := mm.NewArena(0x1000, 256)

	t.Run("cycle", func(t *testing.T) {
		var l SpanList
		a := newSpan(mem, 0x1000, 0x10)
		b := newSpan(mem, 0x1020, 0x10)
		l.Push(a)
		l.Push(b)
		a.setNext(b)

		require.PanicsWithValue(t, errSpanCycle, l.checkLinks)
	})

	t.Run("stale length", func(t *testing.T) {
		var l SpanList
		l.Push(newSpan(mem, 0x1040, 0x10))
		l.Push(newSpan(mem, 0x1060, 0x10))
		l.length = 3

		require.PanicsWithValue(t, errLengthMismatch, l.checkLinks)
	})
}
