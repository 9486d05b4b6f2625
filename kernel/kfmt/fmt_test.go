package kfmt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintf(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	// mute vet warnings about malformed printf formatting strings
	printfn := Printf

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{func() { printfn("no args") }, "no args"},
		{func() { printfn("%t", true) }, "true"},
		{func() { printfn("%8t", false) }, "false"},
		{func() { printfn("%s arg", "STRING") }, "STRING arg"},
		{func() { printfn("%s arg", []byte("BYTES")) }, "BYTES arg"},
		{func() { printfn("'%4s' padded", "ABC") }, "' ABC' padded"},
		{func() { printfn("'%4s' too long", "ABCDE") }, "'ABCDE' too long"},
		{func() { printfn("uint: %d", uint8(10)) }, "uint: 10"},
		{func() { printfn("uint: %o", uint16(0777)) }, "uint: 777"},
		{func() { printfn("uint: 0x%x", uint32(0xbadf00d)) }, "uint: 0xbadf00d"},
		{func() { printfn("uint: '%10d'", uint64(123)) }, "uint: '       123'"},
		{func() { printfn("uint: '%4o'", uint(0777)) }, "uint: '0777'"},
		{func() { printfn("span 0x%16x", uintptr(0xffff800000001000)) }, "span 0xffff800000001000"},
		{func() { printfn("addr 0x%16x", uintptr(0x1000)) }, "addr 0x0000000000001000"},
		{func() { printfn("int: %d", int8(-10)) }, "int: -10"},
		{func() { printfn("int: %x", int32(-0xbadf00d)) }, "int: -badf00d"},
		{func() { printfn("int: '%10d'", int64(-12345678)) }, "int: ' -12345678'"},
		{func() { printfn("int: '%10d'", int64(-1234567890)) }, "int: '-1234567890'"},
		{func() { printfn("int: '%8x'", int(-0xbad)) }, "int: '-00000bad'"},
		{func() { printfn("wide '%128x'", 1) }, "wide '" + strings.Repeat("0", numBufSize-2) + "1'"},
		{func() { printfn("%%%s%d%t", "foo", 123, true) }, `%foo123true`},
		{func() { printfn("more args", "foo", "bar") }, `more args%!(EXTRA)%!(EXTRA)`},
		{func() { printfn("missing args %s") }, `missing args (MISSING)`},
		{func() { printfn("bad verb %Q") }, `bad verb %!(NOVERB)`},
		{func() { printfn("dangling %12") }, `dangling %!(NOVERB)`},
		{func() { printfn("not bool %t", "foo") }, `not bool %!(WRONGTYPE)`},
		{func() { printfn("not int %d", "foo") }, `not int %!(WRONGTYPE)`},
		{func() { printfn("not string %s", 123) }, `not string %!(WRONGTYPE)`},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		spec.fn()
		assert.Equal(t, spec.expOutput, buf.String(), "spec %d", specIndex)
	}
}

func TestPrintfToRingBuffer(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	outputSink = nil
	earlyPrintBuffer = ringBuffer{}

	Printf("heap: fed %d bytes", 4096)

	var buf bytes.Buffer
	SetOutputSink(&buf)

	require.Equal(t, "heap: fed 4096 bytes", buf.String())
}

func TestGetOutputSink(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	outputSink = nil
	earlyPrintBuffer = ringBuffer{}
	require.Equal(t, &earlyPrintBuffer, GetOutputSink())

	w := PrefixWriter{Sink: GetOutputSink(), Prefix: []byte("[heap] ")}
	Fprintf(&w, "ready\n")

	var buf bytes.Buffer
	SetOutputSink(&buf)
	require.Equal(t, &buf, GetOutputSink())
	require.Equal(t, "[heap] ready\n", buf.String())
}

func TestFprintf(t *testing.T) {
	var buf bytes.Buffer

	Fprintf(&buf, "region [0x%x, 0x%x)", uintptr(0x1000), uintptr(0x2000))
	require.Equal(t, "region [0x1000, 0x2000)", buf.String())
}
