package kfmt

import (
	"bytes"
	"efiboot/kernel"
	"efiboot/kernel/cpu"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		outputSink = nil
	}()

	var (
		buf           bytes.Buffer
		cpuHaltCalled bool
	)
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}
	SetOutputSink(&buf)

	specs := []struct {
		name string
		arg  interface{}
		exp  string
	}{
		{
			"with *kernel.Error",
			&kernel.Error{Module: "heap", Message: "span list contains a cycle"},
			"\n-----------------------------------\n[heap] unrecoverable error: span list contains a cycle\n*** boot stub panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with error",
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** boot stub panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with string",
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** boot stub panic: system halted ***\n-----------------------------------\n",
		},
		{
			"without error",
			nil,
			"\n-----------------------------------\n*** boot stub panic: system halted ***\n-----------------------------------\n",
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			buf.Reset()
			cpuHaltCalled = false

			Panic(spec.arg)

			require.Equal(t, spec.exp, buf.String())
			require.True(t, cpuHaltCalled, "expected cpu.Halt() to be called by Panic")
		})
	}
}
