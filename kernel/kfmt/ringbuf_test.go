package kfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBuffer(t *testing.T) {
	expStr := "heap: free list gc pass merged 12 spans"

	t.Run("read/write", func(t *testing.T) {
		var rb ringBuffer
		n, err := rb.Write([]byte(expStr))
		require.NoError(t, err)
		require.Equal(t, len(expStr), n)
		require.Equal(t, expStr, readByteByByte(&rb))

		_, err = rb.Read(make([]byte, 1))
		require.Equal(t, io.EOF, err)
	})

	t.Run("wraps around the backing array", func(t *testing.T) {
		var rb ringBuffer
		rb.start = ringBufferSize - 3

		_, err := rb.Write([]byte(expStr))
		require.NoError(t, err)

		var buf bytes.Buffer
		_, err = io.Copy(&buf, &rb)
		require.NoError(t, err)
		require.Equal(t, expStr, buf.String())
	})

	t.Run("overflow keeps the most recent bytes", func(t *testing.T) {
		var rb ringBuffer
		_, _ = rb.Write([]byte(strings.Repeat("x", ringBufferSize)))
		_, _ = rb.Write([]byte(expStr))

		var buf bytes.Buffer
		_, err := io.Copy(&buf, &rb)
		require.NoError(t, err)

		got := buf.String()
		require.Len(t, got, ringBufferSize)
		require.True(t, strings.HasSuffix(got, expStr))
		require.True(t, strings.HasPrefix(got, "xxx"))
	})
}

func readByteByByte(r io.Reader) string {
	var (
		buf bytes.Buffer
		b   = make([]byte, 1)
	)
	for {
		if _, err := r.Read(b); err == io.EOF {
			break
		}
		buf.Write(b)
	}
	return buf.String()
}
