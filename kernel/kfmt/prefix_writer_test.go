package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		input string
		exp   string
	}{
		{"", ""},
		{"\n", "[heap] \n"},
		{"no line break anywhere", "[heap] no line break anywhere"},
		{"line feed at the end\n", "[heap] line feed at the end\n"},
		{
			"\nfed region\nallocated 64 bytes\ngc pass\ndone",
			"[heap] \n[heap] fed region\n[heap] allocated 64 bytes\n[heap] gc pass\n[heap] done",
		},
	}

	var buf bytes.Buffer
	for specIndex, spec := range specs {
		buf.Reset()
		w := PrefixWriter{Sink: &buf, Prefix: []byte("[heap] ")}

		wrote, err := w.Write([]byte(spec.input))
		require.NoError(t, err, "spec %d", specIndex)
		assert.Equal(t, len(spec.input), wrote, "spec %d", specIndex)
		assert.Equal(t, spec.exp, buf.String(), "spec %d", specIndex)
	}
}

func TestPrefixWriterAcrossWrites(t *testing.T) {
	var (
		buf bytes.Buffer
		w   = PrefixWriter{Sink: &buf, Prefix: []byte("> ")}
	)

	_, _ = w.Write([]byte("first "))
	_, _ = w.Write([]byte("line\nsecond"))
	_, _ = w.Write([]byte(" line\n"))

	require.Equal(t, "> first line\n> second line\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write(_ []byte) (int, error) {
	return 0, errors.New("console gone")
}

func TestPrefixWriterErrors(t *testing.T) {
	w := PrefixWriter{Sink: failingWriter{}, Prefix: []byte("> ")}

	n, err := w.Write([]byte("data"))
	require.Error(t, err)
	require.Zero(t, n)
}
