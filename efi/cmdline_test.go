package efi

import (
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/require"
)

func encodeUCS2(s string) []byte {
	var out []byte
	for _, c := range utf16.Encode([]rune(s)) {
		out = append(out, byte(c), byte(c>>8))
	}
	return out
}

func TestDecodeLoadOptions(t *testing.T) {
	raw := append(encodeUCS2("heap.backend=buddy heap.debug"), 0, 0, 'x', 0)

	opts, err := DecodeLoadOptions(raw)
	require.NoError(t, err)
	require.Equal(t, "heap.backend=buddy heap.debug", opts)

	opts, err = DecodeLoadOptions(nil)
	require.NoError(t, err)
	require.Empty(t, opts)
}

func TestEncodeLoadOptions(t *testing.T) {
	raw, err := EncodeLoadOptions("heap.unit=4096")
	require.NoError(t, err)
	require.Equal(t, append(encodeUCS2("heap.unit=4096"), 0, 0), raw)

	opts, err := DecodeLoadOptions(raw)
	require.NoError(t, err)
	require.Equal(t, "heap.unit=4096", opts)
}

func TestParseCmdLine(t *testing.T) {
	kv := ParseCmdLine("  heap.backend=list heap.gclimit=64\tquiet a=b=c ")
	require.Equal(t, map[string]string{
		"heap.backend": "list",
		"heap.gclimit": "64",
		"quiet":        "quiet",
	}, kv)

	require.Empty(t, ParseCmdLine(""))
}

func TestBootInfoCmdLine(t *testing.T) {
	info := BootInfo{LoadOptions: encodeUCS2("heap.unit=8192")}
	require.Equal(t, map[string]string{"heap.unit": "8192"}, info.CmdLine())
}
