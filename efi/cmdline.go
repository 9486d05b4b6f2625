package efi

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// DecodeLoadOptions converts the UCS-2 load options of the loaded image into
// a string. Decoding stops at the first NUL character.
func DecodeLoadOptions(raw []byte) (string, error) {
	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}

	opts := string(decoded)
	if nul := strings.IndexByte(opts, 0); nul >= 0 {
		opts = opts[:nul]
	}
	return opts, nil
}

// EncodeLoadOptions converts opts into a NUL terminated UCS-2 option buffer
// as the firmware passes it to the loaded image.
func EncodeLoadOptions(opts string) ([]byte, error) {
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(opts + "\x00"))
}

// ParseCmdLine splits a command line into key-value pairs. Fields of the form
// foo=bar map foo to bar; a bare field foo maps foo to itself. Fields with
// more than one '=' are ignored.
func ParseCmdLine(cmdLine string) map[string]string {
	kv := make(map[string]string)

	for _, pair := range strings.Fields(cmdLine) {
		parts := strings.Split(pair, "=")
		switch len(parts) {
		case 2: // foo=bar
			kv[parts[0]] = parts[1]
		case 1: // nofoo
			kv[parts[0]] = parts[0]
		}
	}

	return kv
}
