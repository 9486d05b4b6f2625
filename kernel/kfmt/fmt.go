// Package kfmt implements the boot stub's console output: a Printf subset
// that never touches the heap, an early ring buffer that captures output
// until the firmware console is attached, a line-prefixing writer and the
// kernel panic handler.
package kfmt

import "io"

// numBufSize is large enough for a 64-bit value in base 8 plus a sign.
const numBufSize = 24

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")

	digits = "0123456789abcdef"

	// earlyPrintBuffer holds Printf output produced before SetOutputSink
	// has been called.
	earlyPrintBuffer ringBuffer

	// outputSink receives Printf output. When nil, output is captured by
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink routes Printf output to w and replays everything captured by
// the early ring buffer so far.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the active output sink. Before SetOutputSink is
// called the returned writer feeds the early ring buffer.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf formats according to a format specifier and writes to the active
// output sink. The supported verbs are:
//
//	%s  string or []byte
//	%d  integer, base 10 (space padded)
//	%x  integer, base 16 (zero padded)
//	%o  integer, base 8 (zero padded)
//	%t  bool
//	%%  a literal percent sign
//
// An optional decimal width may precede the verb. Arguments are not checked
// for fmt.Stringer.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w. A nil w selects the early ring
// buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		p      = printer{w: w}
		argIdx int
		i      int
	)

	for i < len(format) {
		ch := format[i]
		if ch != '%' {
			p.writeByte(ch)
			i++
			continue
		}

		width := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			p.write(errNoVerb)
			break
		}

		verb := format[i]
		i++

		switch verb {
		case '%':
			p.writeByte('%')
			continue
		case 's', 'd', 'x', 'o', 't':
		default:
			p.write(errNoVerb)
			continue
		}

		if argIdx >= len(args) {
			p.write(errMissingArg)
			continue
		}

		arg := args[argIdx]
		argIdx++

		switch verb {
		case 's':
			p.fmtString(arg, width)
		case 'd':
			p.fmtInt(arg, 10, width)
		case 'x':
			p.fmtInt(arg, 16, width)
		case 'o':
			p.fmtInt(arg, 8, width)
		case 't':
			p.fmtBool(arg)
		}
	}

	for ; argIdx < len(args); argIdx++ {
		p.write(errExtraArg)
	}
}

// printer carries the destination and scratch space for a single Fprintf
// call. It lives on the stack of its caller.
type printer struct {
	w       io.Writer
	one     [1]byte
	scratch [numBufSize]byte
}

func (p *printer) write(b []byte) {
	if p.w != nil {
		_, _ = p.w.Write(b)
		return
	}
	_, _ = earlyPrintBuffer.Write(b)
}

func (p *printer) writeByte(b byte) {
	p.one[0] = b
	p.write(p.one[:])
}

func (p *printer) pad(ch byte, count int) {
	for ; count > 0; count-- {
		p.writeByte(ch)
	}
}

func (p *printer) fmtBool(v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		p.write(errWrongArgType)
	case b:
		p.writeString("true")
	default:
		p.writeString("false")
	}
}

func (p *printer) writeString(s string) {
	for i := 0; i < len(s); i++ {
		p.writeByte(s[i])
	}
}

func (p *printer) fmtString(v interface{}, width int) {
	switch s := v.(type) {
	case string:
		p.pad(' ', width-len(s))
		p.writeString(s)
	case []byte:
		p.pad(' ', width-len(s))
		p.write(s)
	default:
		p.write(errWrongArgType)
	}
}

func (p *printer) fmtInt(v interface{}, base uint64, width int) {
	var (
		mag uint64
		neg bool
	)

	switch n := v.(type) {
	case uint8:
		mag = uint64(n)
	case uint16:
		mag = uint64(n)
	case uint32:
		mag = uint64(n)
	case uint64:
		mag = n
	case uint:
		mag = uint64(n)
	case uintptr:
		mag = uint64(n)
	case int8:
		mag, neg = abs(int64(n))
	case int16:
		mag, neg = abs(int64(n))
	case int32:
		mag, neg = abs(int64(n))
	case int64:
		mag, neg = abs(n)
	case int:
		mag, neg = abs(int64(n))
	default:
		p.write(errWrongArgType)
		return
	}

	// Digits are produced right to left into the scratch buffer.
	pos := len(p.scratch)
	for {
		pos--
		p.scratch[pos] = digits[mag%base]
		mag /= base
		if mag == 0 {
			break
		}
	}

	// Reserve one slot for a sign.
	if width > len(p.scratch)-1 {
		width = len(p.scratch) - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	if padCh == '0' {
		for len(p.scratch)-pos < width {
			pos--
			p.scratch[pos] = '0'
		}
		if neg {
			pos--
			p.scratch[pos] = '-'
		}
	} else {
		if neg {
			pos--
			p.scratch[pos] = '-'
		}
		for len(p.scratch)-pos < width {
			pos--
			p.scratch[pos] = ' '
		}
	}

	p.write(p.scratch[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}
