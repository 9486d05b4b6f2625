package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set when the last byte written was not a line feed.
	midLine bool
}

// Write writes p to the sink, emitting Prefix before the first byte of every
// line. The returned byte count excludes injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		end := len(p)
		for i, b := range p {
			if b == '\n' {
				end = i + 1
				w.midLine = false
				break
			}
		}

		n, err := w.Sink.Write(p[:end])
		written += n
		if err != nil {
			return written, err
		}
		p = p[end:]
	}

	return written, nil
}
