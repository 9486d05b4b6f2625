package kfmt

import "io"

// ringBufferSize is the capacity of the early output buffer. It must be a
// power of 2.
const ringBufferSize = 4096

// ringBuffer keeps the most recent ringBufferSize bytes written to it. Once
// full, new writes overwrite the oldest data.
type ringBuffer struct {
	buffer [ringBufferSize]byte
	start  int
	count  int
}

// Write appends p to the buffer, dropping the oldest bytes if needed. It
// never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.count)&(ringBufferSize-1)] = b
		if rb.count == ringBufferSize {
			rb.start = (rb.start + 1) & (ringBufferSize - 1)
			continue
		}
		rb.count++
	}

	return len(p), nil
}

// Read drains up to len(p) buffered bytes into p. It returns io.EOF once the
// buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && rb.count > 0 {
		// Copy the contiguous chunk up to the end of the backing array.
		chunk := ringBufferSize - rb.start
		if chunk > rb.count {
			chunk = rb.count
		}
		copied := copy(p[n:], rb.buffer[rb.start:rb.start+chunk])

		n += copied
		rb.count -= copied
		rb.start = (rb.start + copied) & (ringBufferSize - 1)
	}

	return n, nil
}
