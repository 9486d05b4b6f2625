package mm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignHelpers(t *testing.T) {
	specs := []struct {
		v, align      uintptr
		expUp, expDwn uintptr
	}{
		{0, 16, 0, 0},
		{1, 16, 16, 0},
		{16, 16, 16, 16},
		{0x1001, 0x1000, 0x2000, 0x1000},
		{0xffff800000001234, 8, 0xffff800000001238, 0xffff800000001230},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.expUp, AlignUp(spec.v, spec.align), "spec %d", specIndex)
		assert.Equal(t, spec.expDwn, AlignDown(spec.v, spec.align), "spec %d", specIndex)
	}
}

func TestPowerOfTwoHelpers(t *testing.T) {
	assert.False(t, IsPowerOfTwo(0))
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(4096))
	assert.False(t, IsPowerOfTwo(4097))

	assert.Equal(t, -1, Log2(0))
	assert.Equal(t, 0, Log2(1))
	assert.Equal(t, 9, Log2(512))
	assert.Equal(t, 9, Log2(1023))
	assert.Equal(t, 63, Log2(1<<63))

	assert.Equal(t, 0, CeilLog2(0))
	assert.Equal(t, 0, CeilLog2(1))
	assert.Equal(t, 1, CeilLog2(2))
	assert.Equal(t, 2, CeilLog2(3))
	assert.Equal(t, 9, CeilLog2(512))
	assert.Equal(t, 10, CeilLog2(513))
}

func TestExhaustedError(t *testing.T) {
	req := Layout{Size: 4096, Align: 8}

	var err error = &ExhaustedError{Request: req}

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, req, exhausted.Request)
	require.NotEmpty(t, err.Error())
}
