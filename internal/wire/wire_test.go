package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderFields(t *testing.T) {
	t.Parallel()

	buf := []byte{0x7f, 0x01, 0x02, 0xff, 0xff, 0xff, 0xfe, 0xaa}
	r := NewReader(buf)
	assert.Equal(t, uint8(0x7f), r.U8())
	assert.Equal(t, uint16(0x0102), r.U16())
	assert.Equal(t, int32(-2), r.I32())
	assert.Equal(t, 1, r.Remaining())
	require.NoError(t, r.Err())

	assert.Equal(t, uint16(0), r.U16())
	assert.True(t, errors.Is(r.Err(), ErrShortBuffer))
	assert.Equal(t, 0, r.Remaining())
}

func TestSmart32(t *testing.T) {
	t.Parallel()

	for _, v := range []uint32{0, 1, 0x7fff, 0x8000, 70000, 0x7fffffff} {
		buf := AppendSmart32(nil, v)
		if v < 0x8000 {
			assert.Len(t, buf, 2)
		} else {
			assert.Len(t, buf, 4)
		}
		r := NewReader(buf)
		assert.Equal(t, v, r.Smart32())
		require.NoError(t, r.Err())
	}
}
