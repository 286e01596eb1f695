package sizing

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTooBig = errors.New("too big")

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(bytes.NewReader([]byte("abc")), 3, errTooBig)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	_, err = ReadAllWithLimit(bytes.NewReader([]byte("abcd")), 3, errTooBig)
	assert.ErrorIs(t, err, errTooBig)
}

func TestReadExact(t *testing.T) {
	t.Parallel()

	data, err := ReadExact(bytes.NewReader([]byte("abcdef")), 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	_, err = ReadExact(bytes.NewReader([]byte("ab")), 4)
	assert.Error(t, err)
}

func TestCheckLimit(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckLimit(10, 0, errTooBig))
	assert.NoError(t, CheckLimit(10, 10, errTooBig))
	assert.ErrorIs(t, CheckLimit(11, 10, errTooBig), errTooBig)
}
