package disk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	key := Key{Major: 5, Minor: 1234, CRC: 0xdeadbeef}
	require.NoError(t, c.Put(key, []byte("group")))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "group", string(got))
	assert.Equal(t, int64(5), c.SizeBytes())

	_, err = os.Stat(filepath.Join(dir, "5", "1234-deadbeef.dat"))
	require.NoError(t, err)

	_, ok = c.Get(Key{Major: 5, Minor: 1234, CRC: 1})
	assert.False(t, ok, "a different crc must miss")
}

func TestCachePutExistingIsNoop(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	key := Key{Major: 2, Minor: 10}
	require.NoError(t, c.Put(key, []byte("first")))
	require.NoError(t, c.Put(key, []byte("second")))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "first", string(got))
	assert.Equal(t, int64(5), c.SizeBytes())
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	key := Key{Major: 1, Minor: 1, CRC: 1}
	require.NoError(t, c.Put(key, []byte("abc")))
	require.NoError(t, c.Delete(key))
	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.SizeBytes())

	require.NoError(t, c.Delete(key), "deleting a missing key is not an error")
}

func TestCacheMaxBytesPrunesOldest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithMaxBytes(10))
	require.NoError(t, err)

	oldKey := Key{Major: 1, Minor: 1}
	newKey := Key{Major: 1, Minor: 2}
	require.NoError(t, c.Put(oldKey, []byte("aaaaaa")))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(c.path(oldKey), past, past))

	require.NoError(t, c.Put(newKey, []byte("bbbbbb")))

	_, ok := c.Get(oldKey)
	assert.False(t, ok, "oldest file should be pruned")
	_, ok = c.Get(newKey)
	assert.True(t, ok)
	assert.LessOrEqual(t, c.SizeBytes(), int64(10))
}

func TestCacheOversizedNotStored(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), WithMaxBytes(4))
	require.NoError(t, err)

	key := Key{Major: 3, Minor: 3}
	require.NoError(t, c.Put(key, []byte("too large")))
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestNewCountsExistingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, c.Put(Key{Major: 9, Minor: 9}, []byte("1234567")))

	reopened, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(7), reopened.SizeBytes())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
	_, err = New(t.TempDir(), WithMaxBytes(-1))
	require.Error(t, err)
}
