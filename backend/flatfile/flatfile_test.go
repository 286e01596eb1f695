package flatfile_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/backend/flatfile"
	"github.com/meigma/assetcache/compress"
	"github.com/meigma/assetcache/index"
	"github.com/meigma/assetcache/internal/testutil"
)

func writeFixture(t *testing.T, b *flatfile.Backend, f *testutil.Fixture) {
	t.Helper()
	for key, raw := range f.Raw {
		require.NoError(t, b.WriteFile(key.Major, key.Minor, raw))
	}
}

func TestBackendThroughReader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b, err := flatfile.New(dir)
	require.NoError(t, err)

	f := testutil.NewFixture(archive.EncodingNetwork, compress.TagLZMA)
	f.AddGroup(t, index.MajorStructs, 0,
		testutil.Member{ID: 0, Data: []byte("struct 0")},
		testutil.Member{ID: 31, Data: []byte("struct 31")},
	)
	f.Build(t)
	writeFixture(t, b, f)

	_, err = os.Stat(filepath.Join(dir, "22", "0.dat"))
	require.NoError(t, err)

	r, err := assetcache.NewReader(b)
	require.NoError(t, err)
	got, err := r.GetFileByID(context.Background(), index.MajorStructs, 31)
	require.NoError(t, err)
	assert.Equal(t, "struct 31", string(got))
}

func TestBackendNotFound(t *testing.T) {
	t.Parallel()

	b, err := flatfile.New(t.TempDir())
	require.NoError(t, err)
	_, err = b.GetFile(context.Background(), 2, 10, 0)
	assert.ErrorIs(t, err, assetcache.ErrNotFound)
}

func TestBackendChecksum(t *testing.T) {
	t.Parallel()

	b, err := flatfile.New(t.TempDir())
	require.NoError(t, err)

	f := testutil.NewFixture(archive.EncodingNetwork, compress.TagNone)
	entry := f.AddGroup(t, 2, 10, testutil.Member{ID: 0, Data: []byte("config")})
	writeFixture(t, b, f)

	got, err := b.GetFile(context.Background(), 2, 10, entry.CRC)
	require.NoError(t, err)
	assert.Equal(t, "config", string(got))

	_, err = b.GetFile(context.Background(), 2, 10, entry.CRC+1)
	assert.ErrorIs(t, err, assetcache.ErrChecksumMismatch)
}

func TestNewRejectsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{1}, 4), 0o600))
	_, err := flatfile.New(path)
	require.Error(t, err)
}
