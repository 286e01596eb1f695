package localdb_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/backend/localdb"
	"github.com/meigma/assetcache/compress"
	"github.com/meigma/assetcache/index"
	"github.com/meigma/assetcache/internal/testutil"
)

func openStore(t *testing.T, dir string, opts ...localdb.Option) *localdb.Store {
	t.Helper()
	s, err := localdb.Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func liveFixture(t *testing.T, npcName string) *testutil.Fixture {
	t.Helper()
	f := testutil.NewFixture(archive.EncodingNetwork, compress.TagGzip)
	f.AddGroup(t, index.MajorNPCs, 0,
		testutil.Member{ID: 0, Data: []byte("hans")},
		testutil.Member{ID: 1, Data: []byte(npcName)},
		testutil.Member{ID: 2, Data: nil},
	)
	f.AddGroup(t, index.MajorNPCs, 1, testutil.Member{ID: 0, Data: []byte("npc 128")})
	f.AddGroup(t, index.MajorConfig, 10, testutil.Member{ID: 0, Data: []byte("config 10")})
	f.Build(t)
	return f
}

func liveSource(t *testing.T, f *testutil.Fixture) *assetcache.Reader {
	t.Helper()
	r, err := assetcache.NewReader(testutil.NewMemoryBackend(assetcache.KindLive, f))
	require.NoError(t, err)
	return r
}

func TestPutAndGetFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openStore(t, dir)
	ctx := context.Background()

	require.NoError(t, s.PutFile(ctx, index.MajorConfig, 7, 3, 0x1234, []byte("config 7")))
	got, err := s.GetFile(ctx, index.MajorConfig, 7, 0x1234)
	require.NoError(t, err)
	assert.Equal(t, "config 7", string(got))

	assert.FileExists(t, filepath.Join(dir, "js5-2.jcache"))

	_, err = s.GetFile(ctx, index.MajorConfig, 8, 0)
	assert.ErrorIs(t, err, assetcache.ErrNotFound)
	_, err = s.GetFile(ctx, index.MajorItems, 0, 0)
	assert.ErrorIs(t, err, assetcache.ErrNotFound)
	_, err = s.GetFile(ctx, index.MajorIndex, uint32(index.MajorItems), 0)
	assert.ErrorIs(t, err, assetcache.ErrNotFound)
}

func TestGetFileCRCMismatchIsSoft(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	s := openStore(t, t.TempDir(), localdb.WithLogger(logger))
	ctx := context.Background()

	require.NoError(t, s.PutFile(ctx, index.MajorConfig, 1, 1, 100, []byte("data")))
	got, err := s.GetFile(ctx, index.MajorConfig, 1, 102)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	assert.Contains(t, logs.String(), "stored crc differs from index")
}

func TestSyncThenRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openStore(t, dir)
	ctx := context.Background()
	f := liveFixture(t, "guard")

	stats, err := s.Sync(ctx, liveSource(t, f))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Majors)
	assert.Equal(t, 3, stats.Groups)

	r, err := assetcache.NewReader(s)
	require.NoError(t, err)

	got, err := r.GetFileByID(ctx, index.MajorNPCs, 1)
	require.NoError(t, err)
	assert.Equal(t, "guard", string(got))
	got, err = r.GetFileByID(ctx, index.MajorNPCs, 128)
	require.NoError(t, err)
	assert.Equal(t, "npc 128", string(got))
	got, err = r.GetFileByID(ctx, index.MajorConfig, 10)
	require.NoError(t, err)
	assert.Equal(t, "config 10", string(got))

	root, err := s.RootIndex(ctx)
	require.NoError(t, err)
	require.Len(t, root, int(index.MajorNPCs)+1)
	assert.Nil(t, root[0])
	assert.NotNil(t, root[index.MajorConfig])

	again, err := s.Sync(ctx, liveSource(t, f))
	require.NoError(t, err)
	assert.Equal(t, localdb.SyncStats{}, again, "an up-to-date mirror has nothing to copy")
}

func TestChangedAndIncrementalSync(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())
	ctx := context.Background()

	_, err := s.Sync(ctx, liveSource(t, liveFixture(t, "guard")))
	require.NoError(t, err)

	updated := liveFixture(t, "guard captain")
	src := liveSource(t, updated)
	remote, err := src.GetCacheIndex(ctx, index.MajorIndex)
	require.NoError(t, err)

	changed, err := s.Changed(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, []uint8{index.MajorNPCs}, changed)

	stats, err := s.Sync(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, localdb.SyncStats{Majors: 1, Groups: 1}, stats)

	r, err := assetcache.NewReader(s)
	require.NoError(t, err)
	got, err := r.GetFileByID(ctx, index.MajorNPCs, 1)
	require.NoError(t, err)
	assert.Equal(t, "guard captain", string(got))
}

func TestReadOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	rw, err := localdb.Open(dir)
	require.NoError(t, err)
	require.NoError(t, rw.PutFile(ctx, index.MajorConfig, 1, 1, 1, []byte("ro")))
	require.NoError(t, rw.Close())

	ro := openStore(t, dir, localdb.WithReadOnly(), localdb.WithPoolSize(1))
	got, err := ro.GetFile(ctx, index.MajorConfig, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "ro", string(got))

	require.Error(t, ro.PutFile(ctx, index.MajorItems, 1, 1, 1, []byte("x")))
}

func TestClosed(t *testing.T) {
	t.Parallel()

	s, err := localdb.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.GetFile(context.Background(), 2, 1, 0)
	assert.ErrorIs(t, err, assetcache.ErrClosed)
}
