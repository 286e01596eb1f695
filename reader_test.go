package assetcache_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/archive"
	"github.com/meigma/assetcache/compress"
	"github.com/meigma/assetcache/index"
	"github.com/meigma/assetcache/internal/testutil"
)

func itemsFixture(t *testing.T, enc archive.Encoding) *testutil.Fixture {
	t.Helper()
	f := testutil.NewFixture(enc, compress.TagGzip)
	f.AddGroup(t, index.MajorItems, 0,
		testutil.Member{ID: 0, Data: []byte("dwarf remains")},
		testutil.Member{ID: 5, Data: nil},
		testutil.Member{ID: 9, Data: []byte("abyssal whip")},
	)
	f.AddGroup(t, index.MajorItems, 2,
		testutil.Member{ID: 1, Data: []byte("item 513")},
		testutil.Member{ID: 2, Data: bytes.Repeat([]byte{0xaa}, 300)},
	)
	f.AddGroup(t, index.MajorModels, 4, testutil.Member{ID: 0, Data: []byte("model")})
	f.Build(t)
	return f
}

func newReader(t *testing.T, kind assetcache.Kind, f *testutil.Fixture) (*assetcache.Reader, *testutil.MemoryBackend) {
	t.Helper()
	backend := testutil.NewMemoryBackend(kind, f)
	r, err := assetcache.NewReader(backend)
	require.NoError(t, err)
	return r, backend
}

func TestReaderGetCacheIndex(t *testing.T) {
	t.Parallel()

	f := itemsFixture(t, archive.EncodingNetwork)
	r, backend := newReader(t, assetcache.KindLive, f)

	indices, err := r.GetCacheIndex(context.Background(), index.MajorItems)
	require.NoError(t, err)
	require.Len(t, indices, 3)
	assert.Nil(t, indices[1], "minor 1 was never allocated")
	assert.Equal(t, []uint32{0, 5, 9}, indices[0].SubIndices)
	assert.Equal(t, f.Index(index.MajorItems)[1].CRC, indices[2].CRC)

	_, err = r.GetCacheIndex(context.Background(), index.MajorItems)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.Calls(index.MajorIndex, uint32(index.MajorItems)))
	assert.Equal(t, 1, backend.Calls(index.MajorIndex, uint32(index.MajorIndex)))
}

func TestReaderIndexCRCByKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind      assetcache.Kind
		wantRoots int
	}{
		{assetcache.KindLive, 1},
		{assetcache.KindCallback, 1},
		{assetcache.KindHistoric, 0},
		{assetcache.KindFlatFile, 0},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			f := itemsFixture(t, archive.EncodingNetwork)
			r, backend := newReader(t, tt.kind, f)
			_, err := r.GetCacheIndex(context.Background(), index.MajorItems)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRoots, backend.Calls(index.MajorIndex, uint32(index.MajorIndex)))
		})
	}
}

func TestReaderIndexChecksumMismatch(t *testing.T) {
	t.Parallel()

	f := itemsFixture(t, archive.EncodingNetwork)
	key := testutil.Key{Major: index.MajorIndex, Minor: uint32(index.MajorItems)}
	tampered := bytes.Clone(f.Raw[key])
	tampered[len(tampered)-1] ^= 0xff
	f.Raw[key] = tampered

	r, _ := newReader(t, assetcache.KindLive, f)
	_, err := r.GetCacheIndex(context.Background(), index.MajorItems)
	assert.ErrorIs(t, err, assetcache.ErrChecksumMismatch)

	// The failure is not memoized.
	_, err = r.GetCacheIndex(context.Background(), index.MajorItems)
	assert.ErrorIs(t, err, assetcache.ErrChecksumMismatch)
}

func TestReaderMajorMissingFromRoot(t *testing.T) {
	t.Parallel()

	f := itemsFixture(t, archive.EncodingNetwork)
	r, _ := newReader(t, assetcache.KindLive, f)
	_, err := r.GetCacheIndex(context.Background(), index.MajorNPCs)
	assert.ErrorIs(t, err, assetcache.ErrNotFound)
}

func TestReaderGetCacheIndexConcurrent(t *testing.T) {
	t.Parallel()

	f := itemsFixture(t, archive.EncodingNetwork)
	r, backend := newReader(t, assetcache.KindLive, f)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.GetCacheIndex(context.Background(), index.MajorItems)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, backend.Calls(index.MajorIndex, uint32(index.MajorItems)))
}

func TestReaderGetFileArchive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind assetcache.Kind
		enc  archive.Encoding
	}{
		{assetcache.KindLive, archive.EncodingNetwork},
		{assetcache.KindLocalDB, archive.EncodingLocal},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			f := itemsFixture(t, tt.enc)
			r, _ := newReader(t, tt.kind, f)

			indices, err := r.GetCacheIndex(context.Background(), index.MajorItems)
			require.NoError(t, err)
			files, err := r.GetFileArchive(context.Background(), indices[0])
			require.NoError(t, err)
			require.Len(t, files, 3)
			assert.Equal(t, "dwarf remains", string(files[0].Buffer))
			assert.Equal(t, uint32(5), files[1].FileID)
			assert.Empty(t, files[1].Buffer)
			assert.Equal(t, "abyssal whip", string(files[2].Buffer))
		})
	}
}

func TestReaderGetFileByID(t *testing.T) {
	t.Parallel()

	f := itemsFixture(t, archive.EncodingNetwork)
	r, _ := newReader(t, assetcache.KindLive, f)
	ctx := context.Background()

	got, err := r.GetFileByID(ctx, index.MajorItems, 2*256+1)
	require.NoError(t, err)
	assert.Equal(t, "item 513", string(got))

	got, err = r.GetFileByID(ctx, index.MajorItems, 9)
	require.NoError(t, err)
	assert.Equal(t, "abyssal whip", string(got))

	_, err = r.GetFileByID(ctx, index.MajorItems, 256+3)
	assert.ErrorIs(t, err, assetcache.ErrNotFound, "archive 1 is a gap")

	_, err = r.GetFileByID(ctx, index.MajorItems, 4)
	assert.ErrorIs(t, err, assetcache.ErrNotFound, "sub-file 4 is absent from archive 0")
}

func TestReaderEncryptedGroup(t *testing.T) {
	t.Parallel()

	key := compress.Key{1, 2, 3, 4}
	f := testutil.NewFixture(archive.EncodingNetwork, compress.TagGzip)
	entry := f.AddEncryptedGroup(t, index.MajorMapsquares, 12850, key, []byte("terrain"))
	f.Build(t)

	r, _ := newReader(t, assetcache.KindLive, f)
	got, err := r.GetFile(context.Background(), index.MajorMapsquares, 12850, entry.CRC)
	require.NoError(t, err)
	assert.Equal(t, "terrain", string(got))
}

type unknownKindBackend struct{ testutil.MemoryBackend }

func (*unknownKindBackend) Kind() assetcache.Kind { return assetcache.Kind(99) }

func TestNewReaderUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := assetcache.NewReader(&unknownKindBackend{})
	assert.ErrorIs(t, err, assetcache.ErrUnknownKind)
}

func TestKindDispatch(t *testing.T) {
	t.Parallel()

	enc, err := assetcache.KindLocalDB.ArchiveEncoding()
	require.NoError(t, err)
	assert.Equal(t, archive.EncodingLocal, enc)

	for _, k := range []assetcache.Kind{assetcache.KindLive, assetcache.KindHistoric, assetcache.KindFlatFile, assetcache.KindCallback} {
		enc, err := k.ArchiveEncoding()
		require.NoError(t, err)
		assert.Equal(t, archive.EncodingNetwork, enc, k.String())
	}

	_, err = assetcache.Kind(0).VerifiesIndexCRC()
	assert.ErrorIs(t, err, assetcache.ErrUnknownKind)
	assert.Equal(t, "kind(0)", assetcache.Kind(0).String())
}
