package archive

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomFiles(rng *rand.Rand, n int) [][]byte {
	files := make([][]byte, n)
	for i := range files {
		size := rng.Intn(64)
		if rng.Intn(4) == 0 {
			size = 0
		}
		files[i] = make([]byte, size)
		rng.Read(files[i])
	}
	return files
}

func ids(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i * 3)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, enc := range []Encoding{EncodingNetwork, EncodingLocal} {
		for _, n := range []int{1, 2, 5, 50} {
			t.Run(fmt.Sprintf("%s/%d", enc, n), func(t *testing.T) {
				t.Parallel()

				rng := rand.New(rand.NewSource(int64(n)))
				for range 10 {
					files := randomFiles(rng, n)
					packed, err := enc.Pack(files)
					require.NoError(t, err)

					subs, err := enc.Unpack(packed, ids(n))
					require.NoError(t, err)
					require.Len(t, subs, n)
					for i, sub := range subs {
						assert.Equal(t, uint32(i*3), sub.FileID)
						assert.Equal(t, len(files[i]), sub.Size)
						assert.Equal(t, string(files[i]), string(sub.Buffer))
					}
				}
			})
		}
	}
}

func TestUnpackNetworkThreeFiles(t *testing.T) {
	t.Parallel()

	buf := []byte("AAAAACCCCCCCCC")
	buf = append(buf,
		0x00, 0x00, 0x00, 0x05,
		0xff, 0xff, 0xff, 0xfb,
		0x00, 0x00, 0x00, 0x09,
		0x01,
	)

	subs, err := UnpackNetwork(buf, []uint32{10, 11, 12})
	require.NoError(t, err)
	require.Len(t, subs, 3)

	assert.Equal(t, []int{5, 0, 9}, []int{subs[0].Size, subs[1].Size, subs[2].Size})
	assert.Equal(t, "AAAAA", string(subs[0].Buffer))
	assert.Empty(t, subs[1].Buffer)
	assert.Equal(t, "CCCCCCCCC", string(subs[2].Buffer))
	assert.Equal(t, []uint32{10, 11, 12}, []uint32{subs[0].FileID, subs[1].FileID, subs[2].FileID})
	assert.Equal(t, 5, subs[2].Offset)
}

func TestUnpackNetworkMultiChunk(t *testing.T) {
	t.Parallel()

	// chunk 0: a="ab" b="X"; chunk 1: a="c" b="YZ"
	buf := []byte("abXcYZ")
	buf = append(buf,
		0, 0, 0, 2, 0xff, 0xff, 0xff, 0xff,
		0, 0, 0, 1, 0, 0, 0, 1,
		0x02,
	)

	subs, err := UnpackNetwork(buf, []uint32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, "abc", string(subs[0].Buffer))
	assert.Equal(t, "XYZ", string(subs[1].Buffer))
	assert.Equal(t, 3, subs[0].Size)
	assert.Equal(t, 2, subs[1].Offset)
}

func TestSingleFileIsUnframed(t *testing.T) {
	t.Parallel()

	for _, enc := range []Encoding{EncodingNetwork, EncodingLocal} {
		packed, err := enc.Pack([][]byte{[]byte("solo")})
		require.NoError(t, err)
		assert.Equal(t, "solo", string(packed))

		// A trailing zero byte is data, not a chunk count.
		subs, err := enc.Unpack([]byte{1, 2, 0}, []uint32{7})
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 0}, subs[0].Buffer)

		subs, err = enc.Unpack(nil, []uint32{7})
		require.NoError(t, err)
		assert.Equal(t, 0, subs[0].Size)
	}
}

func TestUnpackLocalLayout(t *testing.T) {
	t.Parallel()

	packed, err := PackLocal([][]byte{[]byte("hi"), nil, []byte("there")})
	require.NoError(t, err)
	// flag, start=17, ends 19, 19, 24
	assert.Equal(t, []byte{
		0x01, 0, 0, 0, 17,
		0, 0, 0, 19, 0, 0, 0, 19, 0, 0, 0, 24,
	}, packed[:17])
	assert.Equal(t, "hithere", string(packed[17:]))
}

func TestUnpackMismatch(t *testing.T) {
	t.Parallel()

	network, err := PackNetwork([][]byte{[]byte("one"), []byte("two")})
	require.NoError(t, err)
	local, err := PackLocal([][]byte{[]byte("one"), []byte("two")})
	require.NoError(t, err)

	tests := []struct {
		name string
		enc  Encoding
		buf  []byte
		ids  []uint32
	}{
		{name: "network too many members", enc: EncodingNetwork, buf: network, ids: ids(3)},
		{name: "network no members", enc: EncodingNetwork, buf: network, ids: nil},
		{name: "network zero chunks", enc: EncodingNetwork, buf: []byte{1, 2, 3, 0}, ids: ids(2)},
		{name: "network empty", enc: EncodingNetwork, buf: nil, ids: ids(2)},
		{name: "local truncated header", enc: EncodingLocal, buf: local[:6], ids: ids(2)},
		{name: "local too many members", enc: EncodingLocal, buf: local, ids: ids(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.enc.Unpack(tt.buf, tt.ids)
			assert.ErrorIs(t, err, ErrArchiveUnpackFailed)
		})
	}
}

func TestPackRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := PackNetwork(nil)
	assert.Error(t, err)
	_, err = PackLocal(nil)
	assert.Error(t, err)
}
