package index

import (
	"fmt"

	"github.com/meigma/assetcache/internal/wire"
)

// rootEntrySize is the stride of one root index record: crc, version,
// subfile count, size and a 64-byte digest.
const rootEntrySize = 4*4 + digestSize

// DecodeRootIndex decodes the root index stored at (255, 255).
//
// Entry i describes the index archive of major i. Records whose crc and
// version are both zero are gaps. Trailing data after the last record (a
// signature block on live servers) is ignored.
func DecodeRootIndex(buf []byte) ([]*CacheIndex, error) {
	r := wire.NewReader(buf)
	count := int(r.U8())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: root: %w", ErrMalformedIndex, err)
	}
	if count*rootEntrySize > r.Remaining() {
		return nil, fmt.Errorf("%w: root: %d entries need %d bytes, have %d",
			ErrMalformedIndex, count, count*rootEntrySize, r.Remaining())
	}

	out := make([]*CacheIndex, count)
	for i := range out {
		e := &CacheIndex{
			Major:         MajorIndex,
			Minor:         uint32(i), //nolint:gosec // count is a single byte
			CRC:           r.U32(),
			Version:       r.U32(),
			SubIndexCount: r.U32(),
			Size:          r.U32(),
		}
		e.Digest = append([]byte(nil), r.Bytes(digestSize)...)
		if e.CRC == 0 && e.Version == 0 {
			continue
		}
		out[i] = e
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: root: %w", ErrMalformedIndex, err)
	}
	return out, nil
}

// EncodeRootIndex encodes entries in the root index layout. Entry i is
// written at slot i; nil entries become zeroed gap records.
func EncodeRootIndex(entries []*CacheIndex) ([]byte, error) {
	if len(entries) > 0xff {
		return nil, fmt.Errorf("root index: %d entries exceeds 255", len(entries))
	}
	buf := make([]byte, 0, 1+len(entries)*rootEntrySize)
	buf = append(buf, byte(len(entries)))
	for _, e := range entries {
		if e == nil {
			buf = append(buf, make([]byte, rootEntrySize)...)
			continue
		}
		buf = wire.AppendU32(buf, e.CRC)
		buf = wire.AppendU32(buf, e.Version)
		buf = wire.AppendU32(buf, e.SubIndexCount)
		buf = wire.AppendU32(buf, e.Size)
		digest := make([]byte, digestSize)
		copy(digest, e.Digest)
		buf = append(buf, digest...)
	}
	return buf, nil
}
