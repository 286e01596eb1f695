package archive

import (
	"bytes"

	"github.com/meigma/assetcache/internal/wire"
)

// localFlag is the leading header byte written by the local mirror. Its
// meaning is unknown; readers ignore it.
const localFlag = 0x01

// PackLocal packs files into a local-storage archive.
func PackLocal(files [][]byte) ([]byte, error) {
	if err := checkPackInput(files); err != nil {
		return nil, err
	}
	if len(files) == 1 {
		return bytes.Clone(files[0]), nil
	}

	header := 1 + 4 + 4*len(files)
	size := header
	for _, f := range files {
		size += len(f)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, localFlag)
	buf = wire.AppendU32(buf, uint32(header)) //nolint:gosec // bounded by checkPackInput
	end := header
	for _, f := range files {
		end += len(f)
		buf = wire.AppendU32(buf, uint32(end)) //nolint:gosec // bounded by checkPackInput
	}
	for _, f := range files {
		buf = append(buf, f...)
	}
	return buf, nil
}

// UnpackLocal unpacks a local-storage archive holding len(subIDs) members.
// Offsets in the header are absolute end positions, so each member is
// sliced directly.
func UnpackLocal(buf []byte, subIDs []uint32) ([]SubFile, error) {
	n := len(subIDs)
	switch {
	case n == 0:
		return nil, unpackError("no members expected")
	case n == 1:
		return single(buf, subIDs), nil
	}

	r := wire.NewReader(buf)
	r.Skip(1)
	start := int(r.U32())
	ends := make([]int, n)
	for i := range ends {
		ends[i] = int(r.U32())
	}
	if err := r.Err(); err != nil {
		return nil, unpackError("header for %d members: %v", n, err)
	}
	if start < r.Offset() || start > len(buf) {
		return nil, unpackError("data start %d outside %d..%d", start, r.Offset(), len(buf))
	}

	files := make([]SubFile, n)
	off := start
	for i, end := range ends {
		if end < off || end > len(buf) {
			return nil, unpackError("member %d ends at %d, previous end %d, archive size %d", i, end, off, len(buf))
		}
		files[i] = SubFile{FileID: subIDs[i], Offset: off, Size: end - off, Buffer: buf[off:end:end]}
		off = end
	}
	return files, nil
}
