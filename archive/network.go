package archive

import (
	"bytes"

	"github.com/meigma/assetcache/internal/wire"
)

// PackNetwork packs files into a single-chunk network archive.
func PackNetwork(files [][]byte) ([]byte, error) {
	if err := checkPackInput(files); err != nil {
		return nil, err
	}
	if len(files) == 1 {
		return bytes.Clone(files[0]), nil
	}

	size := 1 + 4*len(files)
	for _, f := range files {
		size += len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range files {
		buf = append(buf, f...)
	}
	prev := 0
	for _, f := range files {
		buf = wire.AppendU32(buf, uint32(int32(len(f)-prev))) //nolint:gosec // two's complement delta
		prev = len(f)
	}
	return append(buf, 1), nil
}

// UnpackNetwork unpacks a network archive holding len(subIDs) members.
//
// The trailing byte holds the chunk count. Before it sits one signed
// delta per member per chunk; accumulating the deltas within a chunk gives
// each member's byte count in that chunk. Member data is laid out chunk
// by chunk, and a member's bytes are the concatenation of its segments in
// chunk order.
func UnpackNetwork(buf []byte, subIDs []uint32) ([]SubFile, error) {
	n := len(subIDs)
	switch {
	case n == 0:
		return nil, unpackError("no members expected")
	case n == 1:
		return single(buf, subIDs), nil
	case len(buf) == 0:
		return nil, unpackError("empty archive with %d members", n)
	}

	chunks := int(buf[len(buf)-1])
	tableStart := len(buf) - 1 - chunks*n*4
	if chunks == 0 || tableStart < 0 {
		return nil, unpackError("chunk table of %d chunks x %d members does not fit %d bytes", chunks, n, len(buf))
	}

	r := wire.NewReader(buf[tableStart : len(buf)-1])
	segments := make([]int, chunks*n)
	totals := make([]int, n)
	dataSize := 0
	for c := range chunks {
		running := 0
		for f := range n {
			running += int(r.I32())
			if running < 0 {
				return nil, unpackError("negative length for member %d in chunk %d", f, c)
			}
			segments[c*n+f] = running
			totals[f] += running
			dataSize += running
		}
	}
	if err := r.Err(); err != nil {
		return nil, unpackError("%v", err)
	}
	if dataSize != tableStart {
		return nil, unpackError("chunk table covers %d bytes, data region is %d", dataSize, tableStart)
	}

	files := make([]SubFile, n)
	if chunks == 1 {
		off := 0
		for f := range n {
			end := off + segments[f]
			files[f] = SubFile{FileID: subIDs[f], Offset: off, Size: segments[f], Buffer: buf[off:end:end]}
			off = end
		}
		return files, nil
	}

	for f := range n {
		files[f] = SubFile{FileID: subIDs[f], Offset: -1, Buffer: make([]byte, 0, totals[f])}
	}
	off := 0
	for c := range chunks {
		for f := range n {
			seg := segments[c*n+f]
			if files[f].Offset < 0 {
				files[f].Offset = off
			}
			files[f].Buffer = append(files[f].Buffer, buf[off:off+seg]...)
			off += seg
		}
	}
	for f := range files {
		files[f].Size = len(files[f].Buffer)
	}
	return files, nil
}
