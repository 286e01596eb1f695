// Package archive packs and unpacks multi-file archive groups.
//
// Two encodings exist. The network encoding appends a chunk table of
// signed length deltas after the file data and is what servers and
// snapshot archives produce. The local encoding puts absolute end offsets
// in a header so members can be sliced directly; the local mirror stores
// archives this way. In both encodings an archive with a single member is
// stored without any framing.
package archive

import (
	"errors"
	"fmt"
	"math"
)

// ErrArchiveUnpackFailed is returned when an archive does not match the
// member list it is unpacked against.
var ErrArchiveUnpackFailed = errors.New("assetcache: archive unpack failed")

// SubFile is one decoded member of an archive.
//
// Buffer may alias the unpacked archive's backing array; callers that
// retain member data beyond the archive's lifetime must copy it.
type SubFile struct {
	FileID uint32
	Offset int
	Size   int
	Buffer []byte
}

// Encoding selects an archive wire layout.
type Encoding uint8

const (
	// EncodingNetwork is the trailing chunk-table layout.
	EncodingNetwork Encoding = iota
	// EncodingLocal is the offset-header layout used by the local mirror.
	EncodingLocal
)

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingNetwork:
		return "network"
	case EncodingLocal:
		return "local"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// Pack packs files with the encoding.
func (e Encoding) Pack(files [][]byte) ([]byte, error) {
	switch e {
	case EncodingNetwork:
		return PackNetwork(files)
	case EncodingLocal:
		return PackLocal(files)
	default:
		return nil, fmt.Errorf("pack: unknown encoding %d", uint8(e))
	}
}

// Unpack splits buf into one SubFile per id in subIDs.
func (e Encoding) Unpack(buf []byte, subIDs []uint32) ([]SubFile, error) {
	switch e {
	case EncodingNetwork:
		return UnpackNetwork(buf, subIDs)
	case EncodingLocal:
		return UnpackLocal(buf, subIDs)
	default:
		return nil, fmt.Errorf("unpack: unknown encoding %d", uint8(e))
	}
}

// single returns the unframed one-member archive.
func single(buf []byte, subIDs []uint32) []SubFile {
	return []SubFile{{
		FileID: subIDs[0],
		Offset: 0,
		Size:   len(buf),
		Buffer: buf[:len(buf):len(buf)],
	}}
}

func checkPackInput(files [][]byte) error {
	if len(files) == 0 {
		return errors.New("pack: no files")
	}
	total := 0
	for _, f := range files {
		total += len(f)
		if total > math.MaxInt32 {
			return errors.New("pack: archive exceeds 2 GiB")
		}
	}
	return nil
}

func unpackError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrArchiveUnpackFailed, fmt.Sprintf(format, args...))
}
