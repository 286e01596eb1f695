package index

import (
	"errors"
	"fmt"

	"github.com/meigma/assetcache/internal/wire"
)

// ErrMalformedIndex is returned when an index buffer cannot be decoded.
var ErrMalformedIndex = errors.New("assetcache: malformed index")

// Index flag bits.
const (
	flagNames                 = 0x01
	flagDigests               = 0x02
	flagLengths               = 0x04
	flagUncompressedChecksums = 0x08
)

const (
	protocolMin   = 5
	protocolMax   = 7
	digestSize    = 64
	protocolSmart = 7
)

// CacheIndex describes one archive group.
//
// SubIndices lists the logical sub-file ids inside the group in storage
// order; position i of an unpacked archive belongs to SubIndices[i].
// Optional fields are zero when the index did not carry them.
type CacheIndex struct {
	Major           uint8
	Minor           uint32
	CRC             uint32
	Version         uint32
	SubIndexCount   uint32
	SubIndices      []uint32
	UncompressedCRC uint32
	Size            uint32
	// UncompressedSize is the size of the group after decompression.
	UncompressedSize uint32
	Digest           []byte

	Named         bool
	NameHash      uint32
	SubNameHashes []uint32
}

// DecodeIndex decodes the index archive of major. Major 255 decodes the
// root index layout (see [DecodeRootIndex]).
//
// The result is indexed by minor; gaps are nil.
func DecodeIndex(major uint8, buf []byte) ([]*CacheIndex, error) {
	if major == MajorIndex {
		return DecodeRootIndex(buf)
	}
	entries, err := decodeTable(major, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: major %d: %w", ErrMalformedIndex, major, err)
	}
	return entries, nil
}

func decodeTable(major uint8, buf []byte) ([]*CacheIndex, error) {
	r := wire.NewReader(buf)
	protocol := r.U8()
	if r.Err() == nil && (protocol < protocolMin || protocol > protocolMax) {
		return nil, fmt.Errorf("unsupported protocol %d", protocol)
	}
	if protocol >= 6 {
		r.Skip(4) // table revision
	}
	flags := r.U8()
	readCount := func() uint32 {
		if protocol >= protocolSmart {
			return r.Smart32()
		}
		return uint32(r.U16())
	}

	count := readCount()
	if err := r.Err(); err != nil {
		return nil, err
	}
	// Every group carries at least a crc and a version.
	if uint64(count)*8 > uint64(r.Remaining()) {
		return nil, fmt.Errorf("group count %d exceeds buffer", count)
	}

	groups := make([]*CacheIndex, count)
	var minor uint32
	var maxMinor uint32
	for i := range groups {
		delta := readCount()
		if i > 0 && delta == 0 {
			return nil, fmt.Errorf("duplicate minor %d", minor)
		}
		if delta > MaxMinor-minor {
			return nil, fmt.Errorf("minor exceeds %d", MaxMinor)
		}
		minor += delta
		maxMinor = max(maxMinor, minor)
		groups[i] = &CacheIndex{Major: major, Minor: minor}
	}
	if flags&flagNames != 0 {
		for _, g := range groups {
			g.Named = true
			g.NameHash = r.U32()
		}
	}
	for _, g := range groups {
		g.CRC = r.U32()
	}
	if flags&flagUncompressedChecksums != 0 {
		for _, g := range groups {
			g.UncompressedCRC = r.U32()
		}
	}
	if flags&flagDigests != 0 {
		for _, g := range groups {
			if d := r.Bytes(digestSize); d != nil {
				g.Digest = append([]byte(nil), d...)
			}
		}
	}
	if flags&flagLengths != 0 {
		for _, g := range groups {
			g.Size = r.U32()
			g.UncompressedSize = r.U32()
		}
	}
	for _, g := range groups {
		g.Version = r.U32()
	}
	for _, g := range groups {
		g.SubIndexCount = readCount()
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	for _, g := range groups {
		if uint64(g.SubIndexCount)*2 > uint64(r.Remaining()) {
			return nil, fmt.Errorf("minor %d: subfile count %d exceeds buffer", g.Minor, g.SubIndexCount)
		}
		g.SubIndices = make([]uint32, g.SubIndexCount)
		var sub uint32
		for j := range g.SubIndices {
			sub += readCount()
			g.SubIndices[j] = sub
		}
	}
	if flags&flagNames != 0 {
		for _, g := range groups {
			g.SubNameHashes = make([]uint32, g.SubIndexCount)
			for j := range g.SubNameHashes {
				g.SubNameHashes[j] = r.U32()
			}
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	if count == 0 {
		return []*CacheIndex{}, nil
	}
	out := make([]*CacheIndex, maxMinor+1)
	for _, g := range groups {
		out[g.Minor] = g
	}
	return out, nil
}

// EncodeIndex encodes entries as a protocol 7 index archive. Nil entries
// are skipped. Optional sections are written when any entry carries them.
func EncodeIndex(entries []*CacheIndex) []byte {
	groups := make([]*CacheIndex, 0, len(entries))
	var flags uint8
	for _, e := range entries {
		if e == nil {
			continue
		}
		groups = append(groups, e)
		if e.Named {
			flags |= flagNames
		}
		if len(e.Digest) == digestSize {
			flags |= flagDigests
		}
		if e.Size != 0 || e.UncompressedSize != 0 {
			flags |= flagLengths
		}
		if e.UncompressedCRC != 0 {
			flags |= flagUncompressedChecksums
		}
	}

	buf := []byte{protocolSmart}
	buf = wire.AppendU32(buf, 0)
	buf = append(buf, flags)
	buf = wire.AppendSmart32(buf, uint32(len(groups))) //nolint:gosec // group counts fit in 31 bits

	var prev uint32
	for _, g := range groups {
		buf = wire.AppendSmart32(buf, g.Minor-prev)
		prev = g.Minor
	}
	if flags&flagNames != 0 {
		for _, g := range groups {
			buf = wire.AppendU32(buf, g.NameHash)
		}
	}
	for _, g := range groups {
		buf = wire.AppendU32(buf, g.CRC)
	}
	if flags&flagUncompressedChecksums != 0 {
		for _, g := range groups {
			buf = wire.AppendU32(buf, g.UncompressedCRC)
		}
	}
	if flags&flagDigests != 0 {
		for _, g := range groups {
			digest := make([]byte, digestSize)
			copy(digest, g.Digest)
			buf = append(buf, digest...)
		}
	}
	if flags&flagLengths != 0 {
		for _, g := range groups {
			buf = wire.AppendU32(buf, g.Size)
			buf = wire.AppendU32(buf, g.UncompressedSize)
		}
	}
	for _, g := range groups {
		buf = wire.AppendU32(buf, g.Version)
	}
	for _, g := range groups {
		buf = wire.AppendSmart32(buf, uint32(len(g.SubIndices))) //nolint:gosec // subfile counts fit in 31 bits
	}
	for _, g := range groups {
		var prevSub uint32
		for _, sub := range g.SubIndices {
			buf = wire.AppendSmart32(buf, sub-prevSub)
			prevSub = sub
		}
	}
	if flags&flagNames != 0 {
		for _, g := range groups {
			for j := range g.SubIndices {
				var h uint32
				if j < len(g.SubNameHashes) {
					h = g.SubNameHashes[j]
				}
				buf = wire.AppendU32(buf, h)
			}
		}
	}
	return buf
}
