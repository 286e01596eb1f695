package download

import (
	"github.com/meigma/assetcache/internal/wire"
)

const (
	handshakeType   = 15
	handshakeLength = 41
	keyLength       = 32

	// modeRootIndex and modeFile select the request packet mode.
	modeRootIndex = 1
	modeFile      = 33

	rootMajor = 255

	frameHeaderSize = 5 // u8 major, u32 minor
	fileHeaderSize  = 5 // u8 tag, u32 compressed size

	// DefaultBlockSize bounds the bytes of one response frame.
	DefaultBlockSize = 102400

	// maxFileSize bounds the declared size of a single response.
	maxFileSize = 1 << 30
)

// Build identifies the client build the server expects.
type Build struct {
	Major uint32
	Minor uint32
}

// appendHandshake encodes the 43-byte connect packet. key is truncated or
// zero-padded to 32 bytes.
func appendHandshake(dst []byte, build Build, key string, language uint8) []byte {
	dst = append(dst, handshakeType, handshakeLength)
	dst = wire.AppendU32(dst, build.Major)
	dst = wire.AppendU32(dst, build.Minor)
	var k [keyLength]byte
	copy(k[:], key)
	dst = append(dst, k[:]...)
	return append(dst, language)
}

// appendFollowUps encodes the two fixed packets sent after a successful
// handshake.
func appendFollowUps(dst []byte) []byte {
	dst = append(dst, 6, 0)
	dst = wire.AppendU16(dst, 5)
	dst = wire.AppendU16(dst, 0)
	dst = append(dst, 3, 0)
	dst = wire.AppendU16(dst, 0)
	return wire.AppendU16(dst, 0)
}

// appendRequest encodes one 10-byte file request.
func appendRequest(dst []byte, major uint8, minor uint32, version uint16) []byte {
	mode := byte(modeFile)
	if major == rootMajor && minor == rootMajor {
		mode = modeRootIndex
	}
	dst = append(dst, mode, major)
	dst = wire.AppendU32(dst, minor)
	dst = wire.AppendU16(dst, version)
	return wire.AppendU16(dst, 0)
}

// responseSize returns the total byte length of a response given its
// first five payload bytes. Compressed payloads carry a trailing
// uncompressed length.
func responseSize(tag uint8, size uint32) uint64 {
	total := uint64(fileHeaderSize) + uint64(size)
	if tag != 0 {
		total += 4
	}
	return total
}
