package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/assetcache/internal/sizing"
	"github.com/meigma/assetcache/internal/wire"
)

// Tag identifies the codec of a container. Tags are format constants.
type Tag uint8

const (
	TagNone       Tag = 0x00
	TagBzip2      Tag = 0x01
	TagGzip       Tag = 0x02
	TagLZMA       Tag = 0x03
	TagSqliteZlib Tag = 0x5a
)

// String returns the codec name.
func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagBzip2:
		return "bzip2"
	case TagGzip:
		return "gzip"
	case TagLZMA:
		return "lzma"
	case TagSqliteZlib:
		return "sqlite-zlib"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// MaxUncompressedSize bounds the declared uncompressed size of a container.
const MaxUncompressedSize = 1 << 30

// sqliteMagic opens every sqlite-zlib container; its first byte is the tag.
const sqliteMagic = "ZLB\x01"

var (
	// ErrUnknownCompressionTag is returned for an unrecognized leading byte.
	ErrUnknownCompressionTag = errors.New("assetcache: unknown compression tag")

	// ErrDecompressFailed is returned when a container cannot be decoded.
	ErrDecompressFailed = errors.New("assetcache: decompress failed")

	errTruncated = errors.New("container truncated")
	errTooLarge  = errors.New("declared size too large")
)

// DecompressError describes a failed decode. HadKey records whether an
// XTEA key was supplied; a missing key is the usual cause of gzip failures
// on encrypted groups.
type DecompressError struct {
	Tag    Tag
	HadKey bool
	Err    error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("assetcache: decompress %s failed (key supplied: %t): %v", e.Tag, e.HadKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecompressError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDecompressFailed.
func (e *DecompressError) Is(target error) bool {
	return target == ErrDecompressFailed
}

// PeekTag returns the codec tag of a container without decoding it.
func PeekTag(buf []byte) (Tag, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty buffer", ErrUnknownCompressionTag)
	}
	switch t := Tag(buf[0]); t {
	case TagNone, TagBzip2, TagGzip, TagLZMA, TagSqliteZlib:
		return t, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownCompressionTag, buf[0])
	}
}

// Decompress decodes a container. key is only consulted for gzip
// containers and may be nil.
func Decompress(buf []byte, key *Key) ([]byte, error) {
	tag, err := PeekTag(buf)
	if err != nil {
		return nil, err
	}
	var out []byte
	switch tag {
	case TagNone:
		out, err = decodeStore(buf)
	case TagBzip2:
		out, err = decodeBzip2(buf)
	case TagGzip:
		out, err = decodeGzip(buf, key)
	case TagLZMA:
		out, err = decodeLZMA(buf)
	case TagSqliteZlib:
		out, err = decodeSqliteZlib(buf)
	}
	if err != nil {
		return nil, &DecompressError{Tag: tag, HadKey: key != nil, Err: err}
	}
	return out, nil
}

func decodeStore(buf []byte) ([]byte, error) {
	r := wire.NewReader(buf[1:])
	size := r.U32()
	data := r.Bytes(int(size))
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: %w", errTruncated, r.Err())
	}
	return bytes.Clone(data), nil
}

// compressedHeader reads the csize and usize fields shared by the
// compressed codecs and returns the payload.
func compressedHeader(buf []byte) (payload []byte, usize int, err error) {
	r := wire.NewReader(buf[1:])
	csize := r.U32()
	u := r.U32()
	payload = r.Bytes(int(csize))
	if r.Err() != nil {
		return nil, 0, fmt.Errorf("%w: %w", errTruncated, r.Err())
	}
	if err := sizing.CheckLimit(uint64(u), MaxUncompressedSize, errTooLarge); err != nil {
		return nil, 0, err
	}
	usize, err = sizing.ToInt(uint64(u), errTooLarge)
	return payload, usize, err
}

var bzip2Header = []byte("BZh1")

func decodeBzip2(buf []byte) ([]byte, error) {
	payload, usize, err := compressedHeader(buf)
	if err != nil {
		return nil, err
	}
	stream := io.MultiReader(bytes.NewReader(bzip2Header), bytes.NewReader(payload))
	zr, err := bzip2.NewReader(stream, nil)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return sizing.ReadExact(zr, usize)
}

func decodeGzip(buf []byte, key *Key) ([]byte, error) {
	if key != nil {
		r := wire.NewReader(buf[1:])
		csize := r.U32()
		region := r.Bytes(int(csize) + 4)
		if r.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errTruncated, r.Err())
		}
		plain := make([]byte, 0, 5+len(region))
		plain = append(plain, buf[:5]...)
		plain = append(plain, region...)
		Decrypt(plain[5:], *key)
		buf = plain
	}

	payload, usize, err := compressedHeader(buf)
	if err != nil {
		return nil, err
	}
	var zr io.ReadCloser
	if len(payload) >= 2 && payload[0] == 0x1f && payload[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		zr = gz
	} else {
		zr = flate.NewReader(bytes.NewReader(payload))
	}
	defer zr.Close()
	return sizing.ReadExact(zr, usize)
}

const lzmaPropsSize = 5

func decodeLZMA(buf []byte) ([]byte, error) {
	payload, usize, err := compressedHeader(buf)
	if err != nil {
		return nil, err
	}
	if len(payload) < lzmaPropsSize {
		return nil, fmt.Errorf("%w: lzma properties", errTruncated)
	}
	// Standard header: properties, dictionary size, then a little-endian
	// 64-bit uncompressed size.
	header := make([]byte, 0, lzmaPropsSize+8)
	header = append(header, payload[:lzmaPropsSize]...)
	for i := range 8 {
		header = append(header, byte(uint64(usize)>>(8*i))) //nolint:gosec // usize is non-negative
	}
	zr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(header), bytes.NewReader(payload[lzmaPropsSize:])))
	if err != nil {
		return nil, err
	}
	return sizing.ReadExact(zr, usize)
}

func decodeSqliteZlib(buf []byte) ([]byte, error) {
	if len(buf) < len(sqliteMagic) || string(buf[:len(sqliteMagic)]) != sqliteMagic {
		return nil, errors.New("bad sqlite zlib magic")
	}
	r := wire.NewReader(buf[len(sqliteMagic):])
	u := r.U32()
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: %w", errTruncated, r.Err())
	}
	if err := sizing.CheckLimit(uint64(u), MaxUncompressedSize, errTooLarge); err != nil {
		return nil, err
	}
	usize, err := sizing.ToInt(uint64(u), errTooLarge)
	if err != nil {
		return nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(buf[len(sqliteMagic)+4:]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return sizing.ReadExact(zr, usize)
}
