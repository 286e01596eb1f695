package compress

import (
	"bytes"
	"fmt"
	"math"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/assetcache/internal/wire"
)

// CompressForLocalStorage encodes data as a sqlite-zlib container, the
// only form the local mirror stores.
func CompressForLocalStorage(data []byte) ([]byte, error) {
	if len(data) > math.MaxUint32 {
		return nil, fmt.Errorf("compress: %d bytes exceeds container limit", len(data))
	}
	var buf bytes.Buffer
	buf.WriteString(sqliteMagic)
	buf.Write(wire.AppendU32(nil, uint32(len(data)))) //nolint:gosec // checked above
	zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compress encodes data as a container with the given codec. key, when
// non-nil, encrypts gzip containers; other codecs ignore it.
func Compress(tag Tag, data []byte, key *Key) ([]byte, error) {
	if len(data) > math.MaxUint32 {
		return nil, fmt.Errorf("compress: %d bytes exceeds container limit", len(data))
	}
	var payload []byte
	var err error
	switch tag {
	case TagNone:
		out := []byte{byte(TagNone)}
		out = wire.AppendU32(out, uint32(len(data))) //nolint:gosec // checked above
		return append(out, data...), nil
	case TagSqliteZlib:
		return CompressForLocalStorage(data)
	case TagBzip2:
		payload, err = encodeBzip2(data)
	case TagGzip:
		payload, err = encodeGzip(data)
	case TagLZMA:
		payload, err = encodeLZMA(data)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCompressionTag, uint8(tag))
	}
	if err != nil {
		return nil, fmt.Errorf("compress %s: %w", tag, err)
	}

	out := []byte{byte(tag)}
	out = wire.AppendU32(out, uint32(len(payload))) //nolint:gosec // payload of a sub-4GiB input
	out = wire.AppendU32(out, uint32(len(data)))    //nolint:gosec // checked above
	out = append(out, payload...)
	if tag == TagGzip && key != nil {
		Encrypt(out[5:], *key)
	}
	return out, nil
}

func encodeBzip2(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return bytes.TrimPrefix(buf.Bytes(), bzip2Header), nil
}

func encodeGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeLZMA(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{SizeInHeader: true, Size: int64(len(data))}
	zw, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	// Drop the 8-byte size field; the container header carries it.
	raw := buf.Bytes()
	return append(raw[:lzmaPropsSize:lzmaPropsSize], raw[lzmaPropsSize+8:]...), nil
}
