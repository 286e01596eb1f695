// Package wire provides bounds-checked big-endian field access for the
// fixed-layout binary formats used by the cache.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a read runs past the end of the buffer.
var ErrShortBuffer = errors.New("wire: short buffer")

// Reader reads big-endian fields from a byte slice.
//
// The first out-of-bounds read records an error; every later read returns
// zero values, so callers check Err once after decoding a whole structure.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.off {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// U8 reads one byte.
func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads a big-endian uint16.
func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// U32 reads a big-endian uint32.
func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// I32 reads a big-endian two's complement int32.
func (r *Reader) I32() int32 {
	return int32(r.U32()) //nolint:gosec // reinterpretation is intended
}

// Smart32 reads a variable-width integer: two bytes when the high bit of
// the first byte is clear, otherwise four bytes with the high bit masked.
func (r *Reader) Smart32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off < len(r.buf) && r.buf[r.off]&0x80 != 0 {
		return r.U32() & 0x7fffffff
	}
	return uint32(r.U16())
}

// Bytes returns the next n bytes. The result aliases the underlying buffer.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// AppendU16 appends a big-endian uint16.
func AppendU16(dst []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, v)
}

// AppendU32 appends a big-endian uint32.
func AppendU32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

// AppendSmart32 appends v using the encoding read by Reader.Smart32.
func AppendSmart32(dst []byte, v uint32) []byte {
	if v < 0x8000 {
		return AppendU16(dst, uint16(v))
	}
	return AppendU32(dst, v|0x80000000)
}
