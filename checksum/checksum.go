// Package checksum computes CRC-32 (IEEE) checksums and forges four-byte
// patches that steer a buffer to a required checksum.
//
// Running checksums use the finalized form returned by [CRC32], matching
// hash/crc32.Update: Update(Update(0, a), b) == CRC32(a ++ b).
package checksum

import (
	"errors"
	"fmt"
	"hash/crc32"
)

var (
	// ErrChecksumMismatch is returned when data does not match its expected CRC.
	ErrChecksumMismatch = errors.New("assetcache: checksum mismatch")

	// ErrForgeInfeasible is returned when forged bytes fail to reproduce the
	// requested checksum. It indicates a bug in the CRC arithmetic.
	ErrForgeInfeasible = errors.New("assetcache: crc forge infeasible")
)

// MismatchError reports the expected and actual checksum of a buffer.
type MismatchError struct {
	Want uint32
	Got  uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("assetcache: checksum mismatch: want %08x, got %08x", e.Want, e.Got)
}

// Is reports whether target is ErrChecksumMismatch.
func (e *MismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// Verify returns a *MismatchError when CRC32(buf) != want.
func Verify(buf []byte, want uint32) error {
	if got := CRC32(buf); got != want {
		return &MismatchError{Want: want, Got: got}
	}
	return nil
}

// table is the reflected IEEE table; inverse maps a table entry's top byte
// back to its index. The top bytes of the 256 entries are distinct.
var (
	table   = crc32.MakeTable(crc32.IEEE)
	inverse = func() [256]uint8 {
		var inv [256]uint8
		for i, v := range table {
			inv[v>>24] = uint8(i) //nolint:gosec // i < 256
		}
		return inv
	}()
)

// CRC32 returns the IEEE CRC-32 of buf.
func CRC32(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf)
}

// Update returns the checksum after appending buf to data whose checksum
// was crc.
func Update(crc uint32, buf []byte) uint32 {
	return crc32.Update(crc, table, buf)
}

// Backward returns the checksum state before buf given the state after it:
// Update(Backward(buf, after), buf) == after.
func Backward(buf []byte, after uint32) uint32 {
	reg := ^after
	for i := len(buf) - 1; i >= 0; i-- {
		idx := inverse[reg>>24]
		reg = (reg^table[idx])<<8 | uint32(idx^buf[i])
	}
	return ^reg
}

// Forge returns the four bytes g with Update(front, g) == back.
//
// front is the checksum of everything before a four-byte gap and back is
// the state the checksum must reach after the gap for the remainder of the
// buffer to produce the target, typically Backward(rest, target).
func Forge(front, back uint32) ([4]byte, error) {
	var idx [4]uint8
	reg := ^back
	for k := 3; k >= 0; k-- {
		idx[k] = inverse[reg>>24]
		reg = (reg ^ table[idx[k]]) << 8
	}

	var gap [4]byte
	reg = ^front
	for k := range gap {
		gap[k] = uint8(reg) ^ idx[k]
		reg = reg>>8 ^ table[idx[k]]
	}
	if got := Update(front, gap[:]); got != back {
		return gap, fmt.Errorf("%w: front %08x back %08x produced %08x", ErrForgeInfeasible, front, back, got)
	}
	return gap, nil
}

// Patch overwrites buf[offset:offset+4] so that CRC32(buf) == target.
func Patch(buf []byte, offset int, target uint32) error {
	if offset < 0 || offset+4 > len(buf) {
		return fmt.Errorf("patch offset %d out of range for %d bytes", offset, len(buf))
	}
	front := CRC32(buf[:offset])
	back := Backward(buf[offset+4:], target)
	gap, err := Forge(front, back)
	if err != nil {
		return err
	}
	copy(buf[offset:], gap[:])
	return nil
}
