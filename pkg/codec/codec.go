// Package codec implements the fixed-width integer and byte-string
// encodings shared by the block protocol (little-endian) and the VHD
// format (big-endian). Callers pass the endianness explicitly to every
// integer and UTF-16 encoding function; the one exception is
// DecodeUTF16, which takes the byte order from a BOM and assumes
// big-endian when there is none.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Endian selects a byte order for a single read or write. It exists as
// its own type, rather than reusing binary.ByteOrder directly at every
// call site, so the VHD and block-protocol packages can document which
// convention they use without importing encoding/binary everywhere.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) order() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func checkLen(buf []byte, off, n int) error {
	if off < 0 || n < 0 || off+n > len(buf) {
		return fmt.Errorf("codec: short buffer: need %d bytes at offset %d, have %d", n, off, len(buf))
	}
	return nil
}

// ReadU8 returns the byte at off and the offset immediately after it.
func ReadU8(buf []byte, off int) (uint8, int, error) {
	if err := checkLen(buf, off, 1); err != nil {
		return 0, off, err
	}
	return buf[off], off + 1, nil
}

// ReadU16 decodes a 16-bit integer at off using the given byte order.
func ReadU16(buf []byte, off int, e Endian) (uint16, int, error) {
	if err := checkLen(buf, off, 2); err != nil {
		return 0, off, err
	}
	return e.order().Uint16(buf[off : off+2]), off + 2, nil
}

// ReadU32 decodes a 32-bit integer at off using the given byte order.
func ReadU32(buf []byte, off int, e Endian) (uint32, int, error) {
	if err := checkLen(buf, off, 4); err != nil {
		return 0, off, err
	}
	return e.order().Uint32(buf[off : off+4]), off + 4, nil
}

// ReadU64 decodes a 64-bit integer at off using the given byte order.
func ReadU64(buf []byte, off int, e Endian) (uint64, int, error) {
	if err := checkLen(buf, off, 8); err != nil {
		return 0, off, err
	}
	return e.order().Uint64(buf[off : off+8]), off + 8, nil
}

// WriteU8 returns the one-byte encoding of v.
func WriteU8(v uint8) []byte {
	return []byte{v}
}

// WriteU16 returns the encoding of v in the given byte order.
func WriteU16(v uint16, e Endian) []byte {
	b := make([]byte, 2)
	e.order().PutUint16(b, v)
	return b
}

// WriteU32 returns the encoding of v in the given byte order.
func WriteU32(v uint32, e Endian) []byte {
	b := make([]byte, 4)
	e.order().PutUint32(b, v)
	return b
}

// WriteU64 returns the encoding of v in the given byte order.
func WriteU64(v uint64, e Endian) []byte {
	b := make([]byte, 8)
	e.order().PutUint64(b, v)
	return b
}

// PutU16 writes v into buf at off in the given byte order.
func PutU16(buf []byte, off int, v uint16, e Endian) {
	e.order().PutUint16(buf[off:off+2], v)
}

// PutU32 writes v into buf at off in the given byte order.
func PutU32(buf []byte, off int, v uint32, e Endian) {
	e.order().PutUint32(buf[off:off+4], v)
}

// PutU64 writes v into buf at off in the given byte order.
func PutU64(buf []byte, off int, v uint64, e Endian) {
	e.order().PutUint64(buf[off:off+8], v)
}

// FixedString returns s truncated or NUL-padded to exactly n bytes.
func FixedString(s []byte, n int) []byte {
	out := make([]byte, n)
	k := len(s)
	if k > n {
		k = n
	}
	copy(out, s[:k])
	return out
}
