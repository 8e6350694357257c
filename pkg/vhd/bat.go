package vhd

import "github.com/djs55/vhddisk/pkg/codec"

// unallocatedEntry marks a BAT slot with no block allocated yet.
const unallocatedEntry uint32 = 0xFFFFFFFF

// decodeBAT reads a big-endian array of n uint32 entries starting at
// the beginning of buf.
func decodeBAT(buf []byte, n uint32) []uint32 {
	bat := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		v, _, _ := codec.ReadU32(buf, int(i)*4, codec.BigEndian)
		bat[i] = v
	}
	return bat
}

// encodeBAT serializes bat as a big-endian uint32 array, its on-disk
// representation starting at h_table_offset.
func encodeBAT(bat []uint32) []byte {
	buf := make([]byte, len(bat)*4)
	for i, v := range bat {
		codec.PutU32(buf, i*4, v, codec.BigEndian)
	}
	return buf
}

// batByteSize is the number of bytes the BAT occupies on disk: the raw
// 4-byte-per-entry array is not sector-padded in this format (unlike
// block bitmaps), so it is simply len(bat)*4.
func batByteSize(entries uint32) int64 {
	return int64(entries) * 4
}
