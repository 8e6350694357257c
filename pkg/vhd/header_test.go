package vhd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader() *Header {
	return &Header{
		DataOffset:      0xFFFFFFFFFFFFFFFF,
		TableOffset:     footerSize + headerSize,
		HeaderVersion:   0x00010000,
		MaxTableEntries: 16,
		BlockSize:       defaultBlockSize,
		// Mixes a BMP codepoint that is asymmetric byte-to-byte
		// ('€' is 0x20AC, not byte-reversal-invariant) with an
		// astral codepoint that marshals as a surrogate pair, so a
		// regression to little-endian encoding (§6 requires
		// big-endian) or broken pair handling would actually fail
		// this round trip instead of passing by coincidence.
		ParentUnicodeName: []rune("parent € \U0001F600.vhd"),
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()
	buf := h.Marshal()
	assert.Len(t, buf, headerSize)

	got, ok, err := UnmarshalHeader(buf)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, h.MaxTableEntries, got.MaxTableEntries)
	assert.Equal(t, h.BlockSize, got.BlockSize)
	assert.Equal(t, h.ParentUnicodeName, got.ParentUnicodeName)
}

func TestHeaderEmptyParentName(t *testing.T) {
	h := sampleHeader()
	h.ParentUnicodeName = nil
	buf := h.Marshal()

	got, ok, err := UnmarshalHeader(buf)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got.ParentUnicodeName)
}

func TestHeaderBadCookie(t *testing.T) {
	h := sampleHeader()
	buf := h.Marshal()
	copy(buf[0:8], "wrongcki")

	_, _, err := UnmarshalHeader(buf)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindMalformedFormat))
}

func TestSectorsPerBlockAndBitmapSize(t *testing.T) {
	h := &Header{BlockSize: 2 * 1024 * 1024}
	assert.Equal(t, uint32(4096), h.SectorsPerBlock())
	// 4096 bits = 512 bytes exactly, already sector-aligned.
	assert.Equal(t, int64(512), h.BitmapSize())

	h2 := &Header{BlockSize: 512 * 9} // 9 sectors, needs 2 bitmap bytes, rounds up to 1 sector
	assert.Equal(t, uint32(9), h2.SectorsPerBlock())
	assert.Equal(t, int64(512), h2.BitmapSize())
}

func TestNormalizeDataSpace(t *testing.T) {
	assert.Equal(t, uint32(512), NormalizeDataSpace(1))
	assert.Equal(t, uint32(512), NormalizeDataSpace(512))
	assert.Equal(t, uint32(600), NormalizeDataSpace(600))
}
