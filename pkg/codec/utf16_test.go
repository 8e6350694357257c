package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUTF16LittleEndianBOM(t *testing.T) {
	// BOM little-endian, then "Hi" as little-endian 16-bit units.
	buf := []byte{0xFF, 0xFE, 0x48, 0x00, 0x69, 0x00}
	cps, err := DecodeUTF16(buf, len(buf))
	require.NoError(t, err)
	assert.Equal(t, []rune{'H', 'i'}, cps)
}

func TestDecodeUTF16SurrogatePair(t *testing.T) {
	// Big-endian (default, no BOM) surrogate pair for U+10437.
	buf := []byte{0xD8, 0x01, 0xDC, 0x37}
	cps, err := DecodeUTF16(buf, len(buf))
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, rune(0x10437), cps[0])
}

func TestDecodeUTF16UnpairedLowSurrogate(t *testing.T) {
	buf := []byte{0xDC, 0x37}
	_, err := DecodeUTF16(buf, len(buf))
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cps := []rune{'V', 'H', 'D', 0x10437, 0x1F600}
	// No BOM, so DecodeUTF16 assumes big-endian; encode the same way.
	enc := EncodeUTF16(cps, BigEndian)
	dec, err := DecodeUTF16(enc, len(enc))
	require.NoError(t, err)
	assert.Equal(t, cps, dec)
}

func TestEncodeDecodeRoundTripLittleEndianWithBOM(t *testing.T) {
	cps := []rune{'V', 'H', 'D', 0x10437, 0x1F600}
	enc := append([]byte{0xFF, 0xFE}, EncodeUTF16(cps, LittleEndian)...)
	dec, err := DecodeUTF16(enc, len(enc))
	require.NoError(t, err)
	assert.Equal(t, cps, dec)
}
