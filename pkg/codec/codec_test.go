package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	for _, e := range []Endian{LittleEndian, BigEndian} {
		b16 := WriteU16(0x1234, e)
		v16, off, err := ReadU16(b16, 0, e)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x1234), v16)
		assert.Equal(t, 2, off)

		b32 := WriteU32(0xdeadbeef, e)
		v32, _, err := ReadU32(b32, 0, e)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xdeadbeef), v32)

		b64 := WriteU64(0x0123456789abcdef, e)
		v64, _, err := ReadU64(b64, 0, e)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x0123456789abcdef), v64)
	}
}

func TestReadShortBuffer(t *testing.T) {
	_, _, err := ReadU32([]byte{1, 2}, 0, LittleEndian)
	assert.Error(t, err)
}

func TestFixedString(t *testing.T) {
	out := FixedString([]byte("hi"), 5)
	assert.Equal(t, []byte{'h', 'i', 0, 0, 0}, out)

	out = FixedString([]byte("too long"), 3)
	assert.Equal(t, []byte("too"), out)
}

func TestPutHelpers(t *testing.T) {
	buf := make([]byte, 8)
	PutU32(buf, 0, 0xaabbccdd, BigEndian)
	v, _, err := ReadU32(buf, 0, BigEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xaabbccdd), v)

	PutU64(buf, 0, 0x1122334455667788, LittleEndian)
	v64, _, err := ReadU64(buf, 0, LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), v64)
}
