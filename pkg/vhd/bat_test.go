package vhd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBATRoundTrip(t *testing.T) {
	bat := []uint32{0, 1, unallocatedEntry, 0xDEADBEEF}
	buf := encodeBAT(bat)
	assert.Len(t, buf, 16)

	got := decodeBAT(buf, uint32(len(bat)))
	assert.Equal(t, bat, got)
}

func TestBATByteSizeUnrounded(t *testing.T) {
	// The BAT is a raw 4-byte-per-entry array with no sector padding.
	assert.Equal(t, int64(40), batByteSize(10))
	assert.Equal(t, int64(4), batByteSize(1))
	assert.Equal(t, int64(0), batByteSize(0))
}
