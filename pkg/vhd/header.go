package vhd

import (
	"fmt"

	"github.com/djs55/vhddisk/pkg/codec"
)

const (
	headerSize   = 1024
	headerCookie = "cxsparse"

	parentUnicodeNameSize = 512
	parentLocatorSize     = 24
	numParentLocators     = 8

	// PlatformCodeMacX is the only platform code this engine writes or
	// consults when resolving a differencing disk's parent (§4.5 step 6).
	PlatformCodeMacX = 0x4D616358
)

// ParentLocator describes one of a header's eight parent-locator slots.
// Per §9's note on the platform_data_space ambiguity, both the raw
// stored value and the byte-normalized value are kept: reads prefer the
// normalized value, writes re-emit the original.
type ParentLocator struct {
	PlatformCode              uint32
	PlatformDataSpaceRaw      uint32 // value exactly as stored on disk
	PlatformDataSpaceBytes    uint32 // normalized to bytes (see NormalizeDataSpace)
	PlatformDataLength        uint32
	PlatformDataOffset        uint64
	PlatformData              []byte // populated on demand by callers that resolve it
}

// NormalizeDataSpace interprets raw per the spec deviation noted in §3:
// values below 512 are a sector count and must be multiplied by 512;
// values at or above 512 are already a byte count.
func NormalizeDataSpace(raw uint32) uint32 {
	if raw < 512 {
		return raw * 512
	}
	return raw
}

func (p ParentLocator) empty() bool {
	return p.PlatformCode == 0 && p.PlatformDataLength == 0
}

// Header is the 1024-byte sparse-disk header present on dynamic and
// differencing VHDs, immediately following the footer copy.
type Header struct {
	DataOffset        uint64 // always 0xffff_ffff_ffff_ffff in this format
	TableOffset        uint64 // absolute byte offset of the BAT
	HeaderVersion       uint32
	MaxTableEntries     uint32
	BlockSize           uint32
	Checksum            uint32
	ParentUniqueID      [16]byte
	ParentTimeStamp     uint32
	ParentUnicodeName   []rune // decoded codepoints, BOM (if any) stripped
	ParentLocators      [numParentLocators]ParentLocator
}

// SectorsPerBlock returns BlockSize/512, i.e. how many sectors one BAT
// entry covers.
func (h *Header) SectorsPerBlock() uint32 {
	return h.BlockSize / sectorSize
}

// BitmapSize returns the size, in bytes, of one block's sector-presence
// bitmap, rounded up to a whole sector as stored on disk.
func (h *Header) BitmapSize() int64 {
	bits := int64(h.SectorsPerBlock())
	raw := (bits + 7) / 8
	return roundUpSector(raw)
}

// Marshal encodes the header as the 1024-byte on-disk big-endian
// record, computing Checksum as it goes.
func (h *Header) Marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], headerCookie)
	codec.PutU64(buf, 8, h.DataOffset, codec.BigEndian)
	codec.PutU64(buf, 16, h.TableOffset, codec.BigEndian)
	codec.PutU32(buf, 24, h.HeaderVersion, codec.BigEndian)
	codec.PutU32(buf, 28, h.MaxTableEntries, codec.BigEndian)
	codec.PutU32(buf, 32, h.BlockSize, codec.BigEndian)
	// checksum [36:40] left zero for the sum
	copy(buf[40:56], h.ParentUniqueID[:])
	codec.PutU32(buf, 56, h.ParentTimeStamp, codec.BigEndian)
	// reserved [60:64] left zero

	name := codec.FixedString(encodeParentUnicodeName(h.ParentUnicodeName), parentUnicodeNameSize)
	copy(buf[64:64+parentUnicodeNameSize], name)

	for i, loc := range h.ParentLocators {
		off := 576 + i*parentLocatorSize
		codec.PutU32(buf, off, loc.PlatformCode, codec.BigEndian)
		codec.PutU32(buf, off+4, loc.PlatformDataSpaceRaw, codec.BigEndian)
		codec.PutU32(buf, off+8, loc.PlatformDataLength, codec.BigEndian)
		// reserved [off+12:off+16] left zero
		codec.PutU64(buf, off+16, loc.PlatformDataOffset, codec.BigEndian)
	}
	// reserved2 [768:1024] left zero

	sum := checksumBytes(buf, 36)
	codec.PutU32(buf, 36, sum, codec.BigEndian)
	return buf
}

// encodeParentUnicodeName encodes codepoints as big-endian UTF-16, no
// BOM, matching §6's field layout and UnmarshalHeader's BOM-absent
// default of big-endian.
func encodeParentUnicodeName(codepoints []rune) []byte {
	if len(codepoints) == 0 {
		return nil
	}
	return codec.EncodeUTF16(codepoints, codec.BigEndian)
}

// UnmarshalHeader parses a 1024-byte buffer into a Header. Like the
// footer, the checksum is reported but not enforced.
func UnmarshalHeader(buf []byte) (h *Header, checksumOK bool, err error) {
	if len(buf) < headerSize {
		return nil, false, newError(KindMalformedFormat, fmt.Sprintf("header: need %d bytes, have %d", headerSize, len(buf)), nil)
	}
	buf = buf[:headerSize]

	if string(buf[0:8]) != headerCookie {
		return nil, false, newError(KindMalformedFormat, fmt.Sprintf("header: bad cookie %q", buf[0:8]), nil)
	}

	h = &Header{}
	h.DataOffset, _, _ = codec.ReadU64(buf, 8, codec.BigEndian)
	h.TableOffset, _, _ = codec.ReadU64(buf, 16, codec.BigEndian)
	h.HeaderVersion, _, _ = codec.ReadU32(buf, 24, codec.BigEndian)
	h.MaxTableEntries, _, _ = codec.ReadU32(buf, 28, codec.BigEndian)
	h.BlockSize, _, _ = codec.ReadU32(buf, 32, codec.BigEndian)
	h.Checksum, _, _ = codec.ReadU32(buf, 36, codec.BigEndian)
	copy(h.ParentUniqueID[:], buf[40:56])
	h.ParentTimeStamp, _, _ = codec.ReadU32(buf, 56, codec.BigEndian)

	nameBytes := buf[64 : 64+parentUnicodeNameSize]
	trimmed := trimTrailingNulPairs(nameBytes)
	if len(trimmed) > 0 {
		cps, derr := codec.DecodeUTF16(trimmed, len(trimmed))
		if derr != nil {
			return nil, false, newError(KindMalformedFormat, "header: parent unicode name", derr)
		}
		h.ParentUnicodeName = cps
	}

	for i := 0; i < numParentLocators; i++ {
		off := 576 + i*parentLocatorSize
		var loc ParentLocator
		loc.PlatformCode, _, _ = codec.ReadU32(buf, off, codec.BigEndian)
		loc.PlatformDataSpaceRaw, _, _ = codec.ReadU32(buf, off+4, codec.BigEndian)
		loc.PlatformDataSpaceBytes = NormalizeDataSpace(loc.PlatformDataSpaceRaw)
		loc.PlatformDataLength, _, _ = codec.ReadU32(buf, off+8, codec.BigEndian)
		loc.PlatformDataOffset, _, _ = codec.ReadU64(buf, off+16, codec.BigEndian)
		h.ParentLocators[i] = loc
	}

	scratch := make([]byte, headerSize)
	copy(scratch, buf)
	codec.PutU32(scratch, 36, 0, codec.BigEndian)
	checksumOK = checksumBytes(scratch, -1) == h.Checksum

	return h, checksumOK, nil
}

// trimTrailingNulPairs drops trailing 0x0000 code units so the decoded
// parent name doesn't pick up NUL padding as codepoints.
func trimTrailingNulPairs(buf []byte) []byte {
	end := len(buf)
	for end >= 2 && buf[end-2] == 0 && buf[end-1] == 0 {
		end -= 2
	}
	return buf[:end]
}
