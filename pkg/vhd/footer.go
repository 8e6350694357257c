package vhd

import (
	"fmt"
	"time"

	"github.com/djs55/vhddisk/pkg/codec"
)

const (
	footerSize   = 512
	footerCookie = "conectix"

	// vhdEpoch is the VHD format's zero time, 2000-01-01 00:00:00 UTC,
	// expressed as a Unix timestamp offset.
	vhdEpoch = 946684800
)

// Footer is the 512-byte structure present at the end of every VHD file
// (and, for dynamic/differencing disks, duplicated at the start). All
// integer fields are big-endian on disk; Footer itself holds them in
// native Go types.
type Footer struct {
	Features           Features
	FormatVersion       uint32
	DataOffset          uint64 // 0xffff_ffff_ffff_ffff for fixed disks
	TimeStamp           uint32 // seconds since vhdEpoch
	CreatorApplication  [4]byte
	CreatorVersion      uint32
	CreatorHostOS       [4]byte
	OriginalSize        uint64
	CurrentSize         uint64
	Geometry            CHS
	DiskType            DiskType
	Checksum            uint32
	UniqueID            [16]byte
	SavedState          byte
}

// CreatedAt returns the footer timestamp as an absolute time.
func (f *Footer) CreatedAt() time.Time {
	return time.Unix(int64(f.TimeStamp)+vhdEpoch, 0).UTC()
}

// SetCreatedAt stores t (truncated to seconds) as the footer timestamp.
func (f *Footer) SetCreatedAt(t time.Time) {
	f.TimeStamp = uint32(t.Unix() - vhdEpoch)
}

// Marshal encodes the footer as the 512-byte on-disk big-endian record,
// computing and filling in Checksum as it goes (the checksum field
// itself is treated as zero while summing, per §3).
func (f *Footer) Marshal() []byte {
	buf := make([]byte, footerSize)
	copy(buf[0:8], footerCookie)
	codec.PutU32(buf, 8, uint32(f.Features), codec.BigEndian)
	codec.PutU32(buf, 12, f.FormatVersion, codec.BigEndian)
	codec.PutU64(buf, 16, f.DataOffset, codec.BigEndian)
	codec.PutU32(buf, 24, f.TimeStamp, codec.BigEndian)
	copy(buf[28:32], f.CreatorApplication[:])
	codec.PutU32(buf, 32, f.CreatorVersion, codec.BigEndian)
	copy(buf[36:40], f.CreatorHostOS[:])
	codec.PutU64(buf, 40, f.OriginalSize, codec.BigEndian)
	codec.PutU64(buf, 48, f.CurrentSize, codec.BigEndian)
	codec.PutU32(buf, 56, f.Geometry.Encode(), codec.BigEndian)
	codec.PutU32(buf, 60, uint32(f.DiskType), codec.BigEndian)
	// checksum field [64:68] left zero for the sum
	copy(buf[68:84], f.UniqueID[:])
	buf[84] = f.SavedState
	// reserved [85:512] left zero

	sum := checksumBytes(buf, 64)
	codec.PutU32(buf, 64, sum, codec.BigEndian)
	return buf
}

// UnmarshalFooter parses a 512-byte buffer into a Footer. It validates
// the cookie but does not enforce the checksum — a mismatch is reported
// via ok=false so the caller can log-and-accept per §4.5 step 2.
func UnmarshalFooter(buf []byte) (f *Footer, checksumOK bool, err error) {
	if len(buf) < footerSize {
		return nil, false, newError(KindMalformedFormat, fmt.Sprintf("footer: need %d bytes, have %d", footerSize, len(buf)), nil)
	}
	buf = buf[:footerSize]

	if string(buf[0:8]) != footerCookie {
		return nil, false, newError(KindMalformedFormat, fmt.Sprintf("footer: bad cookie %q", buf[0:8]), nil)
	}

	f = &Footer{}
	features, _, _ := codec.ReadU32(buf, 8, codec.BigEndian)
	f.Features = Features(features)
	f.FormatVersion, _, _ = codec.ReadU32(buf, 12, codec.BigEndian)
	f.DataOffset, _, _ = codec.ReadU64(buf, 16, codec.BigEndian)
	f.TimeStamp, _, _ = codec.ReadU32(buf, 24, codec.BigEndian)
	copy(f.CreatorApplication[:], buf[28:32])
	f.CreatorVersion, _, _ = codec.ReadU32(buf, 32, codec.BigEndian)
	copy(f.CreatorHostOS[:], buf[36:40])
	f.OriginalSize, _, _ = codec.ReadU64(buf, 40, codec.BigEndian)
	f.CurrentSize, _, _ = codec.ReadU64(buf, 48, codec.BigEndian)
	geom, _, _ := codec.ReadU32(buf, 56, codec.BigEndian)
	f.Geometry = DecodeCHS(geom)
	diskType, _, _ := codec.ReadU32(buf, 60, codec.BigEndian)
	f.DiskType = DiskType(diskType)
	f.Checksum, _, _ = codec.ReadU32(buf, 64, codec.BigEndian)
	copy(f.UniqueID[:], buf[68:84])
	f.SavedState = buf[84]

	scratch := make([]byte, footerSize)
	copy(scratch, buf)
	codec.PutU32(scratch, 64, 0, codec.BigEndian)
	checksumOK = checksumBytes(scratch, -1) == f.Checksum

	return f, checksumOK, nil
}

// checksumBytes computes the VHD checksum of buf: the one's complement
// of the unsigned byte-wise sum of every byte, skipping the 4 checksum
// bytes at skipOffset (pass -1 to skip nothing, i.e. the field has
// already been zeroed in buf).
func checksumBytes(buf []byte, skipOffset int) uint32 {
	var sum uint32
	for i, b := range buf {
		if skipOffset >= 0 && i >= skipOffset && i < skipOffset+4 {
			continue
		}
		sum += uint32(b)
	}
	return ^sum
}
