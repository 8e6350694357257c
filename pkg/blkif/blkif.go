// Package blkif encodes and decodes the block I/O request/response
// records exchanged over a shmring.SharedRing: fixed-layout slots
// describing read/write/barrier/flush operations against a remote
// block device, plus the two historical ABI variants (32-bit and
// 64-bit guest word size) that differ only in slot padding. Everything
// on the wire is little-endian, unlike the big-endian VHD format.
package blkif

import (
	"fmt"

	"github.com/djs55/vhddisk/pkg/codec"
)

// Op identifies the requested block operation.
type Op uint8

const (
	OpRead         Op = 0
	OpWrite        Op = 1
	OpWriteBarrier Op = 2
	OpFlush        Op = 3
)

// String renders known ops by name and anything else as Unknown(n);
// IsKnown tells the two cases apart.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpWriteBarrier:
		return "Write_barrier"
	case OpFlush:
		return "Flush"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(o))
	}
}

// IsKnown reports whether o is one of the four defined operations.
func (o Op) IsKnown() bool {
	switch o {
	case OpRead, OpWrite, OpWriteBarrier, OpFlush:
		return true
	default:
		return false
	}
}

// Status is the outcome carried by a Response.
type Status uint16

const (
	StatusOK           Status = 0
	StatusNotSupported Status = 0xFFFE
	StatusError        Status = 0xFFFF
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotSupported:
		return "NotSupported"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(s))
	}
}

// MaxSegments is the largest number of segments a single request slot
// can carry in either ABI.
const MaxSegments = 11

const segmentSize = 8

// Segment describes a contiguous run of sectors within one shared
// 4 KiB (8-sector) page.
type Segment struct {
	GrantRef    uint32
	FirstSector uint8
	LastSector  uint8
}

// SectorCount returns how many sectors this segment spans.
func (s Segment) SectorCount() int {
	return int(s.LastSector) - int(s.FirstSector) + 1
}

func (s Segment) marshal() []byte {
	buf := make([]byte, segmentSize)
	codec.PutU32(buf, 0, s.GrantRef, codec.LittleEndian)
	buf[4] = s.FirstSector
	buf[5] = s.LastSector
	// buf[6:8] padding, left zero
	return buf
}

func unmarshalSegment(buf []byte) (Segment, error) {
	var s Segment
	var err error
	s.GrantRef, _, err = codec.ReadU32(buf, 0, codec.LittleEndian)
	if err != nil {
		return s, err
	}
	s.FirstSector = buf[4]
	s.LastSector = buf[5]
	return s, nil
}

// ABI selects which historical slot layout a ring was initialized
// with; the two differ only in 4 bytes of padding before the id field.
type ABI int

const (
	ABI64 ABI = iota
	ABI32
)

// SlotSize returns the fixed on-wire size of one request slot under
// this ABI.
func (a ABI) SlotSize() int {
	if a == ABI32 {
		return 108
	}
	return 112
}

// Request is one decoded request slot.
type Request struct {
	Op       Op
	Handle   uint16
	ID       uint64
	Sector   uint64
	Segments []Segment
}

// TotalSectors sums SectorCount across every segment.
func (r *Request) TotalSectors() int {
	n := 0
	for _, s := range r.Segments {
		n += s.SectorCount()
	}
	return n
}

// validate checks the invariants from §3: 1..=MaxSegments segments,
// each with last >= first, both in [0,7].
func (r *Request) validate() error {
	if len(r.Segments) == 0 || len(r.Segments) > MaxSegments {
		return fmt.Errorf("blkif: request has %d segments, want 1..=%d", len(r.Segments), MaxSegments)
	}
	for i, s := range r.Segments {
		if s.FirstSector > 7 || s.LastSector > 7 {
			return fmt.Errorf("blkif: segment %d sector range [%d,%d] out of page bounds", i, s.FirstSector, s.LastSector)
		}
		if s.LastSector < s.FirstSector {
			return fmt.Errorf("blkif: segment %d has last_sector < first_sector", i)
		}
	}
	return nil
}

// Marshal encodes r as a slot of abi's fixed size. r must satisfy
// validate's invariants, or Marshal returns an error rather than
// produce a slot the peer would reject.
func (r *Request) Marshal(abi ABI) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	size := abi.SlotSize()
	buf := make([]byte, size)

	buf[0] = uint8(r.Op)
	buf[1] = uint8(len(r.Segments))
	codec.PutU16(buf, 2, r.Handle, codec.LittleEndian)

	off := 4
	if abi == ABI64 {
		off = 8 // 4 bytes of padding before id on the 64-bit ABI
	}
	codec.PutU64(buf, off, r.ID, codec.LittleEndian)
	off += 8
	codec.PutU64(buf, off, r.Sector, codec.LittleEndian)
	off += 8

	for _, seg := range r.Segments {
		copy(buf[off:off+segmentSize], seg.marshal())
		off += segmentSize
	}

	return buf, nil
}

// UnmarshalRequest decodes a slot of abi's fixed size into a Request.
// An nr_segs outside 1..=MaxSegments is a protocol error, per §7.
func UnmarshalRequest(buf []byte, abi ABI) (*Request, error) {
	size := abi.SlotSize()
	if len(buf) < size {
		return nil, fmt.Errorf("blkif: slot too short: need %d bytes, have %d", size, len(buf))
	}

	r := &Request{Op: Op(buf[0])}
	nrSegs := int(buf[1])
	r.Handle, _, _ = codec.ReadU16(buf, 2, codec.LittleEndian)

	off := 4
	if abi == ABI64 {
		off = 8
	}
	r.ID, _, _ = codec.ReadU64(buf, off, codec.LittleEndian)
	off += 8
	r.Sector, _, _ = codec.ReadU64(buf, off, codec.LittleEndian)
	off += 8

	if nrSegs < 1 || nrSegs > MaxSegments {
		return nil, fmt.Errorf("blkif: nr_segs=%d out of range 1..=%d", nrSegs, MaxSegments)
	}

	r.Segments = make([]Segment, nrSegs)
	for i := 0; i < nrSegs; i++ {
		segBuf := buf[off : off+segmentSize]
		seg, err := unmarshalSegment(segBuf)
		if err != nil {
			return nil, err
		}
		r.Segments[i] = seg
		off += segmentSize
	}

	if err := r.validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// PeekID reads just the id field of a request slot without validating
// the rest of it, so a caller rejecting a malformed slot (bad nr_segs,
// unrecognized ABI framing) can still echo the request's id in a
// NotSupported response per §7 instead of leaving it at zero.
func PeekID(buf []byte, abi ABI) (uint64, error) {
	off := 4
	if abi == ABI64 {
		off = 8
	}
	id, _, err := codec.ReadU64(buf, off, codec.LittleEndian)
	return id, err
}

// responseSize is fixed regardless of ABI: id:u64 | op:u8 | reserved:u8 | status:u16.
const responseSize = 12

// Response is one decoded response slot.
type Response struct {
	ID     uint64
	Op     Op
	Status Status
}

// Marshal encodes r as its fixed 12-byte little-endian slot.
func (r *Response) Marshal() []byte {
	buf := make([]byte, responseSize)
	codec.PutU64(buf, 0, r.ID, codec.LittleEndian)
	buf[8] = uint8(r.Op)
	// buf[9] reserved, left zero
	codec.PutU16(buf, 10, uint16(r.Status), codec.LittleEndian)
	return buf
}

// UnmarshalResponse decodes a 12-byte slot into a Response.
func UnmarshalResponse(buf []byte) (*Response, error) {
	if len(buf) < responseSize {
		return nil, fmt.Errorf("blkif: response slot too short: need %d bytes, have %d", responseSize, len(buf))
	}
	r := &Response{}
	r.ID, _, _ = codec.ReadU64(buf, 0, codec.LittleEndian)
	r.Op = Op(buf[8])
	status, _, _ := codec.ReadU16(buf, 10, codec.LittleEndian)
	r.Status = Status(status)
	return r, nil
}
