package vhd

import "fmt"

// DiskType identifies the on-disk layout variant. The wire values come
// from the footer's DiskType field; values outside the four named ones
// decode and re-encode unchanged as a reserved type (see IsReserved),
// and Load rejects a footer carrying one as malformed.
type DiskType uint32

const (
	DiskTypeNone         DiskType = 0
	DiskTypeFixed        DiskType = 2
	DiskTypeDynamic      DiskType = 3
	DiskTypeDifferencing DiskType = 4
)

// IsReserved reports whether t is an integer the format defines no
// fixed/dynamic/differencing/none meaning for.
func (t DiskType) IsReserved() bool {
	switch t {
	case DiskTypeNone, DiskTypeFixed, DiskTypeDynamic, DiskTypeDifferencing:
		return false
	default:
		return true
	}
}

func (t DiskType) String() string {
	switch t {
	case DiskTypeNone:
		return "none"
	case DiskTypeFixed:
		return "fixed"
	case DiskTypeDynamic:
		return "dynamic"
	case DiskTypeDifferencing:
		return "differencing"
	default:
		return fmt.Sprintf("reserved(%d)", uint32(t))
	}
}

// HasHeader reports whether this disk type stores a sparse header/BAT
// in addition to the footer (every variant except fixed and none).
func (t DiskType) HasHeader() bool {
	return t == DiskTypeDynamic || t == DiskTypeDifferencing
}

// Feature is a bit position in the footer's Features field. The
// reference encoder and decoder in the original source disagree on
// whether this field holds bit positions or small integers; §9's open
// question (b) directs us to the spec-compliant bit-position reading,
// which is what is implemented here — see DESIGN.md.
type Feature uint32

const (
	FeatureTemporary Feature = 1 << 0
	FeatureReserved  Feature = 1 << 1
)

// Features is the decoded footer Features bitfield.
type Features uint32

func (f Features) Has(bit Feature) bool {
	return uint32(f)&uint32(bit) != 0
}

// DefaultFeatures is the Features value written by every constructor in
// this package: the Reserved bit is defined by the format to always be
// set, and nothing here produces temporary disks.
const DefaultFeatures = Features(FeatureReserved)
