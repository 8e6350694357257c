package vhd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/djs55/vhddisk/pkg/elog"
	"github.com/google/uuid"
)

const defaultBlockSize = 2 * 1024 * 1024 // 2MiB, the conventional dynamic-disk block size

// defaultTableOffset is the conventional BAT location for a freshly
// created sparse disk: footer copy (512) + header (1024) leaves a
// 512-byte gap at [1536,2048) before the BAT, which is exactly where
// a differencing disk's parent-locator payload is conventionally
// placed, per §4.6.
const defaultTableOffset = footerSize + headerSize + 512

// defaultParentLocatorOffset is where CreateNewDifference writes its
// single parent-locator payload: the gap between the header and the
// default BAT location, per §4.6's pinned construction recipe.
const defaultParentLocatorOffset = footerSize + headerSize

// CreateOptions controls optional fields of a newly created disk. The
// zero value picks the conventional defaults used throughout this
// package.
type CreateOptions struct {
	BlockSize          uint32
	CreatorApplication [4]byte
	CreatorVersion     uint32
	CreatorHostOS      [4]byte
}

func (o CreateOptions) withDefaults() CreateOptions {
	if o.BlockSize == 0 {
		o.BlockSize = defaultBlockSize
	}
	if o.CreatorApplication == [4]byte{} {
		o.CreatorApplication = [4]byte{'v', 'h', 'd', 'c'}
	}
	if o.CreatorHostOS == [4]byte{} {
		o.CreatorHostOS = [4]byte{'W', 'i', '2', 'k'}
	}
	return o
}

func newFooter(diskType DiskType, size int64, dataOffset uint64, opts CreateOptions) *Footer {
	f := &Footer{
		Features:           DefaultFeatures,
		FormatVersion:      0x00010000,
		DataOffset:         dataOffset,
		CreatorApplication: opts.CreatorApplication,
		CreatorVersion:     opts.CreatorVersion,
		CreatorHostOS:      opts.CreatorHostOS,
		OriginalSize:       uint64(size),
		CurrentSize:        uint64(size),
		Geometry:           computeCHS(size / sectorSize),
		DiskType:           diskType,
		UniqueID:           uuid.New(),
	}
	f.SetCreatedAt(time.Now())
	return f
}

// CreateNewFixed creates a fixed-size VHD at path: size bytes of zeroed
// data immediately followed by one footer copy, per §3.
func CreateNewFixed(path string, size int64, opts CreateOptions, log elog.Logger) (*VHD, error) {
	log = withLogger(log)
	opts = opts.withDefaults()

	size = roundUpSector(size)
	footer := newFooter(DiskTypeFixed, size, 0xFFFFFFFFFFFFFFFF, opts)

	total := size + footerSize
	f, err := createFile(path, total)
	if err != nil {
		return nil, err
	}

	mapped, err := mmapFile(f, total)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vhd: CreateNewFixed: mmap: %w", err)
	}

	copy(mapped[size:size+footerSize], footer.Marshal())

	log.Infof("vhd: created fixed disk %s (%d bytes)", path, size)
	return &VHD{path: path, file: f, mapped: mapped, footer: footer, log: log}, nil
}

// CreateNewDynamic creates a dynamically-expanding VHD at path: a
// leading footer copy, a sparse header, an all-unallocated BAT, and a
// trailing footer copy, per §3/§4. No blocks are allocated until
// written.
func CreateNewDynamic(path string, size int64, opts CreateOptions, log elog.Logger) (*VHD, error) {
	log = withLogger(log)
	opts = opts.withDefaults()

	size = roundUpSector(size)

	maxEntries := uint32((size + int64(opts.BlockSize) - 1) / int64(opts.BlockSize))

	footer := newFooter(DiskTypeDynamic, size, footerSize, opts)
	header := &Header{
		DataOffset:      0xFFFFFFFFFFFFFFFF,
		TableOffset:     defaultTableOffset,
		HeaderVersion:   0x00010000,
		MaxTableEntries: maxEntries,
		BlockSize:       opts.BlockSize,
	}

	bat := make([]uint32, maxEntries)
	for i := range bat {
		bat[i] = unallocatedEntry
	}

	batBytes := batByteSize(maxEntries)
	dataStart := roundUpSector(int64(header.TableOffset) + batBytes)
	total := dataStart + footerSize

	f, err := createFile(path, total)
	if err != nil {
		return nil, err
	}

	mapped, err := mmapFile(f, total)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vhd: CreateNewDynamic: mmap: %w", err)
	}

	copy(mapped[0:footerSize], footer.Marshal())
	copy(mapped[footerSize:footerSize+headerSize], header.Marshal())
	copy(mapped[header.TableOffset:header.TableOffset+uint64(batBytes)], encodeBAT(bat))
	copy(mapped[dataStart:dataStart+footerSize], footer.Marshal())

	log.Infof("vhd: created dynamic disk %s (%d bytes, %d blocks of %d)", path, size, maxEntries, opts.BlockSize)
	return &VHD{path: path, file: f, mapped: mapped, footer: footer, header: header, bat: bat, log: log}, nil
}

// CreateNewDifference creates a differencing VHD at path whose parent
// is the existing disk at parentPath, which it opens. The child inherits the
// parent's size, geometry, block size, and table size, and carries a
// single MacX parent locator naming the parent by a file:// URI
// relative to the child's own directory, per §4.6.
func CreateNewDifference(path, parentPath string, opts CreateOptions, log elog.Logger) (*VHD, error) {
	log = withLogger(log)
	opts = opts.withDefaults()

	parent, err := Load(parentPath, log)
	if err != nil {
		return nil, fmt.Errorf("vhd: CreateNewDifference: opening parent: %w", err)
	}

	childOpts := opts
	childOpts.BlockSize = parent.header.BlockSize

	v, err := CreateNewDynamic(path, parent.CurrentSize(), childOpts, log)
	if err != nil {
		parent.Close()
		return nil, err
	}
	v.footer.DiskType = DiskTypeDifferencing
	v.footer.Geometry = parent.footer.Geometry
	v.parent = parent

	// CreateNewDynamic sizes the BAT from size/BlockSize, which should
	// already match the parent's own MaxTableEntries since both were
	// derived from the same current_size and block_size; copy it
	// explicitly to honor §4.6's "copy ... max_table_entries" literally
	// even if a caller's CreateOptions nudges the arithmetic.
	if v.header.MaxTableEntries != parent.header.MaxTableEntries {
		v.header.MaxTableEntries = parent.header.MaxTableEntries
		bat := make([]uint32, v.header.MaxTableEntries)
		for i := range bat {
			bat[i] = unallocatedEntry
		}
		v.bat = bat
	}

	parentInfo, err := os.Stat(parentPath)
	if err != nil {
		v.Close()
		parent.Close()
		return nil, fmt.Errorf("vhd: CreateNewDifference: stat parent: %w", err)
	}

	uri := []byte("file://./" + filepath.Base(parentPath))
	const locatorOffset = defaultParentLocatorOffset

	if err := v.growTo(locatorOffset + roundUpSector(int64(len(uri)))); err != nil {
		v.Close()
		parent.Close()
		return nil, err
	}
	copy(v.mapped[locatorOffset:locatorOffset+int64(len(uri))], uri)

	v.header.ParentUniqueID = parent.footer.UniqueID
	v.header.ParentTimeStamp = uint32(parentInfo.ModTime().Unix() - vhdEpoch)
	v.header.ParentLocators[0] = ParentLocator{
		PlatformCode:           PlatformCodeMacX,
		PlatformDataSpaceRaw:   uint32(roundUpSector(int64(len(uri)))),
		PlatformDataSpaceBytes: uint32(roundUpSector(int64(len(uri)))),
		PlatformDataLength:     uint32(len(uri)),
		PlatformDataOffset:     uint64(locatorOffset),
	}

	if err := v.persistHeaderAndFooters(); err != nil {
		v.Close()
		parent.Close()
		return nil, err
	}

	log.Infof("vhd: created differencing disk %s on parent %s", path, parentPath)
	return v, nil
}

// persistHeaderAndFooters rewrites both footer copies and the header in
// the mapped region, used after mutating them post-construction (e.g.
// linking a parent).
func (v *VHD) persistHeaderAndFooters() error {
	copy(v.mapped[0:footerSize], v.footer.Marshal())
	copy(v.mapped[footerSize:footerSize+headerSize], v.header.Marshal())

	top := v.topUnusedOffset()
	trailer := roundUpSector(top)
	if trailer+footerSize > int64(len(v.mapped)) {
		if err := v.growTo(trailer + footerSize); err != nil {
			return err
		}
	}
	copy(v.mapped[trailer:trailer+footerSize], v.footer.Marshal())
	return nil
}

func createFile(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("vhd: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("vhd: create %s: truncate: %w", path, err)
	}
	return f, nil
}
