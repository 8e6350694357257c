package vhd

const sectorSize = 512

// roundUpSector rounds n up to the next multiple of sectorSize.
func roundUpSector(n int64) int64 {
	return (n + sectorSize - 1) / sectorSize * sectorSize
}

// blockAddress is the result of translating a logical sector number
// into the on-disk coordinates described in §4.6.
type blockAddress struct {
	block         uint32
	secInBlock    uint32
	bitmapByte    int64
	bitmapBit     uint8
	mask          byte
	blockStart    int64 // absolute byte offset, valid only if allocated
	bitmapSize    int64
	dataStart     int64
	sectorOffset  int64
	bitmapByteOff int64
	allocated     bool
}

// translate computes the address of logical sector s within the
// header's block/bitmap geometry and the current BAT. It does not
// itself check s against the current size; callers do that first.
func (v *VHD) translate(s uint64) blockAddress {
	h := v.header
	spb := uint64(h.SectorsPerBlock())
	block := uint32(s / spb)
	secInBlock := uint32(s % spb)

	var a blockAddress
	a.block = block
	a.secInBlock = secInBlock
	a.bitmapByte = int64(secInBlock / 8)
	a.bitmapBit = uint8(secInBlock % 8)
	a.mask = 0x80 >> a.bitmapBit
	a.bitmapSize = h.BitmapSize()

	entry := v.bat[block]
	if entry != unallocatedEntry {
		a.allocated = true
		a.blockStart = int64(entry) * sectorSize
		a.dataStart = a.blockStart + a.bitmapSize
		a.sectorOffset = a.dataStart + int64(secInBlock)*sectorSize
		a.bitmapByteOff = a.blockStart + a.bitmapByte
	}

	return a
}
