package vhd

import "fmt"

// ReadSector reads the 512 bytes at logical sector s into out (which
// must be exactly 512 bytes long), per the read path in §4.6: an
// unallocated block falls back to the parent (differencing) or zeros;
// an allocated block consults the bitmap only for differencing disks.
func (v *VHD) ReadSector(s uint64, out []byte) error {
	if len(out) != sectorSize {
		return fmt.Errorf("vhd: ReadSector: buffer must be exactly %d bytes, got %d", sectorSize, len(out))
	}
	if s*sectorSize >= v.footer.CurrentSize {
		return newError(KindOutOfRange, fmt.Sprintf("sector %d beyond current size", s), nil)
	}

	if v.footer.DiskType == DiskTypeFixed {
		copy(out, v.mapped[s*sectorSize:s*sectorSize+sectorSize])
		return nil
	}

	a := v.translate(s)

	if !a.allocated {
		if v.footer.DiskType == DiskTypeDifferencing && v.parent != nil {
			return v.parent.ReadSector(s, out)
		}
		for i := range out {
			out[i] = 0
		}
		return nil
	}

	if v.footer.DiskType == DiskTypeDifferencing {
		bitmapByte := v.mapped[a.bitmapByteOff]
		if bitmapByte&a.mask == 0 {
			if v.parent == nil {
				for i := range out {
					out[i] = 0
				}
				return nil
			}
			return v.parent.ReadSector(s, out)
		}
	}

	copy(out, v.mapped[a.sectorOffset:a.sectorOffset+sectorSize])
	return nil
}

// WriteSector writes the 512 bytes of data to logical sector s,
// allocating a new block first if necessary (§4.6 write path). It
// persists the updated BAT and trailing footer whenever a new block is
// allocated.
func (v *VHD) WriteSector(s uint64, data []byte) error {
	if len(data) != sectorSize {
		return fmt.Errorf("vhd: WriteSector: buffer must be exactly %d bytes, got %d", sectorSize, len(data))
	}
	if s*sectorSize >= v.footer.CurrentSize {
		return newError(KindOutOfRange, fmt.Sprintf("sector %d beyond current size", s), nil)
	}

	if v.footer.DiskType == DiskTypeFixed {
		copy(v.mapped[s*sectorSize:s*sectorSize+sectorSize], data)
		return nil
	}

	a := v.translate(s)

	if !a.allocated {
		if err := v.allocateBlock(a.block); err != nil {
			return err
		}
		a = v.translate(s)
	}

	copy(v.mapped[a.sectorOffset:a.sectorOffset+sectorSize], data)

	bm := v.mapped[a.bitmapByteOff]
	bm |= a.mask
	v.mapped[a.bitmapByteOff] = bm

	return nil
}

// topUnusedOffset returns the byte offset one past every region
// presently known to be in use: every allocated block's bitmap+data,
// or (if nothing is allocated yet) just past the BAT, per §4.6.
func (v *VHD) topUnusedOffset() int64 {
	h := v.header
	top := int64(h.TableOffset) + batByteSize(h.MaxTableEntries)

	bitmapSize := h.BitmapSize()
	blockSpan := int64(h.BlockSize) + bitmapSize

	for _, entry := range v.bat {
		if entry == unallocatedEntry {
			continue
		}
		end := int64(entry)*sectorSize + blockSpan
		if end > top {
			top = end
		}
	}

	for _, loc := range h.ParentLocators {
		if loc.empty() {
			continue
		}
		end := int64(loc.PlatformDataOffset) + int64(loc.PlatformDataLength)
		if end > top {
			top = end
		}
	}

	return top
}

// allocateBlock places a fresh, zero-filled block (bitmap + data) for
// the given BAT index at the end of the file, growing the memory map
// as needed, then persists the BAT and trailing footer.
func (v *VHD) allocateBlock(block uint32) error {
	h := v.header

	place := v.topUnusedOffset()
	placeSector := (place + sectorSize - 1) / sectorSize

	bitmapSize := h.BitmapSize()
	blockSpan := int64(h.BlockSize) + bitmapSize
	newEnd := placeSector*sectorSize + blockSpan

	if err := v.growTo(newEnd + footerSize); err != nil {
		return err
	}

	zeroStart := placeSector * sectorSize
	for i := int64(0); i < blockSpan; i++ {
		v.mapped[zeroStart+i] = 0
	}

	v.bat[block] = uint32(placeSector)

	if err := v.persistBAT(); err != nil {
		return err
	}

	return v.persistTrailingFooter(newEnd)
}

// growTo ensures the memory map covers at least size bytes, extending
// the underlying file and remapping if necessary.
func (v *VHD) growTo(size int64) error {
	if int64(len(v.mapped)) >= size {
		return nil
	}

	if err := munmapFile(v.mapped); err != nil {
		return fmt.Errorf("vhd: growTo: munmap: %w", err)
	}
	if err := v.file.Truncate(size); err != nil {
		return fmt.Errorf("vhd: growTo: truncate: %w", err)
	}
	mapped, err := mmapFile(v.file, size)
	if err != nil {
		return fmt.Errorf("vhd: growTo: mmap: %w", err)
	}
	v.mapped = mapped
	return nil
}

// persistBAT re-encodes the in-memory BAT into the mapped region.
func (v *VHD) persistBAT() error {
	h := v.header
	buf := encodeBAT(v.bat)
	off := int64(h.TableOffset)
	if off+int64(len(buf)) > int64(len(v.mapped)) {
		return fmt.Errorf("vhd: persistBAT: BAT would exceed mapped region")
	}
	copy(v.mapped[off:off+int64(len(buf))], buf)
	return nil
}

// persistTrailingFooter rewrites the footer copy at the given offset,
// which must always sit at the largest used offset rounded up to a
// sector, per §3's invariant that a trailing footer copy always exists.
func (v *VHD) persistTrailingFooter(offset int64) error {
	buf := v.footer.Marshal()
	if offset+footerSize > int64(len(v.mapped)) {
		return fmt.Errorf("vhd: persistTrailingFooter: footer would exceed mapped region")
	}
	copy(v.mapped[offset:offset+footerSize], buf)
	return nil
}
