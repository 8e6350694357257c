package vhd

import "sort"

// region names one disjoint span of bytes contributing to a VHD's
// on-disk layout, used by CheckOverlap to verify the layout invariant
// from §4.6: no two structural regions may overlap.
type region struct {
	name   string
	start  int64
	length int64
}

// CheckOverlap walks the footer, header, BAT, and every allocated
// block's bitmap+data, and reports the first pair of regions found to
// overlap. A nil return means the layout is self-consistent. Fixed
// disks have only the trailing footer, so there is nothing to compare.
func (v *VHD) CheckOverlap() error {
	regions := v.regions()

	sort.Slice(regions, func(i, j int) bool { return regions[i].start < regions[j].start })

	for i := 1; i < len(regions); i++ {
		prev, cur := regions[i-1], regions[i]
		if prev.start+prev.length > cur.start {
			return newError(KindMalformedFormat,
				"overlapping regions "+prev.name+" and "+cur.name, nil)
		}
	}
	return nil
}

func (v *VHD) regions() []region {
	size := int64(len(v.mapped))
	regions := []region{
		{name: "footer(trailing)", start: size - footerSize, length: footerSize},
	}

	if v.footer.DiskType == DiskTypeFixed || v.footer.DiskType == DiskTypeNone {
		return regions
	}

	regions = append(regions,
		region{name: "footer(leading)", start: 0, length: footerSize},
		region{name: "header", start: int64(v.footer.DataOffset), length: headerSize},
		region{name: "bat", start: int64(v.header.TableOffset), length: batByteSize(v.header.MaxTableEntries)},
	)

	bitmapSize := v.header.BitmapSize()
	blockSize := int64(v.header.BlockSize)

	for _, entry := range v.bat {
		if entry == unallocatedEntry {
			continue
		}
		start := int64(entry) * sectorSize
		regions = append(regions,
			region{name: "bitmap", start: start, length: bitmapSize},
			region{name: "block-data", start: start + bitmapSize, length: blockSize},
		)
	}

	for _, loc := range v.header.ParentLocators {
		if loc.empty() {
			continue
		}
		regions = append(regions, region{
			name:   "parent-locator",
			start:  int64(loc.PlatformDataOffset),
			length: int64(loc.PlatformDataLength),
		})
	}

	return regions
}
