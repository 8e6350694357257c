// Package vhd implements the Virtual Hard Disk file format: fixed,
// dynamic, and differencing variants. It answers "read sector S" and
// "write sector S" by walking a Block Allocation Table, per-block
// sector bitmaps, and a parent-pointer chain, allocating new blocks on
// first write.
package vhd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/djs55/vhddisk/pkg/elog"
)

// VHD is an open virtual disk image. It owns the memory map backing the
// file and, for differencing disks, the chain of parent VHDs resolved
// at load time. A VHD is not safe for concurrent use; §5 requires
// external serialization.
type VHD struct {
	path   string
	file   *os.File
	mapped []byte

	footer *Footer
	header *Header // nil for fixed disks
	bat    []uint32 // nil for fixed disks
	parent *VHD     // non-nil only for differencing disks

	log elog.Logger
}

// Path returns the file path the VHD was opened or created at.
func (v *VHD) Path() string { return v.path }

// DiskType returns the disk's footer-declared type.
func (v *VHD) DiskType() DiskType { return v.footer.DiskType }

// CurrentSize returns the logical size of the disk in bytes.
func (v *VHD) CurrentSize() int64 { return int64(v.footer.CurrentSize) }

// Footer returns the parsed footer. Callers must not mutate it through
// this pointer and expect the change to persist; use WriteSector and
// the constructors for all mutation.
func (v *VHD) Footer() *Footer { return v.footer }

// Header returns the parsed sparse header, or nil for a fixed disk.
func (v *VHD) Header() *Header { return v.header }

// Parent returns the resolved parent disk of a differencing VHD, or
// nil for any other disk type.
func (v *VHD) Parent() *VHD { return v.parent }

// BAT returns the in-memory block allocation table, or nil for a fixed
// disk. The returned slice aliases the VHD's own state; do not mutate.
func (v *VHD) BAT() []uint32 { return v.bat }

func withLogger(log elog.Logger) elog.Logger {
	if log == nil {
		return elog.Nop{}
	}
	return log
}

// Load opens an existing VHD file at path, memory-mapping it
// read/write and parsing its footer (and, for sparse variants, header
// and BAT). Checksum mismatches are logged but do not fail the load
// (§4.5, §7). A differencing disk's parent chain is resolved
// recursively; failure to find any parent is fatal.
func Load(path string, log elog.Logger) (*VHD, error) {
	log = withLogger(log)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("vhd: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vhd: stat %s: %w", path, err)
	}
	size := fi.Size()
	if size < footerSize {
		f.Close()
		return nil, newError(KindMalformedFormat, fmt.Sprintf("%s: file too small to hold a footer", path), nil)
	}

	mapped, err := mmapFile(f, size)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vhd: mmap %s: %w", path, err)
	}

	v := &VHD{path: path, file: f, mapped: mapped, log: log}

	footer, checksumOK, err := UnmarshalFooter(mapped[:footerSize])
	if err != nil {
		v.unmapAndClose()
		return nil, fmt.Errorf("vhd: %s: %w", path, err)
	}
	if !checksumOK {
		log.Warnf("vhd: %s: footer checksum mismatch, accepting anyway", path)
	}
	v.footer = footer

	if footer.DiskType == DiskTypeFixed || footer.DiskType == DiskTypeNone {
		return v, nil
	}

	if footer.DiskType.IsReserved() {
		v.unmapAndClose()
		return nil, newError(KindMalformedFormat, fmt.Sprintf("%s: unrecognized disk type %s", path, footer.DiskType), nil)
	}

	if int64(footer.DataOffset)+headerSize > size {
		v.unmapAndClose()
		return nil, newError(KindMalformedFormat, fmt.Sprintf("%s: header offset out of range", path), nil)
	}

	header, hChecksumOK, err := UnmarshalHeader(mapped[footer.DataOffset : footer.DataOffset+headerSize])
	if err != nil {
		v.unmapAndClose()
		return nil, fmt.Errorf("vhd: %s: %w", path, err)
	}
	if !hChecksumOK {
		log.Warnf("vhd: %s: header checksum mismatch, accepting anyway", path)
	}
	v.header = header

	batBytes := batByteSize(header.MaxTableEntries)
	if header.TableOffset+uint64(batBytes) > uint64(size) {
		v.unmapAndClose()
		return nil, newError(KindMalformedFormat, fmt.Sprintf("%s: BAT out of range", path), nil)
	}
	v.bat = decodeBAT(mapped[header.TableOffset:uint64(header.TableOffset)+uint64(batBytes)], header.MaxTableEntries)

	if footer.DiskType == DiskTypeDifferencing {
		parent, err := v.resolveParent(header, log)
		if err != nil {
			v.unmapAndClose()
			return nil, err
		}
		v.parent = parent
	}

	return v, nil
}

// resolveParent walks a differencing disk's parent locators looking for
// the first MacX-coded, file://-URI entry naming a file that exists,
// per §4.5 step 6.
func (v *VHD) resolveParent(h *Header, log elog.Logger) (*VHD, error) {
	dir := filepath.Dir(v.path)

	for _, loc := range h.ParentLocators {
		if loc.empty() || loc.PlatformCode != PlatformCodeMacX {
			continue
		}

		name, err := v.parentLocatorFileName(loc)
		if err != nil {
			log.Warnf("vhd: %s: skipping unparsable parent locator: %v", v.path, err)
			continue
		}

		candidate := name
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(dir, candidate)
		}

		if _, err := os.Stat(candidate); err != nil {
			continue
		}

		parent, err := Load(candidate, log)
		if err != nil {
			return nil, fmt.Errorf("vhd: %s: loading parent %s: %w", v.path, candidate, err)
		}
		return parent, nil
	}

	return nil, newError(KindParentResolution, fmt.Sprintf("%s: no resolvable parent locator", v.path), nil)
}

// parentLocatorFileName reads a locator's platform_data from the
// memory map and parses it as a file:// URI, returning the path.
func (v *VHD) parentLocatorFileName(loc ParentLocator) (string, error) {
	start := int64(loc.PlatformDataOffset)
	length := int64(loc.PlatformDataLength)
	if start < 0 || length < 0 || start+length > int64(len(v.mapped)) {
		return "", fmt.Errorf("parent locator data out of range")
	}
	raw := v.mapped[start : start+length]

	// MacX locators store their URI as raw UTF-8, unlike the header's
	// parent_unicode_name field (UTF-16); see DESIGN.md.
	s := string(raw)
	const prefix = "file://"
	if !strings.HasPrefix(s, prefix) {
		return "", fmt.Errorf("parent locator data is not a file:// URI: %q", s)
	}
	s = strings.TrimPrefix(s, prefix)
	s = strings.TrimPrefix(s, "./")
	return s, nil
}

func (v *VHD) unmapAndClose() {
	if v.mapped != nil {
		munmapFile(v.mapped)
	}
	if v.file != nil {
		v.file.Close()
	}
}

// Close unmaps the VHD's memory map and closes the underlying file. It
// does not close any resolved parent; callers that want the whole
// chain released should walk Parent() themselves.
func (v *VHD) Close() error {
	var err error
	if v.mapped != nil {
		err = munmapFile(v.mapped)
		v.mapped = nil
	}
	if v.file != nil {
		if cerr := v.file.Close(); err == nil {
			err = cerr
		}
		v.file = nil
	}
	return err
}
