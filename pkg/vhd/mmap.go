package vhd

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps the first size bytes of f for reading and writing,
// shared with any other mapping of the same file — the VHD engine's
// sole locus of mutation per §5. Grounded on the same
// golang.org/x/sys-backed mmap/munmap pairing used by
// markrussinovich-grpc-go-shmem's shared-segment transport, substituted
// for this repo's lower-level syscall usage there.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmapFile(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}
