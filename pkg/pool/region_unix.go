//go:build unix

package pool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapRegion backs a BySize pool with a real anonymous mmap, the closest
// analogue available in userspace Go to the ashmem-backed pools the
// original runtime maps for its CPU executor. ByHandle pools are
// mapped the same way here since this module does not accept real
// foreign file descriptors from a host process (that binding lives at
// the public-API boundary, out of scope per §1 of the spec); the tag is
// only used for dedup.
func mapRegion(h Handle) (*Region, error) {
	if h.Size == 0 {
		return &Region{Handle: h, Bytes: nil}, nil
	}
	b, err := unix.Mmap(-1, 0, int(h.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", h.Size, err)
	}
	return &Region{
		Handle: h,
		Bytes:  b,
		release: func() error {
			return unix.Munmap(b)
		},
	}, nil
}
