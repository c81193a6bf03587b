//go:build !unix

package pool

// mapRegion backs a pool with a plain heap allocation on platforms
// without an mmap syscall. Functionally equivalent to the unix mmap
// path from the CPU executor's point of view — it only ever needs a
// contiguous, addressable byte slice — just without a real OS mapping.
func mapRegion(h Handle) (*Region, error) {
	return &Region{Handle: h, Bytes: make([]byte, h.Size)}, nil
}
