// Package pool implements the runtime's Pool Registry: it deduplicates
// shared-memory regions referenced by a model or a request and assigns
// them dense, stable indices.
//
// A pool is either created "by size" (an anonymous region the runtime
// owns) or "by handle" (wrapping an existing OS resource such as a file
// descriptor). Either way, register is idempotent: registering two
// logically-equal handles returns the same index instead of mapping the
// region twice.
package pool

import (
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/nnexec/nnexec/pkg/nnerrors"
)

// Kind distinguishes how a pool's backing memory was obtained.
type Kind int

const (
	// BySize is an anonymous region the registry allocates/maps itself.
	BySize Kind = iota
	// ByHandle wraps an existing OS resource (e.g. a shared-memory file
	// descriptor) identified by HandleTag.
	ByHandle
)

// Handle describes a shared-memory region without yet mapping it. Two
// handles that describe the same region (same Kind, Size, and — for
// ByHandle — the same HandleTag) fingerprint identically and therefore
// register to the same index.
type Handle struct {
	Kind Kind
	// Size is the region length in bytes.
	Size uint64
	// HandleTag identifies the backing OS resource for Kind == ByHandle
	// (e.g. "fd:13" or a file path); unused for BySize.
	HandleTag string
}

func (h Handle) fingerprint() [32]byte {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%d|%d|%s", h.Kind, h.Size, h.HandleTag)))
	return sum
}

// Region is the mapped view of a registered pool: a contiguous byte
// slice the CPU executor and the packing code read and write directly.
type Region struct {
	Index  int
	Handle Handle
	Bytes  []byte

	release func() error
}

// Close releases any OS-level mapping backing the region. Regions
// backed by a plain allocation (the non-unix fallback) and zero-size
// regions have a no-op Close.
func (r *Region) Close() error {
	if r.release == nil {
		return nil
	}
	return r.release()
}

// Registry is the dense, stable pool index assigned to a model or a
// request. Every method takes the registry's mutex, so registration and
// reads (Region, Slice, Len) may be called from any goroutine; the
// registry does not synchronize access to the bytes of a region.
type Registry struct {
	mu      sync.Mutex
	regions []*Region
	byFP    map[[32]byte]int
}

// New returns an empty pool registry.
func New() *Registry {
	return &Registry{byFP: make(map[[32]byte]int)}
}

// Register maps h to a dense index, mapping the region for the first
// time only if no equal handle has been registered yet. The returned
// index is stable for the lifetime of the registry.
func (r *Registry) Register(h Handle) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fp := h.fingerprint()
	if idx, ok := r.byFP[fp]; ok {
		return idx, nil
	}

	region, err := mapRegion(h)
	if err != nil {
		return 0, nnerrors.New(nnerrors.OutOfMemory, "pool: map region: %v", err)
	}
	idx := len(r.regions)
	region.Index = idx
	r.regions = append(r.regions, region)
	r.byFP[fp] = idx
	return idx, nil
}

// Len returns the number of distinct pools registered so far — the
// size of the compact [0,N) index space.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regions)
}

// Region returns the mapped region for a previously registered index.
func (r *Registry) Region(index int) (*Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.regions) {
		return nil, nnerrors.BadDataf("pool: index %d out of range [0,%d)", index, len(r.regions))
	}
	return r.regions[index], nil
}

// Slice returns the byte view into pool `index` at [offset, offset+length),
// bounds-checked against the mapped region.
func (r *Registry) Slice(index int, offset, length uint64) ([]byte, error) {
	region, err := r.Region(index)
	if err != nil {
		return nil, err
	}
	end := offset + length
	if end < offset || end > uint64(len(region.Bytes)) {
		return nil, nnerrors.BadDataf("pool: slice [%d,%d) out of range for pool %d of length %d",
			offset, end, index, len(region.Bytes))
	}
	return region.Bytes[offset:end], nil
}

// Close releases every mapped region. Safe to call once all requests
// and models referencing this registry have finished executing.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, region := range r.regions {
		if err := region.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// randomTag generates an opaque tag for a BySize handle that a caller
// wants to keep distinguishable from other same-size pools (e.g. two
// unrelated temporaries that happen to need the same number of bytes).
// Without a distinguishing tag, two BySize(n) handles of equal size
// would alias to the same pool, which is almost never what a caller
// constructing two independent regions wants.
func randomTag() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%x", b)
}

// NewFromSize builds a Handle for a fresh anonymous region of n bytes,
// distinguishable from any other NewFromSize(n) call.
func NewFromSize(n uint64) Handle {
	return Handle{Kind: BySize, Size: n, HandleTag: randomTag()}
}

// NewFromFD builds a Handle wrapping an existing file-descriptor-backed
// shared memory region, identified by tag (e.g. "fd:13"). Two calls
// with the same tag and size describe the same region and dedupe.
func NewFromFD(tag string, n uint64) Handle {
	return Handle{Kind: ByHandle, Size: n, HandleTag: tag}
}
