package segment

import (
	"fmt"
	"sync"
)

// CacheLineBytes is the alignment used for heap allocations that will be
// indexed per-worker-thread, matching CLIB_CACHE_LINE_BYTES in the
// original: each thread's row of a counter vector starts on its own cache
// line so that writers on different cores never false-share.
const CacheLineBytes = 64

// Heap is the locked, shared-memory bump allocator that begins one page
// past the segment's base (spec §3.4). It never reclaims freed bytes —
// directory and counter-vector growth in this system is monotonic by
// design, so a bump allocator is both simpler and faithful to the
// source's behavior of leaving retired storage in place.
type Heap struct {
	mu     sync.Mutex
	region []byte
	offset uint64
}

func newHeap(region []byte) *Heap {
	return &Heap{region: region}
}

// Alloc reserves n bytes, cache-line aligned, and returns both the byte
// offset (the only form of "pointer" ever stored in shared memory) and a
// zero-copy slice view directly onto the mapped region.
func (h *Heap) Alloc(n int) (offset uint64, buf []byte, err error) {
	if n <= 0 {
		return 0, nil, fmt.Errorf("segment: invalid allocation size %d", n)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	aligned := alignUp(h.offset, CacheLineBytes)
	end := aligned + uint64(n)
	if end > uint64(len(h.region)) {
		return 0, nil, fmt.Errorf("segment: heap exhausted: need %d bytes, %d available",
			n, uint64(len(h.region))-aligned)
	}

	h.offset = end
	return aligned, h.region[aligned:end], nil
}

// At returns a slice view of n bytes at the given offset. Used to
// reinterpret previously-allocated storage, e.g. when extending a counter
// vector's dimensions in place is not possible and the caller must copy
// the old bytes forward into a freshly allocated region.
func (h *Heap) At(offset uint64, n int) []byte {
	return h.region[offset : offset+uint64(n)]
}

// Used reports how many bytes of the heap are currently allocated, for
// diagnostics.
func (h *Heap) Used() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offset
}

// Cap reports the heap's total capacity.
func (h *Heap) Cap() uint64 {
	return uint64(len(h.region))
}

func alignUp(off uint64, align uint64) uint64 {
	if off%align == 0 {
		return off
	}
	return off + (align - off%align)
}
