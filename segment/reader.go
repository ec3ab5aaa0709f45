package segment

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Reader is an external process's read-only view of a segment, obtained
// from a fd received over the handoff socket (spec §4.7, §6.2). It maps
// the same pages the writer mapped, but PROT_READ only, and never mutates
// them.
type Reader struct {
	fd     int
	size   int
	mapped []byte
	hdr    *header
	heap   *Heap
}

// OpenReader maps fd read-only and reads the header at offset 0. size must
// be the segment's true size (an external reader gets it via fstat).
func OpenReader(fd int, size int) (*Reader, error) {
	mapped, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("segment: mmap reader: %w", err)
	}
	return &Reader{
		fd:     fd,
		size:   size,
		mapped: mapped,
		hdr:    newHeader(mapped[:pageSize]),
		heap:   newHeap(mapped[pageSize:]),
	}, nil
}

// Version, Epoch, InProgress, DirectoryVector, and ErrorVector mirror the
// Segment accessors but are always read-only.
func (r *Reader) Version() uint32                          { return r.hdr.Version() }
func (r *Reader) Epoch() uint64                             { return r.hdr.Epoch() }
func (r *Reader) InProgress() bool                          { return r.hdr.InProgress() }
func (r *Reader) DirectoryVector() (offset, count uint64)   { return r.hdr.DirectoryVector() }
func (r *Reader) ErrorVector() (offset, count uint64)       { return r.hdr.ErrorVector() }

// HeapBytes returns the read-only heap region, for decoding directory
// entries and counter vectors at a given byte offset.
func (r *Reader) HeapBytes() []byte { return r.heap.region }

// Translate maps a writer-relative value into this reader's mapping, using
// the header's Base (the address at which the writer mapped the segment),
// per the "pointers across processes" design note; since every
// pointer this module stores in shared memory is already a heap-relative
// byte offset rather than an absolute address, Translate is an identity
// function in practice but is kept as an explicit step so a future field
// that does carry an absolute address has a single place to fix up.
func (r *Reader) Translate(writerRelative uint64) uint64 {
	_ = r.hdr.Base() // the writer's mapping address, kept for parity with spec §3.1
	return writerRelative
}

// MyBase returns the address at which this reader mapped the segment.
func (r *Reader) MyBase() uint64 {
	if len(r.mapped) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&r.mapped[0])))
}

// Close unmaps the reader's view. It has no effect on the writer.
func (r *Reader) Close() error {
	return unix.Munmap(r.mapped)
}
