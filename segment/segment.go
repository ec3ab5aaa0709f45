// Package segment owns the backing memory object for the statistics
// segment: an anonymous, memfd-backed mapping, a fixed-layout shared
// header in its first page, and a locked bump heap in the remainder
// (spec §3.1, §3.4, §4.1). Package directory and package registry build
// the directory table and counter storage on top of it.
package segment

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quarkline/statseg/staterr"
)

// Version is the current layout version stamped into every new segment's
// header. Bump it whenever the header or directory entry layout changes
// incompatibly (spec §3.1, "Bounded names").
const Version = 1

// DefaultSize is the segment size used when Options.Size is zero
// (spec §6.1, "size <bytes>": default 32 MiB).
const DefaultSize = 32 << 20

var pageSize = os.Getpagesize()

// Options configures segment creation (spec §6.1).
type Options struct {
	// Size is the total mapping size in bytes, rounded up by Create to a
	// page boundary. Zero selects DefaultSize.
	Size int
	// Name is used only for the memfd's diagnostic name (visible in
	// /proc/<pid>/maps); it has no effect on addressing or lookup.
	Name string
}

// Segment is the writer's handle on the mapped region: its header and its
// heap. Exactly one Segment exists per writer process (spec §5, "exactly
// one mutating party").
type Segment struct {
	fd     int
	size   int
	mapped []byte

	hdr  *header
	heap *Heap

	// writerMu is the spinlock of spec §4.3. VPP uses a real spinlock
	// because its writer never blocks on the scheduler; a sync.Mutex is
	// the idiomatic Go equivalent and is never held across a suspension
	// point (only the Collector suspends, and only after releasing it).
	writerMu sync.Mutex

	log *logrus.Entry
}

// Create allocates a new anonymous shared memory object, sizes it,
// maps it writable, and initializes the header and heap. It returns
// staterr.SegmentInit on any allocation, truncation, or mapping failure —
// this is the one core failure mode with no recovery path (spec §7).
func Create(opts Options) (*Segment, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	size = int(alignUp(uint64(size), uint64(pageSize)))

	name := opts.Name
	if name == "" {
		name = "stat segment"
	}

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, staterr.SegmentInit(fmt.Errorf("memfd_create: %w", err))
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, staterr.SegmentInit(fmt.Errorf("ftruncate: %w", err))
	}

	mapped, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, staterr.SegmentInit(fmt.Errorf("mmap: %w", err))
	}

	s := &Segment{
		fd:     fd,
		size:   size,
		mapped: mapped,
		hdr:    newHeader(mapped[:pageSize]),
		heap:   newHeap(mapped[pageSize:]),
		log:    logrus.WithField("component", "segment"),
	}

	s.hdr.setVersion(Version)
	s.hdr.setBase(uint64(uintptr(unsafe.Pointer(&mapped[0]))))
	s.hdr.SetDirectoryVector(0, 0)
	s.hdr.SetErrorVector(0, 0)

	s.log.WithFields(logrus.Fields{"fd": fd, "size": size}).Info("segment created")

	return s, nil
}

// Fd returns the file descriptor backing the segment, for handoff to
// readers (spec §4.7, §6.2).
func (s *Segment) Fd() int { return s.fd }

// Size returns the total mapping size in bytes.
func (s *Segment) Size() int { return s.size }

// Heap returns the segment's internal allocator.
func (s *Segment) Heap() *Heap { return s.heap }

// Version reports the layout version stamped into the header.
func (s *Segment) Version() uint32 { return s.hdr.Version() }

// Epoch returns the current epoch counter (spec §4.3, P3).
func (s *Segment) Epoch() uint64 { return s.hdr.Epoch() }

// InProgress reports whether a writer transaction is in flight.
func (s *Segment) InProgress() bool { return s.hdr.InProgress() }

// DirectoryVector returns the current directory table's heap offset and
// entry count, as published by the most recent writer transaction.
func (s *Segment) DirectoryVector() (offset, count uint64) { return s.hdr.DirectoryVector() }

// SetDirectoryVector republishes the directory table's location. Must be
// called while the writer lock is held.
func (s *Segment) SetDirectoryVector(offset, count uint64) { s.hdr.SetDirectoryVector(offset, count) }

// ErrorVector returns the current error vector's heap offset and length.
func (s *Segment) ErrorVector() (offset, count uint64) { return s.hdr.ErrorVector() }

// SetErrorVector republishes the error vector's location.
func (s *Segment) SetErrorVector(offset, count uint64) { s.hdr.SetErrorVector(offset, count) }

// Lock begins a writer transaction: it acquires the spinlock and sets
// in_progress so that readers mid-snapshot retry (spec §4.3).
func (s *Segment) Lock() {
	s.writerMu.Lock()
	s.hdr.setInProgress(true)
}

// Unlock ends a writer transaction: it increments the epoch strictly
// between transactions, then clears in_progress, then releases the
// spinlock (spec §4.3, P3 "epoch monotone").
func (s *Segment) Unlock() {
	s.hdr.bumpEpoch()
	s.hdr.setInProgress(false)
	s.writerMu.Unlock()
}

// HeapGuard is the scoped "enter segment heap" / "leave" discipline of
// spec §4.1. Constructing one marks the boundary inside which
// segment-internal mutations are allowed; Leave marks its end. Go has no
// implicit per-goroutine heap to swap the way C's clib_mem_set_heap does,
// so the guard does not change where allocations happen. The allocating
// components of this module (directory.Table, countervec.Vector) are
// handed the segment's *Heap explicitly and do not go through a guard;
// nothing in the module calls EnterHeap.
type HeapGuard struct {
	seg *Segment
}

// EnterHeap returns a guard whose Heap() is this segment's heap.
func (s *Segment) EnterHeap() *HeapGuard {
	return &HeapGuard{seg: s}
}

// Heap returns the segment heap installed by EnterHeap.
func (g *HeapGuard) Heap() *Heap { return g.seg.heap }

// Leave ends the scoped heap installation. It is a no-op marker in this
// port (see HeapGuard doc comment) but every EnterHeap must be paired with
// exactly one Leave, mirroring clib_mem_set_heap(old).
func (g *HeapGuard) Leave() {}

// Close unmaps and closes the backing file descriptor. The segment is
// destroyed (spec §6.3, "Persisted State: None").
func (s *Segment) Close() error {
	if err := unix.Munmap(s.mapped); err != nil {
		return err
	}
	return unix.Close(s.fd)
}
