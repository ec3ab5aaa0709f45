package segment

import (
	"sync/atomic"
	"unsafe"
)

// Fixed byte layout of the shared header (spec §3.1). It occupies the
// start of page 0; everything past it on that page is reserved. Every
// field is a native-width integer — no language pointers are ever stored
// here, only byte offsets relative to the mapping, per the "pointers
// across processes" design note.
const (
	offVersion    = 0
	offBase       = 8
	offEpoch      = 16
	offInProgress = 24
	offDirVecOff  = 32
	offDirVecLen  = 40
	offErrVecOff  = 48
	offErrVecLen  = 56

	// HeaderSize is the portion of page 0 the header actually occupies;
	// the rest of the page is padding reserved for future header growth
	// without bumping Version.
	HeaderSize = 64
)

// header is a thin, atomics-based view over the first HeaderSize bytes of
// a mapped segment. It never copies the underlying bytes: every accessor
// reads or writes through the mapping itself, so changes are immediately
// visible to any other process (or reader goroutine) mapping the same fd.
type header struct {
	raw []byte // raw[:HeaderSize], a sub-slice of the segment's page 0
}

func newHeader(raw []byte) *header {
	if len(raw) < HeaderSize {
		panic("segment: page 0 too small for header")
	}
	return &header{raw: raw[:HeaderSize]}
}

func (h *header) ptr64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&h.raw[off]))
}

func (h *header) ptr32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&h.raw[off]))
}

// Version returns the layout version stamped at segment creation.
func (h *header) Version() uint32 { return atomic.LoadUint32(h.ptr32(offVersion)) }

func (h *header) setVersion(v uint32) { atomic.StoreUint32(h.ptr32(offVersion), v) }

// Base is the address at which the writer mapped the segment. Readers
// compare it against their own mapping address to translate in-segment
// pointers; it is never used as an offset base by the writer itself.
func (h *header) Base() uint64 { return atomic.LoadUint64(h.ptr64(offBase)) }

func (h *header) setBase(v uint64) { atomic.StoreUint64(h.ptr64(offBase), v) }

// Epoch returns the current epoch counter.
func (h *header) Epoch() uint64 { return atomic.LoadUint64(h.ptr64(offEpoch)) }

func (h *header) bumpEpoch() uint64 { return atomic.AddUint64(h.ptr64(offEpoch), 1) }

// InProgress reports whether a writer transaction currently brackets the
// header and directory.
func (h *header) InProgress() bool { return atomic.LoadUint32(h.ptr32(offInProgress)) != 0 }

func (h *header) setInProgress(v bool) {
	var n uint32
	if v {
		n = 1
	}
	atomic.StoreUint32(h.ptr32(offInProgress), n)
}

// DirectoryVector returns the byte offset (within the segment heap) and
// entry count of the current directory table.
func (h *header) DirectoryVector() (offset, count uint64) {
	return atomic.LoadUint64(h.ptr64(offDirVecOff)), atomic.LoadUint64(h.ptr64(offDirVecLen))
}

// SetDirectoryVector republishes the directory table's location. Callers
// MUST invoke this any time a mutation might have reallocated (moved) the
// vector, before releasing the writer lock (spec §4.2).
func (h *header) SetDirectoryVector(offset, count uint64) {
	atomic.StoreUint64(h.ptr64(offDirVecOff), offset)
	atomic.StoreUint64(h.ptr64(offDirVecLen), count)
}

// ErrorVector returns the byte offset and length of the per-thread error
// counter arrays.
func (h *header) ErrorVector() (offset, count uint64) {
	return atomic.LoadUint64(h.ptr64(offErrVecOff)), atomic.LoadUint64(h.ptr64(offErrVecLen))
}

// SetErrorVector republishes the error vector's location.
func (h *header) SetErrorVector(offset, count uint64) {
	atomic.StoreUint64(h.ptr64(offErrVecOff), offset)
	atomic.StoreUint64(h.ptr64(offErrVecLen), count)
}
