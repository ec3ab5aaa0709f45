// Package countervec implements the 2-D, per-thread counter storage
// backing counter_vector_simple and counter_vector_combined directory
// entries (spec §4.4). Storage lives in the segment heap, grows
// monotonically (never shrinks), and cache-line aligns each thread's row
// so that worker threads writing their own row never false-share a cache
// line with a neighbor.
package countervec

import (
	"encoding/binary"
	"fmt"

	"github.com/quarkline/statseg/segment"
)

// Kind distinguishes a single counter per (thread, object) cell from a
// combined {packets, bytes} pair per cell.
type Kind int

const (
	Simple Kind = iota
	Combined
)

func cellSize(k Kind) int {
	if k == Combined {
		return 16
	}
	return 8
}

// headerSize is the self-describing prefix written at the start of every
// vector's heap allocation: rows, cols, and row stride, each a uint32,
// padded out to one full cache line so that the cell data, and with it
// every cache-line-multiple row, starts on a cache-line boundary. A reader
// holding only a heap byte offset (never a language pointer, per the
// "pointers across processes" design note) can recover the vector's shape
// from these bytes alone.
const headerSize = segment.CacheLineBytes

// Vector is the writer's handle on one counter vector's backing storage.
type Vector struct {
	heap *segment.Heap
	kind Kind

	offset    uint64 // heap offset of the header+cells block
	rows      uint32
	cols      uint32
	rowStride uint32 // bytes per row, cache-line aligned
}

// New returns an unallocated vector of the given kind; its first Extend
// performs the initial allocation.
func New(heap *segment.Heap, kind Kind) *Vector {
	return &Vector{heap: heap, kind: kind}
}

// DataOffset is the value to install as a directory entry's payload
// pointer (spec §4.4).
func (v *Vector) DataOffset() uint64 { return v.offset }

// Dims returns the vector's current (rows, cols).
func (v *Vector) Dims() (rows, cols uint32) { return v.rows, v.cols }

// Extend grows the vector so that every (thread, object) pair with
// thread <= maxRow and object <= maxCol is addressable, reallocating and
// copying forward if necessary. It never shrinks an existing dimension
// (spec §4.4). Callers MUST hold the writer lock.
func (v *Vector) Extend(maxRow, maxCol uint32) {
	newRows := maxRow + 1
	newCols := maxCol + 1
	if newRows <= v.rows && newCols <= v.cols {
		return
	}
	if newRows < v.rows {
		newRows = v.rows
	}
	if newCols < v.cols {
		newCols = v.cols
	}

	cell := cellSize(v.kind)
	rowStride := uint32(alignUp(uint64(newCols)*uint64(cell), segment.CacheLineBytes))
	total := headerSize + int(newRows)*int(rowStride)

	offset, buf, err := v.heap.Alloc(total)
	if err != nil {
		panic(fmt.Sprintf("countervec: %v", err))
	}

	binary.LittleEndian.PutUint32(buf[0:4], newRows)
	binary.LittleEndian.PutUint32(buf[4:8], newCols)
	binary.LittleEndian.PutUint32(buf[8:12], rowStride)

	if v.rows > 0 {
		old := v.heap.At(v.offset, headerSize+int(v.rows)*int(v.rowStride))
		for r := uint32(0); r < v.rows; r++ {
			srcOff := headerSize + int(r)*int(v.rowStride)
			dstOff := headerSize + int(r)*int(rowStride)
			copy(buf[dstOff:dstOff+int(v.cols)*cell], old[srcOff:srcOff+int(v.cols)*cell])
		}
	}

	v.offset = offset
	v.rows = newRows
	v.cols = newCols
	v.rowStride = rowStride
}

func (v *Vector) cellOffset(thread, object uint32) uint64 {
	return v.offset + headerSize + uint64(thread)*uint64(v.rowStride) + uint64(object)*uint64(cellSize(v.kind))
}

// SetSimple writes one counter_vector_simple cell. thread and object must
// already be within Dims() (callers extend first).
func (v *Vector) SetSimple(thread, object uint32, value uint64) {
	binary.LittleEndian.PutUint64(v.heap.At(v.cellOffset(thread, object), 8), value)
}

// GetSimple reads one counter_vector_simple cell.
func (v *Vector) GetSimple(thread, object uint32) uint64 {
	return binary.LittleEndian.Uint64(v.heap.At(v.cellOffset(thread, object), 8))
}

// SetCombined writes one counter_vector_combined {packets, bytes} cell.
func (v *Vector) SetCombined(thread, object uint32, packets, bytes uint64) {
	buf := v.heap.At(v.cellOffset(thread, object), 16)
	binary.LittleEndian.PutUint64(buf[0:8], packets)
	binary.LittleEndian.PutUint64(buf[8:16], bytes)
}

// GetCombined reads one counter_vector_combined cell.
func (v *Vector) GetCombined(thread, object uint32) (packets, bytes uint64) {
	buf := v.heap.At(v.cellOffset(thread, object), 16)
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16])
}

func alignUp(off, align uint64) uint64 {
	if off%align == 0 {
		return off
	}
	return off + (align - off%align)
}
