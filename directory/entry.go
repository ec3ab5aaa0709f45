// Package directory implements the typed directory table and its
// string-indexed name lookup (spec §3.2–§3.3, §4.2). A Table is always
// backed by a segment's heap — entries and their vector payloads live in
// shared memory; the name index lives on the process's own heap so its
// internal pointers never leak onto the wire.
package directory

import "fmt"

// EntryType is the tag of a directory entry's payload, mirroring
// STAT_DIR_TYPE_* in the original stat_segment.c.
type EntryType uint8

const (
	TypeEmpty EntryType = iota
	TypeScalarIndex
	TypeCounterVectorSimple
	TypeCounterVectorCombined
	TypeErrorIndex
	TypeNameVector
	TypeSymlink
)

func (t EntryType) String() string {
	switch t {
	case TypeEmpty:
		return "empty"
	case TypeScalarIndex:
		return "scalar_index"
	case TypeCounterVectorSimple:
		return "counter_vector_simple"
	case TypeCounterVectorCombined:
		return "counter_vector_combined"
	case TypeErrorIndex:
		return "error_index"
	case TypeNameVector:
		return "name_vector"
	case TypeSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("EntryType(%d)", uint8(t))
	}
}

// MaxNameLen is the ABI-fixed bound on an entry's name, NUL included.
// Changing it is a version bump (spec §9, "Bounded names").
const MaxNameLen = 128

// Entry is the decoded, process-local view of one directory slot. The
// payload fields double up exactly as they do in the original C union:
// Value carries scalar gauges (input_rate, heartbeat, manually-set state
// counters, ...), Index carries an error-vector slot, Index1/Index2
// carry a symlink's (target entry, sub-element) pair, and DataOffset is the
// byte offset — inside the segment heap, never a language pointer — of a
// counter or name vector's backing storage.
type Entry struct {
	Name       string
	Type       EntryType
	Value      float64
	Index      uint64
	Index1     uint32
	Index2     uint32
	DataOffset uint64
}

func (e Entry) isEmpty() bool {
	return e.Type == TypeEmpty
}
