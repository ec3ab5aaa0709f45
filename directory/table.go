package directory

import (
	"strconv"

	"github.com/quarkline/statseg/segment"
	"github.com/quarkline/statseg/staterr"
)

const initialCapacity = 16

// headerPublisher is the subset of *segment.Segment a Table needs to
// republish the directory vector's location after a growing mutation
// (spec §4.2: "any mutation that may grow the vector MUST republish
// shared_header.directory_vector before releasing the lock").
type headerPublisher interface {
	SetDirectoryVector(offset, count uint64)
}

// Table is the in-segment directory of typed entries (spec §3.2) plus the
// process-private name index (spec §3.3). Every method assumes the caller
// already holds the writer lock (package registry is responsible for
// that) — Table itself performs no locking, matching the "directory
// mutations... under the writer lock" invariant rather than re-deriving
// it.
type Table struct {
	heap *segment.Heap
	hdr  headerPublisher

	offset uint64 // heap byte offset of the current vector
	cap    uint32 // allocated capacity, in entries
	count  uint32 // logical length (spec P5's "len(directory)")

	byName map[string]uint32 // name -> index, main-heap only (spec §3.3)
}

// NewTable constructs an empty directory table bound to seg's heap and
// header.
func NewTable(heap *segment.Heap, hdr headerPublisher) *Table {
	return &Table{
		heap:   heap,
		hdr:    hdr,
		byName: make(map[string]uint32),
	}
}

func (t *Table) slot(i uint32) []byte {
	return t.heap.At(t.offset+uint64(i)*entrySize, entrySize)
}

// Len returns the directory vector's current logical length.
func (t *Table) Len() uint32 { return t.count }

// Lookup consults the name index only; it never touches the segment heap
// (spec §4.2).
func (t *Table) Lookup(name string) (uint32, bool) {
	idx, ok := t.byName[name]
	return idx, ok
}

// Get decodes the entry at index. ok is false if index is out of range or
// the slot is empty (deleted, or never filled).
func (t *Table) Get(index uint32) (Entry, bool) {
	if index >= t.count {
		return Entry{}, false
	}
	e := decodeEntry(t.slot(index))
	if e.isEmpty() {
		return Entry{}, false
	}
	return e, true
}

// ensureCapacity grows the backing heap allocation so at least need entries
// fit, copying forward any existing entries and republishing the vector's
// new location. Doubling growth keeps amortized cost low; the source's
// own vec_validate follows the same doubling discipline.
func (t *Table) ensureCapacity(need uint32) {
	if need <= t.cap {
		return
	}
	newCap := t.cap * 2
	if newCap < initialCapacity {
		newCap = initialCapacity
	}
	if newCap < need {
		newCap = need
	}

	offset, buf, err := t.heap.Alloc(int(newCap) * entrySize)
	if err != nil {
		panic(err) // heap exhaustion is an operator sizing error, not recoverable mid-transaction
	}
	if t.count > 0 {
		old := t.heap.At(t.offset, int(t.count)*entrySize)
		copy(buf, old)
	}

	t.offset = offset
	t.cap = newCap
	t.hdr.SetDirectoryVector(t.offset, uint64(t.count))
}

// nextFreeSlot walks the vector tail-to-head for the first empty slot,
// keeping indices low and compact under churn (spec §4.2, P5). It returns
// t.count (i.e. "extend the vector") if none is found.
func (t *Table) nextFreeSlot() uint32 {
	for i := t.count; i > 0; i-- {
		if decodeEntry(t.slot(i - 1)).Type == TypeEmpty {
			return i - 1
		}
	}
	return t.count
}

// NewEntry creates a new directory slot named name of the given type. It
// fails with staterr.AlreadyExists if name already maps to a live entry
// (spec §4.2).
func (t *Table) NewEntry(name string, typ EntryType) (uint32, error) {
	if _, ok := t.byName[name]; ok {
		return 0, staterr.AlreadyExists(name)
	}

	idx := t.nextFreeSlot()
	if idx == t.count {
		t.ensureCapacity(t.count + 1)
		t.count++
		t.hdr.SetDirectoryVector(t.offset, uint64(t.count))
	}

	encodeEntry(t.slot(idx), Entry{Name: name, Type: typ})
	t.byName[name] = idx
	return idx, nil
}

// Delete removes the entry at index: its name index entry is dropped and
// the slot is zeroed and marked empty, but the index itself is never
// reused implicitly — only a later NewEntry's or NewSymlink's tail-to-head
// scan may claim it (spec §3.2, "deletion... leaves the index reusable").
func (t *Table) Delete(index uint32) error {
	if index >= t.count {
		return staterr.NotFound(indexKey(index))
	}
	e := decodeEntry(t.slot(index))
	if e.Type == TypeEmpty {
		return nil
	}
	delete(t.byName, e.Name)
	encodeEntry(t.slot(index), Entry{})
	return nil
}

// Rename renames the live entry at index, updating the name index
// accordingly (spec §4.2).
func (t *Table) Rename(index uint32, newName string) error {
	if index >= t.count {
		return staterr.NotFound(indexKey(index))
	}
	e := decodeEntry(t.slot(index))
	if e.Type == TypeEmpty {
		return staterr.NotFound(indexKey(index))
	}
	delete(t.byName, e.Name)
	e.Name = newName
	encodeEntry(t.slot(index), e)
	t.byName[newName] = index
	return nil
}

// NewSymlink creates a symlink entry aliasing (index1, index2). If name is
// already registered this is a no-op and the existing index is returned
// (spec §4.2, "register_symlink... If an entry by that name already
// exists, is a no-op").
func (t *Table) NewSymlink(name string, index1, index2 uint32) (uint32, error) {
	if idx, ok := t.byName[name]; ok {
		return idx, nil
	}
	idx := t.nextFreeSlot()
	if idx == t.count {
		t.ensureCapacity(t.count + 1)
		t.count++
		t.hdr.SetDirectoryVector(t.offset, uint64(t.count))
	}
	encodeEntry(t.slot(idx), Entry{Name: name, Type: TypeSymlink, Index1: index1, Index2: index2})
	t.byName[name] = idx
	return idx, nil
}

// SetValue overwrites a scalar entry's gauge value in place (spec §4.8's
// provider callbacks, the Collector's input_rate/heartbeat updates).
func (t *Table) SetValue(index uint32, value float64) error {
	e, ok := t.Get(index)
	if !ok {
		return staterr.NotFound(indexKey(index))
	}
	e.Value = value
	encodeEntry(t.slot(index), e)
	return nil
}

// SetIndexField overwrites an entry's raw index payload, used by
// error_index entries.
func (t *Table) SetIndexField(index uint32, v uint64) error {
	e, ok := t.Get(index)
	if !ok {
		return staterr.NotFound(indexKey(index))
	}
	e.Index = v
	encodeEntry(t.slot(index), e)
	return nil
}

// SetDataOffset installs a counter or name vector's heap offset as an
// entry's payload pointer (spec §4.4, "counter_main... published... by
// installing its storage pointer").
func (t *Table) SetDataOffset(index uint32, dataOffset uint64) error {
	e, ok := t.Get(index)
	if !ok {
		return staterr.NotFound(indexKey(index))
	}
	e.DataOffset = dataOffset
	encodeEntry(t.slot(index), e)
	return nil
}

// Snapshot copies every non-empty entry. Callers are expected to take the
// writer lock first (spec §6.4's "copy the directory under the lock").
func (t *Table) Snapshot() []Entry {
	out := make([]Entry, 0, t.count)
	for i := uint32(0); i < t.count; i++ {
		e := decodeEntry(t.slot(i))
		if e.Type != TypeEmpty {
			out = append(out, e)
		}
	}
	return out
}

// NameIndex returns a copy of the process-private name->index map, for
// `show statistics hash` (spec §6.4).
func (t *Table) NameIndex() map[string]uint32 {
	out := make(map[string]uint32, len(t.byName))
	for k, v := range t.byName {
		out[k] = v
	}
	return out
}

func indexKey(index uint32) string {
	return "#" + strconv.FormatUint(uint64(index), 10)
}
