package directory

// EntrySize is the fixed on-heap byte size of one directory record,
// exported for readers that walk the directory vector directly from a
// read-only heap byte slice (spec §6.2's "decode the directory... using
// only the byte offset and count published in the header").
const EntrySize = entrySize

// View is a read-only decoder over a byte slice holding the directory
// vector, the shape an out-of-process reader has after resolving
// (offset, count) from the segment header into a sub-slice of its mapped
// heap. Unlike Table, View never mutates and never touches a name index —
// external readers build their own, if they want one, from a Snapshot.
type View struct {
	heap   []byte
	offset uint64
	count  uint32
}

// NewView wraps heapBytes (a reader's whole read-only heap region) so that
// entries at [offset, offset+count*EntrySize) can be decoded.
func NewView(heapBytes []byte, offset uint64, count uint32) View {
	return View{heap: heapBytes, offset: offset, count: count}
}

// Len returns the number of entries in this view.
func (v View) Len() uint32 { return v.count }

// Get decodes the entry at index, or ok=false if index is out of range.
func (v View) Get(index uint32) (Entry, bool) {
	if index >= v.count {
		return Entry{}, false
	}
	start := v.offset + uint64(index)*entrySize
	return decodeEntry(v.heap[start : start+entrySize]), true
}

// Snapshot decodes every non-empty entry, in directory order.
func (v View) Snapshot() []Entry {
	out := make([]Entry, 0, v.count)
	for i := uint32(0); i < v.count; i++ {
		e, _ := v.Get(i)
		if e.Type != TypeEmpty {
			out = append(out, e)
		}
	}
	return out
}

// ByName builds a one-off name->index map by scanning the whole view, the
// reader-side equivalent of the writer's always-maintained byName index
// (spec §4.3: the name index is a writer-process-private convenience, not
// something readers can assume is already built for them).
func (v View) ByName() map[string]uint32 {
	out := make(map[string]uint32, v.count)
	for i := uint32(0); i < v.count; i++ {
		e, _ := v.Get(i)
		if e.Type != TypeEmpty {
			out[e.Name] = i
		}
	}
	return out
}
