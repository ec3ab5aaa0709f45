// Package registry implements the Registry API (spec §4.2, §4.6.3-ish
// hooks in §6.5): the create/delete/rename/symlink operations dataplane
// code calls to publish metrics into the segment, all serialized through
// the segment's writer lock (spec §4.3).
package registry

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/quarkline/statseg/countervec"
	"github.com/quarkline/statseg/directory"
	"github.com/quarkline/statseg/segment"
	"github.com/quarkline/statseg/staterr"
)

// Registry is the writer-side API over one segment's directory table.
// Every other package reaches the directory through a Registry, and all
// Registry methods but RenameSymlink take seg.Lock/seg.Unlock themselves;
// RenameSymlink's callers (the Collector's node-rename pass) lock the
// segment directly.
type Registry struct {
	seg *segment.Segment
	dir *directory.Table

	vectors map[uint32]*countervec.Vector // directory index -> counter storage
	log     *logrus.Entry
}

// New wraps seg with a fresh, empty directory table.
func New(seg *segment.Segment) *Registry {
	return &Registry{
		seg:     seg,
		dir:     directory.NewTable(seg.Heap(), seg),
		vectors: make(map[uint32]*countervec.Vector),
		log:     logrus.WithField("component", "registry"),
	}
}

// Segment returns the underlying segment, for components (collector,
// handoff) that need the fd or the epoch/lock primitives directly.
func (r *Registry) Segment() *segment.Segment { return r.seg }

// Lookup consults the name index without taking the writer lock
// (spec §4.2).
func (r *Registry) Lookup(name string) (uint32, bool) {
	return r.dir.Lookup(name)
}

// Get decodes a directory entry by index.
func (r *Registry) Get(index uint32) (directory.Entry, bool) {
	return r.dir.Get(index)
}

// NewEntry creates name as a fresh directory entry of the given type
// (spec §4.2).
func (r *Registry) NewEntry(name string, typ directory.EntryType) (uint32, error) {
	r.seg.Lock()
	defer r.seg.Unlock()
	return r.dir.NewEntry(name, typ)
}

// Delete removes the entry at index (spec §4.2).
func (r *Registry) Delete(index uint32) error {
	r.seg.Lock()
	defer r.seg.Unlock()
	delete(r.vectors, index)
	return r.dir.Delete(index)
}

// Rename renames the entry at index (spec §4.2).
func (r *Registry) Rename(index uint32, newName string) error {
	r.seg.Lock()
	defer r.seg.Unlock()
	return r.dir.Rename(index, newName)
}

// RegisterSymlink creates name as a symlink to (index1, index2), or is a
// no-op if name already exists (spec §4.2, §4.5). wantLock=false supports
// callers that already hold the writer lock, avoiding recursive
// acquisition; the Collector does not hold it and passes true.
//
// P6 (no symlink chains) is enforced here as a programmer-error panic:
// VPP's own source never guards against it either, trusting callers to
// never pass another symlink's index as index1.
func (r *Registry) RegisterSymlink(name string, index1, index2 uint32, wantLock bool) (uint32, error) {
	if e, ok := r.dir.Get(index1); ok && e.Type == directory.TypeSymlink {
		panic(fmt.Sprintf("registry: refusing to chain symlink %q to symlink entry %d", name, index1))
	}
	if wantLock {
		r.seg.Lock()
		defer r.seg.Unlock()
	}
	return r.dir.NewSymlink(name, index1, index2)
}

// RenameSymlink looks up a symlink by its current name and renames it,
// asserting (panicking) if the name is not found — preserving VPP's own
// ASSERT in vlib_stats_rename_symlink (spec §9, "Open question:
// rename-not-found"). Callers MUST already hold the writer lock.
func (r *Registry) RenameSymlink(oldName, newName string) {
	idx, ok := r.dir.Lookup(oldName)
	if !ok {
		panic(fmt.Sprintf("registry: rename source %q not found", oldName))
	}
	if err := r.dir.Rename(idx, newName); err != nil {
		panic(fmt.Sprintf("registry: rename %q -> %q: %v", oldName, newName, err))
	}
}

// RegisterErrorIndex creates name as an error_index entry pointing at
// errVectorIndex, or is a no-op if already registered (spec §4.2, §6.5).
func (r *Registry) RegisterErrorIndex(name string, errVectorIndex uint64) (uint32, error) {
	r.seg.Lock()
	defer r.seg.Unlock()

	if idx, ok := r.dir.Lookup(name); ok {
		return idx, nil
	}
	idx, err := r.dir.NewEntry(name, directory.TypeErrorIndex)
	if err != nil {
		return 0, err
	}
	if err := r.dir.SetIndexField(idx, errVectorIndex); err != nil {
		return 0, err
	}
	return idx, nil
}

// PublishCounterVector installs dataOffset as the payload pointer of
// name's directory entry, creating the entry first if needed (spec §4.4,
// "counter_main... published... by installing its storage pointer").
func (r *Registry) PublishCounterVector(name string, typ directory.EntryType, dataOffset uint64) (uint32, error) {
	r.seg.Lock()
	defer r.seg.Unlock()

	idx, ok := r.dir.Lookup(name)
	if !ok {
		var err error
		idx, err = r.dir.NewEntry(name, typ)
		if err != nil {
			return 0, err
		}
	}
	if err := r.dir.SetDataOffset(idx, dataOffset); err != nil {
		return 0, err
	}
	return idx, nil
}

// DeleteByCaller is the counter-main teardown hook (spec §6.5): it
// removes name's directory entry if one exists. It is a no-op for
// counter-mains that never had a segment name.
func (r *Registry) DeleteByCaller(name string) error {
	if name == "" {
		return nil
	}
	r.seg.Lock()
	defer r.seg.Unlock()

	idx, ok := r.dir.Lookup(name)
	if !ok {
		return nil
	}
	delete(r.vectors, idx)
	return r.dir.Delete(idx)
}

// SetScalar writes a scalar_index entry's gauge value (spec §4.8).
func (r *Registry) SetScalar(index uint32, value float64) error {
	r.seg.Lock()
	defer r.seg.Unlock()
	return r.dir.SetValue(index, value)
}

// BumpScalar adds delta to a scalar_index entry's current value, used by
// the Collector's heartbeat increment (spec §4.6 step 5).
func (r *Registry) BumpScalar(index uint32, delta float64) error {
	r.seg.Lock()
	defer r.seg.Unlock()
	e, ok := r.dir.Get(index)
	if !ok {
		return staterr.NotFound(fmt.Sprintf("#%d", index))
	}
	return r.dir.SetValue(index, e.Value+delta)
}

// VectorFor returns (creating if necessary) the counter-vector storage
// backing index, of the given kind. Creating or resizing a Vector (via its
// Extend method) requires the writer lock, since that can move the
// backing allocation; writing already-extended cells does not, matching
// the hot-path counters' direct bypass of the directory and lock
// (spec §4.4, §5 "hot-path counter writes... bypass the directory and
// lock entirely").
func (r *Registry) VectorFor(index uint32, kind countervec.Kind) *countervec.Vector {
	v, ok := r.vectors[index]
	if !ok {
		v = countervec.New(r.seg.Heap(), kind)
		r.vectors[index] = v
	}
	return v
}

// ExtendAndPublish grows index's counter vector to cover (maxRow, maxCol)
// and republishes its (possibly moved) data offset into the directory
// entry, all under the writer lock (spec §4.4).
func (r *Registry) ExtendAndPublish(index uint32, kind countervec.Kind, maxRow, maxCol uint32) error {
	r.seg.Lock()
	defer r.seg.Unlock()

	v := r.VectorFor(index, kind)
	v.Extend(maxRow, maxCol)
	return r.dir.SetDataOffset(index, v.DataOffset())
}

// Snapshot copies the directory under the writer lock and sorts it by
// name (spec §6.4, "show statistics segment").
func (r *Registry) Snapshot() []directory.Entry {
	r.seg.Lock()
	defer r.seg.Unlock()

	entries := r.dir.Snapshot()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// DumpNameIndex copies the process-private name index (spec §6.4, "show
// statistics hash").
func (r *Registry) DumpNameIndex() map[string]uint32 {
	r.seg.Lock()
	defer r.seg.Unlock()
	return r.dir.NameIndex()
}
