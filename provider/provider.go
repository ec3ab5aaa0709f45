// Package provider implements the Provider Pool of spec §4.8: a small
// registry of caller-supplied callbacks the Collector invokes each tick to
// refresh scalar gauges that are cheaper to compute on demand than to keep
// current on every write.
package provider

import (
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quarkline/statseg/directory"
	"github.com/quarkline/statseg/registry"
	"github.com/quarkline/statseg/staterr"
)

// UpdateFunc recomputes a gauge's current value, given the opaque caller
// token it was registered with.
type UpdateFunc func(token interface{}) float64

type entry struct {
	directoryIndex uint32
	updateFn       UpdateFunc
	token          interface{}
	interval       int // ticks between invocations; 0 means every tick
	ticksSinceRun  int
}

// Pool is the writer-side collection of poll entries. It holds no lock of
// its own beyond guarding its slice against concurrent registration; the
// actual scalar writes it triggers go through Registry, which serializes
// them with every other writer transaction.
type Pool struct {
	mu      sync.Mutex
	reg     *registry.Registry
	entries []*entry
	log     *logrus.Entry
}

// New returns an empty pool bound to reg.
func New(reg *registry.Registry) *Pool {
	return &Pool{reg: reg, log: logrus.WithField("component", "provider")}
}

// PollAdd registers fn to be invoked every interval ticks (0 meaning every
// tick) against directoryIndex, an already-existing scalar_index entry.
// PollAdd is infallible by design (spec §11, "poll_add return").
func (p *Pool) PollAdd(directoryIndex uint32, fn UpdateFunc, token interface{}, interval int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, &entry{
		directoryIndex: directoryIndex,
		updateFn:       fn,
		token:          token,
		interval:       interval,
	})
}

// RegisterGauge creates name as a new scalar_index entry and adds fn to
// the poll list for it, invoked every tick. It returns
// staterr.AlreadyExists if name is already registered.
func (p *Pool) RegisterGauge(name string, fn UpdateFunc, token interface{}) (uint32, error) {
	if _, ok := p.reg.Lookup(name); ok {
		return 0, staterr.AlreadyExists(name)
	}
	idx, err := p.reg.NewEntry(name, directory.TypeScalarIndex)
	if err != nil {
		return 0, err
	}
	p.PollAdd(idx, fn, token, 0)
	return idx, nil
}

// RegisterStateCounter creates name as a manually-set scalar_index entry
// with no poll callback; the caller drives its value via SetStateCounter.
func (p *Pool) RegisterStateCounter(name string) (uint32, error) {
	return p.reg.NewEntry(name, directory.TypeScalarIndex)
}

// DeregisterStateCounter removes a state counter previously created by
// RegisterStateCounter. It returns staterr.InvalidKind if index does not
// name a scalar_index entry.
func (p *Pool) DeregisterStateCounter(index uint32) error {
	e, ok := p.reg.Get(index)
	if !ok {
		return staterr.NotFound(indexKey(index))
	}
	if e.Type != directory.TypeScalarIndex {
		return staterr.InvalidKind(index, directory.TypeScalarIndex, e.Type)
	}
	p.mu.Lock()
	for i, ent := range p.entries {
		if ent.directoryIndex == index {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	return p.reg.Delete(index)
}

// SetStateCounter writes value directly to a manually-driven scalar entry.
func (p *Pool) SetStateCounter(index uint32, value float64) error {
	return p.reg.SetScalar(index, value)
}

// Tick invokes every poll entry whose interval has elapsed, writing each
// callback's result as that entry's scalar value. Errors from individual
// callbacks' target entries are logged and skipped rather than aborting
// the whole pass, since one misbehaving provider should not starve the
// others of their tick.
func (p *Pool) Tick() {
	p.mu.Lock()
	snapshot := make([]*entry, len(p.entries))
	copy(snapshot, p.entries)
	p.mu.Unlock()

	for _, ent := range snapshot {
		if ent.interval > 0 {
			ent.ticksSinceRun++
			if ent.ticksSinceRun < ent.interval {
				continue
			}
			ent.ticksSinceRun = 0
		}
		value := ent.updateFn(ent.token)
		if err := p.reg.SetScalar(ent.directoryIndex, value); err != nil {
			p.log.WithError(err).WithField("index", ent.directoryIndex).Warn("provider update failed")
		}
	}
}

func indexKey(index uint32) string {
	return "#" + strconv.FormatUint(uint64(index), 10)
}
