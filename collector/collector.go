// Package collector implements the periodic Collector of spec §4.6: a
// cooperative ticker that recomputes derived scalar gauges, refreshes
// per-node counter vectors (including rename-triggered symlink rewrites),
// drives the provider pool, and increments the heartbeat so readers can
// tell the writer is still alive.
package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quarkline/statseg/countervec"
	"github.com/quarkline/statseg/directory"
	"github.com/quarkline/statseg/provider"
	"github.com/quarkline/statseg/registry"
)

// NodeStat is one dataplane node's current counters, as the embedding
// application reports them each tick (the Go analogue of vlib_node_t plus
// its per-thread stats_total/stats_last_clear deltas).
type NodeStat struct {
	Index    uint32
	Name     string
	Clocks   uint64
	Vectors  uint64
	Calls    uint64
	Suspends uint64
}

// NodeSource supplies the current node table every tick. Index values are
// expected to be dense and stable except for renames (same index, new
// Name).
type NodeSource interface {
	Nodes() []NodeStat
}

// InputRateSource reports the cumulative count of packets received across
// all interfaces, the same counter VPP's vnet_get_aggregate_rx_packets
// exposes.
type InputRateSource func() uint64

// nodeCounterNames mirrors foreach_stat_segment_node_counter_name: the four
// per-node counter classes published under /nodes/<name>/<class>.
var nodeCounterNames = []string{"clocks", "vectors", "calls", "suspends"}

// Collector owns the scalar and per-node directory entries it refreshes
// each tick. It is not safe for concurrent use; Run is meant to be the
// only goroutine driving it.
type Collector struct {
	reg  *registry.Registry
	pool *provider.Pool
	log  *logrus.Entry

	interval            time.Duration
	nodeCountersEnabled bool
	numWorkerThreads    int
	inputRateSource     InputRateSource
	nodeSource          NodeSource

	firstTickDone    bool
	lastInputPackets uint64

	// scalar gauge indices, created lazily on first use
	inputRateIdx      uint32
	lastUpdateIdx     uint32
	lastClearIdx      uint32
	heartbeatIdx      uint32
	numWorkerThreadsI uint32

	// per-node counter vector directory indices
	nodeClocksIdx   uint32
	nodeVectorsIdx  uint32
	nodeCallsIdx    uint32
	nodeSuspendsIdx uint32

	nodeNames map[uint32]string // index -> last-seen name, for rename detection

	// interfaceCounterClasses maps a counter class name (e.g. "rx", "tx")
	// to its directory index, for OnInterfaceAddDel's symlink fan-out.
	interfaceCounterClasses map[string]uint32
}

// Options configures a Collector at construction time.
type Options struct {
	Interval            time.Duration
	NodeCountersEnabled bool
	NumWorkerThreads    int
	InputRateSource     InputRateSource
	NodeSource          NodeSource
}

// New builds a Collector over reg and pool with the given options.
func New(reg *registry.Registry, pool *provider.Pool, opts Options) *Collector {
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		reg:                     reg,
		pool:                    pool,
		log:                     logrus.WithField("component", "collector"),
		interval:                interval,
		nodeCountersEnabled:     opts.NodeCountersEnabled,
		numWorkerThreads:        opts.NumWorkerThreads,
		inputRateSource:         opts.InputRateSource,
		nodeSource:              opts.NodeSource,
		nodeNames:               make(map[uint32]string),
		interfaceCounterClasses: make(map[string]uint32),
	}
}

// Run ticks every interval until ctx is canceled, matching
// stat_segment_collector_process's while(1) loop but exiting cleanly on
// cancellation rather than running forever (spec §7's one concession to
// idiomatic Go).
func (c *Collector) Run(ctx context.Context) error {
	if err := c.ensureScalarEntries(); err != nil {
		return fmt.Errorf("collector: %w", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

func (c *Collector) ensureScalarEntries() error {
	var err error
	if c.inputRateIdx, err = c.getOrCreateScalar("/sys/input_rate"); err != nil {
		return err
	}
	if c.lastUpdateIdx, err = c.getOrCreateScalar("/sys/last_update"); err != nil {
		return err
	}
	if c.lastClearIdx, err = c.getOrCreateScalar("/sys/last_stats_clear"); err != nil {
		return err
	}
	if c.heartbeatIdx, err = c.getOrCreateScalar("/sys/heartbeat"); err != nil {
		return err
	}
	if c.numWorkerThreadsI, err = c.getOrCreateScalar("/sys/num_worker_threads"); err != nil {
		return err
	}
	if c.nodeCountersEnabled {
		if c.nodeClocksIdx, err = c.getOrCreateVector("/nodes/clocks"); err != nil {
			return err
		}
		if c.nodeVectorsIdx, err = c.getOrCreateVector("/nodes/vectors"); err != nil {
			return err
		}
		if c.nodeCallsIdx, err = c.getOrCreateVector("/nodes/calls"); err != nil {
			return err
		}
		if c.nodeSuspendsIdx, err = c.getOrCreateVector("/nodes/suspends"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) getOrCreateScalar(name string) (uint32, error) {
	if idx, ok := c.reg.Lookup(name); ok {
		return idx, nil
	}
	return c.reg.NewEntry(name, directory.TypeScalarIndex)
}

func (c *Collector) getOrCreateVector(name string) (uint32, error) {
	if idx, ok := c.reg.Lookup(name); ok {
		return idx, nil
	}
	return c.reg.NewEntry(name, directory.TypeCounterVectorSimple)
}

// tick is do_stat_segment_updates: first-tick one-time publish, input
// rate, per-node refresh, provider pool, heartbeat.
func (c *Collector) tick(now time.Time) {
	if !c.firstTickDone {
		c.firstTick()
		c.firstTickDone = true
	}

	nowSecs := float64(now.UnixNano()) / float64(time.Second)
	var lastUpdate float64
	if e, ok := c.reg.Get(c.lastUpdateIdx); ok {
		lastUpdate = e.Value
	}
	dt := nowSecs - lastUpdate
	if dt <= 0 {
		dt = 1
	}

	if c.inputRateSource != nil {
		packets := c.inputRateSource()
		rate := float64(packets-c.lastInputPackets) / dt
		_ = c.reg.SetScalar(c.inputRateIdx, rate)
		c.lastInputPackets = packets
	}
	_ = c.reg.SetScalar(c.lastUpdateIdx, nowSecs)

	if c.nodeCountersEnabled && c.nodeSource != nil {
		c.updateNodeCounters()
	}

	c.pool.Tick()

	_ = c.reg.BumpScalar(c.heartbeatIdx, 1)
}

// firstTick is do_stat_segment_updates's num_worker_threads_set branch,
// run exactly once.
func (c *Collector) firstTick() {
	_ = c.reg.SetScalar(c.numWorkerThreadsI, float64(c.numWorkerThreads))
}

// updateNodeCounters is update_node_counters: extend vectors for new
// nodes, write per-node symlinks for newly seen indices, rename symlinks
// (panicking if the old name is missing) for nodes whose name changed,
// then overwrite every node's four counters.
func (c *Collector) updateNodeCounters() {
	nodes := c.nodeSource.Nodes()
	if len(nodes) == 0 {
		return
	}

	maxIndex := uint32(0)
	for _, n := range nodes {
		if n.Index > maxIndex {
			maxIndex = n.Index
		}
	}

	for _, idx := range []uint32{c.nodeClocksIdx, c.nodeVectorsIdx, c.nodeCallsIdx, c.nodeSuspendsIdx} {
		if err := c.reg.ExtendAndPublish(idx, countervec.Simple, 0, maxIndex); err != nil {
			c.log.WithError(err).WithField("index", idx).Warn("failed to extend node counter vector")
		}
	}

	for _, n := range nodes {
		prior, seen := c.nodeNames[n.Index]
		switch {
		case !seen:
			c.registerNodeSymlinks(n)
		case prior != n.Name:
			c.renameNodeSymlinks(prior, n.Name, n.Index)
		}
		c.nodeNames[n.Index] = n.Name

		c.reg.VectorFor(c.nodeClocksIdx, countervec.Simple).SetSimple(0, n.Index, n.Clocks)
		c.reg.VectorFor(c.nodeVectorsIdx, countervec.Simple).SetSimple(0, n.Index, n.Vectors)
		c.reg.VectorFor(c.nodeCallsIdx, countervec.Simple).SetSimple(0, n.Index, n.Calls)
		c.reg.VectorFor(c.nodeSuspendsIdx, countervec.Simple).SetSimple(0, n.Index, n.Suspends)
	}
}

// registerNodeSymlinks materializes /nodes/<name>/<class> for a node seen
// for the first time.
func (c *Collector) registerNodeSymlinks(n NodeStat) {
	safe := symlinkSafeName(n.Name)
	targets := map[string]uint32{
		"clocks":   c.nodeClocksIdx,
		"vectors":  c.nodeVectorsIdx,
		"calls":    c.nodeCallsIdx,
		"suspends": c.nodeSuspendsIdx,
	}
	for _, class := range nodeCounterNames {
		name := fmt.Sprintf("/nodes/%s/%s", safe, class)
		if _, err := c.reg.RegisterSymlink(name, targets[class], n.Index, true); err != nil {
			c.log.WithError(err).WithField("symlink", name).Warn("failed to register node symlink")
		}
	}
}

// renameNodeSymlinks is update_node_counters's rename branch: every
// symlink named under the old node name must resolve, or this panics
// (the Go analogue of the original's ASSERT(vector_index != -1)).
func (c *Collector) renameNodeSymlinks(oldName, newName string, index uint32) {
	oldSafe := symlinkSafeName(oldName)
	newSafe := symlinkSafeName(newName)

	c.reg.Segment().Lock()
	defer c.reg.Segment().Unlock()
	for _, class := range nodeCounterNames {
		old := fmt.Sprintf("/nodes/%s/%s", oldSafe, class)
		newN := fmt.Sprintf("/nodes/%s/%s", newSafe, class)
		c.reg.RenameSymlink(old, newN)
	}
}

// symlinkSafeName replaces interior '/' with '_', the node-name side of
// spec.md §4.5's symlink convention (interface names can legitimately
// contain '/', e.g. "GigabitEthernet0/0/0").
func symlinkSafeName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

// RegisterInterfaceCounterClass tells the collector which directory index
// backs a named interface counter class (e.g. "rx", "tx", "rx-error"),
// so OnInterfaceAddDel can fan a new interface out into symlinks for every
// registered class.
func (c *Collector) RegisterInterfaceCounterClass(class string, directoryIndex uint32) {
	c.interfaceCounterClasses[class] = directoryIndex
}

// OnInterfaceAddDel is statseg_sw_interface_add_del: on add, materializes
// /interfaces/<name>/<class> for every registered interface counter class;
// on delete, removes them.
func (c *Collector) OnInterfaceAddDel(swIfIndex uint32, isAdd bool, name string) {
	safe := symlinkSafeName(name)

	for class, directoryIndex := range c.interfaceCounterClasses {
		symName := fmt.Sprintf("/interfaces/%s/%s", safe, class)
		if isAdd {
			if _, err := c.reg.RegisterSymlink(symName, directoryIndex, swIfIndex, true); err != nil {
				c.log.WithError(err).WithField("symlink", symName).Warn("failed to register interface symlink")
			}
			continue
		}
		if idx, ok := c.reg.Lookup(symName); ok {
			if err := c.reg.Delete(idx); err != nil {
				c.log.WithError(err).WithField("symlink", symName).Warn("failed to delete interface symlink")
			}
		}
	}
}
