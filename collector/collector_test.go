package collector

import (
	"context"
	"testing"
	"time"

	"github.com/quarkline/statseg/directory"
	"github.com/quarkline/statseg/provider"
	"github.com/quarkline/statseg/registry"
	"github.com/quarkline/statseg/segment"
)

type fakeNodeSource struct {
	nodes []NodeStat
}

func (f *fakeNodeSource) Nodes() []NodeStat { return f.nodes }

func newTestCollector(t *testing.T, opts Options) (*Collector, *registry.Registry) {
	t.Helper()
	seg, err := segment.Create(segment.Options{Size: 4 << 20, Name: "collector-test"})
	if err != nil {
		t.Fatalf("segment.Create: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	reg := registry.New(seg)
	pool := provider.New(reg)
	return New(reg, pool, opts), reg
}

// P7: heartbeat strictly increases on every tick.
func TestHeartbeatIncrementsEveryTick(t *testing.T) {
	c, reg := newTestCollector(t, Options{NumWorkerThreads: 2})
	if err := c.ensureScalarEntries(); err != nil {
		t.Fatalf("ensureScalarEntries: %v", err)
	}

	base := time.Unix(1000, 0)
	c.tick(base)
	idx, ok := reg.Lookup("/sys/heartbeat")
	if !ok {
		t.Fatal("heartbeat entry missing")
	}
	e, _ := reg.Get(idx)
	first := e.Value

	c.tick(base.Add(10 * time.Second))
	e, _ = reg.Get(idx)
	if e.Value <= first {
		t.Errorf("heartbeat did not increase: %v -> %v", first, e.Value)
	}
}

func TestFirstTickPublishesWorkerThreadCount(t *testing.T) {
	c, reg := newTestCollector(t, Options{NumWorkerThreads: 4})
	if err := c.ensureScalarEntries(); err != nil {
		t.Fatalf("ensureScalarEntries: %v", err)
	}
	c.tick(time.Unix(1000, 0))

	idx, ok := reg.Lookup("/sys/num_worker_threads")
	if !ok {
		t.Fatal("num_worker_threads entry missing")
	}
	e, _ := reg.Get(idx)
	if e.Value != 4 {
		t.Errorf("num_worker_threads = %v, want 4", e.Value)
	}
}

func TestInputRateComputedFromDelta(t *testing.T) {
	packets := uint64(0)
	c, reg := newTestCollector(t, Options{
		InputRateSource: func() uint64 { return packets },
	})
	if err := c.ensureScalarEntries(); err != nil {
		t.Fatalf("ensureScalarEntries: %v", err)
	}

	base := time.Unix(2000, 0)
	c.tick(base)

	packets = 1000
	c.tick(base.Add(1 * time.Second))

	idx, _ := reg.Lookup("/sys/input_rate")
	e, _ := reg.Get(idx)
	if e.Value != 1000 {
		t.Errorf("input_rate = %v, want 1000", e.Value)
	}
}

// Scenario 2 via the collector: a node rename rewrites its symlinks in
// place, preserving the symlink's directory index, and leaves the old
// symlink name 404.
func TestNodeRenameRewritesSymlinks(t *testing.T) {
	nodes := &fakeNodeSource{nodes: []NodeStat{{Index: 0, Name: "ip4-input", Clocks: 10}}}
	c, reg := newTestCollector(t, Options{NodeCountersEnabled: true, NodeSource: nodes})
	if err := c.ensureScalarEntries(); err != nil {
		t.Fatalf("ensureScalarEntries: %v", err)
	}

	base := time.Unix(3000, 0)
	c.tick(base)

	oldIdx, ok := reg.Lookup("/nodes/ip4-input/clocks")
	if !ok {
		t.Fatal("expected /nodes/ip4-input/clocks to exist after first tick")
	}

	nodes.nodes[0].Name = "ip4-input-rx"
	nodes.nodes[0].Clocks = 20
	c.tick(base.Add(10 * time.Second))

	if _, ok := reg.Lookup("/nodes/ip4-input/clocks"); ok {
		t.Error("old symlink name should 404 after rename")
	}
	newIdx, ok := reg.Lookup("/nodes/ip4-input-rx/clocks")
	if !ok {
		t.Fatal("expected /nodes/ip4-input-rx/clocks to exist after rename")
	}
	if newIdx != oldIdx {
		t.Errorf("rename should preserve symlink index: old=%d new=%d", oldIdx, newIdx)
	}
}

func TestOnInterfaceAddDelMaterializesAndRemovesSymlinks(t *testing.T) {
	c, reg := newTestCollector(t, Options{})
	rxIdx, err := reg.NewEntry("/if-counters/rx", directory.TypeCounterVectorSimple)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	c.RegisterInterfaceCounterClass("rx", rxIdx)

	c.OnInterfaceAddDel(3, true, "GigabitEthernet0/0/0")
	if _, ok := reg.Lookup("/interfaces/GigabitEthernet0_0_0/rx"); !ok {
		t.Fatal("expected interface rx symlink to be registered")
	}

	c.OnInterfaceAddDel(3, false, "GigabitEthernet0/0/0")
	if _, ok := reg.Lookup("/interfaces/GigabitEthernet0_0_0/rx"); ok {
		t.Error("expected interface rx symlink to be removed")
	}
}

func TestRunExitsOnContextCancel(t *testing.T) {
	c, _ := newTestCollector(t, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
