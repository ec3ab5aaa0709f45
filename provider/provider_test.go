package provider

import (
	"testing"

	"github.com/quarkline/statseg/directory"
	"github.com/quarkline/statseg/registry"
	"github.com/quarkline/statseg/segment"
	"github.com/quarkline/statseg/staterr"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	seg, err := segment.Create(segment.Options{Size: 1 << 20, Name: "provider-test"})
	if err != nil {
		t.Fatalf("segment.Create: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return New(registry.New(seg))
}

func TestRegisterGaugeTicksEveryCall(t *testing.T) {
	p := newTestPool(t)
	calls := 0

	idx, err := p.RegisterGauge("/sys/vector-rate", func(token interface{}) float64 {
		calls++
		return float64(calls)
	}, nil)
	if err != nil {
		t.Fatalf("RegisterGauge: %v", err)
	}

	p.Tick()
	p.Tick()
	p.Tick()

	e, ok := p.reg.Get(idx)
	if !ok {
		t.Fatal("gauge entry vanished")
	}
	if calls != 3 {
		t.Errorf("callback invoked %d times, want 3", calls)
	}
	if e.Value != 3 {
		t.Errorf("gauge value = %v, want 3", e.Value)
	}
}

func TestRegisterGaugeDuplicateNameFails(t *testing.T) {
	p := newTestPool(t)
	if _, err := p.RegisterGauge("/sys/dup", func(interface{}) float64 { return 0 }, nil); err != nil {
		t.Fatalf("RegisterGauge: %v", err)
	}
	if _, err := p.RegisterGauge("/sys/dup", func(interface{}) float64 { return 0 }, nil); err == nil {
		t.Fatal("expected AlreadyExists on duplicate gauge name")
	}
}

func TestPollAddRespectsInterval(t *testing.T) {
	p := newTestPool(t)
	idx, err := p.reg.NewEntry("/sys/throttled", directory.TypeScalarIndex)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}

	calls := 0
	p.PollAdd(idx, func(interface{}) float64 {
		calls++
		return float64(calls)
	}, nil, 3)

	for i := 0; i < 8; i++ {
		p.Tick()
	}
	if calls != 2 {
		t.Errorf("callback invoked %d times across 8 ticks at interval 3, want 2", calls)
	}
}

func TestStateCounterLifecycle(t *testing.T) {
	p := newTestPool(t)

	idx, err := p.RegisterStateCounter("/sys/manual")
	if err != nil {
		t.Fatalf("RegisterStateCounter: %v", err)
	}
	if err := p.SetStateCounter(idx, 7); err != nil {
		t.Fatalf("SetStateCounter: %v", err)
	}
	e, ok := p.reg.Get(idx)
	if !ok || e.Value != 7 {
		t.Fatalf("Get(%d) = (%+v, %v), want Value=7", idx, e, ok)
	}

	if err := p.DeregisterStateCounter(idx); err != nil {
		t.Fatalf("DeregisterStateCounter: %v", err)
	}
	if _, ok := p.reg.Get(idx); ok {
		t.Error("entry should be gone after deregistration")
	}
}

func TestDeregisterStateCounterWrongKind(t *testing.T) {
	p := newTestPool(t)
	idx, err := p.reg.NewEntry("/if/rx", directory.TypeCounterVectorSimple)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	err = p.DeregisterStateCounter(idx)
	se, ok := err.(*staterr.Error)
	if !ok || se.Kind != staterr.KindInvalidKind {
		t.Errorf("expected InvalidKind, got %v", err)
	}
}
