package statsclient

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quarkline/statseg/directory"
	"github.com/quarkline/statseg/handoff"
	"github.com/quarkline/statseg/registry"
	"github.com/quarkline/statseg/segment"
)

// Scenario 1 end-to-end: a writer registers and publishes a scalar, a
// reader connects over the handoff socket and observes the value without
// ever taking a lock.
func TestEndToEndReadAfterHandoff(t *testing.T) {
	seg, err := segment.Create(segment.Options{Size: 1 << 20, Name: "statsclient-test"})
	if err != nil {
		t.Fatalf("segment.Create: %v", err)
	}
	defer seg.Close()

	reg := registry.New(seg)
	idx, err := reg.NewEntry("/sys/heartbeat", directory.TypeScalarIndex)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if err := reg.SetScalar(idx, 42); err != nil {
		t.Fatalf("SetScalar: %v", err)
	}

	sockPath := filepath.Join(t.TempDir(), "stats.sock")
	srv, err := handoff.Listen(sockPath, seg.Fd())
	if err != nil {
		t.Fatalf("handoff.Listen: %v", err)
	}
	defer srv.Close()
	go srv.Serve()
	time.Sleep(20 * time.Millisecond)

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	entry, ok, err := client.Lookup("/sys/heartbeat")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("expected /sys/heartbeat to resolve")
	}
	if entry.Value != 42 {
		t.Errorf("heartbeat = %v, want 42", entry.Value)
	}

	// A later writer transaction is visible to the reader's next
	// snapshot.
	if err := reg.SetScalar(idx, 99); err != nil {
		t.Fatalf("SetScalar: %v", err)
	}
	entry, ok, err = client.Lookup("/sys/heartbeat")
	if err != nil || !ok {
		t.Fatalf("Lookup after update: ok=%v err=%v", ok, err)
	}
	if entry.Value != 99 {
		t.Errorf("heartbeat after update = %v, want 99", entry.Value)
	}
}

func TestDirectoryViewSkipsDeletedEntries(t *testing.T) {
	seg, err := segment.Create(segment.Options{Size: 1 << 20, Name: "statsclient-view-test"})
	if err != nil {
		t.Fatalf("segment.Create: %v", err)
	}
	defer seg.Close()

	reg := registry.New(seg)
	keep, _ := reg.NewEntry("keep", directory.TypeScalarIndex)
	gone, _ := reg.NewEntry("gone", directory.TypeScalarIndex)
	if err := reg.Delete(gone); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	sockPath := filepath.Join(t.TempDir(), "stats.sock")
	srv, err := handoff.Listen(sockPath, seg.Fd())
	if err != nil {
		t.Fatalf("handoff.Listen: %v", err)
	}
	defer srv.Close()
	go srv.Serve()
	time.Sleep(20 * time.Millisecond)

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	snap := client.Directory().Snapshot()
	var names []string
	for _, e := range snap {
		names = append(names, e.Name)
	}
	if len(names) != 1 || names[0] != "keep" {
		t.Errorf("Snapshot() = %v, want [keep]", names)
	}
	_ = keep
}
