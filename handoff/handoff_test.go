package handoff

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// Scenario 5: a client connects to the handoff socket and receives a
// working duplicate of the writer's segment fd.
func TestConnectReceivesSegmentFd(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "stats.sock")

	segFd, err := unix.MemfdCreate("handoff-test", unix.MFD_CLOEXEC)
	if err != nil {
		t.Fatalf("MemfdCreate: %v", err)
	}
	defer unix.Close(segFd)
	if err := unix.Ftruncate(segFd, 4096); err != nil {
		t.Fatalf("Ftruncate: %v", err)
	}

	srv, err := Listen(sockPath, segFd)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	go srv.Serve()
	time.Sleep(20 * time.Millisecond)

	clientFd, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer unix.Close(clientFd)

	var stat unix.Stat_t
	if err := unix.Fstat(clientFd, &stat); err != nil {
		t.Fatalf("Fstat: %v", err)
	}
	if stat.Size != 4096 {
		t.Errorf("received fd has size %d, want 4096", stat.Size)
	}

	mapped, err := unix.Mmap(clientFd, 0, 4096, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	defer unix.Munmap(mapped)
	if len(mapped) != 4096 {
		t.Errorf("mapped length = %d, want 4096", len(mapped))
	}
}

func TestConnectFailsWhenNoListener(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "nobody-listening.sock")
	if _, err := Connect(sockPath); err == nil {
		t.Fatal("expected Connect to fail when nothing is listening")
	}
}
