package epoch

import (
	"testing"
)

// fakeSource simulates a writer whose transactions complete after a fixed
// number of reader polls, letting us exercise the retry loop without a
// real segment mapping.
type fakeSource struct {
	epoch        uint64
	inProgress   bool
	pollsLeft    int
	flipOnPoll   int
	pollCount    int
}

func (f *fakeSource) Epoch() uint64 { return f.epoch }

func (f *fakeSource) InProgress() bool {
	f.pollCount++
	if f.pollCount == f.flipOnPoll {
		f.inProgress = true
		f.epoch++
	}
	if f.pollCount == f.flipOnPoll+1 {
		f.inProgress = false
	}
	return f.inProgress
}

func TestSnapshotQuiescentImmediately(t *testing.T) {
	src := &fakeSource{epoch: 5}
	var ran bool
	attempts, err := Snapshot(src, func() { ran = true })
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if !ran {
		t.Error("body was never invoked")
	}
}

func TestSnapshotRetriesOnWriterActivity(t *testing.T) {
	// Flip in_progress on the 2nd poll so the first attempt is aborted,
	// then quiesce, exercising P4 (reader progress under bounded writer rate).
	src := &fakeSource{epoch: 1, flipOnPoll: 2}
	calls := 0
	attempts, err := Snapshot(src, func() { calls++ })
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
	if calls == 0 {
		t.Error("body was never invoked")
	}
}

func TestSnapshotGivesUpEventually(t *testing.T) {
	src := &permanentlyBusySource{}
	_, err := Snapshot(src, func() {})
	if err == nil {
		t.Fatal("expected error when writer never quiesces")
	}
}

type permanentlyBusySource struct{}

func (permanentlyBusySource) Epoch() uint64    { return 1 }
func (permanentlyBusySource) InProgress() bool { return true }
