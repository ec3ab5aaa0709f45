// Package epoch implements the reader-side half of the single-writer /
// many-reader protocol described informally in spec §4.3: a Lamport-style
// sequence lock that lets readers in other processes snapshot directory
// and counter state without ever acquiring a lock themselves.
//
// The writer side of the protocol (increment epoch strictly between
// transactions, bracket each transaction with in_progress) lives on
// *segment.Segment, since it is tightly coupled to the header bytes that
// package owns. This package is the reader's counterpart: it is
// deliberately decoupled from package segment so it can drive either a
// real external mapping (via package statsclient) or an in-process
// simulated reader in tests.
package epoch

// Source is whatever a reader can cheaply re-read between retries: the
// epoch counter and the in-progress flag, both published by the writer's
// header.
type Source interface {
	Epoch() uint64
	InProgress() bool
}

// MaxRetries bounds the snapshot loop so a pathological writer (stuck with
// in_progress permanently set) cannot spin a reader forever. Spec's P4
// only guarantees progress when the writer rate is bounded; this cap turns
// an unbounded writer into an explicit error instead of a hang.
const MaxRetries = 1000

// Snapshot runs body() under the read protocol of spec §4.3:
//  1. read epoch -> e0; if in_progress, retry
//  2. run body()
//  3. read epoch -> e1; if e1 != e0, retry
//
// It returns the number of attempts made, or an error if MaxRetries was
// exceeded without observing a quiescent transaction.
func Snapshot(src Source, body func()) (attempts int, err error) {
	for attempts = 1; attempts <= MaxRetries; attempts++ {
		e0 := src.Epoch()
		if src.InProgress() {
			continue
		}

		body()

		e1 := src.Epoch()
		if e1 == e0 && !src.InProgress() {
			return attempts, nil
		}
	}
	return attempts, errTooManyRetries
}

var errTooManyRetries = retryError{}

type retryError struct{}

func (retryError) Error() string {
	return "epoch: exceeded max retries waiting for a quiescent snapshot"
}
