// Package worker defines the types shared by every search worker
// (CPU and GPU alike): the atomic swap cell used to publish head/difficulty
// updates from the coordinator, the Stats and Candidate messages workers
// send back, and the Worker lifecycle interface both backends implement.
package worker

import "sync/atomic"

// Cell is a lock-free single-producer-multi-consumer publish slot for a
// small, infrequently-changing value of type T. The coordinator publishes a
// freshly-owned value with Publish; each worker opportunistically Takes the
// value at a safe point in its loop, which empties the cell and returns
// what it found (or ok=false if nothing new was published since the last
// Take).
type Cell[T any] struct {
	v atomic.Pointer[T]
}

// Publish stores a fresh value, overwriting whatever was there.
func (c *Cell[T]) Publish(val T) {
	c.v.Store(&val)
}

// Take atomically removes and returns the published value, if any.
func (c *Cell[T]) Take() (val T, ok bool) {
	p := c.v.Swap(nil)
	if p == nil {
		return val, false
	}
	return *p, true
}

// Peek returns the currently published value without clearing the cell.
func (c *Cell[T]) Peek() (val T, ok bool) {
	p := c.v.Load()
	if p == nil {
		return val, false
	}
	return *p, true
}

// Stats is the periodic hash-count report every worker sends upstream.
type Stats struct {
	NHash uint64
}

// Candidate is a potential winning coin a worker has found, to be validated
// and submitted by the coordinator.
type Candidate struct {
	PrevHead string // the head this candidate was mined against
	Blob     []byte
	NumZeros int // the difficulty this candidate was mined at (CPU: fixed 8, GPU: tracker's current)
}

// SharedState is the per-worker cell bundle the coordinator publishes into
// and the worker reads from at the top of each outer iteration.
type SharedState struct {
	PrevHead   Cell[string]
	Difficulty Cell[int]
	StopFlag   atomic.Bool
}

// Worker is the capability both CPU and GPU search backends implement: same
// lifecycle, different hashing strategy.
type Worker interface {
	// Run executes the worker's main loop until the shared stop flag is
	// observed, pushing Stats and Candidate messages to the given channels.
	Run(shared *SharedState, stats chan<- Stats, candidates chan<- Candidate) error
	// Stop is called after the coordinator sets the shared stop flag; the
	// worker exits once Run observes that flag. Both backends implement
	// Stop as a no-op.
	Stop()
}
