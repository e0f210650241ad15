package gpuworker

import (
	"context"
	"testing"
	"time"

	"cpen442miner/internal/worker"
)

// fakeDispatcher reports a hit on the configured call, otherwise "not
// found"; it never touches any real device.
type fakeDispatcher struct {
	calls     int
	hitOnCall int
	closed    bool
	lastInput DispatchInput
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, in DispatchInput) (DispatchOutput, error) {
	f.calls++
	f.lastInput = in
	if f.calls == f.hitOnCall {
		return DispatchOutput{Found: true, ID: 7, Idx: 1, Idx2: 2}, nil
	}
	return DispatchOutput{}, nil
}

func (f *fakeDispatcher) MaxWorkGroupSize() int { return 64 }
func (f *fakeDispatcher) Close() error          { f.closed = true; return nil }

func TestWorkerRunPublishesCandidateOnHit(t *testing.T) {
	shared := &worker.SharedState{}
	shared.PrevHead.Publish("0000000000000000000000000000000a")
	shared.Difficulty.Publish(8)

	fd := &fakeDispatcher{hitOnCall: 1}
	w := New(0, "miner-1", fd, 50, 0)

	statsCh := make(chan worker.Stats, 4)
	candidatesCh := make(chan worker.Candidate, 4)

	done := make(chan error, 1)
	go func() { done <- w.Run(shared, statsCh, candidatesCh) }()

	select {
	case c := <-candidatesCh:
		if c.NumZeros != 8 {
			t.Errorf("candidate NumZeros = %d, want 8", c.NumZeros)
		}
		if len(c.Blob) == 0 {
			t.Error("candidate blob is empty")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for candidate")
	}

	shared.StopFlag.Store(true)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after StopFlag was set")
	}

	if !fd.closed {
		t.Error("dispatcher was not closed on Run return")
	}
}

func TestWorkerRunStopsWithoutHits(t *testing.T) {
	shared := &worker.SharedState{}
	shared.PrevHead.Publish("00000000000000000000000000000000")
	shared.Difficulty.Publish(8)

	fd := &fakeDispatcher{hitOnCall: -1}
	w := New(1, "miner-2", fd, 10, 0)

	statsCh := make(chan worker.Stats, 4)
	candidatesCh := make(chan worker.Candidate, 4)

	done := make(chan error, 1)
	go func() { done <- w.Run(shared, statsCh, candidatesCh) }()

	time.Sleep(50 * time.Millisecond)
	shared.StopFlag.Store(true)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after StopFlag was set")
	}

	if fd.calls == 0 {
		t.Error("dispatcher was never invoked")
	}
}
