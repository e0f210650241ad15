package gpuworker

import "context"

// DispatchInput is everything one kernel launch needs: the full 4-block
// message (with the entropy-refreshed modifiable region already written in),
// the word2 mask encoding the current difficulty, the shared randomization
// r used by the per-work-item blob transform, and the global work size for
// this launch.
type DispatchInput struct {
	Message        [messageLen]byte
	Word2Mask      uint32
	R              [3]uint32
	GlobalWorkSize int
}

// DispatchOutput reports params_out: either the sentinel "nothing found"
// state, or the compact (id, idx, idx2) tuple identifying which work item
// hit and which of its two inner-loop iterations did it.
type DispatchOutput struct {
	Found bool
	ID    uint32
	Idx   uint32
	Idx2  uint32
}

// Dispatcher launches one kernel invocation per call and waits for the
// result; it owns the device queue, kernel handle, and I/O buffers for its
// lifetime. Builds with the opencl tag and cgo enabled compile a real
// OpenCL-backed Dispatcher; other builds get an Open that always fails, so
// the coordinator simply runs with zero GPU workers.
type Dispatcher interface {
	Dispatch(ctx context.Context, in DispatchInput) (DispatchOutput, error)
	MaxWorkGroupSize() int
	Close() error
}
