//go:build !opencl || !cgo
// +build !opencl !cgo

package gpuworker

import (
	"context"
	"fmt"

	"cpen442miner/internal/mineerr"
)

// ListDevices reports no devices when the binary was built without OpenCL
// support, so --list-cl-devices prints an empty list instead of failing.
func ListDevices() ([]Device, error) { return nil, nil }

// Open always fails: this build has no accelerator backend compiled in.
// The coordinator treats a failed Open as "run with zero GPU workers"
// rather than a fatal startup error.
func Open(deviceIndex int) (Dispatcher, error) {
	return nil, mineerr.NewAccelerator(fmt.Errorf("built without opencl support (rebuild with -tags opencl,cgo and CGO_ENABLED=1)"))
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, in DispatchInput) (DispatchOutput, error) {
	return DispatchOutput{}, mineerr.NewAccelerator(fmt.Errorf("no accelerator backend available"))
}

func (noopDispatcher) MaxWorkGroupSize() int { return 0 }
func (noopDispatcher) Close() error          { return nil }
