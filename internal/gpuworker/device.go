package gpuworker

import "fmt"

// Device describes one OpenCL-capable accelerator available to the process,
// as reported by platform/device enumeration. Populated by ListDevices.
type Device struct {
	Index            int
	PlatformName     string
	PlatformVersion  string
	Vendor           string
	Name             string
	ComputeUnits     int
	MaxWorkGroupSize int
	GlobalMemBytes   uint64
}

// String renders a Device the way --list-cl-devices prints it: platform
// line, then vendor/name, then compute-unit, work-group, and memory info.
func (d Device) String() string {
	return fmt.Sprintf(
		"[%d] %s %s\n    %s %s\n    Compute Units: %d\n    Workgroup Size: %d\n    Memory Size: %d MB",
		d.Index, d.PlatformName, d.PlatformVersion,
		d.Vendor, d.Name,
		d.ComputeUnits, d.MaxWorkGroupSize, d.GlobalMemBytes/1024/1024,
	)
}
