//go:build opencl && cgo
// +build opencl,cgo

// Package gpuworker's cgo-backed OpenCL binding. Compiled only with the
// opencl and cgo build tags; without them the no-cgo stub takes over.
//
// Build: install an OpenCL ICD loader (ocl-icd-opencl-dev on Debian/Ubuntu,
// rocm-opencl on AMD, the CUDA toolkit's OpenCL headers on NVIDIA), then
// CGO_ENABLED=1 go build -tags opencl ./cmd/miner
package gpuworker

// #cgo linux CFLAGS: -DCL_TARGET_OPENCL_VERSION=120
// #cgo linux LDFLAGS: -lOpenCL
// #cgo darwin CFLAGS: -DCL_TARGET_OPENCL_VERSION=120
// #cgo darwin LDFLAGS: -framework OpenCL
// #ifdef __APPLE__
// #include <OpenCL/cl.h>
// #else
// #include <CL/cl.h>
// #endif
// #include <stdlib.h>
import "C"

import (
	_ "embed"
	"context"
	"fmt"
	"unsafe"

	"cpen442miner/internal/mineerr"
)

//go:embed kernel/md5.cl
var kernelSource string

// ListDevices enumerates every OpenCL platform/device pair in
// platform-major order.
func ListDevices() ([]Device, error) {
	var numPlatforms C.cl_uint
	if err := clCheck(C.clGetPlatformIDs(0, nil, &numPlatforms)); err != nil {
		return nil, mineerr.NewAccelerator(err)
	}
	if numPlatforms == 0 {
		return nil, nil
	}

	platforms := make([]C.cl_platform_id, numPlatforms)
	if err := clCheck(C.clGetPlatformIDs(numPlatforms, &platforms[0], nil)); err != nil {
		return nil, mineerr.NewAccelerator(err)
	}

	var devices []Device
	idx := 0
	for _, p := range platforms {
		var numDevices C.cl_uint
		if C.clGetDeviceIDs(p, C.CL_DEVICE_TYPE_ALL, 0, nil, &numDevices) != C.CL_SUCCESS || numDevices == 0 {
			continue
		}

		devIDs := make([]C.cl_device_id, numDevices)
		if C.clGetDeviceIDs(p, C.CL_DEVICE_TYPE_ALL, numDevices, &devIDs[0], nil) != C.CL_SUCCESS {
			continue
		}

		platName := clPlatformString(p, C.CL_PLATFORM_NAME)
		platVersion := clPlatformString(p, C.CL_PLATFORM_VERSION)

		for _, d := range devIDs {
			devices = append(devices, Device{
				Index:            idx,
				PlatformName:     platName,
				PlatformVersion:  platVersion,
				Vendor:           clDeviceString(d, C.CL_DEVICE_VENDOR),
				Name:             clDeviceString(d, C.CL_DEVICE_NAME),
				ComputeUnits:     int(clDeviceUint(d, C.CL_DEVICE_MAX_COMPUTE_UNITS)),
				MaxWorkGroupSize: int(clDeviceSize(d, C.CL_DEVICE_MAX_WORK_GROUP_SIZE)),
				GlobalMemBytes:   clDeviceULong(d, C.CL_DEVICE_GLOBAL_MEM_SIZE),
			})
			idx++
		}
	}

	return devices, nil
}

// clOpenCLDispatcher is the real, device-backed Dispatcher: one context,
// one command queue, one compiled kernel, reused across dispatches.
type clOpenCLDispatcher struct {
	platform C.cl_platform_id
	device   C.cl_device_id
	context  C.cl_context
	queue    C.cl_command_queue
	program  C.cl_program
	kernel   C.cl_kernel
	maxWG    int
}

// Open builds the OpenCL context, compiles the bundled kernel source with
// this message geometry's #define block spliced in, and creates the
// command queue and kernel handle the dispatcher reuses for its lifetime.
func Open(deviceIndex int) (Dispatcher, error) {
	devices, err := ListDevices()
	if err != nil {
		return nil, err
	}
	if deviceIndex < 0 || deviceIndex >= len(devices) {
		return nil, mineerr.NewAccelerator(fmt.Errorf("device index %d out of range (found %d devices)", deviceIndex, len(devices)))
	}

	platforms, devIDs, err := rawPlatformsAndDevices()
	if err != nil {
		return nil, err
	}
	platform, device := platforms[deviceIndex], devIDs[deviceIndex]

	var clErr C.cl_int
	ctx := C.clCreateContext(nil, 1, &device, nil, nil, &clErr)
	if err := clCheck(clErr); err != nil {
		return nil, mineerr.NewAccelerator(err)
	}

	queue := C.clCreateCommandQueue(ctx, device, 0, &clErr)
	if err := clCheck(clErr); err != nil {
		return nil, mineerr.NewAccelerator(err)
	}

	src := fmt.Sprintf(`
#define MESSAGE_LEN (%d)
#define BLOB_INDEX (%d)
#define BLOB_LEN_FAST (%d)
#define BLOB_LEN (%d)
#define N_LOOPS (%d)
#define N_LOOPS_2 (%d)
#define LAST_ROUND_COUNTER_INDEX (%d)

%s`, messageLenWords, blobOffsetWords, blobFastLenWords, blobLen/wordLen, nLoops, nLoops2, counterIndexWords, kernelSource)

	cSrc := C.CString(src)
	defer C.free(unsafe.Pointer(cSrc))
	srcLen := C.size_t(len(src))

	program := C.clCreateProgramWithSource(ctx, 1, &cSrc, &srcLen, &clErr)
	if err := clCheck(clErr); err != nil {
		return nil, mineerr.NewAccelerator(err)
	}

	if ret := C.clBuildProgram(program, 1, &device, nil, nil, nil); ret != C.CL_SUCCESS {
		return nil, mineerr.NewAccelerator(fmt.Errorf("clBuildProgram failed: %s", clBuildLog(program, device)))
	}

	name := C.CString("md5")
	defer C.free(unsafe.Pointer(name))
	kernel := C.clCreateKernel(program, name, &clErr)
	if err := clCheck(clErr); err != nil {
		return nil, mineerr.NewAccelerator(err)
	}

	return &clOpenCLDispatcher{
		platform: platform,
		device:   device,
		context:  ctx,
		queue:    queue,
		program:  program,
		kernel:   kernel,
		maxWG:    int(clDeviceSize(device, C.CL_DEVICE_MAX_WORK_GROUP_SIZE)),
	}, nil
}

func (d *clOpenCLDispatcher) MaxWorkGroupSize() int { return d.maxWG }

// Dispatch allocates the read-only message/params buffers and the
// read-write params_out buffer (seeded with the 0xFFFFFFFF sentinel),
// launches one NDRange over in.GlobalWorkSize work items, reads back
// params_out, and blocks on the queue before returning.
func (d *clOpenCLDispatcher) Dispatch(ctx context.Context, in DispatchInput) (DispatchOutput, error) {
	var clErr C.cl_int

	msgWords := (*C.uint)(unsafe.Pointer(&in.Message[0]))
	msgBuf := C.clCreateBuffer(d.context, C.CL_MEM_READ_ONLY|C.CL_MEM_COPY_HOST_PTR,
		C.size_t(messageLen), unsafe.Pointer(msgWords), &clErr)
	if err := clCheck(clErr); err != nil {
		return DispatchOutput{}, mineerr.NewAccelerator(err)
	}
	defer C.clReleaseMemObject(msgBuf)

	paramsIn := [4]C.uint{C.uint(in.Word2Mask), C.uint(in.R[0]), C.uint(in.R[1]), C.uint(in.R[2])}
	paramsInBuf := C.clCreateBuffer(d.context, C.CL_MEM_READ_ONLY|C.CL_MEM_COPY_HOST_PTR,
		C.size_t(4*4), unsafe.Pointer(&paramsIn[0]), &clErr)
	if err := clCheck(clErr); err != nil {
		return DispatchOutput{}, mineerr.NewAccelerator(err)
	}
	defer C.clReleaseMemObject(paramsInBuf)

	paramsOut := [4]C.uint{0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF}
	paramsOutBuf := C.clCreateBuffer(d.context, C.CL_MEM_READ_WRITE|C.CL_MEM_COPY_HOST_PTR,
		C.size_t(4*4), unsafe.Pointer(&paramsOut[0]), &clErr)
	if err := clCheck(clErr); err != nil {
		return DispatchOutput{}, mineerr.NewAccelerator(err)
	}
	defer C.clReleaseMemObject(paramsOutBuf)

	C.clSetKernelArg(d.kernel, 0, C.size_t(unsafe.Sizeof(msgBuf)), unsafe.Pointer(&msgBuf))
	C.clSetKernelArg(d.kernel, 1, C.size_t(unsafe.Sizeof(paramsInBuf)), unsafe.Pointer(&paramsInBuf))
	C.clSetKernelArg(d.kernel, 2, C.size_t(unsafe.Sizeof(paramsOutBuf)), unsafe.Pointer(&paramsOutBuf))

	globalSize := C.size_t(in.GlobalWorkSize)
	if ret := C.clEnqueueNDRangeKernel(d.queue, d.kernel, 1, nil, &globalSize, nil, 0, nil, nil); ret != C.CL_SUCCESS {
		return DispatchOutput{}, mineerr.NewAccelerator(fmt.Errorf("clEnqueueNDRangeKernel failed: %d", int(ret)))
	}

	if ret := C.clEnqueueReadBuffer(d.queue, paramsOutBuf, C.CL_TRUE, 0, C.size_t(4*4), unsafe.Pointer(&paramsOut[0]), 0, nil, nil); ret != C.CL_SUCCESS {
		return DispatchOutput{}, mineerr.NewAccelerator(fmt.Errorf("clEnqueueReadBuffer failed: %d", int(ret)))
	}

	if ret := C.clFinish(d.queue); ret != C.CL_SUCCESS {
		return DispatchOutput{}, mineerr.NewAccelerator(fmt.Errorf("clFinish failed: %d", int(ret)))
	}

	if paramsOut[0] == 0xFFFFFFFF {
		return DispatchOutput{Found: false}, nil
	}

	return DispatchOutput{
		Found: true,
		ID:    uint32(paramsOut[0]),
		Idx:   uint32(paramsOut[1]),
		Idx2:  uint32(paramsOut[2]),
	}, nil
}

func (d *clOpenCLDispatcher) Close() error {
	C.clReleaseKernel(d.kernel)
	C.clReleaseProgram(d.program)
	C.clReleaseCommandQueue(d.queue)
	C.clReleaseContext(d.context)
	return nil
}

func rawPlatformsAndDevices() ([]C.cl_platform_id, []C.cl_device_id, error) {
	var numPlatforms C.cl_uint
	if err := clCheck(C.clGetPlatformIDs(0, nil, &numPlatforms)); err != nil {
		return nil, nil, mineerr.NewAccelerator(err)
	}
	platforms := make([]C.cl_platform_id, numPlatforms)
	if err := clCheck(C.clGetPlatformIDs(numPlatforms, &platforms[0], nil)); err != nil {
		return nil, nil, mineerr.NewAccelerator(err)
	}

	var allPlatforms []C.cl_platform_id
	var allDevices []C.cl_device_id
	for _, p := range platforms {
		var numDevices C.cl_uint
		if C.clGetDeviceIDs(p, C.CL_DEVICE_TYPE_ALL, 0, nil, &numDevices) != C.CL_SUCCESS || numDevices == 0 {
			continue
		}
		devIDs := make([]C.cl_device_id, numDevices)
		if C.clGetDeviceIDs(p, C.CL_DEVICE_TYPE_ALL, numDevices, &devIDs[0], nil) != C.CL_SUCCESS {
			continue
		}
		for _, d := range devIDs {
			allPlatforms = append(allPlatforms, p)
			allDevices = append(allDevices, d)
		}
	}
	return allPlatforms, allDevices, nil
}

func clCheck(code C.cl_int) error {
	if code == C.CL_SUCCESS {
		return nil
	}
	return fmt.Errorf("opencl error %d", int(code))
}

func clPlatformString(p C.cl_platform_id, param C.cl_platform_info) string {
	var size C.size_t
	C.clGetPlatformInfo(p, param, 0, nil, &size)
	buf := make([]byte, size)
	if size > 0 {
		C.clGetPlatformInfo(p, param, size, unsafe.Pointer(&buf[0]), nil)
	}
	return trimNull(buf)
}

func clDeviceString(d C.cl_device_id, param C.cl_device_info) string {
	var size C.size_t
	C.clGetDeviceInfo(d, param, 0, nil, &size)
	buf := make([]byte, size)
	if size > 0 {
		C.clGetDeviceInfo(d, param, size, unsafe.Pointer(&buf[0]), nil)
	}
	return trimNull(buf)
}

func clDeviceUint(d C.cl_device_id, param C.cl_device_info) uint32 {
	var v C.cl_uint
	C.clGetDeviceInfo(d, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil)
	return uint32(v)
}

func clDeviceULong(d C.cl_device_id, param C.cl_device_info) uint64 {
	var v C.cl_ulong
	C.clGetDeviceInfo(d, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil)
	return uint64(v)
}

func clDeviceSize(d C.cl_device_id, param C.cl_device_info) uint64 {
	var v C.size_t
	C.clGetDeviceInfo(d, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil)
	return uint64(v)
}

func clBuildLog(program C.cl_program, device C.cl_device_id) string {
	var size C.size_t
	C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size)
	buf := make([]byte, size)
	if size > 0 {
		C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil)
	}
	return trimNull(buf)
}

func trimNull(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
