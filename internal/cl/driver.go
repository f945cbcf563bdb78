package cl

import (
	"slices"
	"unsafe"
)

const (
	ExtCommandBuffer     = "cl_khr_command_buffer"
	ExtMutableDispatch   = "cl_khr_command_buffer_mutable_dispatch"
	ExtImage2DFromBuffer = "cl_khr_image2d_from_buffer"
)

// Kernel is an opaque handle to a compiled kernel. It is produced by the
// program compilation layer; this package never creates or releases it.
type Kernel struct {
	Handle uintptr
	Name   string
}

// Mem is a pointer-sized buffer handle, the usual payload of a mutable argument.
type Mem uintptr

type QueueHandle uintptr

type CommandBufferHandle uintptr

type MutableCommandHandle uintptr

// ArgValue is one kernel argument write: Size bytes read from Value.
type ArgValue struct {
	Index uint32
	Size  uintptr
	Value unsafe.Pointer
}

// MutableDispatch patches the arguments of one recorded command.
type MutableDispatch struct {
	Command MutableCommandHandle
	Args    []ArgValue
}

// Driver is the minimal entry point set every device offers.
type Driver interface {
	SetKernelArg(k Kernel, index uint32, size uintptr, value unsafe.Pointer) Status
	EnqueueNDRangeKernel(q QueueHandle, k Kernel, offset, global, local NDRange) Status
}

// CommandBufferDriver adds the persistent, patchable command buffer entry
// points. A driver may implement it and still sit on a device that does not
// advertise the extensions; Queue.MutableDispatchSupported checks both.
type CommandBufferDriver interface {
	Driver
	CreateCommandBuffer(q QueueHandle) (CommandBufferHandle, Status)
	CommandNDRangeKernel(cb CommandBufferHandle, k Kernel, offset, global, local NDRange) (MutableCommandHandle, Status)
	FinalizeCommandBuffer(cb CommandBufferHandle) Status
	UpdateMutableCommands(cb CommandBufferHandle, updates []MutableDispatch) Status
	EnqueueCommandBuffer(q QueueHandle, cb CommandBufferHandle) Status
	ReleaseCommandBuffer(cb CommandBufferHandle) Status
}

// DeviceInfo is what the device-info collaborator reports about a device.
type DeviceInfo struct {
	Name             string   `json:"name" yaml:"name"`
	Target           string   `json:"target" yaml:"target"`
	Extensions       []string `json:"extensions" yaml:"extensions"`
	Image2DMaxWidth  uint64   `json:"image2d_max_width" yaml:"image2d_max_width"`
	Image2DMaxHeight uint64   `json:"image2d_max_height" yaml:"image2d_max_height"`
}

func (d DeviceInfo) HasExtension(name string) bool {
	return slices.Contains(d.Extensions, name)
}

// Image2DFromBuffer reports whether a linear buffer can be viewed as a 2D image.
func (d DeviceInfo) Image2DFromBuffer() bool {
	return d.HasExtension(ExtImage2DFromBuffer)
}

// Entry point names used in errors and traces.
const (
	CallSetKernelArg          = "clSetKernelArg"
	CallEnqueueNDRangeKernel  = "clEnqueueNDRangeKernel"
	CallCreateCommandBuffer   = "clCreateCommandBufferKHR"
	CallCommandNDRangeKernel  = "clCommandNDRangeKernelKHR"
	CallFinalizeCommandBuffer = "clFinalizeCommandBufferKHR"
	CallUpdateMutableCommands = "clUpdateMutableCommandsKHR"
	CallEnqueueCommandBuffer  = "clEnqueueCommandBufferKHR"
	CallReleaseCommandBuffer  = "clReleaseCommandBufferKHR"
)
