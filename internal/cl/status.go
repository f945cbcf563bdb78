package cl

import (
	"errors"
	"fmt"
)

// Status is a raw OpenCL status code as returned by a driver entry point.
type Status int32

const (
	Success                     Status = 0
	DeviceNotFound              Status = -1
	OutOfResources              Status = -5
	OutOfHostMemory             Status = -6
	InvalidValue                Status = -30
	InvalidDevice               Status = -33
	InvalidContext              Status = -34
	InvalidCommandQueue         Status = -36
	InvalidMemObject            Status = -38
	InvalidKernel               Status = -48
	InvalidArgIndex             Status = -49
	InvalidArgValue             Status = -50
	InvalidArgSize              Status = -51
	InvalidKernelArgs           Status = -52
	InvalidWorkDimension        Status = -53
	InvalidWorkGroupSize        Status = -54
	InvalidWorkItemSize         Status = -55
	InvalidGlobalOffset         Status = -56
	InvalidOperation            Status = -59
	InvalidGlobalWorkSize       Status = -63
	InvalidCommandBuffer        Status = -1138
	InvalidSyncPointWaitList    Status = -1139
	IncompatibleCommandQueue    Status = -1140
	InvalidMutableCommand       Status = -1141
	ExtensionFunctionNotPresent Status = -1142
)

var statusNames = map[Status]string{
	Success:                     "CL_SUCCESS",
	DeviceNotFound:              "CL_DEVICE_NOT_FOUND",
	OutOfResources:              "CL_OUT_OF_RESOURCES",
	OutOfHostMemory:             "CL_OUT_OF_HOST_MEMORY",
	InvalidValue:                "CL_INVALID_VALUE",
	InvalidDevice:               "CL_INVALID_DEVICE",
	InvalidContext:              "CL_INVALID_CONTEXT",
	InvalidCommandQueue:         "CL_INVALID_COMMAND_QUEUE",
	InvalidMemObject:            "CL_INVALID_MEM_OBJECT",
	InvalidKernel:               "CL_INVALID_KERNEL",
	InvalidArgIndex:             "CL_INVALID_ARG_INDEX",
	InvalidArgValue:             "CL_INVALID_ARG_VALUE",
	InvalidArgSize:              "CL_INVALID_ARG_SIZE",
	InvalidKernelArgs:           "CL_INVALID_KERNEL_ARGS",
	InvalidWorkDimension:        "CL_INVALID_WORK_DIMENSION",
	InvalidWorkGroupSize:        "CL_INVALID_WORK_GROUP_SIZE",
	InvalidWorkItemSize:         "CL_INVALID_WORK_ITEM_SIZE",
	InvalidGlobalOffset:         "CL_INVALID_GLOBAL_OFFSET",
	InvalidOperation:            "CL_INVALID_OPERATION",
	InvalidGlobalWorkSize:       "CL_INVALID_GLOBAL_WORK_SIZE",
	InvalidCommandBuffer:        "CL_INVALID_COMMAND_BUFFER_KHR",
	InvalidSyncPointWaitList:    "CL_INVALID_SYNC_POINT_WAIT_LIST_KHR",
	IncompatibleCommandQueue:    "CL_INCOMPATIBLE_COMMAND_QUEUE_KHR",
	InvalidMutableCommand:       "CL_INVALID_MUTABLE_COMMAND_KHR",
	ExtensionFunctionNotPresent: "CL_EXTENSION_FUNCTION_NOT_PRESENT",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CL_UNKNOWN_ERROR(%d)", int32(s))
}

// ErrDriver is matched by every *Error via errors.Is.
var ErrDriver = errors.New("opencl driver call failed")

// Error reports a driver entry point that returned a non-success status.
type Error struct {
	Call   string
	Status Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: status %d (%s)", e.Call, int32(e.Status), e.Status)
}

func (e *Error) Unwrap() error {
	return ErrDriver
}

// Check maps a driver status to an error naming the failing call.
func Check(call string, status Status) error {
	if status == Success {
		return nil
	}
	return &Error{Call: call, Status: status}
}

// Must is the fatal form of Check: a non-success status panics with *Error.
func Must(call string, status Status) {
	if err := Check(call, status); err != nil {
		panic(err)
	}
}
