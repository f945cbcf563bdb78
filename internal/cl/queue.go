package cl

import "sync"

// Queue binds a driver, a device command queue and the device description.
// Capability detection runs at most once per queue.
type Queue struct {
	driver Driver
	handle QueueHandle
	device DeviceInfo

	mutableDispatch func() bool
}

func NewQueue(driver Driver, handle QueueHandle, device DeviceInfo) *Queue {
	q := &Queue{
		driver: driver,
		handle: handle,
		device: device,
	}
	q.mutableDispatch = sync.OnceValue(q.detectMutableDispatch)
	return q
}

func (q *Queue) Driver() Driver {
	return q.driver
}

func (q *Queue) Handle() QueueHandle {
	return q.handle
}

func (q *Queue) Device() DeviceInfo {
	return q.device
}

// MutableDispatchSupported reports whether persistent command buffers with
// in-place argument patching can be used on this queue.
func (q *Queue) MutableDispatchSupported() bool {
	return q.mutableDispatch()
}

// CommandBufferDriver returns the driver's command buffer entry points when
// the queue supports them.
func (q *Queue) CommandBufferDriver() (CommandBufferDriver, bool) {
	if !q.MutableDispatchSupported() {
		return nil, false
	}
	cbd, ok := q.driver.(CommandBufferDriver)
	return cbd, ok
}

func (q *Queue) detectMutableDispatch() bool {
	if _, ok := q.driver.(CommandBufferDriver); !ok {
		return false
	}
	return q.device.HasExtension(ExtCommandBuffer) && q.device.HasExtension(ExtMutableDispatch)
}
