package commandbuffer

import (
	"github.com/google/uuid"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/logger"
)

// mutableCommandBuffer records straight into a driver command buffer and
// patches mutable arguments in place with one driver call per Update.
type mutableCommandBuffer struct {
	recorder
	driver cl.CommandBufferDriver
	handle cl.CommandBufferHandle

	// one driver handle per entry of commands
	handles []cl.MutableCommandHandle
	updates []cl.MutableDispatch
}

func newMutable(id uuid.UUID, q *cl.Queue, drv cl.CommandBufferDriver, log logger.Logger) *mutableCommandBuffer {
	h, st := drv.CreateCommandBuffer(q.Handle())
	cl.Must(cl.CallCreateCommandBuffer, st)
	return &mutableCommandBuffer{
		recorder: recorder{
			id:    id,
			queue: q,
			log:   log,
			state: Created,
		},
		driver: drv,
		handle: h,
	}
}

func (b *mutableCommandBuffer) AddKernel(k cl.Kernel, offset, global, local cl.NDRange) {
	b.require("AddKernel", Created)
	h, st := b.driver.CommandNDRangeKernel(b.handle, k, offset, global, local)
	cl.Must(cl.CallCommandNDRangeKernel, st)
	b.appendKernel(k, offset, global, local)
	b.handles = append(b.handles, h)
}

func (b *mutableCommandBuffer) Finalize() {
	b.require("Finalize", Created)
	cl.Must(cl.CallFinalizeCommandBuffer, b.driver.FinalizeCommandBuffer(b.handle))

	// The dispatch configs hold the caller's pointers, so they are built once
	// and the driver reads the current values on every Update.
	for i, cmd := range b.commands {
		if len(cmd.MutableArgs) == 0 {
			continue
		}
		args := make([]cl.ArgValue, len(cmd.MutableArgs))
		for j, a := range cmd.MutableArgs {
			args[j] = cl.ArgValue{Index: a.Index, Size: a.Size, Value: a.Value}
		}
		b.updates = append(b.updates, cl.MutableDispatch{Command: b.handles[i], Args: args})
	}
	b.markFinalized()
}

func (b *mutableCommandBuffer) Update() {
	b.require("Update", Finalized)
	if len(b.updates) == 0 {
		return
	}
	cl.Must(cl.CallUpdateMutableCommands, b.driver.UpdateMutableCommands(b.handle, b.updates))
}

func (b *mutableCommandBuffer) Enqueue() {
	b.require("Enqueue", Finalized)
	cl.Must(cl.CallEnqueueCommandBuffer, b.driver.EnqueueCommandBuffer(b.queue.Handle(), b.handle))
}

func (b *mutableCommandBuffer) Release() {
	if b.state == Released {
		return
	}
	b.state = Released
	cl.Must(cl.CallReleaseCommandBuffer, b.driver.ReleaseCommandBuffer(b.handle))
}
