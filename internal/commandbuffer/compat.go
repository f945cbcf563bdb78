package commandbuffer

import (
	"github.com/google/uuid"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/logger"
)

// compatCommandBuffer emulates a persistent command buffer on devices without
// the mutable dispatch extension: commands stay on the host and every
// Enqueue sets the mutable arguments and launches each kernel individually.
type compatCommandBuffer struct {
	recorder
	driver cl.Driver
}

func newCompat(id uuid.UUID, q *cl.Queue, log logger.Logger) *compatCommandBuffer {
	return &compatCommandBuffer{
		recorder: recorder{
			id:    id,
			queue: q,
			log:   log,
			state: Created,
		},
		driver: q.Driver(),
	}
}

func (b *compatCommandBuffer) AddKernel(k cl.Kernel, offset, global, local cl.NDRange) {
	b.require("AddKernel", Created)
	b.appendKernel(k, offset, global, local)
}

func (b *compatCommandBuffer) Finalize() {
	b.require("Finalize", Created)
	b.markFinalized()
}

// Update does nothing here: argument values are read in Enqueue, right
// before each kernel is submitted.
func (b *compatCommandBuffer) Update() {
	b.require("Update", Finalized)
}

func (b *compatCommandBuffer) Enqueue() {
	b.require("Enqueue", Finalized)
	q := b.queue.Handle()
	for _, cmd := range b.commands {
		for _, arg := range cmd.MutableArgs {
			cl.Must(cl.CallSetKernelArg, b.driver.SetKernelArg(cmd.Kernel, arg.Index, arg.Size, arg.Value))
		}
		cl.Must(cl.CallEnqueueNDRangeKernel, b.driver.EnqueueNDRangeKernel(q, cmd.Kernel, cmd.Offset, cmd.Global, cmd.Local))
	}
}

func (b *compatCommandBuffer) Release() {
	b.state = Released
}
