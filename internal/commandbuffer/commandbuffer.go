// Package commandbuffer records a fixed sequence of kernel launches once and
// submits it many times, refreshing selected ("mutable") arguments from
// caller-owned memory before every submission.
//
// The lifecycle is build (AddKernel, AddMutableArgument), Finalize, then any
// number of Update + Enqueue cycles. Calling a method in the wrong state is a
// programming error and panics with *StateError; a failing driver call panics
// with *cl.Error. Use Guard at an operator boundary to turn either into an
// error value.
//
// A CommandBuffer is not safe for concurrent use.
package commandbuffer

import (
	"context"
	"slices"
	"unsafe"

	"github.com/google/uuid"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/logger"
)

type State int

const (
	Created State = iota
	Finalized
	Released
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Finalized:
		return "finalized"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// MutableArgument is a kernel argument re-read from Value on every
// execution. Value is not owned: the memory it points to must stay valid and
// hold the wanted value for every Update/Enqueue after registration.
type MutableArgument struct {
	Index uint32
	Size  uintptr
	Value unsafe.Pointer
}

// KernelCommand is one recorded launch.
type KernelCommand struct {
	Kernel      cl.Kernel
	Offset      cl.NDRange
	Global      cl.NDRange
	Local       cl.NDRange
	MutableArgs []MutableArgument
}

type CommandBuffer interface {
	ID() uuid.UUID

	// AddKernel appends a launch. Offset and Local may be cl.NullRange.
	AddKernel(k cl.Kernel, offset, global, local cl.NDRange)

	Finalize()
	Update()
	Enqueue()
	IsFinalized() bool

	// Release frees device resources. It is idempotent; no other method may
	// be called afterwards.
	Release()

	// Commands returns a copy of the recorded commands in insertion order.
	Commands() []KernelCommand

	addMutableArgument(index uint32, value unsafe.Pointer, size uintptr)
}

// Value is the set of types a mutable argument can point to. cl.Mem
// satisfies it through ~uintptr.
type Value interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint | ~uintptr |
		~float32 | ~float64
}

// AddMutableArgument marks argument index of the most recently added kernel
// as mutable. Its size is the size of T; *value is read on every execution.
func AddMutableArgument[T Value](cb CommandBuffer, index uint32, value *T) {
	var zero T
	cb.addMutableArgument(index, unsafe.Pointer(value), unsafe.Sizeof(zero))
}

// New returns the mutable dispatch implementation when the queue supports it
// and the compatibility implementation otherwise.
func New(ctx context.Context, q *cl.Queue) CommandBuffer {
	id := uuid.New()
	log := logger.FromContext(ctx).With("component", "commandbuffer", "id", id.String())
	if drv, ok := q.CommandBufferDriver(); ok {
		log.Debug("using mutable dispatch command buffer", "device", q.Device().Name)
		return newMutable(id, q, drv, log)
	}
	log.Debug("using compatibility command buffer", "device", q.Device().Name)
	return newCompat(id, q, log)
}

// recorder holds what both implementations share: state and the command list.
type recorder struct {
	id       uuid.UUID
	queue    *cl.Queue
	log      logger.Logger
	state    State
	commands []KernelCommand
}

func (r *recorder) ID() uuid.UUID {
	return r.id
}

// IsFinalized reports whether the buffer can be updated and enqueued. It is
// false again once the buffer is released.
func (r *recorder) IsFinalized() bool {
	return r.state == Finalized
}

func (r *recorder) Commands() []KernelCommand {
	out := make([]KernelCommand, len(r.commands))
	for i, c := range r.commands {
		c.MutableArgs = slices.Clone(c.MutableArgs)
		out[i] = c
	}
	return out
}

func (r *recorder) require(op string, want State) {
	if r.state != want {
		panic(&StateError{Op: op, State: r.state, Reason: "requires state " + want.String()})
	}
}

func (r *recorder) appendKernel(k cl.Kernel, offset, global, local cl.NDRange) {
	r.commands = append(r.commands, KernelCommand{
		Kernel: k,
		Offset: offset,
		Global: global,
		Local:  local,
	})
}

func (r *recorder) addMutableArgument(index uint32, value unsafe.Pointer, size uintptr) {
	const op = "AddMutableArgument"
	r.require(op, Created)
	if len(r.commands) == 0 {
		panic(&StateError{Op: op, State: r.state, Reason: "no kernel has been added"})
	}
	if value == nil {
		panic(&StateError{Op: op, State: r.state, Reason: "nil value pointer"})
	}
	last := &r.commands[len(r.commands)-1]
	last.MutableArgs = append(last.MutableArgs, MutableArgument{
		Index: index,
		Size:  size,
		Value: value,
	})
}

func (r *recorder) markFinalized() {
	r.commands = slices.Clip(r.commands)
	for i := range r.commands {
		r.commands[i].MutableArgs = slices.Clip(r.commands[i].MutableArgs)
	}
	r.state = Finalized
	r.log.Debug("command buffer finalized", "commands", len(r.commands), "mutable_args", r.mutableArgCount())
}

func (r *recorder) mutableArgCount() int {
	n := 0
	for _, c := range r.commands {
		n += len(c.MutableArgs)
	}
	return n
}
