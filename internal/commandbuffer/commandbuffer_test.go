package commandbuffer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/cl/sim"
)

type variant struct {
	name    string
	mutable bool
}

var variants = []variant{
	{name: "compat", mutable: false},
	{name: "mutable", mutable: true},
}

func newBuffer(t *testing.T, mutable bool) (*sim.Driver, CommandBuffer) {
	t.Helper()
	drv := sim.New(sim.DefaultDevice(mutable))
	return drv, New(context.Background(), drv.Queue())
}

func kernel(t *testing.T, drv *sim.Driver, name string) cl.Kernel {
	t.Helper()
	k, err := drv.Kernel(name, nil)
	if err != nil {
		t.Fatalf("kernel %s: %v", name, err)
	}
	return k
}

func expectStateError(t *testing.T, op string, fn func()) {
	t.Helper()
	err := Guard(fn)
	if err == nil {
		t.Fatalf("%s: expected panic", op)
	}
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("%s: expected *StateError, got %v", op, err)
	}
	if stateErr.Op != op {
		t.Fatalf("expected op %q, got %q", op, stateErr.Op)
	}
}

func TestNewSelectsImplementationByCapability(t *testing.T) {
	t.Parallel()

	_, cb := newBuffer(t, false)
	if _, ok := cb.(*compatCommandBuffer); !ok {
		t.Fatalf("expected compat buffer, got %T", cb)
	}

	_, cb = newBuffer(t, true)
	if _, ok := cb.(*mutableCommandBuffer); !ok {
		t.Fatalf("expected mutable buffer, got %T", cb)
	}
}

func TestNewFallsBackWhenDriverLacksCommandBuffers(t *testing.T) {
	t.Parallel()

	drv := sim.New(sim.DefaultDevice(true))
	// Hide the command buffer entry points behind a plain Driver.
	plain := struct{ cl.Driver }{drv}
	q := cl.NewQueue(plain, 1, drv.Queue().Device())

	cb := New(context.Background(), q)
	if _, ok := cb.(*compatCommandBuffer); !ok {
		t.Fatalf("expected compat buffer, got %T", cb)
	}
}

func TestStateMachine(t *testing.T) {
	t.Parallel()

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()
			drv, cb := newBuffer(t, v.mutable)
			k := kernel(t, drv, "k")
			var arg int32

			if cb.IsFinalized() {
				t.Fatal("new buffer reports finalized")
			}
			expectStateError(t, "Update", cb.Update)
			expectStateError(t, "Enqueue", cb.Enqueue)

			cb.AddKernel(k, cl.NullRange, cl.NewNDRange(4), cl.NullRange)
			AddMutableArgument(cb, 0, &arg)
			cb.Finalize()
			if !cb.IsFinalized() {
				t.Fatal("expected finalized")
			}

			expectStateError(t, "AddKernel", func() {
				cb.AddKernel(k, cl.NullRange, cl.NewNDRange(4), cl.NullRange)
			})
			expectStateError(t, "AddMutableArgument", func() { AddMutableArgument(cb, 1, &arg) })
			expectStateError(t, "Finalize", cb.Finalize)

			for range 3 {
				cb.Update()
				cb.Enqueue()
			}
			if got := len(drv.Launches()); got != 3 {
				t.Fatalf("expected 3 launches, got %d", got)
			}

			cb.Release()
			cb.Release()
			if cb.IsFinalized() {
				t.Fatal("released buffer reports finalized")
			}
			expectStateError(t, "Enqueue", cb.Enqueue)
			if drv.LiveCommandBuffers() != 0 {
				t.Fatalf("command buffer leaked: %d live", drv.LiveCommandBuffers())
			}
		})
	}
}

func TestFinalizeTwiceIsRejected(t *testing.T) {
	t.Parallel()

	for _, v := range variants {
		drv, cb := newBuffer(t, v.mutable)
		cb.AddKernel(kernel(t, drv, "k"), cl.NullRange, cl.NewNDRange(1), cl.NullRange)
		cb.Finalize()

		err := Guard(cb.Finalize)
		var stateErr *StateError
		if !errors.As(err, &stateErr) || stateErr.State != Finalized {
			t.Fatalf("%s: expected StateError in finalized state, got %v", v.name, err)
		}
	}
}

func TestMutableArgumentRequiresKernel(t *testing.T) {
	t.Parallel()

	for _, v := range variants {
		_, cb := newBuffer(t, v.mutable)
		var x float32
		expectStateError(t, "AddMutableArgument", func() { AddMutableArgument(cb, 0, &x) })
	}
}

func TestMutableArgumentRejectsNilPointer(t *testing.T) {
	t.Parallel()

	drv, cb := newBuffer(t, false)
	cb.AddKernel(kernel(t, drv, "k"), cl.NullRange, cl.NewNDRange(1), cl.NullRange)
	var p *uint64
	expectStateError(t, "AddMutableArgument", func() { AddMutableArgument(cb, 0, p) })
}

func TestCommandOrderPreserved(t *testing.T) {
	t.Parallel()

	names := []string{"reshape", "gemm", "bias", "activation", "store"}
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()
			drv, cb := newBuffer(t, v.mutable)
			for i, n := range names {
				cb.AddKernel(kernel(t, drv, n), cl.NullRange, cl.NewNDRange(uint64(i+1)), cl.NullRange)
			}
			cb.Finalize()
			cb.Update()
			cb.Enqueue()
			cb.Update()
			cb.Enqueue()

			launches := drv.Launches()
			if len(launches) != 2*len(names) {
				t.Fatalf("expected %d launches, got %d", 2*len(names), len(launches))
			}
			for i, l := range launches {
				want := names[i%len(names)]
				if l.Kernel != want {
					t.Fatalf("launch %d: got %s want %s", i, l.Kernel, want)
				}
				if l.Global.At(0) != uint64(i%len(names)+1) {
					t.Fatalf("launch %d: global %s", i, l.Global)
				}
			}
		})
	}
}

func TestMutableArgumentBindsToLatestKernel(t *testing.T) {
	t.Parallel()

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()
			drv, cb := newBuffer(t, v.mutable)
			a, b, c := uint32(0xA), uint32(0xB), uint32(0xC)

			cb.AddKernel(kernel(t, drv, "first"), cl.NullRange, cl.NewNDRange(1), cl.NullRange)
			AddMutableArgument(cb, 0, &a)
			cb.AddKernel(kernel(t, drv, "second"), cl.NullRange, cl.NewNDRange(1), cl.NullRange)
			AddMutableArgument(cb, 2, &b)
			AddMutableArgument(cb, 3, &c)
			cb.AddKernel(kernel(t, drv, "third"), cl.NullRange, cl.NewNDRange(1), cl.NullRange)
			cb.Finalize()

			cmds := cb.Commands()
			if len(cmds[0].MutableArgs) != 1 || cmds[0].MutableArgs[0].Index != 0 {
				t.Fatalf("first command args: %+v", cmds[0].MutableArgs)
			}
			if len(cmds[1].MutableArgs) != 2 || cmds[1].MutableArgs[0].Index != 2 || cmds[1].MutableArgs[1].Index != 3 {
				t.Fatalf("second command args: %+v", cmds[1].MutableArgs)
			}
			if len(cmds[2].MutableArgs) != 0 {
				t.Fatalf("third command args: %+v", cmds[2].MutableArgs)
			}
			if cmds[1].MutableArgs[0].Size != 4 {
				t.Fatalf("expected size 4 for uint32, got %d", cmds[1].MutableArgs[0].Size)
			}

			cb.Update()
			cb.Enqueue()
			launches := drv.Launches()
			if launches[0].ArgUint64(0) != 0xA {
				t.Fatalf("first launch arg0 = %x", launches[0].ArgUint64(0))
			}
			if launches[1].ArgUint64(2) != 0xB || launches[1].ArgUint64(3) != 0xC {
				t.Fatalf("second launch args = %v", launches[1].Args)
			}
			if len(launches[2].Args) != 0 {
				t.Fatalf("third launch should carry no args, got %v", launches[2].Args)
			}
		})
	}
}

func TestCompatEnqueueReadsCurrentValue(t *testing.T) {
	t.Parallel()

	drv, cb := newBuffer(t, false)
	ptr := cl.Mem(0x1000)
	cb.AddKernel(kernel(t, drv, "k"), cl.NullRange, cl.NewNDRange(8), cl.NullRange)
	AddMutableArgument(cb, 0, &ptr)
	cb.Finalize()

	cb.Update()
	cb.Enqueue()
	ptr = 0x2000
	// No Update in between: compat reads the value inside Enqueue.
	cb.Enqueue()

	launches := drv.Launches()
	if launches[0].ArgUint64(0) != 0x1000 || launches[1].ArgUint64(0) != 0x2000 {
		t.Fatalf("unexpected args: %x then %x", launches[0].ArgUint64(0), launches[1].ArgUint64(0))
	}
	if drv.CallCount(cl.CallUpdateMutableCommands) != 0 {
		t.Fatal("compat buffer must not call the mutable update entry point")
	}
}

func TestCompatSetsArgumentsBeforeEachLaunch(t *testing.T) {
	t.Parallel()

	drv, cb := newBuffer(t, false)
	x, y := int64(1), int64(2)
	cb.AddKernel(kernel(t, drv, "a"), cl.NullRange, cl.NewNDRange(1), cl.NullRange)
	AddMutableArgument(cb, 0, &x)
	cb.AddKernel(kernel(t, drv, "b"), cl.NullRange, cl.NewNDRange(1), cl.NullRange)
	AddMutableArgument(cb, 0, &y)
	cb.Finalize()
	drv.Reset()

	cb.Enqueue()
	want := []string{
		cl.CallSetKernelArg, cl.CallEnqueueNDRangeKernel,
		cl.CallSetKernelArg, cl.CallEnqueueNDRangeKernel,
	}
	got := drv.Calls()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("call order:\n got %v\nwant %v", got, want)
	}
}

func TestMutablePatchesOnUpdate(t *testing.T) {
	t.Parallel()

	drv, cb := newBuffer(t, true)
	scale := float32(1)
	cb.AddKernel(kernel(t, drv, "k"), cl.NullRange, cl.NewNDRange(8), cl.NewNDRange(4))
	AddMutableArgument(cb, 1, &scale)
	cb.Finalize()

	cb.Update()
	cb.Enqueue()
	scale = 2
	cb.Enqueue() // not yet patched
	cb.Update()
	cb.Enqueue()

	launches := drv.Launches()
	vals := []uint64{launches[0].ArgUint64(1), launches[1].ArgUint64(1), launches[2].ArgUint64(1)}
	one, two := uint64(0x3f800000), uint64(0x40000000)
	if vals[0] != one || vals[1] != one || vals[2] != two {
		t.Fatalf("unexpected values %x", vals)
	}
	if n := drv.CallCount(cl.CallUpdateMutableCommands); n != 2 {
		t.Fatalf("expected one driver update per Update, got %d", n)
	}
	if n := drv.CallCount(cl.CallEnqueueNDRangeKernel); n != 0 {
		t.Fatalf("mutable buffer must not launch kernels individually, got %d", n)
	}
	for _, l := range launches {
		if l.Via != sim.ViaCommandBuffer {
			t.Fatalf("expected launches through the command buffer, got %s", l.Via)
		}
	}
}

func TestMutableUpdateSkipsDriverWithoutArguments(t *testing.T) {
	t.Parallel()

	drv, cb := newBuffer(t, true)
	cb.AddKernel(kernel(t, drv, "k"), cl.NullRange, cl.NewNDRange(1), cl.NullRange)
	cb.Finalize()
	cb.Update()
	if drv.CallCount(cl.CallUpdateMutableCommands) != 0 {
		t.Fatal("expected no driver update when nothing is mutable")
	}
}

func TestDriverFailuresAreFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutable bool
		call    string
		status  cl.Status
		run     func(cb CommandBuffer, k cl.Kernel)
	}{
		{
			name: "compat enqueue", call: cl.CallEnqueueNDRangeKernel, status: cl.OutOfResources,
			run: func(cb CommandBuffer, k cl.Kernel) {
				cb.AddKernel(k, cl.NullRange, cl.NewNDRange(1), cl.NullRange)
				cb.Finalize()
				cb.Enqueue()
			},
		},
		{
			name: "compat set arg", call: cl.CallSetKernelArg, status: cl.InvalidArgSize,
			run: func(cb CommandBuffer, k cl.Kernel) {
				var v int32
				cb.AddKernel(k, cl.NullRange, cl.NewNDRange(1), cl.NullRange)
				AddMutableArgument(cb, 0, &v)
				cb.Finalize()
				cb.Enqueue()
			},
		},
		{
			name: "mutable record", mutable: true, call: cl.CallCommandNDRangeKernel, status: cl.InvalidKernel,
			run: func(cb CommandBuffer, k cl.Kernel) {
				cb.AddKernel(k, cl.NullRange, cl.NewNDRange(1), cl.NullRange)
			},
		},
		{
			name: "mutable finalize", mutable: true, call: cl.CallFinalizeCommandBuffer, status: cl.InvalidOperation,
			run: func(cb CommandBuffer, k cl.Kernel) {
				cb.AddKernel(k, cl.NullRange, cl.NewNDRange(1), cl.NullRange)
				cb.Finalize()
			},
		},
		{
			name: "mutable update", mutable: true, call: cl.CallUpdateMutableCommands, status: cl.InvalidMutableCommand,
			run: func(cb CommandBuffer, k cl.Kernel) {
				var v uint16
				cb.AddKernel(k, cl.NullRange, cl.NewNDRange(1), cl.NullRange)
				AddMutableArgument(cb, 0, &v)
				cb.Finalize()
				cb.Update()
			},
		},
		{
			name: "mutable enqueue", mutable: true, call: cl.CallEnqueueCommandBuffer, status: cl.OutOfHostMemory,
			run: func(cb CommandBuffer, k cl.Kernel) {
				cb.AddKernel(k, cl.NullRange, cl.NewNDRange(1), cl.NullRange)
				cb.Finalize()
				cb.Enqueue()
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			drv, cb := newBuffer(t, tc.mutable)
			k := kernel(t, drv, "k")
			drv.FailOn(tc.call, tc.status)

			err := Guard(func() { tc.run(cb, k) })
			var clErr *cl.Error
			if !errors.As(err, &clErr) {
				t.Fatalf("expected *cl.Error, got %v", err)
			}
			if clErr.Call != tc.call || clErr.Status != tc.status {
				t.Fatalf("got %s/%s want %s/%s", clErr.Call, clErr.Status, tc.call, tc.status)
			}
			if !strings.Contains(err.Error(), tc.call) {
				t.Fatalf("message should name the call: %v", err)
			}
		})
	}
}

func TestCreateFailureIsFatal(t *testing.T) {
	t.Parallel()

	drv := sim.New(sim.DefaultDevice(true))
	drv.FailOn(cl.CallCreateCommandBuffer, cl.OutOfResources)
	err := Guard(func() { New(context.Background(), drv.Queue()) })
	if !errors.Is(err, cl.ErrDriver) {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestGuard(t *testing.T) {
	t.Parallel()

	if err := Guard(func() {}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	err := Guard(func() { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped panic text, got %v", err)
	}
	if !strings.Contains(err.Error(), "command buffer execution failed") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestCommandsReturnsCopy(t *testing.T) {
	t.Parallel()

	drv, cb := newBuffer(t, false)
	var v int8
	cb.AddKernel(kernel(t, drv, "k"), cl.NullRange, cl.NewNDRange(1), cl.NullRange)
	AddMutableArgument(cb, 5, &v)

	cmds := cb.Commands()
	cmds[0].MutableArgs[0].Index = 99
	if cb.Commands()[0].MutableArgs[0].Index != 5 {
		t.Fatal("Commands must not expose internal storage")
	}
}
