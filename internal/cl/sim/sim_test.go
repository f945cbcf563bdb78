package sim

import (
	"testing"
	"unsafe"

	"github.com/samcharles93/cldispatch/internal/cl"
)

func setArg(t *testing.T, d *Driver, k cl.Kernel, index uint32, v int32) {
	t.Helper()
	if st := d.SetKernelArg(k, index, unsafe.Sizeof(v), unsafe.Pointer(&v)); st != cl.Success {
		t.Fatalf("SetKernelArg(%d): %s", index, st)
	}
}

func TestUnsetKernelArgsRejected(t *testing.T) {
	t.Parallel()

	d := New(DefaultDevice(true))
	q := d.Queue()
	d.SetArgCount("k", 3)
	k, err := d.Kernel("k", nil)
	if err != nil {
		t.Fatalf("Kernel: %v", err)
	}
	cb, st := d.CreateCommandBuffer(q.Handle())
	if st != cl.Success {
		t.Fatalf("CreateCommandBuffer: %s", st)
	}
	global := cl.NewNDRange(4)

	setArg(t, d, k, 2, 7)
	if _, st := d.CommandNDRangeKernel(cb, k, cl.NullRange, global, cl.NullRange); st != cl.InvalidKernelArgs {
		t.Fatalf("record with unset args: expected %s, got %s", cl.InvalidKernelArgs, st)
	}
	if st := d.EnqueueNDRangeKernel(q.Handle(), k, cl.NullRange, global, cl.NullRange); st != cl.InvalidKernelArgs {
		t.Fatalf("launch with unset args: expected %s, got %s", cl.InvalidKernelArgs, st)
	}

	setArg(t, d, k, 0, 1)
	setArg(t, d, k, 1, 2)
	if _, st := d.CommandNDRangeKernel(cb, k, cl.NullRange, global, cl.NullRange); st != cl.Success {
		t.Fatalf("record with all args: %s", st)
	}
	if st := d.EnqueueNDRangeKernel(q.Handle(), k, cl.NullRange, global, cl.NullRange); st != cl.Success {
		t.Fatalf("launch with all args: %s", st)
	}
}

func TestUndeclaredKernelIsNotChecked(t *testing.T) {
	t.Parallel()

	d := New(DefaultDevice(false))
	q := d.Queue()
	k, err := d.Kernel("free", nil)
	if err != nil {
		t.Fatalf("Kernel: %v", err)
	}
	setArg(t, d, k, 5, 1)
	if st := d.EnqueueNDRangeKernel(q.Handle(), k, cl.NullRange, cl.NewNDRange(1), cl.NullRange); st != cl.Success {
		t.Fatalf("expected launch to succeed, got %s", st)
	}
	if got := d.Launches()[0].ArgUint64(5); got != 1 {
		t.Fatalf("expected arg 5 = 1, got %d", got)
	}
}
