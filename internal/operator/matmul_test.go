package operator

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/cl/sim"
	"github.com/samcharles93/cldispatch/internal/commandbuffer"
	"github.com/samcharles93/cldispatch/internal/matmul"
)

func setup(t *testing.T, mutable bool) (*sim.Driver, *cl.Queue, *matmul.Selector) {
	t.Helper()
	drv := sim.New(sim.DefaultDevice(mutable))
	for _, adj := range [][2]bool{{false, false}, {false, true}, {true, false}, {true, true}} {
		drv.SetArgCount(KernelName(adj[0], adj[1]), NumArgs)
	}
	q := drv.Queue()
	dev := q.Device()
	limits := matmul.ImageLimits{
		Supported: dev.Image2DFromBuffer(),
		MaxWidth:  dev.Image2DMaxWidth,
		MaxHeight: dev.Image2DMaxHeight,
	}
	sel, err := matmul.NewSelector(matmul.G710, matmul.DefaultTables(), limits)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	return drv, q, sel
}

func TestMatMulConfigureAndRun(t *testing.T) {
	t.Parallel()

	for _, mutable := range []bool{false, true} {
		drv, q, sel := setup(t, mutable)
		lhs, rhs := matmul.Operands(matmul.Shape{M: 3136, N: 64, K: 64, B: 36}, matmul.F32, false, false)

		var op MatMul
		if err := op.Configure(context.Background(), q, sel, drv, lhs, rhs, matmul.TensorInfo{}, MatMulOptions{}); err != nil {
			t.Fatalf("mutable=%t: Configure: %v", mutable, err)
		}

		want := matmul.KernelInfo{M0: 4, N0: 4, K0: 16, ExportRHSToImage: true}
		if op.Info() != want {
			t.Fatalf("expected %s, got %s", want, op.Info())
		}
		if got := op.Global().Sizes(); !slices.Equal(got, []uint64{16, 784, 36}) {
			t.Fatalf("unexpected global %v", got)
		}
		if !slices.Equal(op.Dst().Shape, []uint32{64, 3136, 36}) {
			t.Fatalf("unexpected dst %s", op.Dst())
		}
		opts := drv.BuildOptions("mat_mul_native_nt_nt")
		for _, o := range []string{"-DDATA_TYPE=float", "-DM0=4", "-DN0=4", "-DK0=16", "-DEXPORT_RHS_TO_CL_IMAGE"} {
			if !slices.Contains(opts, o) {
				t.Fatalf("build options %v missing %s", opts, o)
			}
		}
		if !op.CommandBuffer().IsFinalized() {
			t.Fatalf("expected finalized command buffer")
		}

		runs := [][3]cl.Mem{
			{drv.Buffer(), drv.Buffer(), drv.Buffer()},
			{drv.Buffer(), drv.Buffer(), drv.Buffer()},
		}
		for _, r := range runs {
			if err := op.Run(r[0], r[1], r[2]); err != nil {
				t.Fatalf("Run: %v", err)
			}
		}

		launches := drv.Launches()
		if len(launches) != len(runs) {
			t.Fatalf("expected %d launches, got %d", len(runs), len(launches))
		}
		for i, l := range launches {
			for slot, mem := range runs[i] {
				if got := l.ArgUint64(uint32(slot)); got != uint64(mem) {
					t.Fatalf("launch %d arg %d: expected %d, got %d", i, slot, mem, got)
				}
			}
			if l.ArgUint64(ArgM) != 3136 || l.ArgUint64(ArgN) != 64 || l.ArgUint64(ArgK) != 64 {
				t.Fatalf("launch %d: unexpected static args %v", i, l.Args)
			}
		}

		if mutable {
			if n := drv.CallCount(cl.CallUpdateMutableCommands); n != len(runs) {
				t.Fatalf("expected %d updates, got %d", len(runs), n)
			}
			if n := drv.CallCount(cl.CallEnqueueNDRangeKernel); n != 0 {
				t.Fatalf("expected no direct launches, got %d", n)
			}
		} else if n := drv.CallCount(cl.CallEnqueueNDRangeKernel); n != len(runs) {
			t.Fatalf("expected %d direct launches, got %d", len(runs), n)
		}

		op.Release()
		if n := drv.LiveCommandBuffers(); n != 0 {
			t.Fatalf("expected released buffers, %d live", n)
		}
		if err := op.Run(1, 2, 3); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("expected ErrNotConfigured after release, got %v", err)
		}
	}
}

func TestMatMulSetsEveryArgumentBeforeRecording(t *testing.T) {
	t.Parallel()

	for _, mutable := range []bool{false, true} {
		drv, q, sel := setup(t, mutable)
		lhs, rhs := matmul.Operands(matmul.Shape{M: 64, N: 64, K: 64, B: 1}, matmul.F32, false, false)

		var op MatMul
		if err := op.Configure(context.Background(), q, sel, drv, lhs, rhs, matmul.TensorInfo{}, MatMulOptions{}); err != nil {
			t.Fatalf("mutable=%t: Configure: %v", mutable, err)
		}

		calls := drv.Calls()
		if n := drv.CallCount(cl.CallSetKernelArg); n != int(NumArgs) {
			t.Fatalf("mutable=%t: expected %d argument writes, got %d: %v", mutable, NumArgs, n, calls)
		}
		if mutable {
			rec := slices.Index(calls, cl.CallCommandNDRangeKernel)
			if rec < 0 || slices.Contains(calls[rec:], cl.CallSetKernelArg) {
				t.Fatalf("expected all argument writes before recording, got %v", calls)
			}
		}
		if err := op.Run(drv.Buffer(), drv.Buffer(), drv.Buffer()); err != nil {
			t.Fatalf("mutable=%t: Run: %v", mutable, err)
		}
		op.Release()
	}
}

func TestMatMulGlobalRoundsUp(t *testing.T) {
	t.Parallel()

	drv, q, sel := setup(t, false)
	lhs, rhs := matmul.Operands(matmul.Shape{M: 130, N: 130, K: 32, B: 1}, matmul.F16, false, true)

	var op MatMul
	if err := op.Configure(context.Background(), q, sel, drv, lhs, rhs, matmul.TensorInfo{}, MatMulOptions{AdjRHS: true}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	info := op.Info()
	want := []uint64{(130 + uint64(info.N0) - 1) / uint64(info.N0), (130 + uint64(info.M0) - 1) / uint64(info.M0), 1}
	if got := op.Global().Sizes(); !slices.Equal(got, want) {
		t.Fatalf("expected global %v, got %v", want, got)
	}
	if op.Kernel().Name != "mat_mul_native_nt_t" {
		t.Fatalf("unexpected kernel %s", op.Kernel().Name)
	}
}

func TestMatMulConfigureRejects(t *testing.T) {
	t.Parallel()

	shape := matmul.Shape{M: 64, N: 64, K: 64, B: 1}
	f32lhs, f32rhs := matmul.Operands(shape, matmul.F32, false, false)
	q8lhs, q8rhs := matmul.Operands(shape, matmul.QASYMM8, false, false)

	tests := []struct {
		name     string
		lhs, rhs matmul.TensorInfo
		dst      matmul.TensorInfo
	}{
		{name: "8-bit", lhs: q8lhs, rhs: q8rhs},
		{name: "K mismatch", lhs: f32lhs, rhs: matmul.NewTensorInfo(matmul.F32, 64, 32, 1)},
		{name: "dst shape", lhs: f32lhs, rhs: f32rhs, dst: matmul.NewTensorInfo(matmul.F32, 64, 63, 1)},
		{name: "dst type", lhs: f32lhs, rhs: f32rhs, dst: matmul.NewTensorInfo(matmul.F16, 64, 64, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			drv, q, sel := setup(t, true)
			var op MatMul
			err := op.Configure(context.Background(), q, sel, drv, tt.lhs, tt.rhs, tt.dst, MatMulOptions{})
			if !errors.Is(err, matmul.ErrUnsupported) {
				t.Fatalf("expected ErrUnsupported, got %v", err)
			}
			if drv.LiveCommandBuffers() != 0 || op.CommandBuffer() != nil {
				t.Fatalf("no command buffer should be created")
			}
		})
	}
}

func TestMatMulRecordingFailureReleasesBuffer(t *testing.T) {
	t.Parallel()

	drv, q, sel := setup(t, true)
	drv.FailOn(cl.CallFinalizeCommandBuffer, cl.OutOfResources)
	lhs, rhs := matmul.Operands(matmul.Shape{M: 64, N: 64, K: 64, B: 1}, matmul.F32, false, false)

	var op MatMul
	err := op.Configure(context.Background(), q, sel, drv, lhs, rhs, matmul.TensorInfo{}, MatMulOptions{})
	var clErr *cl.Error
	if !errors.As(err, &clErr) || clErr.Call != cl.CallFinalizeCommandBuffer {
		t.Fatalf("expected finalize failure, got %v", err)
	}
	if n := drv.LiveCommandBuffers(); n != 0 {
		t.Fatalf("expected buffer release after failure, %d live", n)
	}
}

func TestMatMulRunDriverFailureIsFatal(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		mutable bool
		call    string
	}{
		{false, cl.CallEnqueueNDRangeKernel},
		{true, cl.CallEnqueueCommandBuffer},
		{true, cl.CallUpdateMutableCommands},
	} {
		drv, q, sel := setup(t, tc.mutable)
		lhs, rhs := matmul.Operands(matmul.Shape{M: 64, N: 64, K: 64, B: 1}, matmul.F32, false, false)
		var op MatMul
		if err := op.Configure(context.Background(), q, sel, drv, lhs, rhs, matmul.TensorInfo{}, MatMulOptions{}); err != nil {
			t.Fatalf("Configure: %v", err)
		}
		drv.FailOn(tc.call, cl.OutOfResources)

		err := commandbuffer.Guard(func() { _ = op.Run(1, 2, 3) })
		var clErr *cl.Error
		if !errors.As(err, &clErr) || clErr.Call != tc.call || clErr.Status != cl.OutOfResources {
			t.Fatalf("%s: expected fatal driver error, got %v", tc.call, err)
		}
	}
}

func TestKernelNameAndBuildOptions(t *testing.T) {
	t.Parallel()

	names := map[[2]bool]string{
		{false, false}: "mat_mul_native_nt_nt",
		{false, true}:  "mat_mul_native_nt_t",
		{true, false}:  "mat_mul_native_t_nt",
		{true, true}:   "mat_mul_native_t_t",
	}
	for adj, want := range names {
		if got := KernelName(adj[0], adj[1]); got != want {
			t.Fatalf("adj=%v: expected %s, got %s", adj, want, got)
		}
	}

	opts := BuildOptions(matmul.KernelInfo{M0: 2, N0: 8, K0: 4}, matmul.F16)
	want := []string{"-DDATA_TYPE=half", "-DM0=2", "-DN0=8", "-DK0=4"}
	if !slices.Equal(opts, want) {
		t.Fatalf("expected %v, got %v", want, opts)
	}
}
