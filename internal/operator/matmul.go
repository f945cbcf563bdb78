// Package operator drives the dispatch flow for one GPU operation: select
// kernel parameters, record the kernel into a command buffer once, then
// update and enqueue it for every run with fresh tensor handles.
package operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"unsafe"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/commandbuffer"
	"github.com/samcharles93/cldispatch/internal/logger"
	"github.com/samcharles93/cldispatch/internal/matmul"
)

// KernelProvider compiles, or fetches from a cache, a kernel built with the
// given options.
type KernelProvider interface {
	Kernel(name string, options []string) (cl.Kernel, error)
}

// Kernel argument slots of the native matmul kernel.
const (
	ArgLHS uint32 = iota
	ArgRHS
	ArgDst
	ArgM
	ArgN
	ArgK

	NumArgs
)

var ErrNotConfigured = errors.New("operator: not configured")

// MatMulOptions are the flags of a matmul that are not carried by the
// operand descriptors.
type MatMulOptions struct {
	AdjLHS         bool
	AdjRHS         bool
	RHSLockPadding bool
}

// MatMul is a batched matrix multiply on the native kernel. The command
// buffer reads the tensor handles from the operator's own fields, so a
// configured MatMul must not be copied.
type MatMul struct {
	lhs cl.Mem
	rhs cl.Mem
	dst cl.Mem

	info    matmul.KernelInfo
	dstInfo matmul.TensorInfo
	kernel  cl.Kernel
	options []string
	global  cl.NDRange
	cb      commandbuffer.CommandBuffer
	log     logger.Logger
}

// Configure selects kernel parameters for the operands, obtains the kernel
// and records it into a finalized command buffer. An empty dst descriptor
// is inferred; a non-empty one must match the result shape.
//
// Unsupported shapes and types return an error wrapping
// matmul.ErrUnsupported. Driver failures while recording are returned as
// errors too, since nothing has been submitted yet.
func (op *MatMul) Configure(ctx context.Context, q *cl.Queue, sel *matmul.Selector, kernels KernelProvider,
	lhs, rhs, dst matmul.TensorInfo, opts MatMulOptions,
) error {
	if op.cb != nil {
		op.Release()
	}

	shape := problemShape(lhs, rhs, opts)
	info := sel.Configure(matmul.Problem{
		Shape:          shape,
		DataType:       lhs.DataType,
		AdjLHS:         opts.AdjLHS,
		AdjRHS:         opts.AdjRHS,
		RHSLockPadding: opts.RHSLockPadding,
	})
	out, err := matmul.Validate(lhs, rhs, info, sel.Limits())
	if err != nil {
		return err
	}
	if len(dst.Shape) > 0 && (dst.DataType != out.DataType || !slices.Equal(dst.Shape, out.Shape)) {
		return fmt.Errorf("%w: dst %s does not match result %s", matmul.ErrUnsupported, dst, out)
	}

	name := KernelName(opts.AdjLHS, opts.AdjRHS)
	options := BuildOptions(info, lhs.DataType)
	kernel, err := kernels.Kernel(name, options)
	if err != nil {
		return fmt.Errorf("operator: build %s: %w", name, err)
	}

	global := cl.NewNDRange(ceilDiv(shape.N, info.N0), ceilDiv(shape.M, info.M0), uint64(max(shape.B, 1)))
	// Recording requires every argument to hold a value. The tensor slots
	// start as null buffers and are patched on each Run.
	op.lhs, op.rhs, op.dst = 0, 0, 0
	m, n, k := int32(shape.M), int32(shape.N), int32(shape.K)
	drv := q.Driver()
	for _, a := range []struct {
		index uint32
		size  uintptr
		value unsafe.Pointer
	}{
		{ArgLHS, unsafe.Sizeof(op.lhs), unsafe.Pointer(&op.lhs)},
		{ArgRHS, unsafe.Sizeof(op.rhs), unsafe.Pointer(&op.rhs)},
		{ArgDst, unsafe.Sizeof(op.dst), unsafe.Pointer(&op.dst)},
		{ArgM, unsafe.Sizeof(m), unsafe.Pointer(&m)},
		{ArgN, unsafe.Sizeof(n), unsafe.Pointer(&n)},
		{ArgK, unsafe.Sizeof(k), unsafe.Pointer(&k)},
	} {
		if err := cl.Check(cl.CallSetKernelArg, drv.SetKernelArg(kernel, a.index, a.size, a.value)); err != nil {
			return fmt.Errorf("operator: %w", err)
		}
	}

	var cb commandbuffer.CommandBuffer
	err = commandbuffer.Guard(func() {
		cb = commandbuffer.New(ctx, q)
		cb.AddKernel(kernel, cl.NullRange, global, cl.NullRange)
		commandbuffer.AddMutableArgument(cb, ArgLHS, &op.lhs)
		commandbuffer.AddMutableArgument(cb, ArgRHS, &op.rhs)
		commandbuffer.AddMutableArgument(cb, ArgDst, &op.dst)
		cb.Finalize()
	})
	if err != nil {
		if cb != nil {
			_ = commandbuffer.Guard(cb.Release)
		}
		return err
	}

	op.info = info
	op.dstInfo = out
	op.kernel = kernel
	op.options = options
	op.global = global
	op.cb = cb
	op.log = logger.FromContext(ctx).With("component", "operator", "op", "matmul")
	op.log.Info("configured matmul",
		slog.String("kernel", name),
		slog.String("config", info.String()),
		slog.String("global", global.String()),
		slog.String("buffer", cb.ID().String()),
	)
	return nil
}

// Run points the recorded kernel at new tensors and submits it. Driver
// failures are fatal and panic with *cl.Error.
func (op *MatMul) Run(lhs, rhs, dst cl.Mem) error {
	if op.cb == nil {
		return ErrNotConfigured
	}
	op.lhs, op.rhs, op.dst = lhs, rhs, dst
	op.cb.Update()
	op.cb.Enqueue()
	return nil
}

// Release frees the command buffer. The operator can be configured again.
func (op *MatMul) Release() {
	if op.cb == nil {
		return
	}
	op.cb.Release()
	op.cb = nil
}

func (op *MatMul) Info() matmul.KernelInfo { return op.info }
func (op *MatMul) Dst() matmul.TensorInfo  { return op.dstInfo }
func (op *MatMul) Global() cl.NDRange      { return op.global }
func (op *MatMul) Kernel() cl.Kernel       { return op.kernel }
func (op *MatMul) BuildOptions() []string  { return slices.Clone(op.options) }

// CommandBuffer returns the recorded buffer, or nil before Configure.
func (op *MatMul) CommandBuffer() commandbuffer.CommandBuffer { return op.cb }

// KernelName is the native kernel variant for a transpose layout.
func KernelName(adjLHS, adjRHS bool) string {
	layout := func(adj bool) string {
		if adj {
			return "t"
		}
		return "nt"
	}
	return "mat_mul_native_" + layout(adjLHS) + "_" + layout(adjRHS)
}

// BuildOptions are the compile definitions for a configuration.
func BuildOptions(info matmul.KernelInfo, dt matmul.DataType) []string {
	opts := []string{
		"-DDATA_TYPE=" + clType(dt),
		fmt.Sprintf("-DM0=%d", info.M0),
		fmt.Sprintf("-DN0=%d", info.N0),
		fmt.Sprintf("-DK0=%d", info.K0),
	}
	if info.ExportRHSToImage {
		opts = append(opts, "-DEXPORT_RHS_TO_CL_IMAGE")
	}
	return opts
}

func clType(dt matmul.DataType) string {
	switch dt {
	case matmul.F16:
		return "half"
	case matmul.F32:
		return "float"
	case matmul.QASYMM8, matmul.U8:
		return "uchar"
	default:
		return "char"
	}
}

func problemShape(lhs, rhs matmul.TensorInfo, opts MatMulOptions) matmul.Shape {
	m, k := lhs.Dim(1), lhs.Dim(0)
	if opts.AdjLHS {
		m, k = lhs.Dim(0), lhs.Dim(1)
	}
	n := rhs.Dim(0)
	if opts.AdjRHS {
		n = rhs.Dim(1)
	}
	b := uint32(1)
	for i := 2; i < lhs.NumDims(); i++ {
		b *= lhs.Dim(i)
	}
	return matmul.Shape{M: m, N: n, K: k, B: b}
}

func ceilDiv(v uint32, block int) uint64 {
	return (uint64(v) + uint64(block) - 1) / uint64(block)
}
