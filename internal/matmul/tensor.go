package matmul

import (
	"fmt"
	"strings"
)

// TensorInfo is the validation-only descriptor: a shape with dimension 0
// varying fastest, and an element type.
type TensorInfo struct {
	Shape    []uint32
	DataType DataType
}

func NewTensorInfo(dt DataType, dims ...uint32) TensorInfo {
	return TensorInfo{Shape: dims, DataType: dt}
}

// Dim returns dimension i; dimensions past the shape are 1.
func (t TensorInfo) Dim(i int) uint32 {
	if i < 0 || i >= len(t.Shape) {
		return 1
	}
	return t.Shape[i]
}

func (t TensorInfo) NumDims() int {
	return len(t.Shape)
}

// RowCount is the product of every dimension but the first.
func (t TensorInfo) RowCount() uint64 {
	rows := uint64(1)
	for _, d := range t.Shape[min(1, len(t.Shape)):] {
		rows *= uint64(d)
	}
	return rows
}

func (t TensorInfo) String() string {
	dims := make([]string, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("%s[%s]", t.DataType, strings.Join(dims, "x"))
}

// Operands builds the LHS and RHS descriptors for a shape, honouring the
// adjoint flags: a non-adjoint LHS is (K, M, B), an adjoint one (M, K, B);
// a non-adjoint RHS is (N, K, B), an adjoint one (K, N, B).
func Operands(s Shape, dt DataType, adjLHS, adjRHS bool) (lhs, rhs TensorInfo) {
	b := max(s.B, 1)
	if adjLHS {
		lhs = NewTensorInfo(dt, s.M, s.K, b)
	} else {
		lhs = NewTensorInfo(dt, s.K, s.M, b)
	}
	if adjRHS {
		rhs = NewTensorInfo(dt, s.K, s.N, b)
	} else {
		rhs = NewTensorInfo(dt, s.N, s.K, b)
	}
	return lhs, rhs
}
