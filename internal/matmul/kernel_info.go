// Package matmul chooses tuning parameters for the native GPU matrix
// multiply kernel: block sizes M0/N0/K0 and whether the right-hand operand
// is read through a 2D image view of its buffer.
package matmul

import (
	"errors"
	"fmt"
)

// KernelInfo is a selection result. It is a plain value and is recomputed
// on every configure call.
type KernelInfo struct {
	AdjLHS           bool `json:"adj_lhs" yaml:"adj_lhs"`
	AdjRHS           bool `json:"adj_rhs" yaml:"adj_rhs"`
	M0               int  `json:"m0" yaml:"m0"`
	N0               int  `json:"n0" yaml:"n0"`
	K0               int  `json:"k0" yaml:"k0"`
	ExportRHSToImage bool `json:"export_rhs_to_cl_image" yaml:"export_rhs_to_cl_image"`
}

func (i KernelInfo) String() string {
	return fmt.Sprintf("M0=%d N0=%d K0=%d adj_lhs=%t adj_rhs=%t export_rhs_to_cl_image=%t",
		i.M0, i.N0, i.K0, i.AdjLHS, i.AdjRHS, i.ExportRHSToImage)
}

// Shape is the logical problem: (M x K) * (K x N), B times.
type Shape struct {
	M uint32 `json:"m" yaml:"m"`
	N uint32 `json:"n" yaml:"n"`
	K uint32 `json:"k" yaml:"k"`
	B uint32 `json:"batch" yaml:"batch"`
}

// ImageLimits describes the device's 2D image support.
type ImageLimits struct {
	Supported bool   `json:"supported" yaml:"supported"`
	MaxWidth  uint64 `json:"max_width" yaml:"max_width"`
	MaxHeight uint64 `json:"max_height" yaml:"max_height"`
}

// ErrUnsupported wraps every validation failure.
var ErrUnsupported = errors.New("unsupported matmul configuration")

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}

// PreconditionError is the panic value for a malformed table or candidate pair.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("matmul: %s: %s", e.Op, e.Reason)
}
