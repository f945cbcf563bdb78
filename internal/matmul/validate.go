package matmul

import "slices"

var (
	blockSizes       = []int{1, 2, 3, 4, 8, 16}
	imageBlockSizes  = []int{4, 8, 16}
	imagePixelLength = uint32(4)
)

// Validate dry-runs the native kernel's checks for the given operands and
// tuning parameters and returns the destination descriptor. It never
// panics: every failure wraps ErrUnsupported.
func Validate(lhs, rhs TensorInfo, info KernelInfo, limits ImageLimits) (TensorInfo, error) {
	if !lhs.DataType.IsFloat() {
		return TensorInfo{}, unsupported("data type %s", lhs.DataType)
	}
	if rhs.DataType != lhs.DataType {
		return TensorInfo{}, unsupported("mixed data types %s and %s", lhs.DataType, rhs.DataType)
	}
	if err := validateShapes(lhs, rhs); err != nil {
		return TensorInfo{}, err
	}
	if err := validateBlockSizes(info); err != nil {
		return TensorInfo{}, err
	}

	m, k := lhs.Dim(1), lhs.Dim(0)
	if info.AdjLHS {
		m, k = lhs.Dim(0), lhs.Dim(1)
	}
	n, rk := rhs.Dim(0), rhs.Dim(1)
	if info.AdjRHS {
		n, rk = rhs.Dim(1), rhs.Dim(0)
	}
	if k != rk {
		return TensorInfo{}, unsupported("K mismatch: lhs %d rhs %d", k, rk)
	}

	if info.ExportRHSToImage {
		if err := validateImageExport(rhs, info, limits); err != nil {
			return TensorInfo{}, err
		}
	}

	dims := max(lhs.NumDims(), rhs.NumDims(), 2)
	dst := make([]uint32, dims)
	dst[0], dst[1] = n, m
	for i := 2; i < dims; i++ {
		dst[i] = lhs.Dim(i)
	}
	return NewTensorInfo(lhs.DataType, dst...), nil
}

func validateShapes(lhs, rhs TensorInfo) error {
	for _, t := range []TensorInfo{lhs, rhs} {
		if t.NumDims() < 2 {
			return unsupported("tensor %s needs at least two dimensions", t)
		}
		if slices.Contains(t.Shape, 0) {
			return unsupported("tensor %s has a zero dimension", t)
		}
	}
	dims := max(lhs.NumDims(), rhs.NumDims())
	for i := 2; i < dims; i++ {
		if lhs.Dim(i) != rhs.Dim(i) {
			return unsupported("batch dimension %d differs: %d vs %d", i, lhs.Dim(i), rhs.Dim(i))
		}
	}
	return nil
}

func validateBlockSizes(info KernelInfo) error {
	if info.M0 <= 0 || info.N0 <= 0 || info.K0 <= 0 {
		return unsupported("block sizes must be positive: %s", info)
	}
	if !slices.Contains(blockSizes, info.N0) {
		return unsupported("N0=%d not in %v", info.N0, blockSizes)
	}
	// K0 is free only when the LHS is read transposed and the RHS is not.
	if !(info.AdjLHS && !info.AdjRHS) && !slices.Contains(blockSizes, info.K0) {
		return unsupported("K0=%d not in %v", info.K0, blockSizes)
	}
	if info.AdjLHS && !slices.Contains(blockSizes, info.M0) {
		return unsupported("M0=%d not in %v", info.M0, blockSizes)
	}
	return nil
}

func validateImageExport(rhs TensorInfo, info KernelInfo, limits ImageLimits) error {
	if !limits.Supported {
		return unsupported("device cannot view buffers as 2D images")
	}
	if !slices.Contains(imageBlockSizes, info.K0) {
		return unsupported("K0=%d not in %v for image export", info.K0, imageBlockSizes)
	}
	if !info.AdjRHS && !slices.Contains(imageBlockSizes, info.N0) {
		return unsupported("N0=%d not in %v for image export", info.N0, imageBlockSizes)
	}
	if rhs.Dim(0)%imagePixelLength != 0 {
		return unsupported("rhs row length %d is not a multiple of %d", rhs.Dim(0), imagePixelLength)
	}
	width := uint64(rhs.Dim(0) / imagePixelLength)
	height := rhs.RowCount()
	if width > limits.MaxWidth {
		return unsupported("image width %d exceeds device limit %d", width, limits.MaxWidth)
	}
	if height > limits.MaxHeight {
		return unsupported("image height %d exceeds device limit %d", height, limits.MaxHeight)
	}
	return nil
}
