package matmul

import (
	"fmt"
	"math"
)

// Column layout of a configuration row.
const (
	colM = iota
	colN
	colK
	colB
	colM0
	colN0
	colK0
	colImage
	configColumns
)

// ConfigsMatrix is a table of known-good configurations; every row is
// [M, N, K, B, M0, N0, K0, IMG_RHS].
type ConfigsMatrix [][]int

// Check reports an empty table or a row of the wrong width.
func (c ConfigsMatrix) Check() error {
	if len(c) == 0 {
		return fmt.Errorf("empty configuration table")
	}
	for i, row := range c {
		if len(row) != configColumns {
			return fmt.Errorf("row %d has %d columns, expected %d (M, N, K, B, M0, N0, K0, IMG_RHS)", i, len(row), configColumns)
		}
	}
	return nil
}

// FindInfo returns the configuration of the row nearest to (m, n, k, b) in
// Euclidean distance. Among rows at the same distance the first one wins,
// so reordering a table can change the pick for equidistant shapes.
// The adjoint flags are copied into the result and take no part in the match.
//
// An empty or malformed table is a programming error and panics.
func FindInfo(configs ConfigsMatrix, adjLHS, adjRHS bool, m, n, k, b uint32) KernelInfo {
	if err := configs.Check(); err != nil {
		panic(&PreconditionError{Op: "FindInfo", Reason: err.Error()})
	}

	best := 0
	bestDist := math.Inf(1)
	for i, row := range configs {
		d := sqDiff(m, row[colM]) + sqDiff(n, row[colN]) + sqDiff(k, row[colK]) + sqDiff(b, row[colB])
		if d < bestDist {
			bestDist = d
			best = i
		}
	}

	row := configs[best]
	return KernelInfo{
		AdjLHS:           adjLHS,
		AdjRHS:           adjRHS,
		M0:               row[colM0],
		N0:               row[colN0],
		K0:               row[colK0],
		ExportRHSToImage: row[colImage] != 0,
	}
}

// sqDiff works in float64: squared differences of 32-bit values overflow
// every integer type once summed.
func sqDiff(q uint32, ref int) float64 {
	d := float64(q) - float64(ref)
	return d * d
}
