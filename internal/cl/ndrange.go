package cl

import (
	"fmt"
	"strings"
)

// NDRange is a work-item grid of up to three dimensions. The zero value is
// the null range, meaning the driver picks the value.
type NDRange struct {
	dims  [3]uint64
	count int
}

// NullRange lets the driver choose.
var NullRange = NDRange{}

func NewNDRange(dims ...uint64) NDRange {
	if len(dims) > 3 {
		panic(fmt.Sprintf("cl: NDRange supports at most 3 dimensions, got %d", len(dims)))
	}
	var r NDRange
	r.count = copy(r.dims[:], dims)
	return r
}

func (r NDRange) IsNull() bool {
	return r.count == 0
}

func (r NDRange) Dimensions() int {
	return r.count
}

// Sizes returns the populated dimensions, or nil for the null range.
func (r NDRange) Sizes() []uint64 {
	if r.count == 0 {
		return nil
	}
	out := make([]uint64, r.count)
	copy(out, r.dims[:r.count])
	return out
}

// At returns dimension i, or 0 when i is outside the range.
func (r NDRange) At(i int) uint64 {
	if i < 0 || i >= r.count {
		return 0
	}
	return r.dims[i]
}

func (r NDRange) String() string {
	if r.count == 0 {
		return "null"
	}
	parts := make([]string, r.count)
	for i := range r.count {
		parts[i] = fmt.Sprint(r.dims[i])
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// MarshalText renders the range the same way String does so traces stay readable.
func (r NDRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
