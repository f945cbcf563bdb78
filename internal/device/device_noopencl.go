//go:build !opencl

package device

import "errors"

var errOpenCLUnavailable = errors.New("opencl driver is not available in this build (rebuild with -tags opencl)")

func newOpenCL(Options) (Device, error) {
	return nil, errOpenCLUnavailable
}
