//go:build opencl

package device

import (
	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/cl/native"
)

type openCLDevice struct {
	*native.Driver
	queue *cl.Queue
}

func newOpenCL(opts Options) (Device, error) {
	drv, err := native.Open(opts.KernelDir)
	if err != nil {
		return nil, err
	}
	return &openCLDevice{Driver: drv, queue: drv.Queue()}, nil
}

func (d *openCLDevice) Name() string     { return OpenCL }
func (d *openCLDevice) Queue() *cl.Queue { return d.queue }
