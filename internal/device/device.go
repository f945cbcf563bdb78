// Package device opens a driver by name and describes what it supports.
package device

import (
	"fmt"
	"strings"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/cl/sim"
	"github.com/samcharles93/cldispatch/internal/matmul"
)

const (
	Sim    = "sim"
	OpenCL = "opencl"
	Auto   = "auto"
)

// Device is an opened driver bound to one queue. It also plays the
// program-compilation role for operators.
type Device interface {
	Name() string
	Queue() *cl.Queue
	Kernel(name string, options []string) (cl.Kernel, error)
	Buffer(size uint64) (cl.Mem, error)
	Close() error
}

// Options configure Open. MutableDispatch and Target only apply to the sim
// driver; KernelDir only to OpenCL.
type Options struct {
	KernelDir       string
	MutableDispatch bool
	Target          string
}

func Normalize(name string) (string, error) {
	driver := strings.ToLower(strings.TrimSpace(name))
	if driver == "" {
		return Auto, nil
	}
	switch driver {
	case Sim, OpenCL, Auto:
		return driver, nil
	default:
		return "", fmt.Errorf("unknown driver %q (expected auto, sim, or opencl)", driver)
	}
}

// Open returns the named driver. Auto prefers OpenCL when this build has it
// and a GPU is present, and falls back to the sim driver.
func Open(name string, opts Options) (Device, error) {
	driver, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch driver {
	case Sim:
		return NewSim(opts), nil
	case OpenCL:
		return newOpenCL(opts)
	default:
		if Has(OpenCL) {
			if d, err := newOpenCL(opts); err == nil {
				return d, nil
			}
		}
		return NewSim(opts), nil
	}
}

// SimDevice wraps the in-memory driver.
type SimDevice struct {
	*sim.Driver
	queue *cl.Queue
}

func NewSim(opts Options) *SimDevice {
	info := sim.DefaultDevice(opts.MutableDispatch)
	if opts.Target != "" {
		info.Target = strings.ToLower(opts.Target)
		info.Name = "sim-mali-" + info.Target
	}
	drv := sim.New(info)
	return &SimDevice{Driver: drv, queue: drv.Queue()}
}

func (d *SimDevice) Name() string     { return Sim }
func (d *SimDevice) Queue() *cl.Queue { return d.queue }
func (d *SimDevice) Close() error     { return nil }

// Buffer hands out a handle; the sim driver does not model contents.
func (d *SimDevice) Buffer(uint64) (cl.Mem, error) {
	return d.Driver.Buffer(), nil
}

// Target resolves the GPU model of a device from its reported target or,
// failing that, from its name ("Mali-G710 r0p0" is G710).
func Target(info cl.DeviceInfo) (matmul.GPUTarget, error) {
	if info.Target != "" {
		return matmul.ParseTarget(info.Target)
	}
	fields := strings.FieldsFunc(strings.ToLower(info.Name), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	for _, f := range fields {
		if t, err := matmul.ParseTarget(f); err == nil {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown GPU target for device %q", info.Name)
}

// ImageLimits is the 2D image support the selector validates against.
func ImageLimits(info cl.DeviceInfo) matmul.ImageLimits {
	return matmul.ImageLimits{
		Supported: info.Image2DFromBuffer(),
		MaxWidth:  info.Image2DMaxWidth,
		MaxHeight: info.Image2DMaxHeight,
	}
}

// NewSelector builds a selector for the device behind q.
func NewSelector(q *cl.Queue, tables matmul.Tables) (*matmul.Selector, error) {
	info := q.Device()
	target, err := Target(info)
	if err != nil {
		return nil, err
	}
	return matmul.NewSelector(target, tables, ImageLimits(info))
}
