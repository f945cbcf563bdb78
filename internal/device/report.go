package device

import (
	"runtime"

	"golang.org/x/sys/cpu"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/matmul"
)

// Command buffer variants as reported to users.
const (
	VariantMutable = "mutable"
	VariantCompat  = "compat"
)

// Report is the capability summary printed by the CLI and served by the API.
type Report struct {
	Driver        string             `json:"driver" yaml:"driver"`
	Device        cl.DeviceInfo      `json:"device" yaml:"device"`
	Target        string             `json:"target,omitempty" yaml:"target,omitempty"`
	Arch          string             `json:"arch,omitempty" yaml:"arch,omitempty"`
	CommandBuffer string             `json:"command_buffer" yaml:"command_buffer"`
	ImageLimits   matmul.ImageLimits `json:"image_limits" yaml:"image_limits"`
	Host          HostInfo           `json:"host" yaml:"host"`
}

// HostInfo describes the CPU the driver runs on.
type HostInfo struct {
	OS       string   `json:"os" yaml:"os"`
	Arch     string   `json:"arch" yaml:"arch"`
	CPUs     int      `json:"cpus" yaml:"cpus"`
	Features []string `json:"features" yaml:"features"`
}

// Describe reports the device behind d, including the command buffer
// variant commandbuffer.New would pick for its queue.
func Describe(d Device) Report {
	q := d.Queue()
	info := q.Device()
	r := Report{
		Driver:        d.Name(),
		Device:        info,
		CommandBuffer: VariantCompat,
		ImageLimits:   ImageLimits(info),
		Host:          Host(),
	}
	if q.MutableDispatchSupported() {
		r.CommandBuffer = VariantMutable
	}
	if t, err := Target(info); err == nil {
		r.Target = t.String()
		r.Arch = t.Arch().String()
	}
	return r
}

func Host() HostInfo {
	h := HostInfo{OS: runtime.GOOS, Arch: runtime.GOARCH, CPUs: runtime.NumCPU(), Features: []string{}}
	add := func(name string, ok bool) {
		if ok {
			h.Features = append(h.Features, name)
		}
	}
	switch runtime.GOARCH {
	case "arm64":
		add("asimd", cpu.ARM64.HasASIMD)
		add("fphp", cpu.ARM64.HasFPHP)
		add("asimdhp", cpu.ARM64.HasASIMDHP)
		add("asimddp", cpu.ARM64.HasASIMDDP)
		add("sve", cpu.ARM64.HasSVE)
		add("sve2", cpu.ARM64.HasSVE2)
	case "amd64", "386":
		add("sse41", cpu.X86.HasSSE41)
		add("avx", cpu.X86.HasAVX)
		add("avx2", cpu.X86.HasAVX2)
		add("fma", cpu.X86.HasFMA)
		add("avx512f", cpu.X86.HasAVX512F)
	}
	return h
}
