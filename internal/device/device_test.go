package device

import (
	"testing"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/matmul"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: Auto},
		{in: " SIM ", want: Sim},
		{in: "opencl", want: OpenCL},
		{in: "auto", want: Auto},
		{in: "cuda", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("Normalize(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpenSim(t *testing.T) {
	t.Parallel()

	d, err := Open(Sim, Options{MutableDispatch: true, Target: "G715"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = d.Close() }()

	if d.Name() != Sim {
		t.Fatalf("expected sim driver, got %s", d.Name())
	}
	if q := d.Queue(); q != d.Queue() {
		t.Fatalf("expected a stable queue")
	}
	a, _ := d.Buffer(64)
	b, _ := d.Buffer(64)
	if a == b {
		t.Fatalf("expected distinct buffers")
	}

	r := Describe(d)
	if r.CommandBuffer != VariantMutable || r.Target != "g715" || r.Arch != "valhall" {
		t.Fatalf("unexpected report %+v", r)
	}
	if !r.ImageLimits.Supported {
		t.Fatalf("sim device should support image export")
	}

	plain, err := Open(Sim, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r := Describe(plain); r.CommandBuffer != VariantCompat {
		t.Fatalf("expected compat variant, got %s", r.CommandBuffer)
	}
}

func TestOpenAutoFallsBackToSim(t *testing.T) {
	t.Parallel()

	if Has(OpenCL) {
		t.Skip("opencl build")
	}
	d, err := Open(Auto, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.Name() != Sim {
		t.Fatalf("expected sim fallback, got %s", d.Name())
	}
	if _, err := Open(OpenCL, Options{}); err == nil {
		t.Fatalf("expected opencl to be unavailable")
	}
	if Available() != Sim {
		t.Fatalf("unexpected availability %q", Available())
	}
}

func TestTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		info    cl.DeviceInfo
		want    matmul.GPUTarget
		wantErr bool
	}{
		{info: cl.DeviceInfo{Target: "g710"}, want: matmul.G710},
		{info: cl.DeviceInfo{Name: "Mali-G715 r0p1"}, want: matmul.G715},
		{info: cl.DeviceInfo{Name: "ARM Mali-G52 MC2"}, want: matmul.G52},
		{info: cl.DeviceInfo{Name: "Adreno 740"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := Target(tt.info)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%+v: unexpected error %v", tt.info, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("%+v: expected %s, got %s", tt.info, tt.want, got)
		}
	}
}

func TestNewSelectorFromQueue(t *testing.T) {
	t.Parallel()

	d := NewSim(Options{Target: "g615"})
	sel, err := NewSelector(d.Queue(), matmul.DefaultTables())
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	if sel.Target() != matmul.G615 || sel.Family() != matmul.FamilyG715 {
		t.Fatalf("unexpected selector %s/%s", sel.Target(), sel.Family())
	}
	if !sel.Limits().Supported || sel.Limits().MaxWidth != 65536 {
		t.Fatalf("unexpected limits %+v", sel.Limits())
	}
}

func TestHost(t *testing.T) {
	t.Parallel()

	h := Host()
	if h.OS == "" || h.Arch == "" || h.CPUs < 1 || h.Features == nil {
		t.Fatalf("incomplete host info %+v", h)
	}
}
