//go:build opencl

package device

func Has(name string) bool {
	switch name {
	case OpenCL:
		return true
	default:
		return name == Sim
	}
}
