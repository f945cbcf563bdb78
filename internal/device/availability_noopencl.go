//go:build !opencl

package device

func Has(name string) bool {
	return name == Sim
}
