package device

import "strings"

// Available returns a comma-separated list of available drivers.
func Available() string {
	entries := []string{Sim}
	if Has(OpenCL) {
		entries = append(entries, OpenCL)
	}
	return strings.Join(entries, ",")
}
