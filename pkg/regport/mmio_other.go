//go:build !linux
// +build !linux

package regport

// MMIO is a Port backed by physical memory (stub for non-Linux)
type MMIO struct{}

// DefaultDevice is the physical memory device
const DefaultDevice = "/dev/mem"

// OpenMMIO maps physical memory (stub for non-Linux)
func OpenMMIO(device string, base uint64, size int) (*MMIO, error) {
	return nil, ErrUnsupported
}

// Read implements Port (stub)
func (m *MMIO) Read(offset uint32) uint32 {
	return 0
}

// Write implements Port (stub)
func (m *MMIO) Write(offset uint32, value uint32) {}

// Close cleans up resources (stub)
func (m *MMIO) Close() error {
	return nil
}
