//go:build linux
// +build linux

package regport

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MMIO is a Port backed by a mapping of physical memory through /dev/mem.
// Accesses are 32-bit atomic loads and stores so that the compiler never
// merges, reorders or elides them.
type MMIO struct {
	file   *os.File
	mem    []byte
	offset uintptr
	words  uint32
}

// DefaultDevice is the physical memory device
const DefaultDevice = "/dev/mem"

// OpenMMIO maps size bytes of physical memory starting at base
func OpenMMIO(device string, base uint64, size int) (*MMIO, error) {
	if device == "" {
		device = DefaultDevice
	}
	if size <= 0 || size%4 != 0 {
		return nil, fmt.Errorf("invalid mapping size: %d", size)
	}
	if base%4 != 0 {
		return nil, fmt.Errorf("base address 0x%x is not word aligned", base)
	}

	f, err := os.OpenFile(device, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	// mmap offsets must be page aligned
	page := uint64(os.Getpagesize())
	aligned := base &^ (page - 1)
	delta := uintptr(base - aligned)

	mem, err := unix.Mmap(int(f.Fd()), int64(aligned), size+int(delta),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to map 0x%x (+%d bytes): %w", base, size, err)
	}

	return &MMIO{
		file:   f,
		mem:    mem,
		offset: delta,
		words:  uint32(size / 4),
	}, nil
}

func (m *MMIO) word(offset uint32) *uint32 {
	if offset >= m.words {
		panic(fmt.Sprintf("regport: offset 0x%x outside mapping of %d words", offset, m.words))
	}
	return (*uint32)(unsafe.Pointer(&m.mem[m.offset+uintptr(offset)*4]))
}

// Read implements Port
func (m *MMIO) Read(offset uint32) uint32 {
	return atomic.LoadUint32(m.word(offset))
}

// Write implements Port
func (m *MMIO) Write(offset uint32, value uint32) {
	atomic.StoreUint32(m.word(offset), value)
}

// Close unmaps the registers and closes the device
func (m *MMIO) Close() error {
	var firstErr error
	if m.mem != nil {
		if err := unix.Munmap(m.mem); err != nil {
			firstErr = fmt.Errorf("failed to unmap registers: %w", err)
		}
		m.mem = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.file = nil
	}
	return firstErr
}
