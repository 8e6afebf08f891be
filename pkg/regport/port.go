// Package regport provides word-addressed access to 32-bit hardware registers.
//
// Every register access goes straight to the backing store. Nothing is cached
// and nothing is coalesced, because reads and writes of the bridge registers
// have side effects and the hardware changes them underneath us.
package regport

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned when memory-mapped access is not available on
// the running platform
var ErrUnsupported = errors.New("memory-mapped register access is not supported on this platform")

// Port is read/write access to 32-bit registers by word offset
type Port interface {
	Read(offset uint32) uint32
	Write(offset uint32, value uint32)
}

// Closer is a Port that holds an operating system resource
type Closer interface {
	Port
	Close() error
}

// Window is a Port that forwards to a parent port with a fixed word offset
// added to every access. It is used to split one mapping into the source and
// output register files.
type Window struct {
	parent Port
	base   uint32
	size   uint32
}

// NewWindow returns a window of size words starting at base in parent. A size
// of zero means the window is unbounded.
func NewWindow(parent Port, base, size uint32) *Window {
	return &Window{parent: parent, base: base, size: size}
}

// Read implements Port
func (w *Window) Read(offset uint32) uint32 {
	w.check(offset)
	return w.parent.Read(w.base + offset)
}

// Write implements Port
func (w *Window) Write(offset uint32, value uint32) {
	w.check(offset)
	w.parent.Write(w.base+offset, value)
}

func (w *Window) check(offset uint32) {
	if w.size != 0 && offset >= w.size {
		panic(fmt.Sprintf("regport: offset 0x%x outside window of %d words", offset, w.size))
	}
}
