package regport

import "sync"

// ReadHook is called on every Read of a hooked register. It receives the
// stored value and returns the value seen by the reader.
type ReadHook func(value uint32) uint32

// WriteHook is called on every Write of a hooked register. It receives the
// stored value and the written value and returns the value to store.
type WriteHook func(old, value uint32) uint32

// Memory is an in-memory register file. Hooks let a test or a simulator give
// individual registers hardware-like side effects.
//
// Offsets outside the file read as zero and writes to them are dropped.
type Memory struct {
	mu      sync.Mutex
	regs    []uint32
	reads   []uint64
	writes  []uint64
	onRead  map[uint32]ReadHook
	onWrite map[uint32]WriteHook
}

// NewMemory creates a register file of the given number of words
func NewMemory(words int) *Memory {
	return &Memory{
		regs:    make([]uint32, words),
		reads:   make([]uint64, words),
		writes:  make([]uint64, words),
		onRead:  make(map[uint32]ReadHook),
		onWrite: make(map[uint32]WriteHook),
	}
}

// Read implements Port
func (m *Memory) Read(offset uint32) uint32 {
	m.mu.Lock()
	if int(offset) >= len(m.regs) {
		m.mu.Unlock()
		return 0
	}
	m.reads[offset]++
	value := m.regs[offset]
	hook := m.onRead[offset]
	m.mu.Unlock()

	if hook != nil {
		value = hook(value)
	}
	return value
}

// Write implements Port
func (m *Memory) Write(offset uint32, value uint32) {
	m.mu.Lock()
	if int(offset) >= len(m.regs) {
		m.mu.Unlock()
		return
	}
	m.writes[offset]++
	hook := m.onWrite[offset]
	old := m.regs[offset]
	m.mu.Unlock()

	if hook != nil {
		value = hook(old, value)
	}

	m.mu.Lock()
	m.regs[offset] = value
	m.mu.Unlock()
}

// Peek returns the stored value of a register without counting the access or
// running hooks
func (m *Memory) Peek(offset uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset) >= len(m.regs) {
		return 0
	}
	return m.regs[offset]
}

// Poke stores a value without counting the access or running hooks
func (m *Memory) Poke(offset uint32, value uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset) < len(m.regs) {
		m.regs[offset] = value
	}
}

// OnRead installs a read hook for a register. A nil hook removes it.
func (m *Memory) OnRead(offset uint32, hook ReadHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hook == nil {
		delete(m.onRead, offset)
		return
	}
	m.onRead[offset] = hook
}

// OnWrite installs a write hook for a register. A nil hook removes it.
func (m *Memory) OnWrite(offset uint32, hook WriteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hook == nil {
		delete(m.onWrite, offset)
		return
	}
	m.onWrite[offset] = hook
}

// Reads returns how many times a register has been read
func (m *Memory) Reads(offset uint32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset) >= len(m.reads) {
		return 0
	}
	return m.reads[offset]
}

// Writes returns how many times a register has been written
func (m *Memory) Writes(offset uint32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset) >= len(m.writes) {
		return 0
	}
	return m.writes[offset]
}

// Len returns the size of the register file in words
func (m *Memory) Len() int {
	return len(m.regs)
}
