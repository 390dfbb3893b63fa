package sim

import (
	"errors"
	"fmt"
	"sync"
)

// Geometry of the simulated external flash.
const (
	DefaultMemorySize = 0x100000
	PageSize          = 4096

	erasedByte = 0xFF
)

// ErrOutOfRange indicates an access beyond the memory image.
var ErrOutOfRange = errors.New("address out of range")

// Memory is an in-memory external flash image.
type Memory struct {
	lock sync.RWMutex
	data []byte
}

// NewMemory creates an erased memory image of size bytes.
func NewMemory(size int) *Memory {
	m := &Memory{data: make([]byte, size)}
	m.EraseChip()
	return m
}

// Size returns the size of the image in bytes.
func (m *Memory) Size() int {
	return len(m.data)
}

func (m *Memory) check(addr uint32, n int) error {
	if n < 0 || uint64(addr)+uint64(n) > uint64(len(m.data)) {
		return fmt.Errorf("%w: 0x%x+%d", ErrOutOfRange, addr, n)
	}
	return nil
}

// Read copies n bytes starting at addr.
func (m *Memory) Read(addr uint32, n int) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if err := m.check(addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.data[addr:])
	return out, nil
}

// Write stores data at addr.
func (m *Memory) Write(addr uint32, data []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := m.check(addr, len(data)); err != nil {
		return err
	}
	copy(m.data[addr:], data)
	return nil
}

// ErasePage erases the page containing addr.
func (m *Memory) ErasePage(addr uint32) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := m.check(addr, 1); err != nil {
		return err
	}
	start := int(addr) / PageSize * PageSize
	end := start + PageSize
	if end > len(m.data) {
		end = len(m.data)
	}
	fill(m.data[start:end])
	return nil
}

// EraseChip erases the whole image.
func (m *Memory) EraseChip() {
	m.lock.Lock()
	fill(m.data)
	m.lock.Unlock()
}

func fill(data []byte) {
	for n := range data {
		data[n] = erasedByte
	}
}
