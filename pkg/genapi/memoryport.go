package genapi

import "u3vgo/pkg/memory"

// MemoryPort adapts a *memory.Memory to the Port interface, letting an
// Evaluator drive GenApi nodes directly against a device's typed memory map.
type MemoryPort struct {
	Mem *memory.Memory
}

// ReadPort implements Port.
func (p MemoryPort) ReadPort(address uint64, length int) ([]byte, error) {
	return p.Mem.ReadRawInternal(address, length)
}

// WritePort implements Port.
func (p MemoryPort) WritePort(address uint64, data []byte) error {
	return p.Mem.WriteRawInternal(address, data)
}
