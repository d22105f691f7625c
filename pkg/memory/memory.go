// Package memory implements the byte-addressed TypedMemory abstraction that
// backs both real U3V devices (ABRM/SBRM/SIRM/EIRM bootstrap registers) and
// the in-process emulator: a contiguous byte buffer with a per-cell
// access-right overlay and write-observers that drive side effects.
package memory

import (
	"fmt"
	"sync"

	"u3vgo/pkg/bytesio"
	"u3vgo/pkg/u3verr"
)

// Observer is invoked after a write commits, once per write whose range
// overlaps the observer's registered range, in registration order. An
// Observer must not call back into the Memory synchronously; it is expected
// to enqueue whatever event the write should trigger.
type Observer func(writtenAddr uint64, writtenBytes []byte)

type observerEntry struct {
	start, end uint64 // [start,end)
	cb         Observer
}

// Memory is a contiguous byte buffer with a parallel access-right overlay.
// The zero value is not usable; construct with New.
type Memory struct {
	mu        sync.RWMutex
	raw       []byte
	prot      *protection
	observers []observerEntry
}

// New allocates a Memory of the given size in bytes. Every byte starts
// NA-protected; callers install Registers (via InitRegister) to open them
// up before use.
func New(size int) *Memory {
	return &Memory{
		raw:  make([]byte, size),
		prot: newProtection(size),
	}
}

// Size returns the total addressable byte length.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.raw)
}

// InitRegister opens up reg's address range at reg's declared access right.
// This is the one-time bootstrap step register-map packages perform when
// building a device's memory; it is not itself access-checked.
func (m *Memory) InitRegister(reg Register) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, end := int(reg.Address), int(reg.Address)+int(reg.Length)
	if !m.prot.rangeInBounds(start, end) {
		return fmt.Errorf("init register %s: %w", reg.Name, u3verr.ErrInvalidAddress)
	}
	m.prot.setRange(start, end, reg.Access)
	return nil
}

// SetAccessRight weakens (never strengthens) the access right of [addr,
// addr+length) at runtime. Weakening is the only supported
// runtime transition (e.g. RW -> RO).
func (m *Memory) SetAccessRight(addr uint64, length uint16, ar AccessRight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, end := int(addr), int(addr)+int(length)
	if !m.prot.rangeInBounds(start, end) {
		return u3verr.ErrInvalidAddress
	}
	for i := start; i < end; i++ {
		cur := m.prot.get(i)
		m.prot.setRange(i, i+1, cur.Meet(ar))
	}
	return nil
}

// RegisterObserver appends an (range, callback) pair; see Observer's doc
// comment for the firing contract.
func (m *Memory) RegisterObserver(addr uint64, length uint16, cb Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observerEntry{start: addr, end: addr + uint64(length), cb: cb})
}

// ReadRaw reads [addr,addr+n) performing the host-facing access check.
func (m *Memory) ReadRaw(addr uint64, n int) ([]byte, error) {
	return m.readRaw(addr, n, true)
}

// ReadRawInternal reads [addr,addr+n) bypassing the access-right overlay;
// it is the device-internal API used by emulator modules.
func (m *Memory) ReadRawInternal(addr uint64, n int) ([]byte, error) {
	return m.readRaw(addr, n, false)
}

func (m *Memory) readRaw(addr uint64, n int, checkAccess bool) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start, end := int(addr), int(addr)+n
	if !m.prot.rangeInBounds(start, end) {
		return nil, u3verr.ErrInvalidAddress
	}
	if checkAccess && !m.prot.rangeAccessRight(start, end).IsReadable() {
		return nil, u3verr.ErrAddressNotReadable
	}
	out := make([]byte, n)
	copy(out, m.raw[start:end])
	return out, nil
}

// WriteRaw writes data at addr performing the host-facing access check,
// then fires every overlapping observer in registration order.
func (m *Memory) WriteRaw(addr uint64, data []byte) error {
	return m.writeRaw(addr, data, true)
}

// WriteRawInternal writes data at addr bypassing the access-right overlay.
// Observers still fire: they model device-internal side effects that must
// happen regardless of which API performed the write.
func (m *Memory) WriteRawInternal(addr uint64, data []byte) error {
	return m.writeRaw(addr, data, false)
}

func (m *Memory) writeRaw(addr uint64, data []byte, checkAccess bool) error {
	m.mu.Lock()
	start, end := int(addr), int(addr)+len(data)
	if !m.prot.rangeInBounds(start, end) {
		m.mu.Unlock()
		return u3verr.ErrInvalidAddress
	}
	if checkAccess && !m.prot.rangeAccessRight(start, end).IsWritable() {
		m.mu.Unlock()
		return u3verr.ErrAddressNotWritable
	}
	copy(m.raw[start:end], data)

	committed := make([]byte, len(data))
	copy(committed, data)
	var fire []Observer
	for _, ob := range m.observers {
		if uint64(start) < ob.end && uint64(end) > ob.start {
			fire = append(fire, ob.cb)
		}
	}
	m.mu.Unlock()

	for _, cb := range fire {
		cb(addr, committed)
	}
	return nil
}

// AccessRightOf returns the effective (meet-folded) access right over
// [addr,addr+length).
func (m *Memory) AccessRightOf(addr uint64, length uint16) (AccessRight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start, end := int(addr), int(addr)+int(length)
	if !m.prot.rangeInBounds(start, end) {
		return NA, u3verr.ErrInvalidAddress
	}
	return m.prot.rangeAccessRight(start, end), nil
}

// ---- typed helpers -------------------------------------------------------

// ReadRegister decodes reg from internal memory using the host-facing
// access check, returning a Go value appropriate to reg.Encoding.Kind:
// uintX/intX as the matching Go integer type, floats as float32/float64,
// EncodingFixedASCII as string, EncodingRawBytes as []byte, and
// EncodingBitfield as the right-aligned field value in a uint64.
func (m *Memory) ReadRegister(reg Register) (any, error) {
	raw, err := m.ReadRaw(reg.Address, int(reg.Length))
	if err != nil {
		return nil, fmt.Errorf("read register %s: %w", reg.Name, err)
	}
	return decode(reg, raw)
}

// ReadRegisterInternal is ReadRegister without the access check, used by
// emulator modules operating on their own device memory.
func (m *Memory) ReadRegisterInternal(reg Register) (any, error) {
	raw, err := m.ReadRawInternal(reg.Address, int(reg.Length))
	if err != nil {
		return nil, fmt.Errorf("read register %s: %w", reg.Name, err)
	}
	return decode(reg, raw)
}

// WriteRegister encodes v per reg.Encoding and writes it with the
// host-facing access check. For EncodingBitfield it performs a
// read-modify-write of the container under the memory's lock.
func (m *Memory) WriteRegister(reg Register, v any) error {
	return m.writeRegister(reg, v, true)
}

// WriteRegisterInternal is WriteRegister bypassing the access check.
func (m *Memory) WriteRegisterInternal(reg Register, v any) error {
	return m.writeRegister(reg, v, false)
}

func (m *Memory) writeRegister(reg Register, v any, checkAccess bool) error {
	if reg.Encoding.Kind == EncodingBitfield {
		container, err := m.readRaw(reg.Address, int(reg.Length), checkAccess)
		if err != nil {
			return fmt.Errorf("write register %s: %w", reg.Name, err)
		}
		uv, err := toUint64(v)
		if err != nil {
			return err
		}
		bytesio.WriteBitfield(container, reg.Encoding.Bitfield, uv)
		if checkAccess {
			return m.WriteRaw(reg.Address, container)
		}
		return m.WriteRawInternal(reg.Address, container)
	}

	buf, err := encode(reg, v)
	if err != nil {
		return fmt.Errorf("write register %s: %w", reg.Name, err)
	}
	if checkAccess {
		return m.WriteRaw(reg.Address, buf)
	}
	return m.WriteRawInternal(reg.Address, buf)
}

func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint64:
		return x, nil
	case uint32:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case int:
		return uint64(x), nil
	default:
		return 0, u3verr.NewInvalidData("bitfield value must be an unsigned integer")
	}
}

func decode(reg Register, raw []byte) (any, error) {
	switch reg.Encoding.Kind {
	case EncodingUint8:
		return raw[0], nil
	case EncodingUint16:
		return bytesio.Uint16(raw, reg.Encoding.Endian), nil
	case EncodingUint32:
		return bytesio.Uint32(raw, reg.Encoding.Endian), nil
	case EncodingUint64:
		return bytesio.Uint64(raw, reg.Encoding.Endian), nil
	case EncodingInt8:
		return int8(raw[0]), nil
	case EncodingInt16:
		return int16(bytesio.Uint16(raw, reg.Encoding.Endian)), nil
	case EncodingInt32:
		return int32(bytesio.Uint32(raw, reg.Encoding.Endian)), nil
	case EncodingInt64:
		return int64(bytesio.Uint64(raw, reg.Encoding.Endian)), nil
	case EncodingFloat32:
		return float32FromBits(bytesio.Uint32(raw, reg.Encoding.Endian)), nil
	case EncodingFloat64:
		return float64FromBits(bytesio.Uint64(raw, reg.Encoding.Endian)), nil
	case EncodingFixedASCII:
		return bytesio.FixedASCII(raw), nil
	case EncodingRawBytes:
		return raw, nil
	case EncodingBitfield:
		return bytesio.ReadBitfield(raw, reg.Encoding.Bitfield), nil
	default:
		return nil, u3verr.NewInvalidData("unknown encoding kind")
	}
}

func encode(reg Register, v any) ([]byte, error) {
	buf := make([]byte, reg.Length)
	switch reg.Encoding.Kind {
	case EncodingUint8:
		x, ok := v.(uint8)
		if !ok {
			return nil, u3verr.NewInvalidData("expected uint8")
		}
		buf[0] = x
	case EncodingUint16:
		x, ok := v.(uint16)
		if !ok {
			return nil, u3verr.NewInvalidData("expected uint16")
		}
		bytesio.PutUint16(buf, x, reg.Encoding.Endian)
	case EncodingUint32:
		x, ok := v.(uint32)
		if !ok {
			return nil, u3verr.NewInvalidData("expected uint32")
		}
		bytesio.PutUint32(buf, x, reg.Encoding.Endian)
	case EncodingUint64:
		x, ok := v.(uint64)
		if !ok {
			return nil, u3verr.NewInvalidData("expected uint64")
		}
		bytesio.PutUint64(buf, x, reg.Encoding.Endian)
	case EncodingInt8:
		x, ok := v.(int8)
		if !ok {
			return nil, u3verr.NewInvalidData("expected int8")
		}
		buf[0] = byte(x)
	case EncodingInt16:
		x, ok := v.(int16)
		if !ok {
			return nil, u3verr.NewInvalidData("expected int16")
		}
		bytesio.PutUint16(buf, uint16(x), reg.Encoding.Endian)
	case EncodingInt32:
		x, ok := v.(int32)
		if !ok {
			return nil, u3verr.NewInvalidData("expected int32")
		}
		bytesio.PutUint32(buf, uint32(x), reg.Encoding.Endian)
	case EncodingInt64:
		x, ok := v.(int64)
		if !ok {
			return nil, u3verr.NewInvalidData("expected int64")
		}
		bytesio.PutUint64(buf, uint64(x), reg.Encoding.Endian)
	case EncodingFloat32:
		x, ok := v.(float32)
		if !ok {
			return nil, u3verr.NewInvalidData("expected float32")
		}
		bytesio.PutUint32(buf, float32Bits(x), reg.Encoding.Endian)
	case EncodingFloat64:
		x, ok := v.(float64)
		if !ok {
			return nil, u3verr.NewInvalidData("expected float64")
		}
		bytesio.PutUint64(buf, float64Bits(x), reg.Encoding.Endian)
	case EncodingFixedASCII:
		s, ok := v.(string)
		if !ok {
			return nil, u3verr.NewInvalidData("expected string")
		}
		if err := bytesio.PutFixedASCII(buf, s); err != nil {
			return nil, err
		}
	case EncodingRawBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, u3verr.NewInvalidData("expected []byte")
		}
		if len(b) > len(buf) {
			return nil, u3verr.NewInvalidData("raw bytes longer than register")
		}
		copy(buf, b)
	default:
		return nil, u3verr.NewInvalidData("unknown encoding kind")
	}
	return buf, nil
}
