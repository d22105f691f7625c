// Package bytesio provides the little/big-endian primitive read/write
// helpers, fixed-length ASCII string encoding, and bitfield packing shared
// by the register map, the U3V protocol codecs, and the emulator's memory
// backend.
package bytesio

import (
	"encoding/binary"

	"u3vgo/pkg/u3verr"
)

// Endianness selects the byte order used to decode/encode a register.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) order() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// PutUint16/PutUint32/PutUint64 write an unsigned integer into buf using the
// given endianness. buf must be at least the width of the integer.

func PutUint16(buf []byte, v uint16, e Endianness) { e.order().PutUint16(buf, v) }
func PutUint32(buf []byte, v uint32, e Endianness) { e.order().PutUint32(buf, v) }
func PutUint64(buf []byte, v uint64, e Endianness) { e.order().PutUint64(buf, v) }

func Uint16(buf []byte, e Endianness) uint16 { return e.order().Uint16(buf) }
func Uint32(buf []byte, e Endianness) uint32 { return e.order().Uint32(buf) }
func Uint64(buf []byte, e Endianness) uint64 { return e.order().Uint64(buf) }

// PutFixedASCII writes s into buf, padding the remainder with NUL bytes. A
// string longer than buf is rejected with an InvalidData error and buf is
// left untouched.
func PutFixedASCII(buf []byte, s string) error {
	if len(s) > len(buf) {
		return u3verr.NewInvalidData("ascii string longer than field")
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, s)
	return nil
}

// FixedASCII decodes a NUL-terminated (or NUL-padded) ASCII string from buf,
// dropping everything from the first NUL onward.
func FixedASCII(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// BitfieldSpec describes a bitfield register that aliases a byte range of a
// container: bits [LSB, MSB] (inclusive) of the container's little/big
// endian integer value.
type BitfieldSpec struct {
	LSB, MSB int
	Endian   Endianness
}

func (s BitfieldSpec) mask() uint64 {
	width := s.MSB - s.LSB + 1
	if width >= 64 {
		return ^uint64(0) << uint(s.LSB)
	}
	return ((uint64(1) << uint(width)) - 1) << uint(s.LSB)
}

// ReadBitfield extracts bits [LSB,MSB] of the container bytes (up to 8 bytes)
// as an unsigned integer, right-aligned (no sign extension is ever applied;
// callers reinterpret signedness themselves).
func ReadBitfield(container []byte, s BitfieldSpec) uint64 {
	var raw uint64
	switch len(container) {
	case 1:
		raw = uint64(container[0])
	case 2:
		raw = uint64(Uint16(container, s.Endian))
	case 4:
		raw = uint64(Uint32(container, s.Endian))
	case 8:
		raw = Uint64(container, s.Endian)
	default:
		raw = readVarWidth(container, s.Endian)
	}
	return (raw & s.mask()) >> uint(s.LSB)
}

// WriteBitfield performs a read-modify-write of bits [LSB,MSB] of container,
// preserving every other bit. Callers must hold whatever lock serializes
// concurrent access to container.
func WriteBitfield(container []byte, s BitfieldSpec, value uint64) {
	var raw uint64
	switch len(container) {
	case 1:
		raw = uint64(container[0])
	case 2:
		raw = uint64(Uint16(container, s.Endian))
	case 4:
		raw = uint64(Uint32(container, s.Endian))
	case 8:
		raw = Uint64(container, s.Endian)
	default:
		raw = readVarWidth(container, s.Endian)
	}

	mask := s.mask()
	raw = (raw &^ mask) | ((value << uint(s.LSB)) & mask)

	switch len(container) {
	case 1:
		container[0] = byte(raw)
	case 2:
		PutUint16(container, uint16(raw), s.Endian)
	case 4:
		PutUint32(container, uint32(raw), s.Endian)
	case 8:
		PutUint64(container, raw, s.Endian)
	default:
		writeVarWidth(container, raw, s.Endian)
	}
}

func readVarWidth(b []byte, e Endianness) uint64 {
	var raw uint64
	if e == BigEndian {
		for _, v := range b {
			raw = raw<<8 | uint64(v)
		}
	} else {
		for i := len(b) - 1; i >= 0; i-- {
			raw = raw<<8 | uint64(b[i])
		}
	}
	return raw
}

func writeVarWidth(b []byte, raw uint64, e Endianness) {
	if e == BigEndian {
		for i := len(b) - 1; i >= 0; i-- {
			b[i] = byte(raw)
			raw >>= 8
		}
	} else {
		for i := 0; i < len(b); i++ {
			b[i] = byte(raw)
			raw >>= 8
		}
	}
}
