package memory

import "u3vgo/pkg/bytesio"

// EncodingKind tags how a Register's raw bytes decode to a typed value.
type EncodingKind int

const (
	EncodingUint8 EncodingKind = iota
	EncodingUint16
	EncodingUint32
	EncodingUint64
	EncodingInt8
	EncodingInt16
	EncodingInt32
	EncodingInt64
	EncodingFloat32
	EncodingFloat64
	EncodingFixedASCII
	EncodingRawBytes
	EncodingBitfield
)

// Encoding fully describes how to decode/encode a register's bytes,
// including the endianness used for multi-byte primitives and, for
// Bitfield registers, the bit range within the container.
type Encoding struct {
	Kind     EncodingKind
	Endian   bytesio.Endianness
	Bitfield bytesio.BitfieldSpec // only meaningful when Kind == EncodingBitfield
}

// Register is the static descriptor of one memory-mapped register, owned by
// a register-map package (ABRM/SBRM/SIRM/EIRM or a GenApi IntReg/FloatReg
// node). Address is absolute within the owning Memory.
type Register struct {
	Name     string
	Address  uint64
	Length   uint16
	Access   AccessRight
	Encoding Encoding
}

func u8(e bytesio.Endianness) Encoding  { return Encoding{Kind: EncodingUint8, Endian: e} }
func u16(e bytesio.Endianness) Encoding { return Encoding{Kind: EncodingUint16, Endian: e} }
func u32(e bytesio.Endianness) Encoding { return Encoding{Kind: EncodingUint32, Endian: e} }
func u64(e bytesio.Endianness) Encoding { return Encoding{Kind: EncodingUint64, Endian: e} }

// EncUint8LE etc. are ready-made encodings for the common little-endian
// case used throughout the U3V register maps.
var (
	EncUint8LE   = u8(bytesio.LittleEndian)
	EncUint16LE  = u16(bytesio.LittleEndian)
	EncUint32LE  = u32(bytesio.LittleEndian)
	EncUint64LE  = u64(bytesio.LittleEndian)
	EncRawBytes  = Encoding{Kind: EncodingRawBytes}
)

// EncFixedASCII builds the encoding for a fixed-length ASCII field.
func EncFixedASCII() Encoding { return Encoding{Kind: EncodingFixedASCII} }

// EncBitfieldLE builds a little-endian bitfield encoding over bits [lsb,msb].
func EncBitfieldLE(lsb, msb int) Encoding {
	return Encoding{Kind: EncodingBitfield, Bitfield: bytesio.BitfieldSpec{LSB: lsb, MSB: msb, Endian: bytesio.LittleEndian}}
}
