// Package protocol implements the U3V command/acknowledge/event/stream wire
// codec: CCD/SCD packet framing and the chunking arithmetic that splits
// oversized reads and writes across multiple command/ack round trips.
package protocol

import (
	"encoding/binary"

	"u3vgo/pkg/u3verr"
)

// CommandMagic is the 4-byte prefix of every command and acknowledge packet.
const CommandMagic uint32 = 0x43563355

// EventMagic is the 4-byte prefix of every event packet.
const EventMagic uint32 = 0x45563355

// Command packet flags.
const (
	FlagRequestAck    uint16 = 1 << 14
	FlagCommandResend uint16 = 1 << 15
)

// scd_kind / cmd_id values.
const (
	KindReadMem            uint16 = 0x0800
	KindReadMemAck         uint16 = 0x0801
	KindWriteMem           uint16 = 0x0802
	KindWriteMemAck        uint16 = 0x0803
	KindPending            uint16 = 0x0805
	KindReadMemStacked     uint16 = 0x0806
	KindReadMemStackedAck  uint16 = 0x0807
	KindWriteMemStacked    uint16 = 0x0808
	KindWriteMemStackedAck uint16 = 0x0809
)

// CustomBit marks a vendor-specific, passed-through command/ack kind.
const CustomBit uint16 = 0x8000

// CmdHeaderLen is the byte length of a command CCD: magic(4) + flag(2) +
// cmd_id(2) + scd_len(2) + request_id(2).
const CmdHeaderLen = 12

// AckHeaderLen is the byte length of an acknowledge CCD: magic(4) +
// status(2) + scd_kind(2) + scd_len(2) + request_id(2).
const AckHeaderLen = 12

// CommandHeader is the CCD shared by every command packet.
type CommandHeader struct {
	Flag      uint16
	CommandID uint16
	ScdLen    uint16
	RequestID uint16
}

func (h CommandHeader) put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], CommandMagic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Flag)
	binary.LittleEndian.PutUint16(buf[6:8], h.CommandID)
	binary.LittleEndian.PutUint16(buf[8:10], h.ScdLen)
	binary.LittleEndian.PutUint16(buf[10:12], h.RequestID)
}

func parseCommandHeader(buf []byte) (CommandHeader, error) {
	if len(buf) < CmdHeaderLen {
		return CommandHeader{}, u3verr.NewInvalidPacket("command packet shorter than header")
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != CommandMagic {
		return CommandHeader{}, u3verr.NewInvalidPacket("bad command magic")
	}
	return CommandHeader{
		Flag:      binary.LittleEndian.Uint16(buf[4:6]),
		CommandID: binary.LittleEndian.Uint16(buf[6:8]),
		ScdLen:    binary.LittleEndian.Uint16(buf[8:10]),
		RequestID: binary.LittleEndian.Uint16(buf[10:12]),
	}, nil
}

// ReadMemEntry is one entry of a ReadMemStacked command/ack pair.
type ReadMemEntry struct {
	Address    uint64
	ReadLength uint16
}

// WriteMemEntry is one entry of a WriteMemStacked command.
type WriteMemEntry struct {
	Address uint64
	Data    []byte
}

// ReadMemCmd requests a single contiguous read.
type ReadMemCmd struct {
	Address    uint64
	ReadLength uint16
}

// Serialize encodes cmd as a full command packet (header + SCD).
func (cmd ReadMemCmd) Serialize(requestID uint16, ackRequested bool) []byte {
	scd := make([]byte, 12)
	binary.LittleEndian.PutUint64(scd[0:8], cmd.Address)
	binary.LittleEndian.PutUint16(scd[8:10], cmd.ReadLength)
	// bytes [10:12] reserved, must be zero.
	return assemble(KindReadMem, requestID, ackRequested, scd)
}

// ParseReadMemCmd parses the SCD of a ReadMem command.
func ParseReadMemCmd(scd []byte) (ReadMemCmd, error) {
	if len(scd) != 12 {
		return ReadMemCmd{}, u3verr.NewInvalidPacket("ReadMem scd must be 12 bytes")
	}
	if binary.LittleEndian.Uint16(scd[10:12]) != 0 {
		return ReadMemCmd{}, u3verr.NewInvalidPacket("ReadMem reserved field must be zero")
	}
	return ReadMemCmd{
		Address:    binary.LittleEndian.Uint64(scd[0:8]),
		ReadLength: binary.LittleEndian.Uint16(scd[8:10]),
	}, nil
}

// Chunks splits cmd into a sequence of ReadMemCmd whose ReadLength never
// exceeds budget, which must already exclude the ack header (AckHeaderLen).
func (cmd ReadMemCmd) Chunks(budget int) []ReadMemCmd {
	if budget <= 0 {
		return nil
	}
	var out []ReadMemCmd
	remaining := int(cmd.ReadLength)
	addr := cmd.Address
	for remaining > 0 {
		n := remaining
		if n > budget {
			n = budget
		}
		out = append(out, ReadMemCmd{Address: addr, ReadLength: uint16(n)})
		addr += uint64(n)
		remaining -= n
	}
	return out
}

// WriteMemCmd requests a single contiguous write.
type WriteMemCmd struct {
	Address uint64
	Data    []byte
}

// Serialize encodes cmd as a full command packet (header + SCD).
func (cmd WriteMemCmd) Serialize(requestID uint16, ackRequested bool) []byte {
	scd := make([]byte, 8+len(cmd.Data))
	binary.LittleEndian.PutUint64(scd[0:8], cmd.Address)
	copy(scd[8:], cmd.Data)
	return assemble(KindWriteMem, requestID, ackRequested, scd)
}

// ParseWriteMemCmd parses the SCD of a WriteMem command.
func ParseWriteMemCmd(scd []byte) (WriteMemCmd, error) {
	if len(scd) < 8 {
		return WriteMemCmd{}, u3verr.NewInvalidPacket("WriteMem scd shorter than address field")
	}
	data := make([]byte, len(scd)-8)
	copy(data, scd[8:])
	return WriteMemCmd{
		Address: binary.LittleEndian.Uint64(scd[0:8]),
		Data:    data,
	}, nil
}

// Chunks splits cmd into a sequence of WriteMemCmd whose Data length never
// exceeds budget, which must already exclude the command header and the
// 8-byte address field (CmdHeaderLen + 8).
func (cmd WriteMemCmd) Chunks(budget int) []WriteMemCmd {
	if budget <= 0 {
		return nil
	}
	var out []WriteMemCmd
	addr := cmd.Address
	data := cmd.Data
	for len(data) > 0 {
		n := len(data)
		if n > budget {
			n = budget
		}
		out = append(out, WriteMemCmd{Address: addr, Data: data[:n]})
		addr += uint64(n)
		data = data[n:]
	}
	return out
}

// ReadMemStackedCmd requests multiple reads in one round trip.
type ReadMemStackedCmd struct {
	Entries []ReadMemEntry
}

// Serialize encodes cmd as a full command packet.
func (cmd ReadMemStackedCmd) Serialize(requestID uint16, ackRequested bool) []byte {
	scd := make([]byte, 12*len(cmd.Entries))
	for i, e := range cmd.Entries {
		off := i * 12
		binary.LittleEndian.PutUint64(scd[off:off+8], e.Address)
		binary.LittleEndian.PutUint16(scd[off+8:off+10], e.ReadLength)
	}
	return assemble(KindReadMemStacked, requestID, ackRequested, scd)
}

// ParseReadMemStackedCmd parses the SCD of a ReadMemStacked command.
func ParseReadMemStackedCmd(scd []byte) (ReadMemStackedCmd, error) {
	if len(scd)%12 != 0 {
		return ReadMemStackedCmd{}, u3verr.NewInvalidPacket("ReadMemStacked scd must be a multiple of 12 bytes")
	}
	n := len(scd) / 12
	entries := make([]ReadMemEntry, n)
	for i := 0; i < n; i++ {
		off := i * 12
		if binary.LittleEndian.Uint16(scd[off+10:off+12]) != 0 {
			return ReadMemStackedCmd{}, u3verr.NewInvalidPacket("ReadMemStacked reserved field must be zero")
		}
		entries[i] = ReadMemEntry{
			Address:    binary.LittleEndian.Uint64(scd[off : off+8]),
			ReadLength: binary.LittleEndian.Uint16(scd[off+8 : off+10]),
		}
	}
	return ReadMemStackedCmd{Entries: entries}, nil
}

// WriteMemStackedCmd requests multiple writes in one round trip.
type WriteMemStackedCmd struct {
	Entries []WriteMemEntry
}

// Serialize encodes cmd as a full command packet.
func (cmd WriteMemStackedCmd) Serialize(requestID uint16, ackRequested bool) []byte {
	size := 0
	for _, e := range cmd.Entries {
		size += 12 + len(e.Data)
	}
	scd := make([]byte, size)
	off := 0
	for _, e := range cmd.Entries {
		binary.LittleEndian.PutUint64(scd[off:off+8], e.Address)
		binary.LittleEndian.PutUint16(scd[off+8:off+10], uint16(len(e.Data)))
		off += 12
		copy(scd[off:], e.Data)
		off += len(e.Data)
	}
	return assemble(KindWriteMemStacked, requestID, ackRequested, scd)
}

// ParseWriteMemStackedCmd parses the SCD of a WriteMemStacked command.
func ParseWriteMemStackedCmd(scd []byte) (WriteMemStackedCmd, error) {
	var entries []WriteMemEntry
	off := 0
	for off < len(scd) {
		if off+12 > len(scd) {
			return WriteMemStackedCmd{}, u3verr.NewInvalidPacket("WriteMemStacked entry header truncated")
		}
		addr := binary.LittleEndian.Uint64(scd[off : off+8])
		length := binary.LittleEndian.Uint16(scd[off+8 : off+10])
		if binary.LittleEndian.Uint16(scd[off+10:off+12]) != 0 {
			return WriteMemStackedCmd{}, u3verr.NewInvalidPacket("WriteMemStacked reserved field must be zero")
		}
		off += 12
		if off+int(length) > len(scd) {
			return WriteMemStackedCmd{}, u3verr.NewInvalidPacket("WriteMemStacked entry data truncated")
		}
		data := make([]byte, length)
		copy(data, scd[off:off+int(length)])
		off += int(length)
		entries = append(entries, WriteMemEntry{Address: addr, Data: data})
	}
	return WriteMemStackedCmd{Entries: entries}, nil
}

// CustomCmd passes a vendor-specific command through unparsed.
type CustomCmd struct {
	ID   uint16
	Data []byte
}

// Serialize encodes cmd as a full command packet.
func (cmd CustomCmd) Serialize(requestID uint16, ackRequested bool) []byte {
	return assemble(CustomBit|cmd.ID, requestID, ackRequested, cmd.Data)
}

func assemble(commandID uint16, requestID uint16, ackRequested bool, scd []byte) []byte {
	flag := uint16(0)
	if ackRequested {
		flag |= FlagRequestAck
	}
	buf := make([]byte, CmdHeaderLen+len(scd))
	CommandHeader{Flag: flag, CommandID: commandID, ScdLen: uint16(len(scd)), RequestID: requestID}.put(buf)
	copy(buf[CmdHeaderLen:], scd)
	return buf
}

// ParsedCommand is a generic command packet split into header and raw SCD,
// ready for kind-specific parsing by the caller.
type ParsedCommand struct {
	Header CommandHeader
	Scd    []byte
}

// ParseCommand splits a raw command packet into its header and SCD payload.
func ParseCommand(buf []byte) (ParsedCommand, error) {
	h, err := parseCommandHeader(buf)
	if err != nil {
		return ParsedCommand{}, err
	}
	if len(buf) != CmdHeaderLen+int(h.ScdLen) {
		return ParsedCommand{}, u3verr.NewInvalidPacket("command scd_len does not match packet length")
	}
	return ParsedCommand{Header: h, Scd: buf[CmdHeaderLen:]}, nil
}

// IsCustom reports whether commandID denotes a vendor-specific command.
func IsCustom(commandID uint16) bool { return commandID&CustomBit != 0 }
