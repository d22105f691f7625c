package protocol

import (
	"encoding/binary"

	"u3vgo/pkg/u3verr"
)

// AckHeader is the CCD shared by every acknowledge packet.
type AckHeader struct {
	Status    Status
	ScdKind   uint16
	ScdLen    uint16
	RequestID uint16
}

func (h AckHeader) put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], CommandMagic)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Status))
	binary.LittleEndian.PutUint16(buf[6:8], h.ScdKind)
	binary.LittleEndian.PutUint16(buf[8:10], h.ScdLen)
	binary.LittleEndian.PutUint16(buf[10:12], h.RequestID)
}

func parseAckHeader(buf []byte) (AckHeader, error) {
	if len(buf) < AckHeaderLen {
		return AckHeader{}, u3verr.NewInvalidPacket("ack packet shorter than header")
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != CommandMagic {
		return AckHeader{}, u3verr.NewInvalidPacket("bad ack magic")
	}
	return AckHeader{
		Status:    Status(binary.LittleEndian.Uint16(buf[4:6])),
		ScdKind:   binary.LittleEndian.Uint16(buf[6:8]),
		ScdLen:    binary.LittleEndian.Uint16(buf[8:10]),
		RequestID: binary.LittleEndian.Uint16(buf[10:12]),
	}, nil
}

// ParsedAck is a generic acknowledge packet split into header and raw SCD.
type ParsedAck struct {
	Header AckHeader
	Scd    []byte
}

// ParseAck splits a raw acknowledge packet into its header and SCD payload.
func ParseAck(buf []byte) (ParsedAck, error) {
	h, err := parseAckHeader(buf)
	if err != nil {
		return ParsedAck{}, err
	}
	if len(buf) != AckHeaderLen+int(h.ScdLen) {
		return ParsedAck{}, u3verr.NewInvalidPacket("ack scd_len does not match packet length")
	}
	return ParsedAck{Header: h, Scd: buf[AckHeaderLen:]}, nil
}

func assembleAck(status Status, scdKind uint16, requestID uint16, scd []byte) []byte {
	buf := make([]byte, AckHeaderLen+len(scd))
	AckHeader{Status: status, ScdKind: scdKind, ScdLen: uint16(len(scd)), RequestID: requestID}.put(buf)
	copy(buf[AckHeaderLen:], scd)
	return buf
}

// ReadMemAck carries the bytes read by a ReadMem command.
type ReadMemAck struct {
	Data []byte
}

// Serialize encodes ack as a full acknowledge packet.
func (ack ReadMemAck) Serialize(requestID uint16) []byte {
	return assembleAck(StatusSuccess, KindReadMemAck, requestID, ack.Data)
}

// ParseReadMemAck parses the SCD of a ReadMem acknowledge.
func ParseReadMemAck(scd []byte) ReadMemAck {
	data := make([]byte, len(scd))
	copy(data, scd)
	return ReadMemAck{Data: data}
}

// WriteMemAck confirms the number of bytes written by a WriteMem command.
type WriteMemAck struct {
	Length uint16
}

// Serialize encodes ack as a full acknowledge packet.
func (ack WriteMemAck) Serialize(requestID uint16) []byte {
	scd := make([]byte, 4)
	binary.LittleEndian.PutUint16(scd[0:2], ack.Length)
	return assembleAck(StatusSuccess, KindWriteMemAck, requestID, scd)
}

// ParseWriteMemAck parses the SCD of a WriteMem acknowledge.
func ParseWriteMemAck(scd []byte) (WriteMemAck, error) {
	if len(scd) != 4 {
		return WriteMemAck{}, u3verr.NewInvalidPacket("WriteMemAck scd must be 4 bytes")
	}
	return WriteMemAck{Length: binary.LittleEndian.Uint16(scd[0:2])}, nil
}

// PendingAck tells the host to keep waiting for the real acknowledge.
type PendingAck struct {
	TimeoutMs uint16
}

// Serialize encodes ack as a full acknowledge packet.
func (ack PendingAck) Serialize(requestID uint16) []byte {
	scd := make([]byte, 4)
	binary.LittleEndian.PutUint16(scd[2:4], ack.TimeoutMs)
	return assembleAck(StatusSuccess, KindPending, requestID, scd)
}

// ParsePendingAck parses the SCD of a Pending acknowledge.
func ParsePendingAck(scd []byte) (PendingAck, error) {
	if len(scd) != 4 {
		return PendingAck{}, u3verr.NewInvalidPacket("PendingAck scd must be 4 bytes")
	}
	return PendingAck{TimeoutMs: binary.LittleEndian.Uint16(scd[2:4])}, nil
}

// ReadMemStackedAck carries the concatenated bytes read by a ReadMemStacked
// command, in entry order.
type ReadMemStackedAck struct {
	Data []byte
}

// Serialize encodes ack as a full acknowledge packet.
func (ack ReadMemStackedAck) Serialize(requestID uint16) []byte {
	return assembleAck(StatusSuccess, KindReadMemStackedAck, requestID, ack.Data)
}

// ParseReadMemStackedAck parses the SCD of a ReadMemStacked acknowledge.
func ParseReadMemStackedAck(scd []byte) ReadMemStackedAck {
	data := make([]byte, len(scd))
	copy(data, scd)
	return ReadMemStackedAck{Data: data}
}

// WriteMemStackedAck confirms the bytes written by each entry of a
// WriteMemStacked command, in entry order.
type WriteMemStackedAck struct {
	Lengths []uint16
}

// Serialize encodes ack as a full acknowledge packet.
func (ack WriteMemStackedAck) Serialize(requestID uint16) []byte {
	scd := make([]byte, 4*len(ack.Lengths))
	for i, l := range ack.Lengths {
		binary.LittleEndian.PutUint16(scd[i*4:i*4+2], l)
	}
	return assembleAck(StatusSuccess, KindWriteMemStackedAck, requestID, scd)
}

// ParseWriteMemStackedAck parses the SCD of a WriteMemStacked acknowledge.
func ParseWriteMemStackedAck(scd []byte) (WriteMemStackedAck, error) {
	if len(scd)%4 != 0 {
		return WriteMemStackedAck{}, u3verr.NewInvalidPacket("WriteMemStackedAck scd must be a multiple of 4 bytes")
	}
	n := len(scd) / 4
	lengths := make([]uint16, n)
	for i := 0; i < n; i++ {
		lengths[i] = binary.LittleEndian.Uint16(scd[i*4 : i*4+2])
	}
	return WriteMemStackedAck{Lengths: lengths}, nil
}

// CustomAck passes a vendor-specific acknowledge through unparsed.
type CustomAck struct {
	ID   uint16
	Data []byte
}

// Serialize encodes ack as a full acknowledge packet.
func (ack CustomAck) Serialize(requestID uint16) []byte {
	return assembleAck(StatusSuccess, CustomBit|ack.ID, requestID, ack.Data)
}

// ErrorAck reports a command failure with no type-specific SCD.
type ErrorAck struct {
	Status Status
	Kind   uint16
}

// Serialize encodes ack as a full acknowledge packet with an empty SCD.
func (ack ErrorAck) Serialize(requestID uint16) []byte {
	return assembleAck(ack.Status, ack.Kind, requestID, nil)
}
