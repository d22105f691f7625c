package protocol

import (
	"encoding/binary"

	"u3vgo/pkg/u3verr"
)

// Stream leader/trailer magics.
const (
	LeaderMagic  uint32 = 0x43563355
	TrailerMagic uint32 = 0x43563355
)

// PayloadType values carried in the leader.
const (
	PayloadTypeImage      uint16 = 0x0001
	PayloadTypeChunkData  uint16 = 0x4000
)

// LeaderHeaderLen is the fixed byte length of a leader packet's generic
// prefix: magic(4) + reserved(2) + block_id(8) + payload_type(2).
const LeaderHeaderLen = 16

// Leader is a stream leader packet, sent once per acquired block ahead of
// its payload.
type Leader struct {
	BlockID     uint64
	PayloadType uint16
	GenericFields []byte // payload-type specific fields, opaque here
}

// Serialize encodes l as a full leader packet.
func (l Leader) Serialize() []byte {
	buf := make([]byte, LeaderHeaderLen+len(l.GenericFields))
	binary.LittleEndian.PutUint32(buf[0:4], LeaderMagic)
	binary.LittleEndian.PutUint64(buf[6:14], l.BlockID)
	binary.LittleEndian.PutUint16(buf[14:16], l.PayloadType)
	copy(buf[LeaderHeaderLen:], l.GenericFields)
	return buf
}

// ParseLeader parses a leader packet.
func ParseLeader(buf []byte) (Leader, error) {
	if len(buf) < LeaderHeaderLen {
		return Leader{}, u3verr.NewInvalidPacket("leader packet shorter than header")
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != LeaderMagic {
		return Leader{}, u3verr.NewInvalidPacket("bad leader magic")
	}
	fields := make([]byte, len(buf)-LeaderHeaderLen)
	copy(fields, buf[LeaderHeaderLen:])
	return Leader{
		BlockID:       binary.LittleEndian.Uint64(buf[6:14]),
		PayloadType:   binary.LittleEndian.Uint16(buf[14:16]),
		GenericFields: fields,
	}, nil
}

// TrailerHeaderLen is the fixed byte length of a trailer packet's generic
// prefix: magic(4) + reserved(2) + block_id(8) + payload_type(2).
const TrailerHeaderLen = 16

// Trailer is a stream trailer packet, sent once per acquired block after its
// payload.
type Trailer struct {
	BlockID       uint64
	PayloadType   uint16
	GenericFields []byte
}

// Serialize encodes t as a full trailer packet.
func (t Trailer) Serialize() []byte {
	buf := make([]byte, TrailerHeaderLen+len(t.GenericFields))
	binary.LittleEndian.PutUint32(buf[0:4], TrailerMagic)
	binary.LittleEndian.PutUint64(buf[6:14], t.BlockID)
	binary.LittleEndian.PutUint16(buf[14:16], t.PayloadType)
	copy(buf[TrailerHeaderLen:], t.GenericFields)
	return buf
}

// ParseTrailer parses a trailer packet.
func ParseTrailer(buf []byte) (Trailer, error) {
	if len(buf) < TrailerHeaderLen {
		return Trailer{}, u3verr.NewInvalidPacket("trailer packet shorter than header")
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != TrailerMagic {
		return Trailer{}, u3verr.NewInvalidPacket("bad trailer magic")
	}
	fields := make([]byte, len(buf)-TrailerHeaderLen)
	copy(fields, buf[TrailerHeaderLen:])
	return Trailer{
		BlockID:       binary.LittleEndian.Uint64(buf[6:14]),
		PayloadType:   binary.LittleEndian.Uint16(buf[14:16]),
		GenericFields: fields,
	}, nil
}

// PayloadPlan describes how a single block's payload must be split across
// bulk transfers, derived from the SIRM PayloadTransferSize/Count/
// FinalTransfer1/2Size registers.
type PayloadPlan struct {
	TransferSize        uint32
	TransferCount        uint32
	FinalTransfer1Size   uint32
	FinalTransfer2Size   uint32
}

// Sizes expands the plan into the exact per-transfer byte counts of one
// block's payload: TransferCount full transfers of TransferSize, then a
// FinalTransfer1Size sub-transfer, plus an optional trailing
// FinalTransfer2Size sub-transfer when non-zero. Nil when the plan is
// empty.
func (p PayloadPlan) Sizes() []uint32 {
	if p.TransferCount == 0 {
		return nil
	}
	sizes := make([]uint32, 0, p.TransferCount+2)
	for i := uint32(0); i < p.TransferCount; i++ {
		sizes = append(sizes, p.TransferSize)
	}
	if p.FinalTransfer1Size != 0 {
		sizes = append(sizes, p.FinalTransfer1Size)
	}
	if p.FinalTransfer2Size != 0 {
		sizes = append(sizes, p.FinalTransfer2Size)
	}
	return sizes
}

// TotalSize is the payload byte count one block carries under this plan.
func (p PayloadPlan) TotalSize() uint64 {
	var sum uint64
	for _, c := range p.Sizes() {
		sum += uint64(c)
	}
	return sum
}

// Chunks validates totalSize against the plan and returns the per-transfer
// sizes, or nil when the payload doesn't fit the plan exactly.
func (p PayloadPlan) Chunks(totalSize uint64) []uint32 {
	sizes := p.Sizes()
	if sizes == nil || p.TotalSize() != totalSize {
		return nil
	}
	return sizes
}
