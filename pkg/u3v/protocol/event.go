package protocol

import (
	"encoding/binary"

	"u3vgo/pkg/u3verr"
)

// KindEvent is the command_id every event packet's CCD carries.
const KindEvent uint16 = 0x0C00

// EventCCDLen is the byte length of an event packet's CCD (command common
// data): magic(4) + flag(2) + command_id(2) + scd_len(2) + request_id(2).
const EventCCDLen = 12

// eventEntryHeaderLen is the byte length of one SCD entry's fixed fields:
// event_size(2) + event_id(2) + timestamp(8).
const eventEntryHeaderLen = 12

// EventEntry is one event carried in an event packet's SCD. A single-event
// packet carries exactly one; a multi-event packet carries one or more.
type EventEntry struct {
	EventID   uint16
	Timestamp uint64
	Data      []byte
}

// EventPacket is a full event-channel packet: the CCD's flag/request_id plus
// the SCD's event entries.
type EventPacket struct {
	Flag      uint16
	RequestID uint16
	Entries   []EventEntry
}

// SerializeSingle encodes a single-event packet: the SCD's leading
// event_size field is 0, signaling "rest of scd_len is this one event's
// data" rather than a packed sequence of further entries.
func SerializeSingle(flag, requestID, eventID uint16, timestamp uint64, data []byte) []byte {
	scdLen := eventEntryHeaderLen + len(data)
	buf := make([]byte, EventCCDLen+scdLen)
	putEventCCD(buf, flag, uint16(scdLen), requestID)

	scd := buf[EventCCDLen:]
	binary.LittleEndian.PutUint16(scd[0:2], 0)
	binary.LittleEndian.PutUint16(scd[2:4], eventID)
	binary.LittleEndian.PutUint64(scd[4:12], timestamp)
	copy(scd[eventEntryHeaderLen:], data)
	return buf
}

// SerializeMulti encodes a reserved multi-event packet: each SCD entry is
// self-delimiting via its own nonzero event_size (eventEntryHeaderLen +
// len(data)).
func SerializeMulti(flag, requestID uint16, entries []EventEntry) []byte {
	scdLen := 0
	for _, e := range entries {
		scdLen += eventEntryHeaderLen + len(e.Data)
	}
	buf := make([]byte, EventCCDLen+scdLen)
	putEventCCD(buf, flag, uint16(scdLen), requestID)

	off := EventCCDLen
	for _, e := range entries {
		eventSize := eventEntryHeaderLen + len(e.Data)
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(eventSize))
		binary.LittleEndian.PutUint16(buf[off+2:off+4], e.EventID)
		binary.LittleEndian.PutUint64(buf[off+4:off+12], e.Timestamp)
		copy(buf[off+eventEntryHeaderLen:off+eventSize], e.Data)
		off += eventSize
	}
	return buf
}

func putEventCCD(buf []byte, flag, scdLen, requestID uint16) {
	binary.LittleEndian.PutUint32(buf[0:4], EventMagic)
	binary.LittleEndian.PutUint16(buf[4:6], flag)
	binary.LittleEndian.PutUint16(buf[6:8], KindEvent)
	binary.LittleEndian.PutUint16(buf[8:10], scdLen)
	binary.LittleEndian.PutUint16(buf[10:12], requestID)
}

// ParseEventPacket parses an event packet's CCD and SCD. It handles both
// single-event packets (one entry, signaled by a leading event_size of 0)
// and multi-event packets (each entry self-delimited by a nonzero
// event_size) with the same SCD walk, matching how a real device's SCD
// length accounting doesn't distinguish the two at parse time.
func ParseEventPacket(buf []byte) (EventPacket, error) {
	if len(buf) < EventCCDLen {
		return EventPacket{}, u3verr.NewInvalidPacket("event packet shorter than CCD")
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != EventMagic {
		return EventPacket{}, u3verr.NewInvalidPacket("bad event magic")
	}
	flag := binary.LittleEndian.Uint16(buf[4:6])
	commandID := binary.LittleEndian.Uint16(buf[6:8])
	if commandID != KindEvent {
		return EventPacket{}, u3verr.NewInvalidPacket("bad event command id")
	}
	scdLen := binary.LittleEndian.Uint16(buf[8:10])
	requestID := binary.LittleEndian.Uint16(buf[10:12])

	scd := buf[EventCCDLen:]
	if len(scd) < int(scdLen) {
		return EventPacket{}, u3verr.NewInvalidPacket("event packet shorter than scd_len")
	}
	scd = scd[:scdLen]

	var entries []EventEntry
	remaining := scdLen
	off := 0
	for remaining > 0 {
		if off+eventEntryHeaderLen > len(scd) {
			return EventPacket{}, u3verr.NewInvalidPacket("event entry header truncated")
		}
		eventSize := binary.LittleEndian.Uint16(scd[off : off+2])
		eventID := binary.LittleEndian.Uint16(scd[off+2 : off+4])
		timestamp := binary.LittleEndian.Uint64(scd[off+4 : off+12])

		var dataLen int
		if eventSize == 0 {
			// Single-event form: whatever is left of scd_len is this one
			// entry's data.
			if remaining < eventEntryHeaderLen {
				return EventPacket{}, u3verr.NewInvalidPacket("scd_len inconsistent with entry header")
			}
			dataLen = int(remaining) - eventEntryHeaderLen
			remaining = 0
		} else {
			if eventSize < eventEntryHeaderLen {
				return EventPacket{}, u3verr.NewInvalidPacket("event_size smaller than entry header")
			}
			if remaining < eventSize {
				return EventPacket{}, u3verr.NewInvalidPacket("scd_len inconsistent with event_size")
			}
			dataLen = int(eventSize) - eventEntryHeaderLen
			remaining -= eventSize
		}

		if off+eventEntryHeaderLen+dataLen > len(scd) {
			return EventPacket{}, u3verr.NewInvalidPacket("event entry data truncated")
		}
		data := make([]byte, dataLen)
		copy(data, scd[off+eventEntryHeaderLen:off+eventEntryHeaderLen+dataLen])
		entries = append(entries, EventEntry{EventID: eventID, Timestamp: timestamp, Data: data})
		off += eventEntryHeaderLen + dataLen
	}

	return EventPacket{Flag: flag, RequestID: requestID, Entries: entries}, nil
}
