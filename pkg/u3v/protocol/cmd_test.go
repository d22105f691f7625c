package protocol

import (
	"bytes"
	"testing"
)

func TestReadMemCmdRoundTrip(t *testing.T) {
	cmd := ReadMemCmd{Address: 0x1000, ReadLength: 64}
	pkt := cmd.Serialize(7, true)

	parsed, err := ParseCommand(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Header.CommandID != KindReadMem {
		t.Fatalf("got command id %x", parsed.Header.CommandID)
	}
	if parsed.Header.Flag&FlagRequestAck == 0 {
		t.Fatal("expected ack-requested flag set")
	}
	if parsed.Header.RequestID != 7 {
		t.Fatalf("got request id %d", parsed.Header.RequestID)
	}

	got, err := ParseReadMemCmd(parsed.Scd)
	if err != nil {
		t.Fatal(err)
	}
	if got != cmd {
		t.Fatalf("got %+v, want %+v", got, cmd)
	}
}

func TestWriteMemCmdRoundTrip(t *testing.T) {
	cmd := WriteMemCmd{Address: 0x44, Data: []byte("CAM1984")}
	pkt := cmd.Serialize(3, false)

	parsed, err := ParseCommand(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Header.CommandID != KindWriteMem {
		t.Fatalf("got command id %x", parsed.Header.CommandID)
	}
	if parsed.Header.Flag&FlagRequestAck != 0 {
		t.Fatal("did not expect ack-requested flag")
	}

	got, err := ParseWriteMemCmd(parsed.Scd)
	if err != nil {
		t.Fatal(err)
	}
	if got.Address != cmd.Address || !bytes.Equal(got.Data, cmd.Data) {
		t.Fatalf("got %+v, want %+v", got, cmd)
	}
}

// TestReadMemChunking covers a 128-byte read with
// MaxAckLen=64 (budget = 64-12 = 52) chunks into 52/52/24.
func TestReadMemChunking(t *testing.T) {
	cmd := ReadMemCmd{Address: 0x1000, ReadLength: 128}
	budget := 64 - AckHeaderLen
	chunks := cmd.Chunks(budget)

	wantLens := []uint16{52, 52, 24}
	if len(chunks) != len(wantLens) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(wantLens))
	}
	addr := cmd.Address
	for i, c := range chunks {
		if c.ReadLength != wantLens[i] {
			t.Errorf("chunk %d length = %d, want %d", i, c.ReadLength, wantLens[i])
		}
		if c.Address != addr {
			t.Errorf("chunk %d address = %x, want %x", i, c.Address, addr)
		}
		addr += uint64(c.ReadLength)
	}
}

func TestWriteMemChunking(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	cmd := WriteMemCmd{Address: 0x2000, Data: data}
	budget := 64 - CmdHeaderLen - 8
	chunks := cmd.Chunks(budget)

	var reassembled []byte
	addr := cmd.Address
	for _, c := range chunks {
		if c.Address != addr {
			t.Errorf("chunk address = %x, want %x", c.Address, addr)
		}
		addr += uint64(len(c.Data))
		reassembled = append(reassembled, c.Data...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Fatal("reassembled data does not match original")
	}
}

func TestReadMemStackedRoundTrip(t *testing.T) {
	cmd := ReadMemStackedCmd{Entries: []ReadMemEntry{
		{Address: 0x10, ReadLength: 4},
		{Address: 0x20, ReadLength: 8},
	}}
	pkt := cmd.Serialize(1, true)

	parsed, err := ParseCommand(pkt)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseReadMemStackedCmd(parsed.Scd)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 2 || got.Entries[0] != cmd.Entries[0] || got.Entries[1] != cmd.Entries[1] {
		t.Fatalf("got %+v, want %+v", got, cmd)
	}
}

func TestWriteMemStackedRoundTrip(t *testing.T) {
	cmd := WriteMemStackedCmd{Entries: []WriteMemEntry{
		{Address: 0x10, Data: []byte{1, 2}},
		{Address: 0x20, Data: []byte{3, 4, 5}},
	}}
	pkt := cmd.Serialize(2, true)

	parsed, err := ParseCommand(pkt)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseWriteMemStackedCmd(parsed.Scd)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("got %d entries", len(got.Entries))
	}
	for i, e := range got.Entries {
		if e.Address != cmd.Entries[i].Address || !bytes.Equal(e.Data, cmd.Entries[i].Data) {
			t.Fatalf("entry %d: got %+v, want %+v", i, e, cmd.Entries[i])
		}
	}
}

func TestIsCustom(t *testing.T) {
	if !IsCustom(CustomBit | 0x01) {
		t.Fatal("expected custom bit detected")
	}
	if IsCustom(KindReadMem) {
		t.Fatal("did not expect ReadMem to be custom")
	}
}

func TestParseCommandRejectsBadMagic(t *testing.T) {
	pkt := ReadMemCmd{Address: 0, ReadLength: 4}.Serialize(1, false)
	pkt[0] ^= 0xFF
	if _, err := ParseCommand(pkt); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestParseCommandRejectsLengthMismatch(t *testing.T) {
	pkt := ReadMemCmd{Address: 0, ReadLength: 4}.Serialize(1, false)
	if _, err := ParseCommand(pkt[:len(pkt)-1]); err == nil {
		t.Fatal("expected error for truncated packet")
	}
}

func TestReservedFieldMustBeZero(t *testing.T) {
	pkt := ReadMemCmd{Address: 0, ReadLength: 4}.Serialize(1, false)
	// Corrupt the reserved field (last 2 bytes of the 12-byte SCD).
	pkt[len(pkt)-1] = 0xFF
	parsed, err := ParseCommand(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseReadMemCmd(parsed.Scd); err == nil {
		t.Fatal("expected error for nonzero reserved field")
	}
}
