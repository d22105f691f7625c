package bytesio

import "testing"

func TestFixedASCIIRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	if err := PutFixedASCII(buf, "CAM1984"); err != nil {
		t.Fatalf("PutFixedASCII: %v", err)
	}
	got := FixedASCII(buf)
	if got != "CAM1984" {
		t.Fatalf("got %q, want CAM1984", got)
	}
	for _, b := range buf[len("CAM1984"):] {
		if b != 0 {
			t.Fatalf("expected NUL padding, got %x", buf)
		}
	}
}

func TestFixedASCIITooLong(t *testing.T) {
	buf := make([]byte, 4)
	if err := PutFixedASCII(buf, "toolong"); err == nil {
		t.Fatal("expected error for oversized string")
	}
}

func TestUint32RoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	PutUint32(buf, 0xdeadbeef, LittleEndian)
	if got := Uint32(buf, LittleEndian); got != 0xdeadbeef {
		t.Fatalf("got %x", got)
	}
	if buf[0] != 0xef || buf[3] != 0xde {
		t.Fatalf("unexpected LE layout: %x", buf)
	}
}

func TestBitfieldReadWrite(t *testing.T) {
	container := make([]byte, 4)
	spec := BitfieldSpec{LSB: 4, MSB: 7, Endian: LittleEndian}
	PutUint32(container, 0xFFFFFF0F, LittleEndian)
	WriteBitfield(container, spec, 0xA)
	if got := Uint32(container, LittleEndian); got != 0xFFFFFFAF {
		t.Fatalf("write-modify-write failed, got %#x", got)
	}
	if got := ReadBitfield(container, spec); got != 0xA {
		t.Fatalf("read back %#x, want 0xA", got)
	}
}

func TestBitfieldPreservesOtherBits(t *testing.T) {
	container := []byte{0b1010_1010}
	spec := BitfieldSpec{LSB: 0, MSB: 2, Endian: LittleEndian}
	WriteBitfield(container, spec, 0b111)
	if container[0] != 0b1010_1111 {
		t.Fatalf("got %08b", container[0])
	}
}
