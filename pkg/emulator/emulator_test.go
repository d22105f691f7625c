package emulator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"u3vgo/pkg/u3v/control"
	"u3vgo/pkg/u3v/protocol"
	"u3vgo/pkg/u3v/registermap"
	"u3vgo/pkg/u3verr"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	dev, err := NewDevice(Identity{
		ManufacturerName: "Acme",
		ModelName:        "EMU-1",
		FamilyName:       "Emulated",
		DeviceVersion:    "1.0",
		ManufacturerInfo: "test",
		SerialNumber:     "CAM1984",
		GenICamXML:       []byte("<RegisterDescription/>"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func newTestChannel(t *testing.T, dev *Device) *control.Channel {
	t.Helper()
	go dev.ControlModule.Run()
	t.Cleanup(dev.ControlModule.Stop)
	ch := control.New(dev.ControlModule, 1024, 1024, time.Second)
	if err := ch.Open(); err != nil {
		t.Fatal(err)
	}
	return ch
}

// TestFreshEmulatorSerialNumberRead reads identity off a freshly built device.
func TestFreshEmulatorSerialNumberRead(t *testing.T) {
	dev := newTestDevice(t)
	if dev.GUID != "EMU-0CAM1984" {
		t.Fatalf("got guid %q", dev.GUID)
	}
	ch := newTestChannel(t, dev)

	got, err := ch.Read(context.Background(), registermap.AddrSerialNumber, 64)
	if err != nil {
		t.Fatal(err)
	}
	serial := string(got)
	for i, c := range serial {
		if c == 0 {
			serial = serial[:i]
			break
		}
	}
	if serial != "CAM1984" {
		t.Fatalf("got serial %q", serial)
	}
}

// TestChunkedReadMem reads across several chunks with a small ack
// budget.
func TestChunkedReadMem(t *testing.T) {
	dev := newTestDevice(t)
	go dev.ControlModule.Run()
	t.Cleanup(dev.ControlModule.Stop)

	ch := control.New(dev.ControlModule, 1024, 64, time.Second)
	if err := ch.Open(); err != nil {
		t.Fatal(err)
	}

	got, err := ch.Read(context.Background(), 0, 128)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 128 {
		t.Fatalf("got %d bytes, want 128", len(got))
	}
}

// TestWriteToReadOnlyFails checks the access-right overlay end to end: the
// device must answer an ErrorAck carrying AccessDenied under the command's
// own scd_kind, and the host must surface it as an Io failure.
func TestWriteToReadOnlyFails(t *testing.T) {
	dev := newTestDevice(t)
	ch := newTestChannel(t, dev)

	_, err := ch.Write(context.Background(), registermap.AddrGenCpVersion, []byte{1, 2, 3, 4})
	if err == nil {
		t.Fatal("expected write to read-only GenCpVersion to fail")
	}
	if !errors.Is(err, u3verr.ErrIo) {
		t.Fatalf("got %v, want an ErrIo-wrapped status failure", err)
	}
	if !strings.Contains(err.Error(), "AccessDenied") {
		t.Fatalf("got %v, want status AccessDenied", err)
	}

	// The raw ack carries the command kind, not the ack kind.
	cmd := protocol.WriteMemCmd{Address: registermap.AddrGenCpVersion, Data: []byte{1, 2, 3, 4}}.Serialize(7, true)
	if err := dev.ControlModule.WriteCommand(cmd); err != nil {
		t.Fatal(err)
	}
	raw, err := dev.ControlModule.ReadAck(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	ack, err := protocol.ParseAck(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ack.Header.Status != protocol.StatusAccessDenied {
		t.Fatalf("got status %s, want AccessDenied", ack.Header.Status)
	}
	if ack.Header.ScdKind != protocol.KindWriteMem {
		t.Fatalf("got scd_kind %#x, want WriteMem (%#x)", ack.Header.ScdKind, protocol.KindWriteMem)
	}
	if ack.Header.RequestID != 7 {
		t.Fatalf("got request id %d, want 7", ack.Header.RequestID)
	}
}

// TestPendingThenSuccess covers a device that stalls before answering.
func TestPendingThenSuccess(t *testing.T) {
	dev := newTestDevice(t)
	dev.ControlModule.pendingDelay = 5 * time.Millisecond
	dev.ControlModule.SimulateBusy(registermap.AddrSerialNumber, 2)
	ch := newTestChannel(t, dev)

	got, err := ch.Read(context.Background(), registermap.AddrSerialNumber, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 64 {
		t.Fatalf("got %d bytes", len(got))
	}
}

// enableEvents sets the EIControl enable bit the way a host would: a
// register write whose observer enables the module.
func enableEvents(t *testing.T, dev *Device) {
	t.Helper()
	if err := dev.Mem.WriteRaw(addrEIRM+registermap.OffsetEIControl, []byte{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if !dev.EventModule.Enabled() {
		t.Fatal("expected EIControl write to enable the event module")
	}
}

// TestEventQueueOverflowHalts covers event-queue overflow, including the
// queue-drain-on-halt and IfaceHalted-until-clear behavior.
func TestEventQueueOverflowHalts(t *testing.T) {
	dev := newTestDevice(t)
	enableEvents(t, dev)
	for i := 0; i < 16; i++ {
		if err := dev.EventModule.Emit(1, nil, uint64(i)); err != nil {
			t.Fatalf("unexpected error on event %d: %v", i, err)
		}
	}
	if err := dev.EventModule.Emit(1, nil, 99); err == nil {
		t.Fatal("expected overflow to fail")
	}
	if dev.EventModule.State() != Halted {
		t.Fatal("expected event interface to halt on overflow")
	}
	if n := dev.EventModule.QueueLen(); n != 0 {
		t.Fatalf("expected halt to drain the queue, got %d still queued", n)
	}
	if _, err := dev.EventModule.ReadEvent(context.Background(), time.Second); !errors.Is(err, u3verr.ErrIfaceHalted) {
		t.Fatalf("expected ErrIfaceHalted on a halted interface, got %v", err)
	}

	dev.EventModule.ClearHalt()
	if err := dev.EventModule.Emit(1, []byte{1}, 100); err != nil {
		t.Fatalf("expected emit to succeed after ClearHalt: %v", err)
	}
	if n := dev.EventModule.QueueLen(); n != 1 {
		t.Fatalf("got queue len %d after ClearHalt+Emit, want 1", n)
	}
}

// TestSingleEventRoundTrip serializes and re-parses one event packet.
func TestSingleEventRoundTrip(t *testing.T) {
	dev := newTestDevice(t)
	enableEvents(t, dev)
	if err := dev.EventModule.Emit(0x9001, []byte{0xAA}, 42); err != nil {
		t.Fatal(err)
	}
	raw, err := dev.EventModule.ReadEvent(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	pkt, err := protocol.ParseEventPacket(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkt.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(pkt.Entries))
	}
	ev := pkt.Entries[0]
	if ev.EventID != 0x9001 || ev.Timestamp != 42 {
		t.Fatalf("got %+v", ev)
	}
}

// TestPendingRetryExhaustionFails covers the
// exhaustion branch against the real ControlModule (TestPendingThenSuccess
// above covers its success branch).
func TestPendingRetryExhaustionFails(t *testing.T) {
	dev := newTestDevice(t)
	dev.ControlModule.pendingDelay = 2 * time.Millisecond
	dev.ControlModule.SimulateBusy(registermap.AddrSerialNumber, 5)

	go dev.ControlModule.Run()
	t.Cleanup(dev.ControlModule.Stop)
	ch := control.NewWithRetries(dev.ControlModule, 1024, 1024, 2*time.Second, 3)
	if err := ch.Open(); err != nil {
		t.Fatal(err)
	}

	if _, err := ch.Read(context.Background(), registermap.AddrSerialNumber, 64); err == nil {
		t.Fatal("expected retry exhaustion to fail the read")
	}
}
