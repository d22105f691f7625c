package gentl

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"u3vgo/pkg/emulator"
	"u3vgo/pkg/u3v/protocol"
	"u3vgo/pkg/u3v/registermap"
)

func newTestDevice(t *testing.T, serial string) *emulator.Device {
	t.Helper()
	dev, err := emulator.NewDevice(emulator.Identity{
		ManufacturerName: "Acme",
		ModelName:        "EMU-1",
		FamilyName:       "Emulated",
		DeviceVersion:    "1.0",
		ManufacturerInfo: "test",
		SerialNumber:     serial,
		GenICamXML:       []byte("<RegisterDescription/>"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func newTestPool(t *testing.T) (*emulator.Pool, *emulator.Device) {
	t.Helper()
	dev := newTestDevice(t, "CAM1984")
	pool := emulator.NewPool()
	pool.Add(dev)
	t.Cleanup(func() { pool.Disconnect(dev.GUID) })
	return pool, dev
}

func TestSystemInfoRegisters(t *testing.T) {
	pool, _ := newTestPool(t)
	sys := NewSystem(pool)

	if sys.TLID() != "u3vgo-tl" {
		t.Fatalf("got TLID %q", sys.TLID())
	}
	raw, err := sys.ReadInfo(addrTLVersionMajor, 4)
	if err != nil {
		t.Fatal(err)
	}
	if binary.LittleEndian.Uint32(raw) != tlVersionMajor {
		t.Fatalf("got version major %d", binary.LittleEndian.Uint32(raw))
	}
}

func TestUpdateDeviceListDiffs(t *testing.T) {
	pool, _ := newTestPool(t)
	sys := NewSystem(pool)

	changed, err := sys.UpdateDeviceList(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("first update must report a change (empty -> one device)")
	}
	changed, err = sys.UpdateDeviceList(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("second update with an unchanged pool must report no change")
	}

	second := newTestDevice(t, "CAM2000")
	pool.Add(second)
	t.Cleanup(func() { pool.Disconnect(second.GUID) })
	changed, err = sys.UpdateDeviceList(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("update after Add must report a change")
	}
}

func TestEnumerateAndOpenDevice(t *testing.T) {
	pool, _ := newTestPool(t)
	sys := NewSystem(pool)
	ifaces := sys.Interfaces()
	if len(ifaces) != 1 {
		t.Fatalf("got %d interfaces", len(ifaces))
	}
	iface := ifaces[0]

	if iface.NumDevices() != 1 {
		t.Fatalf("got %d devices", iface.NumDevices())
	}
	guid, err := iface.DeviceID(0)
	if err != nil {
		t.Fatal(err)
	}
	if guid != "EMU-0CAM1984" {
		t.Fatalf("got guid %q", guid)
	}

	info, err := iface.DeviceInfo(0)
	if err != nil {
		t.Fatal(err)
	}
	if info.SerialNumber != "CAM1984" || info.ManufacturerName != "Acme" {
		t.Fatalf("got info %+v", info)
	}

	dev, err := iface.OpenDevice(guid, "test-owner")
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	serial, err := dev.Nodes.GetString("DeviceSerialNumber")
	if err != nil {
		t.Fatal(err)
	}
	if serial != "CAM1984" {
		t.Fatalf("got serial %q", serial)
	}

	// TimestampNs exercises the IntSwissKnife path over the wire.
	if _, err := dev.Nodes.GetInt("TimestampNs"); err != nil {
		t.Fatal(err)
	}

	raw, err := dev.ReadMemory(context.Background(), 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 4 {
		t.Fatalf("got %d bytes", len(raw))
	}
}

func TestOpenDeviceWithEmptyOwnerGeneratesSessionToken(t *testing.T) {
	pool, _ := newTestPool(t)
	sys := NewSystem(pool)
	iface := sys.Interfaces()[0]
	guid, _ := iface.DeviceID(0)

	dev, err := iface.OpenDevice(guid, "")
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	if dev.owner == "" {
		t.Fatal("expected a generated owner token")
	}
	if dev.SessionID().String() == "" {
		t.Fatal("expected a non-empty session id")
	}
}

func TestOpenDeviceTwiceByDifferentOwnerFails(t *testing.T) {
	pool, _ := newTestPool(t)
	sys := NewSystem(pool)
	iface := sys.Interfaces()[0]
	guid, _ := iface.DeviceID(0)

	dev, err := iface.OpenDevice(guid, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	if _, err := iface.OpenDevice(guid, "owner-b"); err == nil {
		t.Fatal("expected second claim by a different owner to fail")
	}
}

func TestOpenStreamAssemblesFrames(t *testing.T) {
	pool, emuDev := newTestPool(t)
	sys := NewSystem(pool)
	iface := sys.Interfaces()[0]
	guid, _ := iface.DeviceID(0)

	dev, err := iface.OpenDevice(guid, "stream-owner")
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	// Configure the SIRM transfer plan through the control channel, the
	// way a consumer sizes transfers before starting acquisition.
	ctx := context.Background()
	writeU32 := func(addr uint64, v uint32) {
		t.Helper()
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, v)
		if _, err := dev.WriteMemory(ctx, addr, buf); err != nil {
			t.Fatal(err)
		}
	}
	writeU32(dev.sirmBase+registermap.OffsetPayloadTransferSize, 16)
	writeU32(dev.sirmBase+registermap.OffsetPayloadTransferCount, 2)
	writeU32(dev.sirmBase+registermap.OffsetPayloadFinalTransfer1Size, 8)

	stream, err := dev.OpenStream(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	payload := make([]byte, 2*16+8)
	for i := range payload {
		payload[i] = byte(i * 3)
	}
	if err := emuDev.StreamModule.AcquireBlock(payload, protocol.PayloadTypeImage); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-stream.Frames():
		if frame.Leader.PayloadType != protocol.PayloadTypeImage {
			t.Fatalf("got payload type %#x", frame.Leader.PayloadType)
		}
		if string(frame.Payload) != string(payload) {
			t.Fatal("assembled payload differs from acquired payload")
		}
		if frame.Trailer.BlockID != frame.Leader.BlockID {
			t.Fatal("trailer/leader block id mismatch")
		}
		stream.SendBack(frame.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame assembled within 5s")
	}
}
