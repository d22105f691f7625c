package emulator

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"u3vgo/pkg/u3v/control"
	"u3vgo/pkg/u3v/protocol"
	"u3vgo/pkg/u3v/registermap"
	"u3vgo/pkg/u3verr"
)

func newPooledDevice(t *testing.T) (*Pool, *Device) {
	t.Helper()
	dev := newTestDevice(t)
	pool := NewPool()
	pool.Add(dev)
	t.Cleanup(func() { pool.Disconnect(dev.GUID) })
	return pool, dev
}

// TestFakeWireControlTransaction drives a full control transaction through
// the claimed fake-wire pipe: claim, halt-cycle, chunked read, release.
func TestFakeWireControlTransaction(t *testing.T) {
	pool, dev := newPooledDevice(t)

	pipe, err := pool.ClaimInterface(dev.GUID, Control, "host")
	if err != nil {
		t.Fatal(err)
	}
	defer pipe.Close()

	ch := control.New(pipe, 1024, 1024, time.Second)
	if err := ch.Open(); err != nil {
		t.Fatal(err)
	}

	got, err := ch.Read(context.Background(), registermap.AddrSerialNumber, 64)
	if err != nil {
		t.Fatal(err)
	}
	if s := trimNUL(got); s != "CAM1984" {
		t.Fatalf("got serial %q over the fake wire", s)
	}
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// TestFakeWireSendOnEventIsBroken checks that a Send addressed to a
// non-control interface yields BrokenReq.
func TestFakeWireSendOnEventIsBroken(t *testing.T) {
	pool, dev := newPooledDevice(t)

	pipe, err := pool.ClaimInterface(dev.GUID, Event, "host")
	if err != nil {
		t.Fatal(err)
	}
	defer pipe.Close()

	ack, err := pipe.RoundTrip(context.Background(), ReqSend, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if ack.Kind != AckBrokenReq {
		t.Fatalf("got %s, want BrokenReq", ack.Kind)
	}
}

// TestFakeWireEventOverflowHaltIsolation covers halt isolation
// over the fake wire: overflow self-halts the event
// interface (clearing its enable bit through the hub), Recv(Event) yields
// IfaceHalted while other interfaces are unaffected, and ClearHalt
// restores RecvNak.
func TestFakeWireEventOverflowHaltIsolation(t *testing.T) {
	pool, dev := newPooledDevice(t)

	ctrlPipe, err := pool.ClaimInterface(dev.GUID, Control, "host")
	if err != nil {
		t.Fatal(err)
	}
	defer ctrlPipe.Close()
	eventPipe, err := pool.ClaimInterface(dev.GUID, Event, "host")
	if err != nil {
		t.Fatal(err)
	}
	defer eventPipe.Close()

	// Enable events with a host register write through the wire.
	ch := control.New(ctrlPipe, 1024, 1024, time.Second)
	if err := ch.Open(); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 1<<registermap.BitEIControlEnable)
	if _, err := ch.Write(context.Background(), addrEIRM+registermap.OffsetEIControl, buf); err != nil {
		t.Fatal(err)
	}

	// Fill the queue, then overflow it.
	for i := 0; ; i++ {
		if err := dev.EventModule.Emit(1, nil, uint64(i)); err != nil {
			if !errors.Is(err, u3verr.ErrBusy) {
				t.Fatalf("unexpected emit error: %v", err)
			}
			break
		}
		if i > 100 {
			t.Fatal("queue never overflowed")
		}
	}

	// The hub processes the self-halt signal asynchronously; wait for the
	// enable bit to be cleared.
	deadline := time.Now().Add(time.Second)
	for dev.EventModule.Enabled() {
		if time.Now().After(deadline) {
			t.Fatal("EIControl enable bit never cleared after self-halt")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := eventPipe.RecvPacket(context.Background(), 10*time.Millisecond); !errors.Is(err, u3verr.ErrIfaceHalted) {
		t.Fatalf("got %v, want ErrIfaceHalted on halted event interface", err)
	}

	// Other interfaces are unaffected: control still answers.
	if _, err := ch.Read(context.Background(), 0, 4); err != nil {
		t.Fatalf("control interface affected by event halt: %v", err)
	}

	if err := eventPipe.ClearHalt(); err != nil {
		t.Fatal(err)
	}
	if _, err := eventPipe.RecvPacket(context.Background(), 5*time.Millisecond); !errors.Is(err, u3verr.ErrTimeout) {
		t.Fatalf("got %v, want timeout (RecvNak) after ClearHalt on drained queue", err)
	}
}

// TestEmitWhileDisabledFails checks the EIControl gate.
func TestEmitWhileDisabledFails(t *testing.T) {
	dev := newTestDevice(t)
	if err := dev.EventModule.Emit(1, nil, 0); err == nil {
		t.Fatal("expected Emit on a disabled event module to fail")
	}
}

// TestFakeWireSetHaltControl checks the halt round-trip on the control
// interface and that Send is refused while halted.
func TestFakeWireSetHaltControl(t *testing.T) {
	pool, dev := newPooledDevice(t)

	pipe, err := pool.ClaimInterface(dev.GUID, Control, "host")
	if err != nil {
		t.Fatal(err)
	}
	defer pipe.Close()

	if err := pipe.SetHalt(); err != nil {
		t.Fatal(err)
	}
	cmd := protocol.ReadMemCmd{Address: 0, ReadLength: 4}.Serialize(0, true)
	if err := pipe.WriteCommand(cmd); !errors.Is(err, u3verr.ErrIfaceHalted) {
		t.Fatalf("got %v, want ErrIfaceHalted", err)
	}
	if err := pipe.ClearHalt(); err != nil {
		t.Fatal(err)
	}
	if err := pipe.WriteCommand(cmd); err != nil {
		t.Fatalf("send after ClearHalt failed: %v", err)
	}
	if _, err := pipe.ReadAck(context.Background(), time.Second); err != nil {
		t.Fatalf("ack after ClearHalt failed: %v", err)
	}
}

// TestPoolInterfaceClaims covers the claim/release/disconnect lifecycle.
func TestPoolInterfaceClaims(t *testing.T) {
	pool, dev := newPooledDevice(t)

	pipe, err := pool.ClaimInterface(dev.GUID, Stream, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.ClaimInterface(dev.GUID, Stream, "owner-b"); !errors.Is(err, u3verr.ErrBusy) {
		t.Fatalf("got %v, want ErrBusy for second claimer", err)
	}
	// A different interface of the same device is independently claimable.
	other, err := pool.ClaimInterface(dev.GUID, Event, "owner-b")
	if err != nil {
		t.Fatal(err)
	}
	other.Close()

	pipe.Close()
	pipe2, err := pool.ClaimInterface(dev.GUID, Stream, "owner-b")
	if err != nil {
		t.Fatalf("claim after release failed: %v", err)
	}
	pipe2.Close()

	pool.Disconnect(dev.GUID)
	if _, err := pool.ClaimInterface(dev.GUID, Control, "owner-a"); !errors.Is(err, u3verr.ErrNoDevice) {
		t.Fatalf("got %v, want ErrNoDevice after disconnect", err)
	}
}

// TestStreamModulePlanFromSIRM checks that enabling SIControl snapshots
// the SIRM transfer registers into the stream module's plan and that an
// acquired block round-trips through the fake wire transfer by transfer.
func TestStreamModulePlanFromSIRM(t *testing.T) {
	pool, dev := newPooledDevice(t)

	ctrlPipe, err := pool.ClaimInterface(dev.GUID, Control, "host")
	if err != nil {
		t.Fatal(err)
	}
	defer ctrlPipe.Close()
	ch := control.New(ctrlPipe, 1024, 1024, time.Second)
	if err := ch.Open(); err != nil {
		t.Fatal(err)
	}

	writeU32 := func(offset uint64, v uint32) {
		t.Helper()
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, v)
		if _, err := ch.Write(context.Background(), addrSIRM+offset, buf); err != nil {
			t.Fatal(err)
		}
	}
	writeU32(registermap.OffsetPayloadTransferSize, 8)
	writeU32(registermap.OffsetPayloadTransferCount, 3)
	writeU32(registermap.OffsetPayloadFinalTransfer1Size, 4)
	writeU32(registermap.OffsetPayloadFinalTransfer2Size, 0)
	writeU32(registermap.OffsetSIControl, 1<<registermap.BitSIControlEnable)

	deadline := time.Now().Add(time.Second)
	for !dev.StreamModule.Enabled() {
		if time.Now().After(deadline) {
			t.Fatal("SIControl write never enabled the stream module")
		}
		time.Sleep(time.Millisecond)
	}
	plan := dev.StreamModule.Plan()
	if plan.TransferSize != 8 || plan.TransferCount != 3 || plan.FinalTransfer1Size != 4 {
		t.Fatalf("got plan %+v", plan)
	}

	payload := make([]byte, 3*8+4)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := dev.StreamModule.AcquireBlock(payload, protocol.PayloadTypeImage); err != nil {
		t.Fatal(err)
	}

	streamPipe, err := pool.ClaimInterface(dev.GUID, Stream, "host")
	if err != nil {
		t.Fatal(err)
	}
	defer streamPipe.Close()

	leaderRaw, err := streamPipe.RecvPacket(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	leader, err := protocol.ParseLeader(leaderRaw)
	if err != nil {
		t.Fatal(err)
	}
	if leader.PayloadType != protocol.PayloadTypeImage {
		t.Fatalf("got payload type %#x", leader.PayloadType)
	}
	var got []byte
	for _, want := range []int{8, 8, 8, 4} {
		chunk, err := streamPipe.RecvPacket(context.Background(), time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk) != want {
			t.Fatalf("got %d-byte transfer, want %d", len(chunk), want)
		}
		got = append(got, chunk...)
	}
	trailerRaw, err := streamPipe.RecvPacket(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	trailer, err := protocol.ParseTrailer(trailerRaw)
	if err != nil {
		t.Fatal(err)
	}
	if trailer.BlockID != leader.BlockID {
		t.Fatalf("trailer block id %d != leader block id %d", trailer.BlockID, leader.BlockID)
	}
	if string(got) != string(payload) {
		t.Fatal("reassembled payload differs from acquired payload")
	}
}
