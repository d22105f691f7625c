package gentl

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"u3vgo/pkg/emulator"
	"u3vgo/pkg/genapi"
	"u3vgo/pkg/u3v/control"
	"u3vgo/pkg/u3v/registermap"
)

// bootstrapMaxLen is the conservative transfer length used for the opening
// reads, before the device's advertised SBRM limits have been adopted.
const bootstrapMaxLen = 1024

// defaultTimeout bounds each control transaction a Device issues.
const defaultTimeout = 2 * time.Second

// OpenDevice claims the control interface of the device with the given
// GUID and opens it for owner. If owner is empty, a session token is
// generated so concurrent anonymous openers don't collide in the pool's
// claim map. Opening performs the GenCP bring-up: halt-cycle the
// control pipe, then read the device's advertised maximum transfer lengths
// from SBRM and adopt them.
func (i *Interface) OpenDevice(guid, owner string) (*Device, error) {
	if owner == "" {
		owner = uuid.NewString()
	}

	pipe, err := i.pool.ClaimInterface(guid, emulator.Control, owner)
	if err != nil {
		return nil, err
	}

	ch := control.New(pipe, bootstrapMaxLen, bootstrapMaxLen, defaultTimeout)
	if err := ch.Open(); err != nil {
		pipe.Close()
		return nil, err
	}

	d := &Device{
		iface:   i,
		guid:    guid,
		owner:   owner,
		sessID:  uuid.New(),
		pipe:    pipe,
		Control: ch,
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := d.adoptLimits(ctx); err != nil {
		pipe.Close()
		return nil, fmt.Errorf("adopt device transfer limits: %w", err)
	}

	store, err := genapi.BuildBootstrapStore()
	if err != nil {
		pipe.Close()
		return nil, err
	}
	d.Nodes = genapi.NewEvaluator(store, devicePort{ch: ch})
	return d, nil
}

// Device models a GenTL DEV module: an opened, claimed device with its
// control channel and a GenApi evaluator whose Port issues reads and
// writes through that channel (evaluator -> Port -> control channel).
type Device struct {
	iface  *Interface
	guid   string
	owner  string
	sessID uuid.UUID

	pipe     *emulator.Pipe
	sbrmBase uint64
	sirmBase uint64

	Control *control.Channel
	Nodes   *genapi.Evaluator
}

// adoptLimits reads SBRM's advertised maximum command/acknowledge transfer
// lengths through the still-conservative channel and applies them.
func (d *Device) adoptLimits(ctx context.Context) error {
	raw, err := d.Control.Read(ctx, registermap.AddrSBRMAddress, 8)
	if err != nil {
		return err
	}
	d.sbrmBase = binary.LittleEndian.Uint64(raw)

	readU32 := func(addr uint64) (uint32, error) {
		b, err := d.Control.Read(ctx, addr, 4)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(b), nil
	}
	maxCmd, err := readU32(d.sbrmBase + registermap.OffsetMaximumCommandTransferLength)
	if err != nil {
		return err
	}
	maxAck, err := readU32(d.sbrmBase + registermap.OffsetMaximumAcknowledgeTransferLength)
	if err != nil {
		return err
	}
	d.Control.SetLimits(maxCmd, maxAck)

	raw, err = d.Control.Read(ctx, d.sbrmBase+registermap.OffsetSirmAddress, 8)
	if err != nil {
		return err
	}
	d.sirmBase = binary.LittleEndian.Uint64(raw)
	return nil
}

// GUID returns the device's GenTL device id.
func (d *Device) GUID() string { return d.guid }

// SessionID identifies this particular open, distinct from the device's
// GUID, so logs can tell two non-overlapping opens of the same device
// apart.
func (d *Device) SessionID() uuid.UUID { return d.sessID }

// ReadMemory reads length bytes at address through the control channel.
func (d *Device) ReadMemory(ctx context.Context, address uint64, length uint16) ([]byte, error) {
	return d.Control.Read(ctx, address, length)
}

// WriteMemory writes data at address through the control channel.
func (d *Device) WriteMemory(ctx context.Context, address uint64, data []byte) (int, error) {
	return d.Control.Write(ctx, address, data)
}

// Close releases the device's control-interface claim. Streams opened via
// OpenStream are closed separately.
func (d *Device) Close() error {
	d.pipe.Close()
	return nil
}

// devicePort adapts the control channel to genapi.Port, so node reads and
// writes travel the wire instead of poking device memory directly.
type devicePort struct {
	ch *control.Channel
}

// ReadPort implements genapi.Port.
func (p devicePort) ReadPort(address uint64, length int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return p.ch.Read(ctx, address, uint16(length))
}

// WritePort implements genapi.Port.
func (p devicePort) WritePort(address uint64, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	_, err := p.ch.Write(ctx, address, data)
	return err
}
