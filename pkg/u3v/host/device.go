// Package host implements real-hardware U3V transport on top of gousb: one
// bulk IN/OUT endpoint pair per interface (Control/Event/Stream), generalized
// from the single-pipe USB access pattern used for ASIC hardware elsewhere in
// this codebase's history.
package host

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// U3V class/subclass identifiers of the three interfaces on a device. Open
// does not match descriptors against them; it claims interfaces 0, 1 and 2
// by number.
const (
	U3VClass    = 0xEF
	ControlSub  = 0x05
	EventSub    = 0x01
	StreamSub   = 0x02
)

// Device is an opened USB3 Vision device, real hardware accessed through
// libusb via gousb.
type Device struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config

	control *pipe
	event   *pipe
	stream  *pipe
}

type pipe struct {
	intf  *gousb.Interface
	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint
}

// Open opens the first device matching vid/pid and claims its Control,
// Event, and Stream interfaces.
func Open(vid, pid gousb.ID) (*Device, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("open usb device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("u3v device not found (vid:%s pid:%s)", vid, pid)
	}

	config, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("set usb config: %w", err)
	}

	d := &Device{ctx: ctx, dev: dev, config: config}

	d.control, err = claimPipe(config, 0)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("claim control interface: %w", err)
	}
	d.event, err = claimPipe(config, 1)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("claim event interface: %w", err)
	}
	d.stream, err = claimPipe(config, 2)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("claim stream interface: %w", err)
	}

	return d, nil
}

func claimPipe(config *gousb.Config, num int) (*pipe, error) {
	intf, err := config.Interface(num, 0)
	if err != nil {
		return nil, fmt.Errorf("claim interface %d: %w", num, err)
	}
	epOut, err := intf.OutEndpoint(1)
	if err != nil {
		intf.Close()
		return nil, fmt.Errorf("open out endpoint on interface %d: %w", num, err)
	}
	epIn, err := intf.InEndpoint(1)
	if err != nil {
		intf.Close()
		return nil, fmt.Errorf("open in endpoint on interface %d: %w", num, err)
	}
	return &pipe{intf: intf, epOut: epOut, epIn: epIn}, nil
}

// Close releases all claimed interfaces and the USB context.
func (d *Device) Close() error {
	for _, p := range []*pipe{d.control, d.event, d.stream} {
		if p != nil && p.intf != nil {
			p.intf.Close()
		}
	}
	if d.config != nil {
		d.config.Close()
	}
	if d.dev != nil {
		d.dev.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return nil
}

// WriteControl sends a command packet on the control channel's OUT endpoint.
func (d *Device) WriteControl(data []byte) error {
	return writePipe(d.control, data)
}

// ReadControl reads an acknowledge packet from the control channel's IN
// endpoint, blocking up to timeout.
func (d *Device) ReadControl(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return readPipe(ctx, d.control, buf, timeout)
}

// ReadEvent reads an event packet from the event channel's IN endpoint.
func (d *Device) ReadEvent(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return readPipe(ctx, d.event, buf, timeout)
}

// ReadStream reads one transfer's worth of stream data.
func (d *Device) ReadStream(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return readPipe(ctx, d.stream, buf, timeout)
}

func writePipe(p *pipe, data []byte) error {
	if _, err := p.epOut.Write(data); err != nil {
		return fmt.Errorf("usb write: %w", err)
	}
	return nil
}

func readPipe(ctx context.Context, p *pipe, buf []byte, timeout time.Duration) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := p.epIn.ReadContext(cctx, buf)
	if err != nil {
		return 0, fmt.Errorf("usb read: %w", err)
	}
	return n, nil
}
