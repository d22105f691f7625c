package host

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// maxControlTransfer bounds the read buffer used to pull one acknowledge
// packet off the control IN endpoint.
const maxControlTransfer = 1 << 16

// Standard USB feature-control requests used to reset an endpoint's halt
// state (USB 2.0 spec §9.4).
const (
	reqClearFeature    = 0x01
	reqSetFeature      = 0x03
	featureEndpointHalt = 0x00
)

// ControlPipe adapts a Device's control interface to control.Pipe so
// pkg/u3v/control can drive real hardware the same way it drives the
// in-process emulator.
type ControlPipe struct {
	dev *Device
}

// ControlPipe returns the Pipe for d's control interface.
func (d *Device) ControlPipe() *ControlPipe { return &ControlPipe{dev: d} }

// WriteCommand implements control.Pipe.
func (p *ControlPipe) WriteCommand(data []byte) error {
	return p.dev.WriteControl(data)
}

// ReadAck implements control.Pipe.
func (p *ControlPipe) ReadAck(ctx context.Context, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, maxControlTransfer)
	n, err := p.dev.ReadControl(ctx, buf, timeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// SetHalt implements control.Pipe: stalls the control endpoints.
func (p *ControlPipe) SetHalt() error {
	return haltEndpoint(p.dev.dev, p.dev.control, reqSetFeature)
}

// ClearHalt implements control.Pipe: clears the halt/stall condition and
// resets the endpoint's data toggle.
func (p *ControlPipe) ClearHalt() error {
	return haltEndpoint(p.dev.dev, p.dev.control, reqClearFeature)
}

func haltEndpoint(dev *gousb.Device, p *pipe, request uint8) error {
	for _, addr := range []uint8{uint8(p.epOut.Desc.Address), uint8(p.epIn.Desc.Address)} {
		_, err := dev.Control(
			0x02, // host-to-device, standard, recipient = endpoint
			request,
			featureEndpointHalt,
			uint16(addr),
			nil,
		)
		if err != nil {
			return fmt.Errorf("endpoint %#x feature request: %w", addr, err)
		}
	}
	return nil
}
