package emulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"u3vgo/pkg/u3verr"
)

// FakeReqKind enumerates the requests a host can put on the fake wire:
// pull a queued packet, push command bytes, and the two halt
// transitions.
type FakeReqKind int

const (
	ReqRecv FakeReqKind = iota
	ReqSend
	ReqSetHalt
	ReqClearHalt
)

func (k FakeReqKind) String() string {
	switch k {
	case ReqRecv:
		return "Recv"
	case ReqSend:
		return "Send"
	case ReqSetHalt:
		return "SetHalt"
	case ReqClearHalt:
		return "ClearHalt"
	default:
		return "unknown"
	}
}

// FakeAckKind enumerates the replies the hub produces, one per request.
type FakeAckKind int

const (
	AckRecv FakeAckKind = iota
	AckRecvNak
	AckSend
	AckSendNak
	AckSetHalt
	AckClearHalt
	AckIfaceHalted
	AckBrokenReq
)

func (k FakeAckKind) String() string {
	switch k {
	case AckRecv:
		return "RecvAck"
	case AckRecvNak:
		return "RecvNak"
	case AckSend:
		return "SendAck"
	case AckSendNak:
		return "SendNak"
	case AckSetHalt:
		return "SetHaltAck"
	case AckClearHalt:
		return "ClearHaltAck"
	case AckIfaceHalted:
		return "IfaceHalted"
	case AckBrokenReq:
		return "BrokenReq"
	default:
		return "unknown"
	}
}

// FakeReqPacket is one host request on the fake wire, addressed to a single
// interface. Data is only meaningful for ReqSend.
type FakeReqPacket struct {
	Iface InterfaceKind
	Kind  FakeReqKind
	Data  []byte
}

// FakeAckPacket is the hub's reply to one FakeReqPacket. Data is only
// meaningful for AckRecv.
type FakeAckPacket struct {
	Iface InterfaceKind
	Kind  FakeAckKind
	Data  []byte
}

// recvPollInterval is how long a Pipe sleeps between Recv polls while the
// device has nothing queued. The fake wire has no IRP completion to wait
// on, so the host side polls, like a bulk-IN transfer being resubmitted.
const recvPollInterval = 500 * time.Microsecond

// Pipe is an owning handle to one claimed (device, interface) pair: the
// request/ack channel pair an interface claim hands out. Close releases the
// claim. A Control-interface Pipe additionally satisfies control.Pipe so
// pkg/u3v/control can drive the emulator through the same code path it
// drives real hardware.
type Pipe struct {
	iface InterfaceKind
	hub   *InterfaceHub

	releaseOnce sync.Once
	release     func()
}

// Iface reports which interface this pipe is claimed on.
func (p *Pipe) Iface() InterfaceKind { return p.iface }

// Close releases the claim on the underlying (device, interface) pair.
// Safe to call more than once.
func (p *Pipe) Close() {
	p.releaseOnce.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// RoundTrip submits one request and blocks for its ack. Requests from all
// pipes of a device funnel through the hub's single queue, so acks come
// back in strict request order.
func (p *Pipe) RoundTrip(ctx context.Context, kind FakeReqKind, data []byte) (FakeAckPacket, error) {
	req := hubRequest{
		pkt:   FakeReqPacket{Iface: p.iface, Kind: kind, Data: data},
		reply: make(chan FakeAckPacket, 1),
	}
	select {
	case p.hub.reqCh <- req:
	case <-ctx.Done():
		return FakeAckPacket{}, ctx.Err()
	case <-p.hub.done:
		return FakeAckPacket{}, u3verr.ErrNoDevice
	}
	select {
	case ack := <-req.reply:
		return ack, nil
	case <-ctx.Done():
		return FakeAckPacket{}, ctx.Err()
	case <-p.hub.done:
		return FakeAckPacket{}, u3verr.ErrNoDevice
	}
}

// RecvPacket polls the interface's queue until a packet arrives, timeout
// elapses, or ctx is cancelled. A halted interface fails immediately with
// ErrIfaceHalted.
func (p *Pipe) RecvPacket(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		ack, err := p.RoundTrip(ctx, ReqRecv, nil)
		if err != nil {
			return nil, err
		}
		switch ack.Kind {
		case AckRecv:
			return ack.Data, nil
		case AckRecvNak:
			if time.Now().After(deadline) {
				return nil, u3verr.ErrTimeout
			}
			select {
			case <-time.After(recvPollInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case AckIfaceHalted:
			return nil, u3verr.ErrIfaceHalted
		default:
			return nil, fmt.Errorf("unexpected %s reply to Recv: %w", ack.Kind, u3verr.ErrIo)
		}
	}
}

// WriteCommand implements control.Pipe: pushes one command packet through
// the fake wire's Send request.
func (p *Pipe) WriteCommand(data []byte) error {
	ack, err := p.RoundTrip(context.Background(), ReqSend, data)
	if err != nil {
		return err
	}
	switch ack.Kind {
	case AckSend:
		return nil
	case AckIfaceHalted:
		return u3verr.ErrIfaceHalted
	case AckBrokenReq:
		return fmt.Errorf("send not supported on %s interface: %w", p.iface, u3verr.ErrIo)
	default:
		return fmt.Errorf("unexpected %s reply to Send: %w", ack.Kind, u3verr.ErrIo)
	}
}

// ReadAck implements control.Pipe.
func (p *Pipe) ReadAck(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return p.RecvPacket(ctx, timeout)
}

// SetHalt implements control.Pipe.
func (p *Pipe) SetHalt() error {
	ack, err := p.RoundTrip(context.Background(), ReqSetHalt, nil)
	if err != nil {
		return err
	}
	if ack.Kind != AckSetHalt {
		return fmt.Errorf("unexpected %s reply to SetHalt: %w", ack.Kind, u3verr.ErrIo)
	}
	return nil
}

// ClearHalt implements control.Pipe.
func (p *Pipe) ClearHalt() error {
	ack, err := p.RoundTrip(context.Background(), ReqClearHalt, nil)
	if err != nil {
		return err
	}
	if ack.Kind != AckClearHalt {
		return fmt.Errorf("unexpected %s reply to ClearHalt: %w", ack.Kind, u3verr.ErrIo)
	}
	return nil
}
