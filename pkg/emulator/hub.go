package emulator

import (
	"context"
	"log"
)

// SignalKind enumerates the module-originated signals an InterfaceHub
// reacts to.
type SignalKind int

const (
	// SignalHalt asks the hub to halt a module's own interface, e.g. the
	// event module self-halting on queue overflow.
	SignalHalt SignalKind = iota
)

// InterfaceSignal is one module-to-hub notification.
type InterfaceSignal struct {
	Kind  SignalKind
	Iface InterfaceKind
}

// hubRequest pairs one fake-wire request with its reply slot.
type hubRequest struct {
	pkt   FakeReqPacket
	reply chan FakeAckPacket
}

// InterfaceHub is the emulated device's packet router: a single goroutine
// that pops fake-wire requests in FIFO order, dispatches them to the three
// interface modules, and applies module-originated halt signals. Strict
// ordering of acks per interface follows from the single loop.
type InterfaceHub struct {
	dev   *Device
	reqCh chan hubRequest
	sigCh chan InterfaceSignal
	done  chan struct{}
}

func newInterfaceHub(dev *Device) *InterfaceHub {
	return &InterfaceHub{
		dev:   dev,
		reqCh: make(chan hubRequest, 32),
		sigCh: make(chan InterfaceSignal, 8),
		done:  make(chan struct{}),
	}
}

// Signals returns the channel modules use to notify the hub, e.g. for a
// self-halt on queue overflow.
func (h *InterfaceHub) Signals() chan<- InterfaceSignal { return h.sigCh }

// Run drives the hub loop until ctx is cancelled. Pending pipe round trips
// fail with ErrNoDevice once the loop exits.
func (h *InterfaceHub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-h.reqCh:
			req.reply <- h.handle(req.pkt)
		case sig := <-h.sigCh:
			if sig.Kind == SignalHalt {
				log.Printf("emulator: %s interface self-halt", sig.Iface)
				h.setHalt(sig.Iface)
			}
		}
	}
}

func (h *InterfaceHub) handle(pkt FakeReqPacket) FakeAckPacket {
	ack := func(kind FakeAckKind, data []byte) FakeAckPacket {
		return FakeAckPacket{Iface: pkt.Iface, Kind: kind, Data: data}
	}

	switch pkt.Kind {
	case ReqSetHalt:
		h.setHalt(pkt.Iface)
		return ack(AckSetHalt, nil)

	case ReqClearHalt:
		h.moduleHalt(pkt.Iface).ClearHalt()
		return ack(AckClearHalt, nil)

	case ReqRecv:
		if h.moduleHalt(pkt.Iface).State() == Halted {
			return ack(AckIfaceHalted, nil)
		}
		if data, ok := h.tryRecv(pkt.Iface); ok {
			return ack(AckRecv, data)
		}
		return ack(AckRecvNak, nil)

	case ReqSend:
		if pkt.Iface != Control {
			return ack(AckBrokenReq, nil)
		}
		if h.dev.ControlModule.State() == Halted {
			return ack(AckIfaceHalted, nil)
		}
		if err := h.dev.ControlModule.WriteCommand(pkt.Data); err != nil {
			return ack(AckSendNak, nil)
		}
		return ack(AckSend, nil)

	default:
		return ack(AckBrokenReq, nil)
	}
}

// setHalt performs the full set-halt sequence for one interface: cancel any
// in-flight work, clear the corresponding enable register (Event/Stream),
// and transition the module to Halted, draining its queue.
// Idempotent; halting an already-halted interface is a no-op beyond the
// drain.
func (h *InterfaceHub) setHalt(iface InterfaceKind) {
	switch iface {
	case Control:
		h.dev.ControlModule.CancelJobs()
		h.dev.ControlModule.SetHalt()
	case Event:
		h.dev.clearEIEnable()
		h.dev.EventModule.SetHalt()
	case Stream:
		h.dev.clearSIEnable()
		h.dev.StreamModule.SetHalt()
	}
}

func (h *InterfaceHub) moduleHalt(iface InterfaceKind) *halt {
	switch iface {
	case Control:
		return &h.dev.ControlModule.halt
	case Event:
		return &h.dev.EventModule.halt
	default:
		return &h.dev.StreamModule.halt
	}
}

func (h *InterfaceHub) tryRecv(iface InterfaceKind) ([]byte, bool) {
	switch iface {
	case Control:
		return h.dev.ControlModule.TryReadAck()
	case Event:
		return h.dev.EventModule.TryRead()
	default:
		return h.dev.StreamModule.TryRead()
	}
}
