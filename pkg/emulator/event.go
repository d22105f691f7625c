package emulator

import (
	"context"
	"sync"
	"time"

	"u3vgo/pkg/u3v/protocol"
	"u3vgo/pkg/u3verr"
)

// EventModule is the emulated device's event interface: a bounded FIFO of
// pending single-event packets, gated by the EIControl enable bit. Per
// a host that does not drain the queue quickly
// enough causes the interface to self-halt on overflow rather than silently
// drop or block the emitting side.
type EventModule struct {
	halt

	mu      sync.Mutex
	enabled bool
	queue   [][]byte
	maxSize int
	notify  chan struct{}
	signals chan<- InterfaceSignal

	requestID uint32
}

// NewEventModule builds an event module with room for maxSize queued event
// packets before it halts itself. The module starts disabled; the host
// enables it by setting the EIControl enable bit.
func NewEventModule(maxSize int) *EventModule {
	m := &EventModule{maxSize: maxSize, notify: make(chan struct{}, 1)}
	m.setDrain(func() {
		m.mu.Lock()
		m.queue = nil
		m.mu.Unlock()
	})
	return m
}

// setSignals wires the module to its hub so overflow self-halts also clear
// the EIControl enable register.
func (m *EventModule) setSignals(ch chan<- InterfaceSignal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = ch
}

// SetEnabled flips the module's enable state; driven by the EIControl
// write observer installed in NewDevice.
func (m *EventModule) SetEnabled(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = on
}

// Enabled reports the current enable state.
func (m *EventModule) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Emit enqueues a single-event packet. If the queue is already full, the
// event interface transitions to Halted, the event is dropped, and the hub
// (when wired) is signalled so the EIControl enable bit is cleared too; the
// host must ClearHalt before further events are accepted.
func (m *EventModule) Emit(eventID uint16, data []byte, nowTimestamp uint64) error {
	if err := m.requireReady(); err != nil {
		return err
	}

	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return u3verr.NewInvalidData("event interface disabled")
	}
	if len(m.queue) >= m.maxSize {
		sig := m.signals
		m.mu.Unlock()
		m.SetHalt()
		if sig != nil {
			select {
			case sig <- InterfaceSignal{Kind: SignalHalt, Iface: Event}:
			default:
			}
		}
		return u3verr.ErrBusy
	}
	pkt := protocol.SerializeSingle(0, uint16(m.nextRequestID()), eventID, nowTimestamp, data)
	m.queue = append(m.queue, pkt)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// nextRequestID must be called with m.mu held.
func (m *EventModule) nextRequestID() uint32 {
	m.requestID++
	return m.requestID
}

// TryRead pops the oldest queued event packet without blocking.
func (m *EventModule) TryRead() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	pkt := m.queue[0]
	m.queue = m.queue[1:]
	return pkt, true
}

// ReadEvent implements the host-side pull: blocks until an event is queued,
// ctx is cancelled, or timeout elapses. A halted interface yields
// ErrIfaceHalted immediately, never a stale already-queued packet.
func (m *EventModule) ReadEvent(ctx context.Context, timeout time.Duration) ([]byte, error) {
	for {
		if err := m.requireReady(); err != nil {
			return nil, err
		}

		if pkt, ok := m.TryRead(); ok {
			return pkt, nil
		}

		t := time.NewTimer(timeout)
		select {
		case <-m.notify:
			t.Stop()
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
			return nil, u3verr.ErrTimeout
		}
	}
}

// QueueLen reports the number of currently queued, undelivered events.
func (m *EventModule) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
