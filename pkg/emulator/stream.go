package emulator

import (
	"context"
	"sync"
	"time"

	"u3vgo/pkg/u3v/protocol"
	"u3vgo/pkg/u3verr"
)

// StreamModule is the emulated device's stream interface: it acquires
// caller-supplied payload bytes and frames them as Leader/Payload/Trailer
// per the device's current PayloadPlan, gated by the
// SIControl enable bit.
type StreamModule struct {
	halt

	mu      sync.Mutex
	enabled bool
	plan    protocol.PayloadPlan
	blockID uint64
	queue   [][]byte
	notify  chan struct{}
	signals chan<- InterfaceSignal
}

// NewStreamModule builds a stream module using the given transfer plan.
// The module starts disabled; the host enables it by setting the SIControl
// enable bit after configuring the SIRM transfer registers.
func NewStreamModule(plan protocol.PayloadPlan) *StreamModule {
	m := &StreamModule{plan: plan, notify: make(chan struct{}, 1)}
	m.setDrain(func() {
		m.mu.Lock()
		m.queue = nil
		m.mu.Unlock()
	})
	return m
}

// setSignals wires the module to its hub for self-halt notifications.
func (m *StreamModule) setSignals(ch chan<- InterfaceSignal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = ch
}

// SetEnabled flips the module's enable state; driven by the SIControl
// write observer installed in NewDevice. Disabling discards nothing: any
// in-flight frame's remaining transfers stay queued so the host can finish
// reading it cleanly.
func (m *StreamModule) SetEnabled(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = on
}

// Enabled reports the current enable state.
func (m *StreamModule) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// SetPlan updates the transfer plan, e.g. after the host writes new SIRM
// PayloadTransferSize/Count registers.
func (m *StreamModule) SetPlan(plan protocol.PayloadPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plan = plan
}

// Plan returns the current transfer plan.
func (m *StreamModule) Plan() protocol.PayloadPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plan
}

// AcquireBlock frames payload as Leader + chunked payload transfers +
// Trailer and enqueues them for host-side reads. Fails when the stream
// interface is halted, disabled, or the payload size does not match the
// current transfer plan.
func (m *StreamModule) AcquireBlock(payload []byte, payloadType uint16) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return u3verr.NewInvalidData("stream interface disabled")
	}
	m.blockID++
	blockID := m.blockID
	plan := m.plan
	m.mu.Unlock()

	chunks := plan.Chunks(uint64(len(payload)))
	if chunks == nil {
		return u3verr.NewInvalidData("payload size does not match the stream's transfer plan")
	}

	transfers := make([][]byte, 0, len(chunks)+2)
	transfers = append(transfers, protocol.Leader{BlockID: blockID, PayloadType: payloadType}.Serialize())
	off := 0
	for _, n := range chunks {
		transfers = append(transfers, payload[off:off+int(n)])
		off += int(n)
	}
	transfers = append(transfers, protocol.Trailer{BlockID: blockID, PayloadType: payloadType}.Serialize())

	m.mu.Lock()
	m.queue = append(m.queue, transfers...)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// TryRead pops the next queued bulk transfer without blocking.
func (m *StreamModule) TryRead() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	t := m.queue[0]
	m.queue = m.queue[1:]
	return t, true
}

// ReadTransfer returns the next queued bulk transfer (a leader, a payload
// chunk, or a trailer). A halted interface yields ErrIfaceHalted immediately,
// never a stale already-queued transfer.
func (m *StreamModule) ReadTransfer(ctx context.Context, timeout time.Duration) ([]byte, error) {
	for {
		if err := m.requireReady(); err != nil {
			return nil, err
		}

		if t, ok := m.TryRead(); ok {
			return t, nil
		}

		timer := time.NewTimer(timeout)
		select {
		case <-m.notify:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, u3verr.ErrTimeout
		}
	}
}
