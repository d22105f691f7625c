// Package emulator implements an in-process USB3 Vision device: three
// independent interface state machines (Control/Event/Stream) driven by
// goroutines over buffered channels, backed by the typed register map in
// pkg/memory and pkg/u3v/registermap.
package emulator

import (
	"sync"

	"u3vgo/pkg/u3verr"
)

// InterfaceKind names one of the three U3V interfaces a device exposes.
type InterfaceKind int

const (
	Control InterfaceKind = iota
	Event
	Stream
)

func (k InterfaceKind) String() string {
	switch k {
	case Control:
		return "control"
	case Event:
		return "event"
	case Stream:
		return "stream"
	default:
		return "unknown"
	}
}

// State is the halt state of one interface.
type State int

const (
	Ready State = iota
	Halted
)

func (s State) String() string {
	if s == Halted {
		return "halted"
	}
	return "ready"
}

// halt is a small state machine shared by all three interfaces: entering
// Halted drops queued traffic, and ClearHalt returns to Ready. onDrain, if
// set by the embedding module, is invoked with the halt's own lock released
// so the module can empty its queue without a lock-ordering cycle.
type halt struct {
	mu      sync.Mutex
	state   State
	onDrain func()
}

// setDrain registers the callback SetHalt invokes to empty the embedding
// module's queue. Modules call this once, right after construction.
func (h *halt) setDrain(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrain = fn
}

// SetHalt transitions to Halted and drains whatever traffic the embedding
// module has queued; halting an endpoint discards its pending traffic.
func (h *halt) SetHalt() error {
	h.mu.Lock()
	h.state = Halted
	fn := h.onDrain
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (h *halt) ClearHalt() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = Ready
	return nil
}

func (h *halt) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *halt) requireReady() error {
	if h.State() == Halted {
		return u3verr.ErrIfaceHalted
	}
	return nil
}
