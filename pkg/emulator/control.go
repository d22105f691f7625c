package emulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"u3vgo/pkg/memory"
	"u3vgo/pkg/u3v/protocol"
	"u3vgo/pkg/u3verr"
)

// ControlModule is the emulated device's control interface: it decodes
// command packets against a *memory.Memory and produces the matching
// acknowledge, including the Pending-ack retry sequence exercised by test
// harnesses that call SimulateBusy.
type ControlModule struct {
	halt

	mem *memory.Memory

	cmdCh chan []byte
	ackCh chan []byte

	mu            sync.Mutex
	pendingCounts map[uint64]int
	pendingDelay  time.Duration

	stop chan struct{}
	once sync.Once
}

// NewControlModule builds a control module over mem with a small bounded
// command/ack queue, matching the single-outstanding-request nature of the
// control channel.
func NewControlModule(mem *memory.Memory) *ControlModule {
	c := &ControlModule{
		mem:           mem,
		cmdCh:         make(chan []byte, 4),
		ackCh:         make(chan []byte, 16),
		pendingCounts: make(map[uint64]int),
		pendingDelay:  50 * time.Millisecond,
		stop:          make(chan struct{}),
	}
	c.setDrain(func() {
		for {
			select {
			case <-c.cmdCh:
			case <-c.ackCh:
			default:
				return
			}
		}
	})
	return c
}

// SimulateBusy arranges for the next command touching address to receive
// `times` Pending acknowledges before its real result is returned.
func (c *ControlModule) SimulateBusy(address uint64, times int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingCounts[address] = times
}

// Run drives the module's command loop until Stop is called. Intended to be
// launched with `go module.Run()`.
func (c *ControlModule) Run() {
	for {
		select {
		case <-c.stop:
			return
		case pkt := <-c.cmdCh:
			for _, ack := range c.handle(pkt) {
				c.ackCh <- ack
			}
		}
	}
}

// Stop terminates Run.
func (c *ControlModule) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// CancelJobs aborts any in-flight pending-ack simulation, returning the
// module to an idle state. The hub calls this as the first step of a
// control-interface SetHalt; the cancel completes synchronously since the
// hub and the pending bookkeeping share no goroutine.
func (c *ControlModule) CancelJobs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingCounts = make(map[uint64]int)
}

// TryReadAck pops one produced acknowledge without blocking.
func (c *ControlModule) TryReadAck() ([]byte, bool) {
	select {
	case ack := <-c.ackCh:
		return ack, true
	default:
		return nil, false
	}
}

// WriteCommand implements control.Pipe: enqueues a command packet for
// processing by Run.
func (c *ControlModule) WriteCommand(data []byte) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.cmdCh <- buf
	return nil
}

// ReadAck implements control.Pipe: blocks for the next produced acknowledge.
// A halted interface yields ErrIfaceHalted immediately, never a stale
// already-queued acknowledge.
func (c *ControlModule) ReadAck(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ack := <-c.ackCh:
		return ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, u3verr.ErrTimeout
	}
}

// handle decodes one command packet and produces its ack sequence: zero or
// more Pending acks (when a simulated stall is armed on the target
// address), then exactly one definitive ack, all under the command's
// request id — the host keeps reading without resending.
func (c *ControlModule) handle(pkt []byte) [][]byte {
	parsed, err := protocol.ParseCommand(pkt)
	if err != nil {
		return [][]byte{protocol.ErrorAck{Status: protocol.StatusInvalidHeader}.Serialize(0)}
	}
	requestID := parsed.Header.RequestID

	switch {
	case parsed.Header.CommandID == protocol.KindReadMem:
		return c.handleReadMem(parsed.Scd, requestID)
	case parsed.Header.CommandID == protocol.KindWriteMem:
		return c.handleWriteMem(parsed.Scd, requestID)
	case parsed.Header.CommandID == protocol.KindReadMemStacked:
		return [][]byte{c.handleReadMemStacked(parsed.Scd, requestID)}
	case parsed.Header.CommandID == protocol.KindWriteMemStacked:
		return [][]byte{c.handleWriteMemStacked(parsed.Scd, requestID)}
	case protocol.IsCustom(parsed.Header.CommandID):
		// Vendor passthrough: echo the SCD back under the same custom id.
		id := parsed.Header.CommandID &^ protocol.CustomBit
		return [][]byte{protocol.CustomAck{ID: id, Data: parsed.Scd}.Serialize(requestID)}
	default:
		return [][]byte{protocol.ErrorAck{Status: protocol.StatusNotImplemented, Kind: parsed.Header.CommandID}.Serialize(requestID)}
	}
}

// pendingAcks drains the simulated-stall budget for address into a Pending
// ack prefix.
func (c *ControlModule) pendingAcks(address uint64, requestID uint16) [][]byte {
	var acks [][]byte
	for c.takePending(address) {
		acks = append(acks, protocol.PendingAck{TimeoutMs: uint16(c.pendingDelay.Milliseconds())}.Serialize(requestID))
	}
	return acks
}

// takePending reports whether address still owes a simulated Pending
// acknowledge, consuming one unit of the budget if so.
func (c *ControlModule) takePending(address uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.pendingCounts[address]; n > 0 {
		c.pendingCounts[address] = n - 1
		return true
	}
	return false
}

func (c *ControlModule) handleReadMem(scd []byte, requestID uint16) [][]byte {
	cmd, err := protocol.ParseReadMemCmd(scd)
	if err != nil {
		return [][]byte{protocol.ErrorAck{Status: protocol.StatusInvalidParameter, Kind: protocol.KindReadMem}.Serialize(requestID)}
	}
	acks := c.pendingAcks(cmd.Address, requestID)
	data, err := c.mem.ReadRaw(cmd.Address, int(cmd.ReadLength))
	if err != nil {
		return append(acks, protocol.ErrorAck{Status: statusForError(err), Kind: protocol.KindReadMem}.Serialize(requestID))
	}
	return append(acks, protocol.ReadMemAck{Data: data}.Serialize(requestID))
}

func (c *ControlModule) handleWriteMem(scd []byte, requestID uint16) [][]byte {
	cmd, err := protocol.ParseWriteMemCmd(scd)
	if err != nil {
		return [][]byte{protocol.ErrorAck{Status: protocol.StatusInvalidParameter, Kind: protocol.KindWriteMem}.Serialize(requestID)}
	}
	acks := c.pendingAcks(cmd.Address, requestID)
	if err := c.mem.WriteRaw(cmd.Address, cmd.Data); err != nil {
		return append(acks, protocol.ErrorAck{Status: statusForError(err), Kind: protocol.KindWriteMem}.Serialize(requestID))
	}
	return append(acks, protocol.WriteMemAck{Length: uint16(len(cmd.Data))}.Serialize(requestID))
}

func (c *ControlModule) handleReadMemStacked(scd []byte, requestID uint16) []byte {
	cmd, err := protocol.ParseReadMemStackedCmd(scd)
	if err != nil {
		return protocol.ErrorAck{Status: protocol.StatusInvalidParameter, Kind: protocol.KindReadMemStacked}.Serialize(requestID)
	}
	var out []byte
	for _, e := range cmd.Entries {
		data, err := c.mem.ReadRaw(e.Address, int(e.ReadLength))
		if err != nil {
			return protocol.ErrorAck{Status: statusForError(err), Kind: protocol.KindReadMemStacked}.Serialize(requestID)
		}
		out = append(out, data...)
	}
	return protocol.ReadMemStackedAck{Data: out}.Serialize(requestID)
}

func (c *ControlModule) handleWriteMemStacked(scd []byte, requestID uint16) []byte {
	cmd, err := protocol.ParseWriteMemStackedCmd(scd)
	if err != nil {
		return protocol.ErrorAck{Status: protocol.StatusInvalidParameter, Kind: protocol.KindWriteMemStacked}.Serialize(requestID)
	}
	lengths := make([]uint16, 0, len(cmd.Entries))
	for _, e := range cmd.Entries {
		if err := c.mem.WriteRaw(e.Address, e.Data); err != nil {
			return protocol.ErrorAck{Status: statusForError(err), Kind: protocol.KindWriteMemStacked}.Serialize(requestID)
		}
		lengths = append(lengths, uint16(len(e.Data)))
	}
	return protocol.WriteMemStackedAck{Lengths: lengths}.Serialize(requestID)
}

func statusForError(err error) protocol.Status {
	switch {
	case errors.Is(err, u3verr.ErrInvalidAddress):
		return protocol.StatusInvalidAddress
	case errors.Is(err, u3verr.ErrAddressNotWritable), errors.Is(err, u3verr.ErrAddressNotReadable):
		return protocol.StatusAccessDenied
	default:
		return protocol.StatusError
	}
}
