// Package control implements the host-side control channel: request-id
// correlation, chunked ReadMem/WriteMem, and the Pending-ack retry
// protocol, layered on a transport-agnostic Pipe so the same logic drives
// both real hardware (pkg/u3v/host) and the in-process emulator.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"u3vgo/pkg/u3v/protocol"
	"u3vgo/pkg/u3verr"
)

// Pipe abstracts the bulk transport a ControlChannel is layered on: a real
// USB endpoint pair or the emulator's in-process command/ack queue.
type Pipe interface {
	WriteCommand(data []byte) error
	ReadAck(ctx context.Context, timeout time.Duration) ([]byte, error)
	SetHalt() error
	ClearHalt() error
}

// DefaultRetryCount is the retry_count of a Channel built via New (rather
// than NewWithRetries): a transaction fails once that many Pending acks
// have arrived for it.
const DefaultRetryCount = 8

// Channel is a host-side U3V control channel.
type Channel struct {
	pipe       Pipe
	maxCmdLen  uint32
	maxAckLen  uint32
	timeout    time.Duration
	retryCount int
	requestID  uint32
	mu         sync.Mutex // serializes exchanges: one outstanding request at a time
}

// New builds a Channel bounded by the device's advertised transfer lengths
// (SBRM.MaximumCommandTransferLength / MaximumAcknowledgeTransferLength),
// failing a transaction once DefaultRetryCount Pending acks have arrived.
func New(pipe Pipe, maxCmdLen, maxAckLen uint32, timeout time.Duration) *Channel {
	return NewWithRetries(pipe, maxCmdLen, maxAckLen, timeout, DefaultRetryCount)
}

// NewWithRetries builds a Channel that gives up a transaction, returning
// ErrIo, after retryCount consecutive Pending acks (the retry_count a real
// open sequence sources from the device's ABRM/SBRM).
func NewWithRetries(pipe Pipe, maxCmdLen, maxAckLen uint32, timeout time.Duration, retryCount int) *Channel {
	return &Channel{pipe: pipe, maxCmdLen: maxCmdLen, maxAckLen: maxAckLen, timeout: timeout, retryCount: retryCount}
}

// SetLimits adopts the device's advertised transfer lengths after the
// opening sequence has read them from SBRM (GenCP channels initialize their
// limits from ABRM/SBRM on open).
func (c *Channel) SetLimits(maxCmdLen, maxAckLen uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxCmdLen = maxCmdLen
	c.maxAckLen = maxAckLen
}

// Open resets the control endpoint's halt state before first use, per the
// bring-up sequence devices expect on control-channel acquisition.
func (c *Channel) Open() error {
	if err := c.pipe.SetHalt(); err != nil {
		return fmt.Errorf("set halt: %w", err)
	}
	if err := c.pipe.ClearHalt(); err != nil {
		return fmt.Errorf("clear halt: %w", err)
	}
	return nil
}

// readChunkBudget is the per-chunk payload budget for ReadMem acks.
func (c *Channel) readChunkBudget() int {
	return int(c.maxAckLen) - protocol.AckHeaderLen
}

// writeChunkBudget is the per-chunk payload budget for WriteMem commands.
func (c *Channel) writeChunkBudget() int {
	return int(c.maxCmdLen) - protocol.CmdHeaderLen - 8
}

// Read performs a (possibly chunked) memory read.
func (c *Channel) Read(ctx context.Context, address uint64, length uint16) ([]byte, error) {
	chunks := protocol.ReadMemCmd{Address: address, ReadLength: length}.Chunks(c.readChunkBudget())
	out := make([]byte, 0, length)
	for _, chunk := range chunks {
		ack, err := c.exchange(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if !ack.Header.Status.IsSuccess() {
			return nil, fmt.Errorf("read %#x: device status %s: %w", chunk.Address, ack.Header.Status, u3verr.ErrIo)
		}
		data := protocol.ParseReadMemAck(ack.Scd)
		out = append(out, data.Data...)
	}
	return out, nil
}

// Write performs a (possibly chunked) memory write. Returns the total number
// of bytes the device reported as written.
func (c *Channel) Write(ctx context.Context, address uint64, data []byte) (int, error) {
	chunks := protocol.WriteMemCmd{Address: address, Data: data}.Chunks(c.writeChunkBudget())
	total := 0
	for _, chunk := range chunks {
		ack, err := c.exchange(ctx, chunk)
		if err != nil {
			return total, err
		}
		if !ack.Header.Status.IsSuccess() {
			return total, fmt.Errorf("write %#x: device status %s: %w", chunk.Address, ack.Header.Status, u3verr.ErrIo)
		}
		wrote, err := protocol.ParseWriteMemAck(ack.Scd)
		if err != nil {
			return total, err
		}
		total += int(wrote.Length)
	}
	return total, nil
}

// serializable is anything that can encode itself into a full command
// packet given a request id and ack-requested flag.
type serializable interface {
	Serialize(requestID uint16, ackRequested bool) []byte
}

// exchange sends one chunk command (always requesting an ack) and waits for
// its acknowledge, transparently following a chain of fewer than
// c.retryCount Pending acks; the c.retryCount-th Pending ack fails the
// transaction with ErrIo, as does an ack carrying another request id. The
// request id is only committed on completion (success or a definitive error
// status) — a retry-exhausted transaction leaves it unadvanced, so the next
// transaction reuses the same id.
func (c *Channel) exchange(ctx context.Context, cmd serializable) (protocol.ParsedAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	requestID := uint16(c.requestID)
	pkt := cmd.Serialize(requestID, true)
	if err := c.pipe.WriteCommand(pkt); err != nil {
		return protocol.ParsedAck{}, fmt.Errorf("write command: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	retriesLeft := c.retryCount
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.ParsedAck{}, u3verr.ErrTimeout
		}
		raw, err := c.pipe.ReadAck(ctx, remaining)
		if err != nil {
			return protocol.ParsedAck{}, fmt.Errorf("read ack: %w", err)
		}
		ack, err := protocol.ParseAck(raw)
		if err != nil {
			return protocol.ParsedAck{}, err
		}
		if ack.Header.RequestID != requestID {
			return protocol.ParsedAck{}, fmt.Errorf("ack request id %d, want %d: %w", ack.Header.RequestID, requestID, u3verr.ErrIo)
		}
		if ack.Header.ScdKind == protocol.KindPending {
			retriesLeft--
			if retriesLeft <= 0 {
				return protocol.ParsedAck{}, fmt.Errorf("pending exceeded retry_count: %w", u3verr.ErrIo)
			}
			pending, err := protocol.ParsePendingAck(ack.Scd)
			if err != nil {
				return protocol.ParsedAck{}, err
			}
			// The device asked for more time: sleep it off, then resume
			// reading (never resending) with a fresh deadline.
			wait := time.Duration(pending.TimeoutMs) * time.Millisecond
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return protocol.ParsedAck{}, ctx.Err()
			}
			deadline = time.Now().Add(c.timeout)
			continue
		}
		c.requestID++
		return ack, nil
	}
}
