// Package u3verr defines the error taxonomy shared by every layer of the
// U3V device stack: protocol codecs, the typed memory map, the control
// channel, the emulator, and the GenApi evaluator.
package u3verr

import "errors"

// Sentinel errors. Callers should use errors.Is/errors.As rather than
// comparing error strings; every layer wraps these with fmt.Errorf("...: %w").
var (
	// ErrInvalidAddress is returned when a range escapes the memory's bounds.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrAddressNotReadable is returned on a read that violates the access-right overlay.
	ErrAddressNotReadable = errors.New("address not readable")

	// ErrAddressNotWritable is returned on a write that violates the access-right overlay.
	ErrAddressNotWritable = errors.New("address not writable")

	// ErrIo covers ack status failures, request-id mismatches, short reads/writes,
	// and pending-retry exhaustion.
	ErrIo = errors.New("io error")

	// ErrTimeout is returned when a blocking bulk I/O call exceeds its configured duration.
	ErrTimeout = errors.New("timeout")

	// ErrNotOpened is returned by operations on a handle that hasn't been opened yet.
	ErrNotOpened = errors.New("not opened")

	// ErrBusy is returned when an interface is already claimed by another caller.
	ErrBusy = errors.New("busy")

	// ErrNoDevice is returned when an operation targets an unknown or disconnected device.
	ErrNoDevice = errors.New("no device")

	// ErrAccessDenied is returned by GenApi node reads/writes that fail is_readable/is_writable.
	ErrAccessDenied = errors.New("access denied")

	// ErrIfaceHalted is returned by any Recv/Send on an interface that is
	// currently Halted; it clears once ClearHalt is called on that interface.
	ErrIfaceHalted = errors.New("IfaceHalted")
)

// InvalidPacket indicates a malformed wire packet: bad magic, unknown kind,
// a nonzero reserved field, a short buffer, or a size overflow.
type InvalidPacket struct {
	Reason string
}

func (e *InvalidPacket) Error() string { return "invalid packet: " + e.Reason }

// NewInvalidPacket builds an *InvalidPacket with the given reason.
func NewInvalidPacket(reason string) error { return &InvalidPacket{Reason: reason} }

// InvalidData indicates a GenApi decoding failure: a string isn't ASCII,
// a fixed-length field overflowed, a node graph cycled, and so on.
type InvalidData struct {
	Reason string
}

func (e *InvalidData) Error() string { return "invalid data: " + e.Reason }

// NewInvalidData builds an *InvalidData with the given reason.
func NewInvalidData(reason string) error { return &InvalidData{Reason: reason} }
