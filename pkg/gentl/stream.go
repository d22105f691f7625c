package gentl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"u3vgo/pkg/emulator"
	"u3vgo/pkg/u3v/protocol"
	"u3vgo/pkg/u3v/registermap"
	"u3vgo/pkg/u3verr"
)

// streamPollTimeout bounds one idle wait for the next stream transfer
// before the reader loop re-checks its context.
const streamPollTimeout = 100 * time.Millisecond

// Frame is one fully assembled stream block: leader, payload, trailer.
// Payload buffers are pooled; hand them back with SendBack once consumed.
type Frame struct {
	Leader  protocol.Leader
	Payload []byte
	Trailer protocol.Trailer
}

// Stream is an opened GenTL DS module: a dedicated reader goroutine
// assembles Leader/Payload/Trailer transfer sequences per the SIRM-derived
// plan and delivers frames through a bounded channel.
// Back-pressure is explicit: when the channel is full, new frames are
// dropped.
type Stream struct {
	dev  *Device
	pipe *emulator.Pipe
	plan protocol.PayloadPlan

	frames chan Frame
	free   chan []byte
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenStream claims the device's stream interface, snapshots the SIRM
// transfer plan as the source of truth for frame assembly, sets the
// SIControl enable bit, and starts the reader. capacity bounds the frame
// channel.
func (d *Device) OpenStream(ctx context.Context, capacity int) (*Stream, error) {
	pipe, err := d.iface.pool.ClaimInterface(d.guid, emulator.Stream, d.owner)
	if err != nil {
		return nil, err
	}

	readU32 := func(offset uint64) (uint32, error) {
		b, err := d.Control.Read(ctx, d.sirmBase+offset, 4)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(b), nil
	}
	var plan protocol.PayloadPlan
	regs := []struct {
		offset uint64
		dst    *uint32
	}{
		{registermap.OffsetPayloadTransferSize, &plan.TransferSize},
		{registermap.OffsetPayloadTransferCount, &plan.TransferCount},
		{registermap.OffsetPayloadFinalTransfer1Size, &plan.FinalTransfer1Size},
		{registermap.OffsetPayloadFinalTransfer2Size, &plan.FinalTransfer2Size},
	}
	for _, r := range regs {
		v, err := readU32(r.offset)
		if err != nil {
			pipe.Close()
			return nil, fmt.Errorf("read SIRM transfer plan: %w", err)
		}
		*r.dst = v
	}
	if plan.TransferCount == 0 {
		pipe.Close()
		return nil, u3verr.NewInvalidData("SIRM transfer plan is not configured")
	}

	if err := d.setStreamEnable(ctx, true); err != nil {
		pipe.Close()
		return nil, fmt.Errorf("enable streaming: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		dev:    d,
		pipe:   pipe,
		plan:   plan,
		frames: make(chan Frame, capacity),
		free:   make(chan []byte, capacity+1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx)
	return s, nil
}

// setStreamEnable flips the SIControl enable bit through the control
// channel, preserving the register's other bits.
func (d *Device) setStreamEnable(ctx context.Context, on bool) error {
	addr := d.sirmBase + registermap.OffsetSIControl
	raw, err := d.Control.Read(ctx, addr, 4)
	if err != nil {
		return err
	}
	v := binary.LittleEndian.Uint32(raw)
	if on {
		v |= 1 << registermap.BitSIControlEnable
	} else {
		v &^= 1 << registermap.BitSIControlEnable
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err = d.Control.Write(ctx, addr, buf)
	return err
}

// Frames returns the channel of assembled frames.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// SendBack returns a consumed frame's payload buffer for reuse by the
// reader.
func (s *Stream) SendBack(buf []byte) {
	select {
	case s.free <- buf:
	default:
	}
}

// Close stops the reader, clears the SIControl enable bit, and releases
// the stream-interface claim.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	err := s.dev.setStreamEnable(ctx, false)
	s.pipe.Close()
	return err
}

// run is the dedicated stream-reader loop: resynchronize on a leader, read
// the plan's exact transfer sequence, finish with a trailer, deliver. Any
// malformed or short transfer discards the frame in progress and resumes
// hunting for the next leader (any short read is fatal to the frame).
func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	for {
		transfer, err := s.recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		leader, err := protocol.ParseLeader(transfer)
		if err != nil {
			log.Printf("gentl stream: discarding transfer while hunting for leader: %v", err)
			continue
		}
		frame, ok := s.readBlock(ctx, leader)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case s.frames <- frame:
		default:
			// Consumer is behind; drop the frame and recycle its buffer.
			s.SendBack(frame.Payload)
		}
	}
}

// readBlock reads one block's payload transfers and trailer after its
// leader has been parsed.
func (s *Stream) readBlock(ctx context.Context, leader protocol.Leader) (Frame, bool) {
	payload := s.buffer(int(s.plan.TotalSize()))
	off := 0
	for _, size := range s.plan.Sizes() {
		if size == 0 {
			continue
		}
		chunk, err := s.recv(ctx)
		if err != nil {
			return Frame{}, false
		}
		if len(chunk) != int(size) {
			log.Printf("gentl stream: short payload transfer (%d bytes, want %d), discarding frame", len(chunk), size)
			return Frame{}, false
		}
		copy(payload[off:], chunk)
		off += len(chunk)
	}
	transfer, err := s.recv(ctx)
	if err != nil {
		return Frame{}, false
	}
	trailer, err := protocol.ParseTrailer(transfer)
	if err != nil {
		log.Printf("gentl stream: bad trailer, discarding frame: %v", err)
		return Frame{}, false
	}
	return Frame{Leader: leader, Payload: payload[:off], Trailer: trailer}, true
}

func (s *Stream) recv(ctx context.Context) ([]byte, error) {
	for {
		data, err := s.pipe.RecvPacket(ctx, streamPollTimeout)
		switch {
		case err == nil:
			return data, nil
		case errors.Is(err, u3verr.ErrTimeout), errors.Is(err, u3verr.ErrIfaceHalted):
			// A halted interface answers immediately; pace the retry so a
			// halt doesn't turn the reader into a busy loop.
			select {
			case <-time.After(streamPollTimeout / 10):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			return nil, err
		}
	}
}

// buffer reuses a sent-back payload buffer when one is large enough.
func (s *Stream) buffer(size int) []byte {
	select {
	case buf := <-s.free:
		if cap(buf) >= size {
			return buf[:size]
		}
	default:
	}
	return make([]byte, size)
}
