package emulator

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"u3vgo/pkg/u3v/registermap"
)

// timestampTick is how often the background timestamp ticker advances the
// device's Timestamp register, independent of TimestampIncrement's
// advertised nominal tick size (see DESIGN.md on TimestampIncrement).
const timestampTick = 10 * time.Millisecond

// timestampIncrementNs must match the value written into ABRM's
// TimestampIncrement register in device.go.
const timestampIncrementNs = 1000

// RunBackground drives the device's control dispatch loop, its interface
// hub, and its free-running timestamp counter until ctx is cancelled,
// coordinating their shutdown with an errgroup so a failure in any one
// stops the rest.
func (d *Device) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		d.ControlModule.Stop()
		return nil
	})
	g.Go(func() error {
		d.ControlModule.Run()
		return nil
	})
	g.Go(func() error {
		return d.Hub.Run(gctx)
	})
	g.Go(func() error {
		err := d.tickTimestamp(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})

	return g.Wait()
}

func (d *Device) tickTimestamp(ctx context.Context) error {
	ticker := time.NewTicker(timestampTick)
	defer ticker.Stop()

	var count uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count += timestampIncrementNs
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, count)
			if err := d.Mem.WriteRawInternal(registermap.AddrTimestamp, buf); err != nil {
				return err
			}
		}
	}
}
