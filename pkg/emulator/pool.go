package emulator

import (
	"context"
	"fmt"
	"sync"

	"u3vgo/pkg/u3verr"
)

// Pool is the process-wide registry of emulated devices, keyed by GUID. It
// owns each device's background run task and tracks per-interface claims,
// mirroring the claim/release lifecycle a GenTL producer expects: at most
// one claimer per (device, interface) at a time.
type Pool struct {
	mu      sync.Mutex
	devices map[string]*entry
	order   []string
}

type entry struct {
	dev    *Device
	owners [3]string // claim token per InterfaceKind; empty when unclaimed
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPool builds an empty device pool.
func NewPool() *Pool {
	return &Pool{devices: make(map[string]*entry)}
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// Default returns the lazily-initialized process-wide pool.
func Default() *Pool {
	defaultPoolOnce.Do(func() { defaultPool = NewPool() })
	return defaultPool
}

// Add registers dev under its GUID and starts its background run task.
// Interfaces are unclaimed until ClaimInterface.
func (p *Pool) Add(dev *Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.devices[dev.GUID]; exists {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{dev: dev, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(e.done)
		dev.RunBackground(ctx)
	}()
	p.devices[dev.GUID] = e
	p.order = append(p.order, dev.GUID)
}

// Disconnect aborts the device's run task and forgets it; subsequent claims
// fail with ErrNoDevice. Blocks until the run task has exited.
func (p *Pool) Disconnect(guid string) {
	p.mu.Lock()
	e, ok := p.devices[guid]
	if ok {
		delete(p.devices, guid)
		for i, g := range p.order {
			if g == guid {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()
	if ok {
		e.cancel()
		<-e.done
	}
}

// List returns the GUIDs of every currently registered device, in
// registration order (the order GenTL's UpdateDeviceList/GetDeviceID expect).
func (p *Pool) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Device returns the registered device with the given GUID without
// claiming it, for producer-side enumeration info.
func (p *Pool) Device(guid string) (*Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.devices[guid]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", guid, u3verr.ErrNoDevice)
	}
	return e.dev, nil
}

// ClaimInterface exclusively claims one interface of the device with the
// given GUID for owner and returns the fake-wire pipe for it. Closing the
// pipe releases the claim.
func (p *Pool) ClaimInterface(guid string, iface InterfaceKind, owner string) (*Pipe, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.devices[guid]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", guid, u3verr.ErrNoDevice)
	}
	if e.owners[iface] != "" {
		return nil, fmt.Errorf("%s interface of %s already claimed: %w", iface, guid, u3verr.ErrBusy)
	}
	e.owners[iface] = owner
	return &Pipe{
		iface:   iface,
		hub:     e.dev.Hub,
		release: func() { p.ReleaseInterface(guid, iface, owner) },
	}, nil
}

// ReleaseInterface gives up owner's claim on one interface of guid, if it
// is held.
func (p *Pool) ReleaseInterface(guid string, iface InterfaceKind, owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.devices[guid]
	if !ok {
		return
	}
	if e.owners[iface] == owner {
		e.owners[iface] = ""
	}
}

// IsClaimed reports whether the given interface of guid currently has an
// owner.
func (p *Pool) IsClaimed(guid string, iface InterfaceKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.devices[guid]
	return ok && e.owners[iface] != ""
}
