package gentl

import (
	"context"
	"fmt"
	"sync"

	"u3vgo/pkg/emulator"
	"u3vgo/pkg/memory"
	"u3vgo/pkg/u3v/registermap"
	"u3vgo/pkg/u3verr"
)

// Interface models a GenTL IF module: it owns device enumeration and
// claim/release against the underlying emulator.Pool. Enumeration results
// are cached by UpdateDeviceList, matching GenTL's explicit staleness
// model: NumDevices/DeviceID answer from the last snapshot, not live.
type Interface struct {
	pool *emulator.Pool

	mu    sync.Mutex
	known []string
}

// ID returns the interface module's identifier.
func (i *Interface) ID() string { return "u3v-tl" }

// UpdateDeviceList refreshes the interface's device snapshot from the
// pool, reporting whether the set of known devices changed.
func (i *Interface) UpdateDeviceList(_ context.Context) (bool, error) {
	current := i.pool.List()
	i.mu.Lock()
	defer i.mu.Unlock()
	changed := len(current) != len(i.known)
	if !changed {
		for idx, guid := range current {
			if i.known[idx] != guid {
				changed = true
				break
			}
		}
	}
	i.known = current
	return changed, nil
}

// snapshot returns the last UpdateDeviceList result, populating it on
// first use so a consumer that skips the update still sees the pool.
func (i *Interface) snapshot() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.known == nil {
		i.known = i.pool.List()
	}
	return i.known
}

// NumDevices reports how many devices the last update found.
func (i *Interface) NumDevices() int {
	return len(i.snapshot())
}

// DeviceID returns the GUID of the index'th known device.
func (i *Interface) DeviceID(index int) (string, error) {
	ids := i.snapshot()
	if index < 0 || index >= len(ids) {
		return "", fmt.Errorf("device index %d out of range (%d devices): %w", index, len(ids), u3verr.ErrNoDevice)
	}
	return ids[index], nil
}

// DeviceInfo is the pre-open enumeration info of one device.
type DeviceInfo struct {
	GUID             string
	ManufacturerName string
	ModelName        string
	SerialNumber     string
}

// DeviceInfo reads the index'th device's identity without claiming it,
// the way a GenTL consumer's DevGetInfo inspects unclaimed devices.
func (i *Interface) DeviceInfo(index int) (DeviceInfo, error) {
	guid, err := i.DeviceID(index)
	if err != nil {
		return DeviceInfo{}, err
	}
	dev, err := i.pool.Device(guid)
	if err != nil {
		return DeviceInfo{}, err
	}
	info := DeviceInfo{GUID: guid}
	reads := []struct {
		addr uint64
		dst  *string
	}{
		{registermap.AddrManufacturerName, &info.ManufacturerName},
		{registermap.AddrModelName, &info.ModelName},
		{registermap.AddrSerialNumber, &info.SerialNumber},
	}
	for _, r := range reads {
		reg := memory.Register{Name: "info", Address: r.addr, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()}
		v, err := dev.Mem.ReadRegisterInternal(reg)
		if err != nil {
			return DeviceInfo{}, err
		}
		*r.dst = v.(string)
	}
	return info, nil
}
