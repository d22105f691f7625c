package genapi

import "u3vgo/pkg/u3v/registermap"

// BuildBootstrapStore builds a GenApi node map over a device's ABRM,
// exposing the bootstrap registers a GenTL consumer typically wants as
// named nodes rather than raw addresses.
func BuildBootstrapStore() (*Store, error) {
	store := NewStore()
	strNodes := []struct {
		name string
		addr uint64
	}{
		{"DeviceManufacturerName", registermap.AddrManufacturerName},
		{"DeviceModelName", registermap.AddrModelName},
		{"DeviceFamilyName", registermap.AddrFamilyName},
		{"DeviceVersion", registermap.AddrDeviceVersion},
		{"DeviceSerialNumber", registermap.AddrSerialNumber},
		{"DeviceUserID", registermap.AddrUserDefinedName},
	}
	for _, n := range strNodes {
		if _, err := store.Add(&Node{Name: n.name, Kind: KindStringReg, Address: n.addr, Length: 64, LittleEndian: true}); err != nil {
			return nil, err
		}
	}

	intNodes := []struct {
		name   string
		addr   uint64
		length int
		access AccessMode
	}{
		{"GenCpVersion", registermap.AddrGenCpVersion, 4, AccessReadOnly},
		{"DeviceHeartbeatTimeout", registermap.AddrHeartbeatTimeout, 4, AccessReadWrite},
		{"Timestamp", registermap.AddrTimestamp, 8, AccessReadOnly},
		{"TimestampIncrement", registermap.AddrTimestampIncrement, 8, AccessReadOnly},
	}
	for _, n := range intNodes {
		if _, err := store.Add(&Node{Name: n.name, Kind: KindIntReg, Address: n.addr, Length: n.length, LittleEndian: true, Access: n.access, Inc: 1, Max: int64(1)<<uint(n.length*8-1) - 1}); err != nil {
			return nil, err
		}
	}

	if _, err := store.Add(&Node{Name: "TimestampLatch", Kind: KindCommand, Address: registermap.AddrTimestampLatch, Length: 4, CommandValue: 1, LittleEndian: true}); err != nil {
		return nil, err
	}

	// Capability bits surfaced as masked views of DeviceCapability.
	maskedNodes := []struct {
		name string
		bit  int
	}{
		{"DeviceCapabilityUserDefinedName", registermap.BitUserDefinedName},
		{"DeviceCapabilityTimestamp", registermap.BitTimestamp},
		{"DeviceCapabilitySBRM", registermap.BitSBRMPresent},
	}
	for _, n := range maskedNodes {
		if _, err := store.Add(&Node{
			Name: n.name, Kind: KindMaskedIntReg,
			Address: registermap.AddrDeviceCapability, Length: 8,
			LSB: n.bit, MSB: n.bit,
			LittleEndian: true, Access: AccessReadOnly,
		}); err != nil {
			return nil, err
		}
	}

	// Multi-event enable is a boolean view of a DeviceConfiguration bit.
	if _, err := store.Add(&Node{
		Name: "MultiEventEnableBit", Kind: KindMaskedIntReg,
		Address: registermap.AddrDeviceConfiguration, Length: 8,
		LSB: 1, MSB: 1, LittleEndian: true,
	}); err != nil {
		return nil, err
	}
	if _, err := store.Add(&Node{Name: "MultiEventEnable", Kind: KindBoolean, PValue: "MultiEventEnableBit"}); err != nil {
		return nil, err
	}

	// Timestamp scaled to nanoseconds via the advertised increment.
	if _, err := store.Add(&Node{
		Name: "TimestampNs", Kind: KindIntSwissKnife,
		Formula:   "TICKS * NS_PER_TICK",
		Variables: map[string]string{"TICKS": "Timestamp", "NS_PER_TICK": "TimestampIncrement"},
		Access:    AccessReadOnly,
	}); err != nil {
		return nil, err
	}

	if _, err := store.Add(&Node{Name: "DevicePort", Kind: KindPort}); err != nil {
		return nil, err
	}

	if _, err := store.Add(&Node{
		Name: "DeviceControl", Kind: KindCategory,
		PFeatures: []string{
			"DeviceManufacturerName", "DeviceModelName", "DeviceFamilyName",
			"DeviceVersion", "DeviceSerialNumber", "DeviceUserID",
			"GenCpVersion", "DeviceHeartbeatTimeout",
			"Timestamp", "TimestampIncrement", "TimestampNs", "TimestampLatch",
			"MultiEventEnable",
		},
	}); err != nil {
		return nil, err
	}

	return store, nil
}
