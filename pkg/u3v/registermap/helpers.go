package registermap

import "strings"

// DeviceCapability is the decoded bitfield of ABRM.DeviceCapability.
type DeviceCapability uint64

func (c DeviceCapability) bit(n int) bool { return uint64(c)&(1<<uint(n)) != 0 }

func (c DeviceCapability) UserDefinedNameSupported() bool        { return c.bit(BitUserDefinedName) }
func (c DeviceCapability) TimestampSupported() bool              { return c.bit(BitTimestamp) }
func (c DeviceCapability) FamilyNameSupported() bool              { return c.bit(BitFamilyName) }
func (c DeviceCapability) SBRMPresent() bool                      { return c.bit(BitSBRMPresent) }
func (c DeviceCapability) EndiannessRegSupported() bool           { return c.bit(BitEndiannessReg) }
func (c DeviceCapability) WrittenLengthFieldSupported() bool      { return c.bit(BitWrittenLengthField) }
func (c DeviceCapability) SoftwareInterfaceVersionSupported() bool { return c.bit(BitSoftwareInterfaceVersion) }

// U3VCapability is the decoded bitfield of SBRM.U3VCPCapability.
type U3VCapability uint64

func (c U3VCapability) bit(n int) bool { return uint64(c)&(1<<uint(n)) != 0 }

func (c U3VCapability) SIRMPresent() bool { return c.bit(BitSIRMPresent) }
func (c U3VCapability) EIRMPresent() bool { return c.bit(BitEIRMPresent) }
func (c U3VCapability) IIDC2() bool       { return c.bit(BitIIDC2) }

// DeviceConfiguration is the decoded bitfield of ABRM.DeviceConfiguration.
type DeviceConfiguration uint64

const bitMultiEventEnable = 1

// MultiEventEnabled reports the multi-event-enable bit. This stack never emits multi-event packets, so this is
// parsed/stored but has no behavioral effect in the emulator.
func (c DeviceConfiguration) MultiEventEnabled() bool {
	return uint64(c)&(1<<bitMultiEventEnable) != 0
}

// SetMultiEventEnable returns c with the multi-event-enable bit set.
func (c DeviceConfiguration) SetMultiEventEnable() DeviceConfiguration {
	return c | (1 << bitMultiEventEnable)
}

// ClearMultiEventEnable returns c with the multi-event-enable bit cleared.
func (c DeviceConfiguration) ClearMultiEventEnable() DeviceConfiguration {
	return c &^ (1 << bitMultiEventEnable)
}

// GUIDPrefix is the fixed prefix of every emulated device's GUID.
const GUIDPrefix = "EMU-"

// FormatGUID builds the "EMU-XXXXXXXX" GUID from a serial number: the last
// 8 characters, left-padded with '0' if the serial number is shorter.
func FormatGUID(serialNumber string) string {
	tail := serialNumber
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	if len(tail) < 8 {
		tail = strings.Repeat("0", 8-len(tail)) + tail
	}
	return GUIDPrefix + tail
}
