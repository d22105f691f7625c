// Package registermap lays out the U3V bootstrap register maps described in
// the U3V standard: ABRM at address 0, SBRM/SIRM/EIRM at addresses discovered
// through ABRM/SBRM pointer fields, plus the manifest table and the
// GenICam XML blob placement. It owns only the static Register
// descriptors; reading/writing goes through a *memory.Memory.
package registermap

import "u3vgo/pkg/memory"

// ABRM offsets, per the U3V bootstrap layout.
const (
	AddrGenCpVersion                     uint64 = 0x0000
	AddrManufacturerName                 uint64 = 0x0004
	AddrModelName                        uint64 = 0x0044
	AddrFamilyName                       uint64 = 0x0084
	AddrDeviceVersion                    uint64 = 0x00C4
	AddrManufacturerInfo                 uint64 = 0x0104
	AddrSerialNumber                     uint64 = 0x0144
	AddrUserDefinedName                  uint64 = 0x0184
	AddrDeviceCapability                 uint64 = 0x01C4
	AddrMaximumDeviceResponseTime        uint64 = 0x01CC
	AddrManifestTableAddress             uint64 = 0x01D0
	AddrSBRMAddress                      uint64 = 0x01D8
	AddrDeviceConfiguration              uint64 = 0x01E0
	AddrHeartbeatTimeout                 uint64 = 0x01E8
	AddrMessageChannelId                 uint64 = 0x01EC
	AddrTimestamp                        uint64 = 0x01F0
	AddrTimestampLatch                   uint64 = 0x01F8
	AddrTimestampIncrement               uint64 = 0x01FC
	AddrAccessPrivilege                  uint64 = 0x0204
	AddrProtocolEndianness               uint64 = 0x0208
	AddrImplementationEndianness         uint64 = 0x020C
	AddrDeviceSoftwareInterfaceVersion   uint64 = 0x0210
	abrmEnd                              uint64 = 0x0250 // 0x0210 + 64
)

// ABRM returns the full Agnostic Boot Register Map register descriptor set.
func ABRM() []memory.Register {
	return []memory.Register{
		{Name: "GenCpVersion", Address: AddrGenCpVersion, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "ManufacturerName", Address: AddrManufacturerName, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
		{Name: "ModelName", Address: AddrModelName, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
		{Name: "FamilyName", Address: AddrFamilyName, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
		{Name: "DeviceVersion", Address: AddrDeviceVersion, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
		{Name: "ManufacturerInfo", Address: AddrManufacturerInfo, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
		{Name: "SerialNumber", Address: AddrSerialNumber, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
		{Name: "UserDefinedName", Address: AddrUserDefinedName, Length: 64, Access: memory.RW, Encoding: memory.EncFixedASCII()},
		{Name: "DeviceCapability", Address: AddrDeviceCapability, Length: 8, Access: memory.RO, Encoding: memory.EncRawBytes},
		{Name: "MaximumDeviceResponseTime", Address: AddrMaximumDeviceResponseTime, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "ManifestTableAddress", Address: AddrManifestTableAddress, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE},
		{Name: "SBRMAddress", Address: AddrSBRMAddress, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE},
		{Name: "DeviceConfiguration", Address: AddrDeviceConfiguration, Length: 8, Access: memory.RW, Encoding: memory.EncUint64LE},
		{Name: "HeartbeatTimeout", Address: AddrHeartbeatTimeout, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "MessageChannelId", Address: AddrMessageChannelId, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "Timestamp", Address: AddrTimestamp, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE},
		{Name: "TimestampLatch", Address: AddrTimestampLatch, Length: 4, Access: memory.WO, Encoding: memory.EncUint32LE},
		{Name: "TimestampIncrement", Address: AddrTimestampIncrement, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE},
		{Name: "AccessPrivilege", Address: AddrAccessPrivilege, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "ProtocolEndianness", Address: AddrProtocolEndianness, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "ImplementationEndianness", Address: AddrImplementationEndianness, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "DeviceSoftwareInterfaceVersion", Address: AddrDeviceSoftwareInterfaceVersion, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
	}
}

// ABRMSize is the total byte length of the ABRM.
const ABRMSize = abrmEnd

// DeviceCapability bit positions.
const (
	BitUserDefinedName          = 0
	BitTimestamp                = 3
	BitFamilyName               = 8
	BitSBRMPresent              = 9
	BitEndiannessReg            = 10
	BitWrittenLengthField       = 11
	BitSoftwareInterfaceVersion = 14
)

// SBRM offsets, relative to the SBRM base address read from ABRM.SBRMAddress.
const (
	OffsetU3VVersion                       uint64 = 0x0000
	OffsetU3VCPCapability                  uint64 = 0x0004
	OffsetU3VCPConfiguration               uint64 = 0x000C
	OffsetMaximumCommandTransferLength     uint64 = 0x0014
	OffsetMaximumAcknowledgeTransferLength uint64 = 0x0018
	OffsetNumberOfStreamChannels           uint64 = 0x001C
	OffsetSirmAddress                      uint64 = 0x0020
	OffsetSirmLength                       uint64 = 0x0028
	OffsetEirmAddress                      uint64 = 0x002C
	OffsetEirmLength                       uint64 = 0x0034
	OffsetIidc2Address                     uint64 = 0x0038
	OffsetCurrentSpeed                     uint64 = 0x0040
	SBRMSize                               uint64 = 0x0044
)

// SBRM returns the Specific Boot Register Map register descriptor set,
// based at the given SBRM address.
func SBRM(base uint64) []memory.Register {
	return []memory.Register{
		{Name: "U3VVersion", Address: base + OffsetU3VVersion, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "U3VCPCapability", Address: base + OffsetU3VCPCapability, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE},
		{Name: "U3VCPConfiguration", Address: base + OffsetU3VCPConfiguration, Length: 8, Access: memory.RW, Encoding: memory.EncUint64LE},
		{Name: "MaximumCommandTransferLength", Address: base + OffsetMaximumCommandTransferLength, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "MaximumAcknowledgeTransferLength", Address: base + OffsetMaximumAcknowledgeTransferLength, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "NumberOfStreamChannels", Address: base + OffsetNumberOfStreamChannels, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "SirmAddress", Address: base + OffsetSirmAddress, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE},
		{Name: "SirmLength", Address: base + OffsetSirmLength, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "EirmAddress", Address: base + OffsetEirmAddress, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE},
		{Name: "EirmLength", Address: base + OffsetEirmLength, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "Iidc2Address", Address: base + OffsetIidc2Address, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE},
		{Name: "CurrentSpeed", Address: base + OffsetCurrentSpeed, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
	}
}

// U3VCPCapability bit positions.
const (
	BitSIRMPresent = 0
	BitEIRMPresent = 1
	BitIIDC2       = 2
)

// SIRM offsets, relative to the SIRM base address read from SBRM.SirmAddress.
const (
	OffsetSIInfo                    uint64 = 0x0000
	OffsetSIControl                 uint64 = 0x0004
	OffsetRequiredPayloadSize        uint64 = 0x0008
	OffsetRequiredLeaderSize         uint64 = 0x0010
	OffsetRequiredTrailerSize        uint64 = 0x0014
	OffsetMaximumLeaderSize          uint64 = 0x0018
	OffsetPayloadTransferSize        uint64 = 0x001C
	OffsetPayloadTransferCount       uint64 = 0x0020
	OffsetPayloadFinalTransfer1Size  uint64 = 0x0024
	OffsetPayloadFinalTransfer2Size  uint64 = 0x0028
	OffsetMaximumTrailerSize         uint64 = 0x002C
	SIRMSize                         uint64 = 0x0030
)

// SIControl bit: stream enable.
const BitSIControlEnable = 0

// SIRM returns the Streaming Interface Register Map descriptor set, based at
// the given SIRM address.
func SIRM(base uint64) []memory.Register {
	return []memory.Register{
		{Name: "SIInfo", Address: base + OffsetSIInfo, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "SIControl", Address: base + OffsetSIControl, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "RequiredPayloadSize", Address: base + OffsetRequiredPayloadSize, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE},
		{Name: "RequiredLeaderSize", Address: base + OffsetRequiredLeaderSize, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "RequiredTrailerSize", Address: base + OffsetRequiredTrailerSize, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "MaximumLeaderSize", Address: base + OffsetMaximumLeaderSize, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "PayloadTransferSize", Address: base + OffsetPayloadTransferSize, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "PayloadTransferCount", Address: base + OffsetPayloadTransferCount, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "PayloadFinalTransfer1Size", Address: base + OffsetPayloadFinalTransfer1Size, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "PayloadFinalTransfer2Size", Address: base + OffsetPayloadFinalTransfer2Size, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "MaximumTrailerSize", Address: base + OffsetMaximumTrailerSize, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
	}
}

// EIRM offsets, relative to the EIRM base address read from SBRM.EirmAddress.
const (
	OffsetEIControl                 uint64 = 0x0000
	OffsetMaximumEventTransferLength uint64 = 0x0004
	OffsetEventTestControl           uint64 = 0x0008
	EIRMSize                         uint64 = 0x000C
)

// BitEIControlEnable is the event-interface enable bit of EIControl.
const BitEIControlEnable = 0

// EIRM returns the Event Interface Register Map descriptor set, based at the
// given EIRM address.
func EIRM(base uint64) []memory.Register {
	return []memory.Register{
		{Name: "EIControl", Address: base + OffsetEIControl, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
		{Name: "MaximumEventTransferLength", Address: base + OffsetMaximumEventTransferLength, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "EventTestControl", Address: base + OffsetEventTestControl, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE},
	}
}

// ManifestEntry describes one entry of the manifest table: a pointer to (and
// metadata about) a GenICam XML file stored elsewhere in the address space.
type ManifestEntry struct {
	FileVersion     uint32
	FileFormatInfo  uint32
	RegisterAddress uint64
	FileSize        uint64
	Sha1Hash        [20]byte
}

// Manifest entry field offsets (relative to the entry's base address).
const (
	OffsetEntryFileVersion     uint64 = 0x0000
	OffsetEntryFileFormatInfo  uint64 = 0x0004
	OffsetEntryRegisterAddress uint64 = 0x0008
	OffsetEntryFileSize        uint64 = 0x0010
	OffsetEntrySha1Hash        uint64 = 0x0018
	ManifestEntrySize          uint64 = 0x0040 // 20 (hash) + 20 (reserved) padding from 0x18
)

// FileFormatInfo bit layout.
func PackFileFormatInfo(fileType uint8, fileFormat uint16, schemaMinor, schemaMajor uint8) uint32 {
	return uint32(fileType&0b111) |
		uint32(fileFormat&0b111111)<<10 |
		uint32(schemaMinor)<<16 |
		uint32(schemaMajor)<<24
}

// UnpackFileFormatInfo reverses PackFileFormatInfo.
func UnpackFileFormatInfo(v uint32) (fileType uint8, fileFormat uint16, schemaMinor, schemaMajor uint8) {
	fileType = uint8(v & 0b111)
	fileFormat = uint16((v >> 10) & 0b111111)
	schemaMinor = uint8((v >> 16) & 0xFF)
	schemaMajor = uint8((v >> 24) & 0xFF)
	return
}

// GenICamFileType values used in FileFormatInfo.
const (
	GenICamFileTypeDeviceXML uint8 = 0
	GenICamFileTypeBufferXML uint8 = 1
)

// CompressionType values packed into FileFormat.
const (
	CompressionNone uint16 = 0
	CompressionZip  uint16 = 1
)
