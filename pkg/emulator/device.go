package emulator

import (
	"u3vgo/pkg/memory"
	"u3vgo/pkg/u3v/protocol"
	"u3vgo/pkg/u3v/registermap"
)

// addrSBRM, addrSIRM, addrEIRM, addrManifest, addrXML place the non-ABRM
// regions of the emulated address space. These are emulator choices, not
// protocol-mandated values; a real device could lay them out differently.
const (
	addrSBRM     uint64 = 0x1000
	addrSIRM     uint64 = 0x1100
	addrEIRM     uint64 = 0x1200
	addrManifest uint64 = 0x1300
	addrXML      uint64 = 0x2000
)

// Identity is the static product identity a Device advertises through ABRM.
type Identity struct {
	ManufacturerName string
	ModelName        string
	FamilyName       string
	DeviceVersion    string
	ManufacturerInfo string
	SerialNumber     string
	GenICamXML       []byte
}

// Device is one emulated USB3 Vision device: a typed memory map backing the
// bootstrap register maps plus the three interface modules driving it.
type Device struct {
	GUID string

	Mem *memory.Memory

	Hub *InterfaceHub

	ControlModule *ControlModule
	EventModule   *EventModule
	StreamModule  *StreamModule

	sbrmBase uint64
	sirmBase uint64
	eirmBase uint64
}

// NewDevice builds a fresh emulated device from identity, wiring its ABRM/
// SBRM/SIRM/EIRM registers and GenICam XML manifest entry into a backing
// memory.Memory.
func NewDevice(identity Identity) (*Device, error) {
	size := int(addrXML) + len(identity.GenICamXML)
	mem := memory.New(size)

	for _, reg := range registermap.ABRM() {
		if err := mem.InitRegister(reg); err != nil {
			return nil, err
		}
	}
	for _, reg := range registermap.SBRM(addrSBRM) {
		if err := mem.InitRegister(reg); err != nil {
			return nil, err
		}
	}
	for _, reg := range registermap.SIRM(addrSIRM) {
		if err := mem.InitRegister(reg); err != nil {
			return nil, err
		}
	}
	for _, reg := range registermap.EIRM(addrEIRM) {
		if err := mem.InitRegister(reg); err != nil {
			return nil, err
		}
	}

	xmlReg := memory.Register{
		Name: "GenICamXML", Address: addrXML, Length: uint16(len(identity.GenICamXML)),
		Access: memory.RO, Encoding: memory.EncRawBytes,
	}
	if err := mem.InitRegister(xmlReg); err != nil {
		return nil, err
	}

	d := &Device{
		GUID:          registermap.FormatGUID(identity.SerialNumber),
		Mem:           mem,
		ControlModule: NewControlModule(mem),
		EventModule:   NewEventModule(16),
		StreamModule:  NewStreamModule(protocol.PayloadPlan{}),
		sbrmBase:      addrSBRM,
		sirmBase:      addrSIRM,
		eirmBase:      addrEIRM,
	}

	if err := d.populateIdentity(identity); err != nil {
		return nil, err
	}

	d.Hub = newInterfaceHub(d)
	d.EventModule.setSignals(d.Hub.Signals())
	d.StreamModule.setSignals(d.Hub.Signals())
	d.wireEnableObservers()

	return d, nil
}

// wireEnableObservers connects the EIControl and SIControl registers to
// their modules: a host write to the enable bit flips the module's enable
// state, and enabling the stream additionally snapshots the SIRM transfer
// registers into the module's PayloadPlan. Observers only
// read memory and flip module flags, never write back.
func (d *Device) wireEnableObservers() {
	eiCtrl := memory.Register{Name: "EIControl", Address: d.eirmBase + registermap.OffsetEIControl, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE}
	d.Mem.RegisterObserver(eiCtrl.Address, eiCtrl.Length, func(uint64, []byte) {
		v, err := d.Mem.ReadRegisterInternal(eiCtrl)
		if err != nil {
			return
		}
		d.EventModule.SetEnabled(v.(uint32)&(1<<registermap.BitEIControlEnable) != 0)
	})

	siCtrl := memory.Register{Name: "SIControl", Address: d.sirmBase + registermap.OffsetSIControl, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE}
	d.Mem.RegisterObserver(siCtrl.Address, siCtrl.Length, func(uint64, []byte) {
		v, err := d.Mem.ReadRegisterInternal(siCtrl)
		if err != nil {
			return
		}
		on := v.(uint32)&(1<<registermap.BitSIControlEnable) != 0
		if on {
			d.StreamModule.SetPlan(d.sirmPlan())
		}
		d.StreamModule.SetEnabled(on)
	})
}

// sirmPlan reads the SIRM payload transfer registers into a PayloadPlan.
func (d *Device) sirmPlan() protocol.PayloadPlan {
	read := func(offset uint64) uint32 {
		reg := memory.Register{Name: "sirm", Address: d.sirmBase + offset, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE}
		v, err := d.Mem.ReadRegisterInternal(reg)
		if err != nil {
			return 0
		}
		return v.(uint32)
	}
	return protocol.PayloadPlan{
		TransferSize:       read(registermap.OffsetPayloadTransferSize),
		TransferCount:      read(registermap.OffsetPayloadTransferCount),
		FinalTransfer1Size: read(registermap.OffsetPayloadFinalTransfer1Size),
		FinalTransfer2Size: read(registermap.OffsetPayloadFinalTransfer2Size),
	}
}

// clearEIEnable clears the EIControl enable bit as part of an event
// interface SetHalt; the write observer disables the module.
func (d *Device) clearEIEnable() {
	reg := memory.Register{Name: "EIControl", Address: d.eirmBase + registermap.OffsetEIControl, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE}
	v, err := d.Mem.ReadRegisterInternal(reg)
	if err != nil {
		return
	}
	d.Mem.WriteRegisterInternal(reg, v.(uint32)&^uint32(1<<registermap.BitEIControlEnable))
}

// clearSIEnable clears the SIControl enable bit as part of a stream
// interface SetHalt.
func (d *Device) clearSIEnable() {
	reg := memory.Register{Name: "SIControl", Address: d.sirmBase + registermap.OffsetSIControl, Length: 4, Access: memory.RW, Encoding: memory.EncUint32LE}
	v, err := d.Mem.ReadRegisterInternal(reg)
	if err != nil {
		return
	}
	d.Mem.WriteRegisterInternal(reg, v.(uint32)&^uint32(1<<registermap.BitSIControlEnable))
}

func (d *Device) populateIdentity(id Identity) error {
	type kv struct {
		reg memory.Register
		val any
	}
	abrm := registermap.ABRM()
	byName := make(map[string]memory.Register, len(abrm))
	for _, r := range abrm {
		byName[r.Name] = r
	}

	writes := []kv{
		{byName["GenCpVersion"], uint32(0x00010200)},
		{byName["ManufacturerName"], id.ManufacturerName},
		{byName["ModelName"], id.ModelName},
		{byName["FamilyName"], id.FamilyName},
		{byName["DeviceVersion"], id.DeviceVersion},
		{byName["ManufacturerInfo"], id.ManufacturerInfo},
		{byName["SerialNumber"], id.SerialNumber},
		{byName["DeviceCapability"], deviceCapabilityBytes()},
		{byName["ManifestTableAddress"], addrManifest},
		{byName["SBRMAddress"], addrSBRM},
		{byName["TimestampIncrement"], uint64(1000)}, // 1000ns/tick; see DESIGN.md
		{byName["ProtocolEndianness"], uint32(0)},    // little-endian
		{byName["ImplementationEndianness"], uint32(0)},
	}
	for _, w := range writes {
		if err := d.Mem.WriteRegisterInternal(w.reg, w.val); err != nil {
			return err
		}
	}

	sbrm := registermap.SBRM(addrSBRM)
	sbrmByName := make(map[string]memory.Register, len(sbrm))
	for _, r := range sbrm {
		sbrmByName[r.Name] = r
	}
	sbrmWrites := []kv{
		{sbrmByName["U3VVersion"], uint32(0x00010000)},
		{sbrmByName["U3VCPCapability"], u3vCapabilityValue()},
		{sbrmByName["MaximumCommandTransferLength"], uint32(1024)},
		{sbrmByName["MaximumAcknowledgeTransferLength"], uint32(1024)},
		{sbrmByName["NumberOfStreamChannels"], uint32(1)},
		{sbrmByName["SirmAddress"], addrSIRM},
		{sbrmByName["SirmLength"], uint32(registermap.SIRMSize)},
		{sbrmByName["EirmAddress"], addrEIRM},
		{sbrmByName["EirmLength"], uint32(registermap.EIRMSize)},
	}
	for _, w := range sbrmWrites {
		if err := d.Mem.WriteRegisterInternal(w.reg, w.val); err != nil {
			return err
		}
	}

	sirm := registermap.SIRM(addrSIRM)
	sirmByName := make(map[string]memory.Register, len(sirm))
	for _, r := range sirm {
		sirmByName[r.Name] = r
	}
	sirmWrites := []kv{
		{sirmByName["RequiredLeaderSize"], uint32(protocol.LeaderHeaderLen)},
		{sirmByName["RequiredTrailerSize"], uint32(protocol.TrailerHeaderLen)},
		{sirmByName["MaximumLeaderSize"], uint32(1024)},
		{sirmByName["MaximumTrailerSize"], uint32(1024)},
	}
	for _, w := range sirmWrites {
		if err := d.Mem.WriteRegisterInternal(w.reg, w.val); err != nil {
			return err
		}
	}

	eirm := registermap.EIRM(addrEIRM)
	eirmByName := make(map[string]memory.Register, len(eirm))
	for _, r := range eirm {
		eirmByName[r.Name] = r
	}
	if err := d.Mem.WriteRegisterInternal(eirmByName["MaximumEventTransferLength"], uint32(1024)); err != nil {
		return err
	}

	// Manifest table: EntryCount(u64) followed by one 64-byte entry
	// pointing at the GenICam XML blob.
	countReg := memory.Register{Name: "ManifestEntryCount", Address: addrManifest, Length: 8, Access: memory.RO, Encoding: memory.EncUint64LE}
	if err := d.Mem.InitRegister(countReg); err != nil {
		return err
	}
	if err := d.Mem.WriteRegisterInternal(countReg, uint64(1)); err != nil {
		return err
	}
	entryReg := memory.Register{Name: "Manifest0", Address: addrManifest + 8, Length: uint16(registermap.ManifestEntrySize), Access: memory.RO, Encoding: memory.EncRawBytes}
	if err := d.Mem.InitRegister(entryReg); err != nil {
		return err
	}
	fileFormat := registermap.PackFileFormatInfo(registermap.GenICamFileTypeDeviceXML, registermap.CompressionNone, 1, 1)
	entryBytes := make([]byte, registermap.ManifestEntrySize)
	putUint32(entryBytes[registermap.OffsetEntryFileVersion:], 1)
	putUint32(entryBytes[registermap.OffsetEntryFileFormatInfo:], fileFormat)
	putUint64(entryBytes[registermap.OffsetEntryRegisterAddress:], addrXML)
	putUint64(entryBytes[registermap.OffsetEntryFileSize:], uint64(len(id.GenICamXML)))
	if err := d.Mem.WriteRegisterInternal(entryReg, entryBytes); err != nil {
		return err
	}

	xmlReg := memory.Register{Name: "GenICamXML", Address: addrXML, Length: uint16(len(id.GenICamXML)), Access: memory.RO, Encoding: memory.EncRawBytes}
	return d.Mem.WriteRegisterInternal(xmlReg, id.GenICamXML)
}

func deviceCapabilityBytes() []byte {
	buf := make([]byte, 8)
	putUint64(buf, 1<<registermap.BitUserDefinedName|
		1<<registermap.BitTimestamp|
		1<<registermap.BitFamilyName|
		1<<registermap.BitSBRMPresent|
		1<<registermap.BitEndiannessReg)
	return buf
}

func u3vCapabilityValue() uint64 {
	return 1<<registermap.BitSIRMPresent | 1<<registermap.BitEIRMPresent
}

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}
