// Package gentl implements the GenTL producer's System/Interface/Device
// module trio over the in-process emulator, so a GenTL-style consumer can
// enumerate and open emulated devices the same way it would real hardware.
// The System module's own info registers are backed by a memory.TypedMemory
// instance, the same abstraction that backs the devices themselves; the
// Interface and Device modules have no register block of their own.
package gentl

import (
	"context"

	"u3vgo/pkg/emulator"
	"u3vgo/pkg/memory"
)

// Producer identity advertised through the System module's registers.
const (
	tlVersionMajor uint32 = 1
	tlVersionMinor uint32 = 6
	tlID                  = "u3vgo-tl"
	tlVendorName          = "u3vgo"
	tlModelName           = "u3vgo GenTL producer"
)

// System module register layout.
const (
	addrTLVersionMajor uint64 = 0x0000
	addrTLVersionMinor uint64 = 0x0004
	addrTLID           uint64 = 0x0008
	addrTLVendorName   uint64 = 0x0048
	addrTLModelName    uint64 = 0x0088
	systemMemSize             = 0x00C8
)

// System is the GenTL producer's top-level handle: it owns exactly one
// Interface, since this producer exposes a single (virtual) USB3 Vision
// transport rather than enumerating real host controllers, plus its own
// register-backed info block.
type System struct {
	mem   *memory.Memory
	iface *Interface
}

// NewSystem builds a System backed by pool.
func NewSystem(pool *emulator.Pool) *System {
	mem := memory.New(systemMemSize)
	regs := []memory.Register{
		{Name: "GenTLVersionMajor", Address: addrTLVersionMajor, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "GenTLVersionMinor", Address: addrTLVersionMinor, Length: 4, Access: memory.RO, Encoding: memory.EncUint32LE},
		{Name: "TLID", Address: addrTLID, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
		{Name: "TLVendorName", Address: addrTLVendorName, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
		{Name: "TLModelName", Address: addrTLModelName, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()},
	}
	values := []any{tlVersionMajor, tlVersionMinor, tlID, tlVendorName, tlModelName}
	for i, reg := range regs {
		// The system memory is producer-built; neither init nor the value
		// writes can fail on this fixed layout.
		mem.InitRegister(reg)
		mem.WriteRegisterInternal(reg, values[i])
	}
	return &System{mem: mem, iface: &Interface{pool: pool}}
}

// Interfaces returns the System's single Interface, mirroring GenTL's
// TLOpen/IFGetInfo enumeration contract.
func (s *System) Interfaces() []*Interface {
	return []*Interface{s.iface}
}

// UpdateDeviceList refreshes the producer's device view, reporting whether
// the set of known devices changed since the previous call.
func (s *System) UpdateDeviceList(ctx context.Context) (bool, error) {
	return s.iface.UpdateDeviceList(ctx)
}

// ReadInfo reads raw bytes from the System module's own register block,
// the port-level access a GenTL consumer's TLGetInfo maps to.
func (s *System) ReadInfo(address uint64, length int) ([]byte, error) {
	return s.mem.ReadRaw(address, length)
}

// TLID returns the producer's transport layer identifier.
func (s *System) TLID() string {
	return s.readString(addrTLID)
}

// VendorName returns the producer's vendor string.
func (s *System) VendorName() string {
	return s.readString(addrTLVendorName)
}

// ModelName returns the producer's model string.
func (s *System) ModelName() string {
	return s.readString(addrTLModelName)
}

func (s *System) readString(addr uint64) string {
	reg := memory.Register{Name: "s", Address: addr, Length: 64, Access: memory.RO, Encoding: memory.EncFixedASCII()}
	v, err := s.mem.ReadRegisterInternal(reg)
	if err != nil {
		return ""
	}
	return v.(string)
}
