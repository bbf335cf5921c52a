package machine

import "encoding/binary"

// PciHeaderSize is the size of a PCI type-0 configuration header. Extended
// configuration space (PCIe) is out of scope; everything this repository
// emulates or proxies lives in the first 256 bytes.
const PciHeaderSize = 256

// Standard type-0 header field offsets.
const (
	PciOffsetVendorID      = 0x00
	PciOffsetDeviceID      = 0x02
	PciOffsetCommand       = 0x04
	PciOffsetStatus        = 0x06
	PciOffsetRevisionID    = 0x08
	PciOffsetProgIF        = 0x09
	PciOffsetSubClass      = 0x0a
	PciOffsetBaseClass     = 0x0b
	PciOffsetHeaderType    = 0x0e
	PciOffsetBar0          = 0x10
	PciOffsetSubsysVendor  = 0x2c
	PciOffsetSubsysID      = 0x2e
	PciOffsetCapPointer    = 0x34
	PciOffsetInterruptLine = 0x3c
	PciOffsetInterruptPin  = 0x3d
)

const PciBarCount = 6

// PciStatusCapList is the status-register bit advertising that the
// capability list pointer at 0x34 is valid.
const PciStatusCapList = 1 << 4

// PciHeaderTypeNormal and PciMultiFunction decode the header-type byte:
// the low 7 bits name the layout (0 for a normal endpoint function), the
// top bit marks a multi-function device.
const (
	PciHeaderTypeNormal = 0x00
	PciMultiFunction    = 0x80
)

// PciHeader is a raw 256-byte config space buffer with typed accessors. It
// is used both for config space this repository owns outright (none, in
// this package) and as the scratch buffer a proxy sanitizes a device's
// real header into before exposing it to a guest.
type PciHeader struct {
	data [PciHeaderSize]byte
}

func (h *PciHeader) Bytes() []byte { return h.data[:] }

func (h *PciHeader) Get8(offset int) uint8  { return h.data[offset] }
func (h *PciHeader) Get16(offset int) uint16 {
	return binary.LittleEndian.Uint16(h.data[offset:])
}
func (h *PciHeader) Get32(offset int) uint32 {
	return binary.LittleEndian.Uint32(h.data[offset:])
}

func (h *PciHeader) Set8(offset int, v uint8) { h.data[offset] = v }
func (h *PciHeader) Set16(offset int, v uint16) {
	binary.LittleEndian.PutUint16(h.data[offset:], v)
}
func (h *PciHeader) Set32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(h.data[offset:], v)
}

func (h *PciHeader) VendorID() uint16 { return h.Get16(PciOffsetVendorID) }
func (h *PciHeader) DeviceID() uint16 { return h.Get16(PciOffsetDeviceID) }
func (h *PciHeader) Command() uint16  { return h.Get16(PciOffsetCommand) }
func (h *PciHeader) Status() uint16   { return h.Get16(PciOffsetStatus) }

// ClassCode returns the 24-bit base-class/subclass/prog-if triple as a
// single value shaped like the conventional 0xBBSSPP notation (e.g.
// 0x030200 for a 3D display controller).
func (h *PciHeader) ClassCode() uint32 {
	return uint32(h.Get8(PciOffsetBaseClass))<<16 | uint32(h.Get8(PciOffsetSubClass))<<8 | uint32(h.Get8(PciOffsetProgIF))
}

func (h *PciHeader) SetClassCode(code uint32) {
	h.Set8(PciOffsetBaseClass, uint8(code>>16))
	h.Set8(PciOffsetSubClass, uint8(code>>8))
	h.Set8(PciOffsetProgIF, uint8(code))
}

func (h *PciHeader) Bar(index uint8) uint32 {
	return h.Get32(PciOffsetBar0 + int(index)*4)
}

func (h *PciHeader) SetBar(index uint8, v uint32) {
	h.Set32(PciOffsetBar0+int(index)*4, v)
}

// BarIsIO reports whether a BAR's low bit marks it as I/O space rather
// than memory space. Passthrough never activates one of these: BAR-write
// handling skips IO BARs, and BarIs64 uses this to rule them out.
func (h *PciHeader) BarIsIO(index uint8) bool {
	return h.Bar(index)&0x1 == 1
}

// BarIs64 reports whether a memory BAR is the low half of a 64-bit pair
// (type bits 10 at offset 1-2), meaning the next BAR slot is its high
// 32 bits and must never be treated as an independent region.
func (h *PciHeader) BarIs64(index uint8) bool {
	return !h.BarIsIO(index) && (h.Bar(index)>>1)&0x3 == 0x2
}

// CapabilityOffsets walks the linked list rooted at the capabilities
// pointer (offset 0x34) and returns each capability's (id, offset) pair in
// list order. It stops at a null terminator or after 48 hops, since a
// cycle in a hostile or corrupt header must not hang the walk.
func (h *PciHeader) CapabilityOffsets() []CapabilityRef {
	if h.Status()&PciStatusCapList == 0 {
		return nil
	}

	refs := make([]CapabilityRef, 0, 8)
	offset := h.Get8(PciOffsetCapPointer)
	seen := make(map[uint8]bool)

	for offset != 0 && !seen[offset] && len(refs) < 48 {
		seen[offset] = true
		id := h.Get8(int(offset))
		next := h.Get8(int(offset) + 1)
		refs = append(refs, CapabilityRef{ID: id, Offset: offset})
		offset = next
	}
	return refs
}

// CapabilityRef names one entry in a config space capability chain.
type CapabilityRef struct {
	ID     uint8
	Offset uint8
}

// PCI capability IDs this repository cares about.
const (
	PciCapPowerManagement = 0x01
	PciCapMSI             = 0x05
	PciCapVendorSpecific  = 0x09
	PciCapMSIX            = 0x11
)

// PciBar describes one base address register's decoded shape, independent
// of whatever backs it. Passthrough devices fill this in from the host
// kernel's region info rather than constructing it by hand.
type PciBar struct {
	Index    uint8
	Size     uint64
	Is64Bit  bool
	Prefetch bool

	// Address is the guest base address currently programmed into the
	// BAR register, valid only once Active is true.
	Address uint64
	Active  bool
}

// PciDevice is the bus-visible half of an attached device: its config
// header, the bar geometry the bus needs to answer guest probes, and the
// IoResources currently registered for dispatch. The VFIO passthrough
// device embeds this and supplies the header contents and IoOperations
// implementation; the bus never reaches into VFIO state directly.
type PciDevice struct {
	BaseDevice

	Header PciHeader
	Bars   [PciBarCount]*PciBar

	Slot      int
	resources []IoResource
}

// AddPciBar records a bar's decoded shape so the bus can answer guest
// BAR-sizing probes without reaching back into the device's VFIO state.
func (device *PciDevice) AddPciBar(bar *PciBar) {
	device.Bars[bar.Index] = bar
}

func (device *PciDevice) AddIoResource(res IoResource) {
	device.resources = append(device.resources, res)
}

func (device *PciDevice) RemoveIoResource(index uint8, resType IoResourceType) error {
	for i, res := range device.resources {
		if res.Index == index && res.Type == resType {
			device.resources = append(device.resources[:i], device.resources[i+1:]...)
			return nil
		}
	}
	return ErrIoResourceNotFound
}

func (device *PciDevice) IoResources() []IoResource {
	return device.resources
}

// PciBus is a flat single-level collection of devices keyed by slot
// number. There is no bridge or multi-function support: every device
// this repository emulates occupies exactly one slot, function zero.
type PciBus struct {
	devices map[int]*PciDevice
}

func NewPciBus() *PciBus {
	return &PciBus{devices: make(map[int]*PciDevice)}
}

func (bus *PciBus) AddDevice(slot int, device *PciDevice) error {
	if _, taken := bus.devices[slot]; taken {
		return ErrPciSlotTaken
	}
	device.Slot = slot
	bus.devices[slot] = device
	return nil
}

func (bus *PciBus) RemoveDevice(slot int) error {
	if _, ok := bus.devices[slot]; !ok {
		return ErrPciSlotEmpty
	}
	delete(bus.devices, slot)
	return nil
}

func (bus *PciBus) DeviceAt(slot int) (*PciDevice, error) {
	device, ok := bus.devices[slot]
	if !ok {
		return nil, ErrPciSlotEmpty
	}
	return device, nil
}

func (bus *PciBus) Devices() []*PciDevice {
	out := make([]*PciDevice, 0, len(bus.devices))
	for _, device := range bus.devices {
		out = append(out, device)
	}
	return out
}
