package vfiopci

import (
	"fmt"

	"github.com/killvxk/mvisor-x/logger"
	"github.com/killvxk/mvisor-x/machine"
)

// MsiConfig records where the MSI capability lives in the synthesized
// header and the vector accounting the router needs. This core requires
// exactly one 64-bit, non-masked vector; anything else fails attach.
type MsiConfig struct {
	Offset      int
	Is64Bit     bool
	IsMSIX      bool
	Length      int
	Enabled     bool
	VectorCount int
}

// MSI capability layout, relative to the capability's own offset.
const (
	msiOffsetControl = 2
	msiFlagsEnable   = 0x0001
	msiFlagsQMask    = 0x000e
	msiFlagsQSize    = 0x0070
	msiFlags64Bit    = 0x0080
	msiFlagsMaskBit  = 0x0100
	msiCapLength64   = 14
)

// syntheticClassCode is written into the guest-visible header regardless
// of what the real device advertises; the device presents to the guest
// as this class no matter its true identity.
const syntheticClassCode = 0x030200

// synthesizeConfigHeader performs the once-at-attach pass: read the real
// header, sanitize it, parse its capability chain, register BARs with
// the bus model, and write the sanitized header back to the device.
func (d *Device) synthesizeConfigHeader() error {
	if err := d.readConfigHardware(0, d.Header.Bytes()); err != nil {
		return fmt.Errorf("read config header: %w", err)
	}

	d.Header.Set8(machine.PciOffsetInterruptPin, 0)
	d.Header.Set8(machine.PciOffsetHeaderType, d.Header.Get8(machine.PciOffsetHeaderType)&^machine.PciMultiFunction)
	if d.Header.Get8(machine.PciOffsetHeaderType)&0x7f != machine.PciHeaderTypeNormal {
		return fmt.Errorf("unsupported pci header type %#x", d.Header.Get8(machine.PciOffsetHeaderType))
	}
	d.Header.SetClassCode(syntheticClassCode)

	for index := uint8(0); index < machine.PciBarCount; index++ {
		if d.Header.BarIs64(index) {
			// The 64-bit-memory bit is forcibly cleared; the high half
			// of the pair is never treated as an independent BAR.
			d.Header.SetBar(index, d.Header.Bar(index)&^0x6)
		}
	}

	if err := d.parseCapabilities(); err != nil {
		return err
	}
	if err := d.registerBars(); err != nil {
		return err
	}

	// Non-standard but intentional: userspace normally treats config space
	// as read-mostly, yet the sanitized header is written back so the
	// device sees the same irq pin, header type and class code as the guest.
	if err := d.writeConfigHardware(0, d.Header.Bytes()); err != nil {
		return fmt.Errorf("write sanitized config header back to device: %w", err)
	}
	return nil
}

// parseCapabilities walks the header's capability list, recording the MSI
// capability and rejecting anything this core cannot represent.
func (d *Device) parseCapabilities() error {
	for _, ref := range d.Header.CapabilityOffsets() {
		switch ref.ID {
		case machine.PciCapMSI:
			offset := int(ref.Offset)
			control := d.Header.Get16(offset + msiOffsetControl)
			if control&msiFlagsMaskBit != 0 {
				return ErrMsiPerVectorMasking
			}
			if control&msiFlags64Bit == 0 {
				return ErrMsiNot64Bit
			}
			d.msi = MsiConfig{
				Offset:  offset,
				Is64Bit: true,
				Length:  msiCapLength64,
			}
		case machine.PciCapMSIX:
			return ErrMsixUnsupported
		case machine.PciCapVendorSpecific:
			// Nothing to record; vendor-specific capabilities are opaque.
		default:
			logger.Debug("skipping unhandled pci capability", "id", ref.ID, "offset", ref.Offset)
		}
	}
	if d.msi.Offset == 0 {
		return fmt.Errorf("device does not advertise an msi capability")
	}
	return nil
}

// registerBars builds a machine.PciBar for every region the device
// populated (nonzero size) and adds it to the embedded PciDevice so the
// bus model can answer guest BAR-sizing probes.
func (d *Device) registerBars() error {
	for index := uint8(0); index < machine.PciBarCount; index++ {
		region, ok := d.regions.At(uint32(index))
		if !ok || region.Size == 0 {
			continue
		}
		bar := &machine.PciBar{
			Index:    index,
			Size:     region.Size,
			Is64Bit:  false, // forcibly cleared above; this core only exposes 32-bit memory BARs
			Prefetch: false,
		}
		d.AddPciBar(bar)
	}
	return nil
}

func (d *Device) readConfigHardware(offset int, data []byte) error {
	n, err := d.sys.Pread(d.deviceFd, data, int64(d.configRegion.HostOffset)+int64(offset))
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short config read: got %d of %d bytes", n, len(data))
	}
	return nil
}

func (d *Device) writeConfigHardware(offset int, data []byte) error {
	n, err := d.sys.Pwrite(d.deviceFd, data, int64(d.configRegion.HostOffset)+int64(offset))
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short config write: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// ReadPciConfigSpace re-reads the targeted bytes from hardware into the
// shadow header, then serves the read from the header buffer so bus-level
// semantics (e.g. BAR sizing reads the bus may have altered) still apply.
func (d *Device) ReadPciConfigSpace(offset int, data []byte) error {
	if err := d.readConfigHardware(offset, d.Header.Bytes()[offset:offset+len(data)]); err != nil {
		logger.Warn("config space read failed", "device", d.Name(), "offset", offset, "error", err)
	}
	copy(data, d.Header.Bytes()[offset:offset+len(data)])
	return nil
}

// WritePciConfigSpace forwards the write to the device unconditionally
// (pass-through semantics), applies it to the shadow header, then detects
// BAR reprogramming and MSI control-register changes.
func (d *Device) WritePciConfigSpace(offset int, data []byte) error {
	if err := d.writeConfigHardware(offset, data); err != nil {
		logger.Warn("config space write failed", "device", d.Name(), "offset", offset, "error", err)
	}
	copy(d.Header.Bytes()[offset:offset+len(data)], data)

	if index, ok := barIndexForOffset(offset, len(data)); ok {
		if err := d.handleBarWrite(index); err != nil {
			return err
		}
	}

	if rangesOverlap(offset, len(data), d.msi.Offset+msiOffsetControl, 2) {
		if err := d.updateMsiRoutes(); err != nil {
			return err
		}
	}
	return nil
}

func barIndexForOffset(offset, length int) (uint8, bool) {
	if offset < machine.PciOffsetBar0 || offset >= machine.PciOffsetBar0+4*machine.PciBarCount {
		return 0, false
	}
	return uint8((offset - machine.PciOffsetBar0) / 4), true
}

func rangesOverlap(aOffset, aLength, bOffset, bLength int) bool {
	return aOffset < bOffset+bLength && bOffset < aOffset+aLength
}

// handleBarWrite decides whether a guest write to a BAR register is a
// size probe (all address bits set) or a real base-address assignment,
// and activates or deactivates the BAR's mmap accordingly. IO-space BARs
// are never activated: passthrough of IO-port BARs beyond registering
// their presence is out of scope.
func (d *Device) handleBarWrite(index uint8) error {
	bar := d.Bars[index]
	if bar == nil || d.Header.BarIsIO(index) {
		return nil
	}

	raw := d.Header.Bar(index)
	base := uint64(raw &^ 0xf)

	switch base {
	case 0:
		if bar.Active {
			return d.DeactivatePciBar(index)
		}
		return nil
	case 0xfffffff0:
		// The guest is probing for the BAR's size; the real device
		// already reflected the size mask through the write-through
		// above. Nothing to activate.
		return nil
	default:
		bar.Address = base
		if bar.Active {
			if err := d.DeactivatePciBar(index); err != nil {
				return err
			}
		}
		return d.ActivatePciBar(index)
	}
}
