package vfiopci

import (
	"github.com/killvxk/mvisor-x/logger"
	"github.com/killvxk/mvisor-x/machine"
	"github.com/killvxk/mvisor-x/vfiouapi"
)

// seedDmaMirror maps every current RAM slot into the IOMMU container,
// then subscribes to future topology changes so the mapping set stays
// exactly equal to the flat view for as long as the device is connected.
func (d *Device) seedDmaMirror() error {
	for _, slot := range d.memory.GetMemoryFlatView() {
		if slot.Type != machine.MemoryTypeRAM {
			continue
		}
		if err := d.mapDmaSlot(slot); err != nil {
			return err
		}
	}

	d.memSub = d.memory.RegisterMemoryListener(d.onMemoryChange)
	return nil
}

func (d *Device) onMemoryChange(slot machine.MemorySlot, added bool) {
	if slot.Type != machine.MemoryTypeRAM {
		return
	}
	if added {
		if err := d.mapDmaSlot(slot); err != nil {
			// A failed map means the guest could DMA into memory the
			// IOMMU never granted it access to; this core treats that
			// as unrecoverable for the whole device.
			logger.Error("fatal: dma map failed", "device", d.Name(), "slot", slot, "error", err)
			panic(err)
		}
		return
	}
	if err := d.unmapDmaSlot(slot); err != nil {
		logger.Warn("dma unmap failed, ignoring", "device", d.Name(), "slot", slot, "error", err)
	}
}

func (d *Device) mapDmaSlot(slot machine.MemorySlot) error {
	return vfiouapi.MapDMA(d.sys, d.containerFd, slot.HostVirtualAddr, slot.Begin, slot.Size())
}

func (d *Device) unmapDmaSlot(slot machine.MemorySlot) error {
	return vfiouapi.UnmapDMA(d.sys, d.containerFd, slot.Begin, slot.Size())
}
