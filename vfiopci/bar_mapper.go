package vfiopci

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/killvxk/mvisor-x/logger"
	"github.com/killvxk/mvisor-x/machine"
	"github.com/killvxk/mvisor-x/vfiouapi"
)

// mmapHandle owns one mmap'd range of a device region. Closing it munmaps
// unconditionally, so a BAR mapper can hold a sequence of these and treat
// deactivation as "close everything I opened," including a partially
// activated BAR.
type mmapHandle struct {
	sys  vfiouapi.Syscaller
	data []byte
}

func (h *mmapHandle) Close() error {
	return h.sys.Munmap(h.data)
}

// barActivation is the bookkeeping ActivatePciBar builds and
// DeactivatePciBar unwinds: the mmap handles it opened and the IoResources
// it published, in the order they need to be torn down.
type barActivation struct {
	handles   []*mmapHandle
	resources []machine.IoResource
}

func regionProt(region Region) int {
	prot := 0
	if region.Readable() {
		prot |= unix.PROT_READ
	}
	if region.Writable() {
		prot |= unix.PROT_WRITE
	}
	return prot
}

// ActivatePciBar mmaps the backing region and publishes it to the bus: a
// whole-region mmap as guest RAM, or for a sparse region the full window
// as trap-dispatched MMIO with each mmap'd area layered over it as RAM.
// It falls back to a trap-dispatched MMIO resource when the region isn't
// mmap-capable at all. Calling it on an already-active BAR is a no-op.
func (d *Device) ActivatePciBar(index uint8) error {
	bar := d.Bars[index]
	if bar == nil {
		return ErrRegionNotFound
	}
	if bar.Active {
		return nil
	}

	region, ok := d.regions.At(uint32(index))
	if !ok {
		return ErrRegionNotFound
	}

	activation := &barActivation{}

	if !region.Mappable() {
		res := machine.IoResource{Type: machine.IoResourceMmio, Index: index, Start: bar.Address, Size: region.Size}
		d.AddIoResource(res)
		activation.resources = append(activation.resources, res)
		d.barState[index] = activation
		bar.Active = true
		return nil
	}

	if !region.HasSparse() {
		data, err := d.sys.Mmap(d.deviceFd, int64(region.HostOffset), int(region.Size), regionProt(region), unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap bar %d: %w", index, err)
		}
		activation.handles = append(activation.handles, &mmapHandle{sys: d.sys, data: data})

		res := machine.IoResource{Type: machine.IoResourceRam, Index: index, Start: bar.Address, Size: region.Size}
		d.AddIoResource(res)
		activation.resources = append(activation.resources, res)

		d.barState[index] = activation
		bar.Active = true
		return nil
	}

	// Sparse case: publish the whole window as a trap-dispatched MMIO
	// resource, then layer RAM sub-ranges over the mappable areas so hot
	// paths run at native speed while gaps still trap.
	whole := machine.IoResource{Type: machine.IoResourceMmio, Index: index, Start: bar.Address, Size: region.Size}
	d.AddIoResource(whole)
	activation.resources = append(activation.resources, whole)

	for _, area := range region.MmapAreas {
		data, err := d.sys.Mmap(d.deviceFd, int64(region.HostOffset+area.Offset), int(area.Size), regionProt(region), unix.MAP_SHARED)
		if err != nil {
			d.unwindActivation(activation)
			return fmt.Errorf("mmap sparse area of bar %d at offset %#x: %w", index, area.Offset, err)
		}
		activation.handles = append(activation.handles, &mmapHandle{sys: d.sys, data: data})

		res := machine.IoResource{Type: machine.IoResourceRam, Index: index, Start: bar.Address + area.Offset, Size: area.Size}
		d.AddIoResource(res)
		activation.resources = append(activation.resources, res)
	}

	d.barState[index] = activation
	bar.Active = true
	return nil
}

// DeactivatePciBar reverses activation: unregister and munmap every
// resource this BAR published, in the order it was added.
func (d *Device) DeactivatePciBar(index uint8) error {
	bar := d.Bars[index]
	if bar == nil {
		return ErrRegionNotFound
	}
	activation := d.barState[index]
	if activation == nil {
		return nil
	}

	d.unwindActivation(activation)
	d.barState[index] = nil
	bar.Active = false
	return nil
}

func (d *Device) unwindActivation(activation *barActivation) {
	for _, res := range activation.resources {
		if err := d.RemoveIoResource(res.Index, res.Type); err != nil {
			logger.Warn("bar resource already removed", "resource", res.String())
		}
	}
	for _, handle := range activation.handles {
		if err := handle.Close(); err != nil {
			logger.Warn("munmap bar region failed", "error", err)
		}
	}
}
