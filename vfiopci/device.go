// Package vfiopci implements the VFIO-based PCI passthrough core: it
// takes a host device already bound to vfio-pci and drives its attach
// lifecycle, config-space proxying, BAR activation, DMA mirroring, and
// MSI routing so a device manager can treat it as a native PCI device.
package vfiopci

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/killvxk/mvisor-x/logger"
	"github.com/killvxk/mvisor-x/machine"
	"github.com/killvxk/mvisor-x/reactor"
	"github.com/killvxk/mvisor-x/vfiouapi"
)

// Device is the attach-state owner: it holds every descriptor, the
// region table, the shadow config header, the per-vector interrupt
// routes, and the memory listener subscription, and exposes the
// operations a device manager needs to treat it as a native PCI device.
// It embeds machine.PciDevice for config-header storage and bus
// registration, overriding the bus-facing operations with VFIO-aware
// behavior.
type Device struct {
	machine.PciDevice

	sys        vfiouapi.Syscaller
	pciAddress string

	groupID     int
	groupFd     int
	containerFd int
	deviceFd    int

	numRegions   uint32
	regions      RegionTable
	configRegion Region
	msi          MsiConfig
	interrupts   []*interruptRoute
	barState     [machine.PciBarCount]*barActivation

	memory machine.MemoryManager
	memSub int

	reactorRef   *reactor.Reactor
	interruptCtl machine.InterruptController

	gfx GfxPlaneHandler

	connected bool
}

// NewDevice constructs an unconnected device. sys lets tests substitute a
// fake VFIO backend; production callers pass vfiouapi.Default.
func NewDevice(name string, debug bool, sys vfiouapi.Syscaller, memory machine.MemoryManager, r *reactor.Reactor, interruptCtl machine.InterruptController) *Device {
	d := &Device{
		sys:          sys,
		memory:       memory,
		reactorRef:   r,
		interruptCtl: interruptCtl,
	}
	d.Init(&machine.DeviceInfo{Name: name, Debug: debug})
	return d
}

// SetGfxPlaneHandler registers a callback for the opportunistic GFX-plane
// probe performed during attach. Must be called before Connect.
func (d *Device) SetGfxPlaneHandler(handler GfxPlaneHandler) {
	d.gfx = handler
}

// Connect drives the attach order end to end. Any failure aborts and
// reverses every step already committed, leaving no descriptor open.
func (d *Device) Connect(pciAddress string, bus *machine.PciBus, slot int) (err error) {
	if d.connected {
		return ErrAlreadyConnected
	}
	d.pciAddress = pciAddress

	var teardown []func()
	defer func() {
		if err != nil {
			for i := len(teardown) - 1; i >= 0; i-- {
				teardown[i]()
			}
		}
	}()

	groupID, err := vfiouapi.IommuGroupNumber(d.sys, pciAddress)
	if err != nil {
		return err
	}
	d.groupID = groupID

	containerFd, err := vfiouapi.OpenContainer(d.sys)
	if err != nil {
		return err
	}
	d.containerFd = containerFd
	teardown = append(teardown, func() { d.sys.Close(containerFd) })

	groupFd, err := vfiouapi.OpenGroup(d.sys, groupID, containerFd)
	if err != nil {
		return err
	}
	d.groupFd = groupFd
	teardown = append(teardown, func() { d.sys.Close(groupFd) })

	if err = vfiouapi.BindIommu(d.sys, containerFd); err != nil {
		return err
	}

	if err = d.checkIommuInfo(); err != nil {
		return err
	}

	deviceFd, err := vfiouapi.GetDeviceFd(d.sys, groupFd, pciAddress)
	if err != nil {
		return err
	}
	d.deviceFd = deviceFd
	teardown = append(teardown, func() { d.sys.Close(deviceFd) })

	if err = d.checkDeviceInfo(); err != nil {
		return err
	}

	regions, err := discoverRegions(d.sys, deviceFd, d.numRegions)
	if err != nil {
		return err
	}
	d.regions = regions
	configRegion, ok := regions.At(vfiouapi.VFIO_PCI_CONFIG_REGION_INDEX)
	if !ok {
		return ErrRegionNotFound
	}
	d.configRegion = configRegion

	if err = d.synthesizeConfigHeader(); err != nil {
		return err
	}

	if err = bus.AddDevice(slot, &d.PciDevice); err != nil {
		return err
	}
	teardown = append(teardown, func() { bus.RemoveDevice(slot) })

	if err = d.armMsiRouter(); err != nil {
		return err
	}
	teardown = append(teardown, func() { d.disarmMsiRouter() })

	d.probeGfxPlane()

	if err = d.seedDmaMirror(); err != nil {
		return err
	}
	teardown = append(teardown, func() { d.memory.UnregisterMemoryListener(d.memSub) })

	d.connected = true
	return nil
}

func (d *Device) checkIommuInfo() error {
	info, capBuf, err := vfiouapi.GetIommuInfo(d.sys, d.containerFd)
	if err != nil {
		return err
	}
	if info.Flags&vfiouapi.VFIO_IOMMU_INFO_CAPS == 0 {
		return nil
	}
	bitmap, ok := vfiouapi.MigrationPageSizeBitmap(capBuf, info.CapOffset)
	if !ok {
		return nil
	}
	if bitmap&uint64(unix.Getpagesize()) == 0 {
		return fmt.Errorf("iommu migration capability page-size bitmap excludes the host page size")
	}
	return nil
}

func (d *Device) checkDeviceInfo() error {
	info, err := vfiouapi.GetDeviceInfo(d.sys, d.deviceFd)
	if err != nil {
		return err
	}
	if info.Flags&vfiouapi.VFIO_DEVICE_FLAGS_RESET == 0 {
		return ErrDeviceMissingReset
	}
	if info.Flags&vfiouapi.VFIO_DEVICE_FLAGS_PCI == 0 {
		return ErrDeviceNotPci
	}
	if info.NumRegions <= vfiouapi.VFIO_PCI_CONFIG_REGION_INDEX {
		return ErrTooFewRegions
	}
	if info.NumIrqs <= vfiouapi.VFIO_PCI_MSI_IRQ_INDEX {
		return ErrTooFewIrqs
	}
	d.numRegions = info.NumRegions
	return nil
}

// Disconnect reverses Connect's attach order: unregister the memory
// listener, stop polling and close every eventfd, then close the device,
// container, and group descriptors.
func (d *Device) Disconnect(bus *machine.PciBus) error {
	if !d.connected {
		return ErrNotConnected
	}

	d.memory.UnregisterMemoryListener(d.memSub)
	d.disarmMsiRouter()

	for index := range d.Bars {
		if d.Bars[index] != nil && d.Bars[index].Active {
			if err := d.DeactivatePciBar(uint8(index)); err != nil {
				logger.Warn("deactivate bar during disconnect failed", "device", d.Name(), "bar", index, "error", err)
			}
		}
	}

	if err := bus.RemoveDevice(d.Slot); err != nil {
		logger.Warn("remove device from bus during disconnect failed", "device", d.Name(), "error", err)
	}

	if err := d.sys.Close(d.deviceFd); err != nil {
		logger.Warn("close device fd failed", "device", d.Name(), "error", err)
	}
	if err := d.sys.Close(d.containerFd); err != nil {
		logger.Warn("close container fd failed", "device", d.Name(), "error", err)
	}
	if err := d.sys.Close(d.groupFd); err != nil {
		logger.Warn("close group fd failed", "device", d.Name(), "error", err)
	}

	d.connected = false
	return nil
}

// Reset issues the VFIO device reset ioctl. It does not touch MSI state:
// a reset does not imply the guest has disabled interrupts.
func (d *Device) Reset() error {
	if !d.connected {
		return ErrNotConnected
	}
	return vfiouapi.ResetDevice(d.sys, d.deviceFd)
}

// Read services a trap-dispatched access to a BAR region not covered by
// an mmap: a positioned read at region.HostOffset+offset.
func (d *Device) Read(res machine.IoResource, offset uint64, data []byte) error {
	region, ok := d.regions.At(uint32(res.Index))
	if !ok {
		return ErrRegionNotFound
	}
	n, err := d.sys.Pread(d.deviceFd, data, int64(region.HostOffset+offset))
	if err != nil {
		logger.Warn("bar read failed", "device", d.Name(), "resource", res.String(), "offset", offset, "error", err)
		return nil
	}
	if n != len(data) {
		logger.Warn("short bar read", "device", d.Name(), "resource", res.String(), "want", len(data), "got", n)
	}
	return nil
}

// Write services a trap-dispatched write the same way: one positioned
// write, no caching.
func (d *Device) Write(res machine.IoResource, offset uint64, data []byte) error {
	region, ok := d.regions.At(uint32(res.Index))
	if !ok {
		return ErrRegionNotFound
	}
	n, err := d.sys.Pwrite(d.deviceFd, data, int64(region.HostOffset+offset))
	if err != nil {
		logger.Warn("bar write failed", "device", d.Name(), "resource", res.String(), "offset", offset, "error", err)
		return nil
	}
	if n != len(data) {
		logger.Warn("short bar write", "device", d.Name(), "resource", res.String(), "want", len(data), "got", n)
	}
	return nil
}
