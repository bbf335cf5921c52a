package vfiouapi

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

const irqInfoSize = ioctlCommonSize + 8 // Index, Count

// GetIrqInfo fetches the flags and count for one of the VFIO_PCI_*_IRQ_INDEX
// interrupt indices (INTx, MSI, MSI-X, ...).
func GetIrqInfo(sys Syscaller, deviceFd int, index uint32) (IrqInfo, error) {
	buf := make([]byte, irqInfoSize)
	putIoctlCommon(buf, irqInfoSize, 0)
	binary.LittleEndian.PutUint32(buf[8:12], index)

	if _, err := sys.Ioctl(deviceFd, VFIO_DEVICE_GET_IRQ_INFO, unsafe.Pointer(&buf[0])); err != nil {
		return IrqInfo{}, fmt.Errorf("device get irq info for index %d: %w", index, err)
	}

	argsz, flags := getIoctlCommon(buf)
	return IrqInfo{
		IoctlCommon: IoctlCommon{ArgSz: argsz, Flags: flags},
		Index:       binary.LittleEndian.Uint32(buf[8:12]),
		Count:       binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// SetIrqEventfds binds one eventfd per vector, starting at vector `start`,
// as the trigger for irqIndex (VFIO_PCI_MSI_IRQ_INDEX for MSI). Passing
// -1 as a vector's fd unbinds just that vector.
func SetIrqEventfds(sys Syscaller, deviceFd int, irqIndex uint32, start uint32, fds []int32) error {
	const headerSize = ioctlCommonSize + 12 // Index, Start, Count
	buf := make([]byte, headerSize+4*len(fds))

	putIoctlCommon(buf, uint32(len(buf)), VFIO_IRQ_SET_DATA_EVENTFD|VFIO_IRQ_SET_ACTION_TRIGGER)
	binary.LittleEndian.PutUint32(buf[8:12], irqIndex)
	binary.LittleEndian.PutUint32(buf[12:16], start)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(fds)))

	for i, fd := range fds {
		binary.LittleEndian.PutUint32(buf[headerSize+i*4:headerSize+i*4+4], uint32(fd))
	}

	if _, err := sys.Ioctl(deviceFd, VFIO_DEVICE_SET_IRQS, unsafe.Pointer(&buf[0])); err != nil {
		return fmt.Errorf("device set irqs (index %d, start %d, count %d): %w", irqIndex, start, len(fds), err)
	}
	return nil
}

// DisableIrq tears down every vector bound at irqIndex in one call, the
// same as freeing all of a device's MSI vectors on disconnect.
func DisableIrq(sys Syscaller, deviceFd int, irqIndex uint32) error {
	buf := make([]byte, ioctlCommonSize+12)
	putIoctlCommon(buf, uint32(len(buf)), VFIO_IRQ_SET_DATA_NONE|VFIO_IRQ_SET_ACTION_TRIGGER)
	binary.LittleEndian.PutUint32(buf[8:12], irqIndex)
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	binary.LittleEndian.PutUint32(buf[16:20], 0)

	if _, err := sys.Ioctl(deviceFd, VFIO_DEVICE_SET_IRQS, unsafe.Pointer(&buf[0])); err != nil {
		return fmt.Errorf("device disable irqs (index %d): %w", irqIndex, err)
	}
	return nil
}

// ResetDevice issues VFIO_DEVICE_RESET, the hot-reset the host kernel
// performs against the underlying hardware function.
func ResetDevice(sys Syscaller, deviceFd int) error {
	if _, err := sys.Ioctl(deviceFd, VFIO_DEVICE_RESET, nil); err != nil {
		return fmt.Errorf("device reset: %w", err)
	}
	return nil
}
