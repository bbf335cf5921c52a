package vfiouapi

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

const ioctlCommonSize = 8 // ArgSz uint32 + Flags uint32

func putIoctlCommon(buf []byte, argsz, flags uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], argsz)
	binary.LittleEndian.PutUint32(buf[4:8], flags)
}

func getIoctlCommon(buf []byte) (argsz, flags uint32) {
	return binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint32(buf[4:8])
}

// OpenContainer opens /dev/vfio/vfio and confirms the kernel speaks the
// API version this repository was built against and supports the
// type1v2 IOMMU model. It does not yet select an IOMMU type: the kernel
// requires at least one group bound to the container before
// VFIO_SET_IOMMU succeeds, so that call is BindIommu, issued after
// OpenGroup.
func OpenContainer(sys Syscaller) (int, error) {
	fd, err := sys.Open("/dev/vfio/vfio", 0x2 /* O_RDWR */, 0)
	if err != nil {
		return -1, fmt.Errorf("open /dev/vfio/vfio: %w", err)
	}

	version, err := sys.Ioctl(fd, VFIO_GET_API_VERSION, nil)
	if err != nil {
		sys.Close(fd)
		return -1, fmt.Errorf("get api version: %w", err)
	}
	if version != VFIO_API_VERSION {
		sys.Close(fd)
		return -1, fmt.Errorf("vfio api version %d, want %d", version, VFIO_API_VERSION)
	}

	if ext, err := sys.Ioctl(fd, VFIO_CHECK_EXTENSION, unsafe.Pointer(uintptr(VFIO_TYPE1v2_IOMMU))); err != nil || ext == 0 {
		sys.Close(fd)
		if err == nil {
			err = fmt.Errorf("kernel does not support the type1v2 iommu")
		}
		return -1, fmt.Errorf("check type1v2 iommu extension: %w", err)
	}

	return fd, nil
}

// BindIommu selects the type1v2 IOMMU model for a container that already
// has at least one group bound to it.
func BindIommu(sys Syscaller, containerFd int) error {
	if _, err := sys.Ioctl(containerFd, VFIO_SET_IOMMU, unsafe.Pointer(uintptr(VFIO_TYPE1v2_IOMMU))); err != nil {
		return fmt.Errorf("set type1v2 iommu: %w", err)
	}
	return nil
}

// OpenGroup opens /dev/vfio/<number>, confirms the group is viable (every
// device in it is bound to vfio-pci), and binds it to containerFd.
func OpenGroup(sys Syscaller, number int, containerFd int) (int, error) {
	path := fmt.Sprintf("/dev/vfio/%d", number)
	fd, err := sys.Open(path, 0x2, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}

	buf := make([]byte, ioctlCommonSize)
	putIoctlCommon(buf, ioctlCommonSize, 0)
	if _, err := sys.Ioctl(fd, VFIO_GROUP_GET_STATUS, unsafe.Pointer(&buf[0])); err != nil {
		sys.Close(fd)
		return -1, fmt.Errorf("group get status: %w", err)
	}
	_, flags := getIoctlCommon(buf)
	if flags&VFIO_GROUP_FLAGS_VIABLE == 0 {
		sys.Close(fd)
		return -1, fmt.Errorf("vfio group %d is not viable: not every device in the group is bound to vfio-pci", number)
	}

	if flags&VFIO_GROUP_FLAGS_CONTAINER_SET == 0 {
		if _, err := sys.Ioctl(fd, VFIO_GROUP_SET_CONTAINER, unsafe.Pointer(uintptr(containerFd))); err != nil {
			sys.Close(fd)
			return -1, fmt.Errorf("group set container: %w", err)
		}
	}

	return fd, nil
}

// GetDeviceFd resolves a PCI address (e.g. "0000:01:00.0") within an
// already-bound group to its device file descriptor.
func GetDeviceFd(sys Syscaller, groupFd int, pciAddress string) (int, error) {
	name := append([]byte(pciAddress), 0)
	ret, err := sys.Ioctl(groupFd, VFIO_GROUP_GET_DEVICE_FD, unsafe.Pointer(&name[0]))
	if err != nil {
		return -1, fmt.Errorf("group get device fd for %s: %w", pciAddress, err)
	}
	return int(ret), nil
}
