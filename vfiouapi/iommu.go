package vfiouapi

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

const iommuType1InfoFixedSize = ioctlCommonSize + 16 // IovaPgsizes, CapOffset, pad

// GetIommuInfo fetches the supported IOVA page size bitmap for the
// container's type1v2 IOMMU domain, growing and reissuing the ioctl if the
// kernel reports a capability chain longer than the fixed-size buffer
// (the same argsz convention region info uses).
func GetIommuInfo(sys Syscaller, containerFd int) (IommuType1Info, []byte, error) {
	buf := make([]byte, iommuType1InfoFixedSize)
	info, err := iommuInfoIoctl(sys, containerFd, buf)
	if err != nil {
		return IommuType1Info{}, nil, err
	}

	if info.ArgSz > uint32(len(buf)) {
		buf = make([]byte, info.ArgSz)
		info, err = iommuInfoIoctl(sys, containerFd, buf)
		if err != nil {
			return IommuType1Info{}, nil, err
		}
	}
	return info, buf, nil
}

func iommuInfoIoctl(sys Syscaller, containerFd int, buf []byte) (IommuType1Info, error) {
	putIoctlCommon(buf, uint32(len(buf)), 0)
	if _, err := sys.Ioctl(containerFd, VFIO_IOMMU_GET_INFO, unsafe.Pointer(&buf[0])); err != nil {
		return IommuType1Info{}, fmt.Errorf("iommu get info: %w", err)
	}
	return decodeIommuInfo(buf), nil
}

func decodeIommuInfo(buf []byte) IommuType1Info {
	argsz, flags := getIoctlCommon(buf)
	info := IommuType1Info{IoctlCommon: IoctlCommon{ArgSz: argsz, Flags: flags}}
	if len(buf) >= 16 {
		info.IovaPgsizes = binary.LittleEndian.Uint64(buf[8:16])
	}
	if len(buf) >= 24 {
		info.CapOffset = binary.LittleEndian.Uint32(buf[16:20])
	}
	return info
}

// MigrationPageSizeBitmap walks the IOMMU info capability chain looking
// for the migration capability and returns its page-size bitmap. The
// second return value is false when no migration capability is present,
// which is not an error: migration support is optional and this core
// never uses it beyond the attach-time sanity check.
func MigrationPageSizeBitmap(buf []byte, capOffset uint32) (uint64, bool) {
	pos := capOffset
	seen := map[uint32]bool{}
	for pos != 0 && !seen[pos] {
		seen[pos] = true
		if int(pos)+8 > len(buf) {
			return 0, false
		}
		id := binary.LittleEndian.Uint16(buf[pos : pos+2])
		next := binary.LittleEndian.Uint32(buf[pos+4 : pos+8])
		if id == VFIO_IOMMU_TYPE1_INFO_CAP_MIGRATION {
			if int(pos)+32 > len(buf) {
				return 0, false
			}
			return binary.LittleEndian.Uint64(buf[pos+16 : pos+24]), true
		}
		pos = next
	}
	return 0, false
}

const dmaMapSize = ioctlCommonSize + 24    // Vaddr, Iova, Size
const dmaUnmapSize = ioctlCommonSize + 16 // Iova, Size

// MapDMA installs an IOMMU mapping from a host virtual address to an IOVA,
// readable and writable by the device. iova is conventionally chosen equal
// to the guest physical address so the device can DMA directly against
// guest-visible addresses.
func MapDMA(sys Syscaller, containerFd int, vaddr uintptr, iova uint64, size uint64) error {
	buf := make([]byte, dmaMapSize)
	putIoctlCommon(buf, dmaMapSize, VFIO_DMA_MAP_FLAG_READ|VFIO_DMA_MAP_FLAG_WRITE)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(vaddr))
	binary.LittleEndian.PutUint64(buf[16:24], iova)
	binary.LittleEndian.PutUint64(buf[24:32], size)

	if _, err := sys.Ioctl(containerFd, VFIO_IOMMU_MAP_DMA, unsafe.Pointer(&buf[0])); err != nil {
		return fmt.Errorf("iommu map dma iova=%#x size=%#x: %w", iova, size, err)
	}
	return nil
}

// UnmapDMA tears down a previously mapped IOVA range.
func UnmapDMA(sys Syscaller, containerFd int, iova uint64, size uint64) error {
	buf := make([]byte, dmaUnmapSize)
	putIoctlCommon(buf, dmaUnmapSize, 0)
	binary.LittleEndian.PutUint64(buf[8:16], iova)
	binary.LittleEndian.PutUint64(buf[16:24], size)

	if _, err := sys.Ioctl(containerFd, VFIO_IOMMU_UNMAP_DMA, unsafe.Pointer(&buf[0])); err != nil {
		return fmt.Errorf("iommu unmap dma iova=%#x size=%#x: %w", iova, size, err)
	}
	return nil
}
