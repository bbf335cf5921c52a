package vfiouapi

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

const deviceInfoSize = ioctlCommonSize + 8 // NumRegions, NumIrqs

// GetDeviceInfo fetches the region and irq counts for an open device fd.
func GetDeviceInfo(sys Syscaller, deviceFd int) (DeviceInfo, error) {
	buf := make([]byte, deviceInfoSize)
	putIoctlCommon(buf, deviceInfoSize, 0)

	if _, err := sys.Ioctl(deviceFd, VFIO_DEVICE_GET_INFO, unsafe.Pointer(&buf[0])); err != nil {
		return DeviceInfo{}, fmt.Errorf("device get info: %w", err)
	}

	argsz, flags := getIoctlCommon(buf)
	return DeviceInfo{
		IoctlCommon: IoctlCommon{ArgSz: argsz, Flags: flags},
		NumRegions:  binary.LittleEndian.Uint32(buf[8:12]),
		NumIrqs:     binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

const regionInfoFixedSize = ioctlCommonSize + 24 // Index,CapOffset,Size,Offset

// GetRegionInfo fetches the fixed region descriptor for index, growing the
// request buffer and retrying if the kernel reports capability data past
// the fixed header (VFIO's standard argsz-grow-and-retry idiom: ask once
// with the size you know, trust argsz in the reply, ask again if it grew).
// The returned []byte is the full reply, so capability entries can be
// walked starting at RegionInfo.CapOffset.
func GetRegionInfo(sys Syscaller, deviceFd int, index uint32) (RegionInfo, []byte, error) {
	buf := make([]byte, regionInfoFixedSize)
	if err := regionInfoIoctl(sys, deviceFd, index, buf); err != nil {
		return RegionInfo{}, nil, err
	}

	info := decodeRegionInfo(buf)
	if uint32(len(buf)) < info.ArgSz {
		buf = make([]byte, info.ArgSz)
		if err := regionInfoIoctl(sys, deviceFd, index, buf); err != nil {
			return RegionInfo{}, nil, err
		}
		info = decodeRegionInfo(buf)
	}

	return info, buf, nil
}

func regionInfoIoctl(sys Syscaller, deviceFd int, index uint32, buf []byte) error {
	putIoctlCommon(buf, uint32(len(buf)), 0)
	binary.LittleEndian.PutUint32(buf[8:12], index)
	if _, err := sys.Ioctl(deviceFd, VFIO_DEVICE_GET_REGION_INFO, unsafe.Pointer(&buf[0])); err != nil {
		return fmt.Errorf("device get region info for region %d: %w", index, err)
	}
	return nil
}

func decodeRegionInfo(buf []byte) RegionInfo {
	argsz, flags := getIoctlCommon(buf)
	return RegionInfo{
		IoctlCommon: IoctlCommon{ArgSz: argsz, Flags: flags},
		Index:       binary.LittleEndian.Uint32(buf[8:12]),
		CapOffset:   binary.LittleEndian.Uint32(buf[12:16]),
		Size:        binary.LittleEndian.Uint64(buf[16:24]),
		Offset:      binary.LittleEndian.Uint64(buf[24:32]),
	}
}

// RegionSparseMmapAreas walks a region-info reply for a
// VFIO_REGION_INFO_CAP_SPARSE_MMAP capability and returns its area list.
// A region with no sparse-mmap capability but VFIO_REGION_INFO_FLAG_MMAP
// set is mappable in a single whole-region chunk; callers must check that
// case themselves since there is no capability entry to find here.
func RegionSparseMmapAreas(buf []byte, capOffset uint32) ([]RegionSparseMmapArea, bool) {
	offset := capOffset
	for offset != 0 && int(offset)+8 <= len(buf) {
		id := binary.LittleEndian.Uint16(buf[offset : offset+2])
		next := binary.LittleEndian.Uint32(buf[offset+4 : offset+8])

		if id == VFIO_REGION_INFO_CAP_SPARSE_MMAP {
			nrAreas := binary.LittleEndian.Uint32(buf[offset+8 : offset+12])
			areas := make([]RegionSparseMmapArea, 0, nrAreas)
			base := offset + 16
			for i := uint32(0); i < nrAreas; i++ {
				entryOff := base + i*16
				if int(entryOff)+16 > len(buf) {
					break
				}
				areas = append(areas, RegionSparseMmapArea{
					Offset: binary.LittleEndian.Uint64(buf[entryOff : entryOff+8]),
					Size:   binary.LittleEndian.Uint64(buf[entryOff+8 : entryOff+16]),
				})
			}
			return areas, true
		}

		if next == 0 || next <= offset {
			break
		}
		offset = next
	}
	return nil, false
}

// RegionTypeSubtype walks a region-info reply for a
// VFIO_REGION_INFO_CAP_TYPE capability, identifying special-purpose
// regions (framebuffer, ROM) beyond the plain indexed BARs.
func RegionTypeSubtype(buf []byte, capOffset uint32) (typ uint32, subtype uint32, ok bool) {
	offset := capOffset
	for offset != 0 && int(offset)+8 <= len(buf) {
		id := binary.LittleEndian.Uint16(buf[offset : offset+2])
		next := binary.LittleEndian.Uint32(buf[offset+4 : offset+8])

		if id == VFIO_REGION_INFO_CAP_TYPE && int(offset)+16 <= len(buf) {
			return binary.LittleEndian.Uint32(buf[offset+8 : offset+12]),
				binary.LittleEndian.Uint32(buf[offset+12 : offset+16]), true
		}

		if next == 0 || next <= offset {
			break
		}
		offset = next
	}
	return 0, 0, false
}
