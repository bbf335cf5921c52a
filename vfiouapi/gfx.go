package vfiouapi

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// GfxPlaneInfo mirrors the fixed portion of vfio_device_gfx_plane_info:
// enough to tell a caller whether the device exposes a queryable
// framebuffer plane at all. This repository never renders the plane
// itself; it only probes for presence so an enclosing display subsystem
// can be told where to look.
type GfxPlaneInfo struct {
	IoctlCommon
	Flags      uint32
	DrmPlaneType uint32
	DrmFormat  uint32
	_          uint32
	Width      uint32
	Height     uint32
	Stride     uint32
	Size       uint32
	XPos       uint32
	YPos       uint32
	XHot       uint32
	YHot       uint32
}

const gfxPlaneInfoSize = ioctlCommonSize + 44

// QueryGfxPlane probes whether the device advertises a GFX plane. Devices
// that don't support the ioctl return ENOTTY/EINVAL, which callers should
// treat as "no plane" rather than an attach failure.
func QueryGfxPlane(sys Syscaller, deviceFd int) (GfxPlaneInfo, error) {
	buf := make([]byte, gfxPlaneInfoSize)
	putIoctlCommon(buf, gfxPlaneInfoSize, 0)

	if _, err := sys.Ioctl(deviceFd, VFIO_DEVICE_QUERY_GFX_PLANE, unsafe.Pointer(&buf[0])); err != nil {
		return GfxPlaneInfo{}, fmt.Errorf("query gfx plane: %w", err)
	}

	argsz, flags := getIoctlCommon(buf)
	return GfxPlaneInfo{
		IoctlCommon:  IoctlCommon{ArgSz: argsz, Flags: flags},
		Width:        binary.LittleEndian.Uint32(buf[20:24]),
		Height:       binary.LittleEndian.Uint32(buf[24:28]),
		Stride:       binary.LittleEndian.Uint32(buf[28:32]),
		Size:         binary.LittleEndian.Uint32(buf[32:36]),
		DrmFormat:    binary.LittleEndian.Uint32(buf[12:16]),
		DrmPlaneType: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}
