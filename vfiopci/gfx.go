package vfiopci

import (
	"github.com/killvxk/mvisor-x/logger"
	"github.com/killvxk/mvisor-x/vfiouapi"
)

// GfxPlaneHandler receives a device's framebuffer plane geometry once, at
// attach, if the device advertises one. Registering the plane with a
// display subsystem is out-of-scope wiring; this core only performs the
// probe and hands the result off.
type GfxPlaneHandler func(vfiouapi.GfxPlaneInfo)

// probeGfxPlane issues the query-gfx-plane ioctl and, if the device
// advertises a plane and a handler was registered, invokes it. Devices
// that don't support the ioctl at all are not an attach failure: the
// probe is opportunistic.
func (d *Device) probeGfxPlane() {
	info, err := vfiouapi.QueryGfxPlane(d.sys, d.deviceFd)
	if err != nil {
		logger.Debug("device does not support gfx plane query", "device", d.Name(), "error", err)
		return
	}
	if d.gfx != nil {
		d.gfx(info)
	}
}
