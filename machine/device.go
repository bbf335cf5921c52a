// Package machine provides the minimal device-manager and PCI bus model
// that the VFIO passthrough core treats as an external collaborator. It
// is not itself part of the VFIO core; it exists so the core has
// something concrete to attach to and dispatch through.
package machine

// Device is the device-manager's view of any attached device: something
// that can be named and queried for its debug flag. The VFIO passthrough
// device implements this by embedding PciDevice and overriding the
// operations that need host-descriptor pass-through.
type Device interface {
	Name() string
	IsDebugging() bool
}

// BaseDevice carries the bookkeeping common to every device: a name and
// a debug flag, set at construction time from a DeviceInfo.
type BaseDevice struct {
	info *DeviceInfo
}

func (device *BaseDevice) Init(info *DeviceInfo) {
	device.info = info
}

func (device *BaseDevice) Name() string {
	if device.info == nil {
		return ""
	}
	return device.info.Name
}

func (device *BaseDevice) IsDebugging() bool {
	return device.info != nil && device.info.Debug
}
