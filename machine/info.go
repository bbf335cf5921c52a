package machine

// DeviceInfo is the device-manager's record for an attached device: its
// friendly name and whether it should log verbosely. There is no
// driver-name-keyed dynamic loading here; this repository builds exactly
// one device type (vfiopci.Device) directly.
type DeviceInfo struct {
	Name  string
	Debug bool
}
