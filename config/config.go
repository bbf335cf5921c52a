// Package config loads the YAML device declaration that tells cmd/vmx
// which host PCI function to attach, after first overlaying any
// .env-style process defaults found alongside it.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultDeviceSlot is the guest PCI slot a device attaches to when the
// YAML document leaves `slot` unset.
const DefaultDeviceSlot = 7

// DeviceSpec is the decoded shape of one device's YAML declaration.
type DeviceSpec struct {
	// Sysfs is the host PCI address, e.g. "0000:01:00.0", naming the
	// device under /sys/bus/pci/devices.
	Sysfs string `yaml:"sysfs"`

	// Debug turns on verbose per-access logging for this device.
	Debug bool `yaml:"debug"`

	// DeviceSlot is the guest PCI slot number this device occupies.
	DeviceSlot int `yaml:"slot"`
}

// Load decodes a device declaration from path and fills in defaults for
// any field the document left unset.
func Load(path string) (*DeviceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device config %s: %w", path, err)
	}

	spec := &DeviceSpec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("parse device config %s: %w", path, err)
	}

	if spec.Sysfs == "" {
		return nil, fmt.Errorf("device config %s: sysfs address is required", path)
	}
	if spec.DeviceSlot == 0 {
		spec.DeviceSlot = DefaultDeviceSlot
	}

	return spec, nil
}

// EnvDefaults holds process-wide settings sourced from the environment
// (and optionally a .env file) rather than the per-device YAML document:
// things that apply to the whole vmx process, not to one attached device.
type EnvDefaults struct {
	// LogMode selects "dev" or "prod" zap encoding; see logger.SetMode.
	LogMode string
}

// LoadEnvDefaults loads a .env file if present (missing is not an error,
// matching godotenv.Load's own behavior) and reads VMX_LOG_MODE.
func LoadEnvDefaults() EnvDefaults {
	godotenv.Load()

	mode := os.Getenv("VMX_LOG_MODE")
	if mode == "" {
		mode = "prod"
	}
	return EnvDefaults{LogMode: mode}
}
