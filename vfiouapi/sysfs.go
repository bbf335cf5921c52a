package vfiouapi

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
)

var pciAddressPattern = regexp.MustCompile(`^[0-9a-fA-F]{4}:[0-9a-fA-F]{2}:[0-9a-fA-F]{2}\.[0-7]$`)

// ValidPCIAddress reports whether addr has the domain:bus:slot.function
// shape the kernel's sysfs tree uses (e.g. "0000:01:00.0").
func ValidPCIAddress(addr string) bool {
	return pciAddressPattern.MatchString(addr)
}

// IommuGroupNumber resolves a PCI address to its IOMMU group number by
// following /sys/bus/pci/devices/<addr>/iommu_group, the same symlink the
// kernel exposes so that vfio-pci can tell user space which /dev/vfio/N to
// open. A device with no group (IOMMU disabled, or device ineligible) is
// not something this repository can attach to.
func IommuGroupNumber(sys Syscaller, pciAddress string) (int, error) {
	if !ValidPCIAddress(pciAddress) {
		return -1, fmt.Errorf("invalid pci address %q", pciAddress)
	}

	linkPath := fmt.Sprintf("/sys/bus/pci/devices/%s/iommu_group", pciAddress)
	target, err := sys.Readlink(linkPath)
	if err != nil {
		return -1, fmt.Errorf("read iommu_group link for %s: %w", pciAddress, err)
	}

	number, err := strconv.Atoi(path.Base(target))
	if err != nil {
		return -1, fmt.Errorf("parse iommu group number from %q: %w", target, err)
	}
	return number, nil
}
