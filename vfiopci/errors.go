package vfiopci

import "errors"

var (
	ErrGroupNotViable          = errors.New("vfio group is not viable")
	ErrApiVersionMismatch      = errors.New("vfio api version mismatch")
	ErrIommuUnsupported        = errors.New("kernel does not support the type1v2 iommu")
	ErrDeviceMissingReset      = errors.New("device does not advertise the reset capability")
	ErrDeviceNotPci            = errors.New("device does not advertise the pci flag")
	ErrTooFewRegions           = errors.New("device reports fewer regions than the config index requires")
	ErrTooFewIrqs              = errors.New("device reports fewer irqs than the msi index requires")
	ErrMsixUnsupported         = errors.New("msi-x is not supported by this core")
	ErrMsiNot64Bit             = errors.New("msi capability is not 64-bit addressable")
	ErrMsiPerVectorMasking     = errors.New("msi capability advertises per-vector masking, which this core does not support")
	ErrTooManyVectors          = errors.New("msi vector count greater than one is not supported by this core")
	ErrRegionNotFound          = errors.New("region not found")
	ErrBarNotMappable          = errors.New("bar region is not mmap-capable")
	ErrNotConnected            = errors.New("device is not connected")
	ErrAlreadyConnected        = errors.New("device is already connected")
)
