// Package vfiouapi mirrors the subset of the Linux VFIO ioctl ABI this
// repository drives: group/container/device lifecycle, region and
// interrupt discovery, the type1 IOMMU map/unmap calls, and IRQ set/reset.
// Struct layouts and ioctl numbers follow include/uapi/linux/vfio.h; they
// are reproduced here rather than imported because the uAPI has no Go
// package of its own.
package vfiouapi

// VFIO ioctls are all encoded as plain _IO(VFIO_TYPE, VFIO_BASE+n), i.e.
// (type << 8) | nr with no size or direction bits, since every vfio
// struct self-describes its length via argsz.
const (
	vfioType = 0x3b
	vfioBase = 0x64
)

const (
	VFIO_GET_API_VERSION = vfioType<<8 | (vfioBase + 0)
	VFIO_CHECK_EXTENSION  = vfioType<<8 | (vfioBase + 1)
	VFIO_SET_IOMMU        = vfioType<<8 | (vfioBase + 2)

	VFIO_GROUP_GET_STATUS      = vfioType<<8 | (vfioBase + 3)
	VFIO_GROUP_SET_CONTAINER   = vfioType<<8 | (vfioBase + 4)
	VFIO_GROUP_UNSET_CONTAINER = vfioType<<8 | (vfioBase + 5)
	VFIO_GROUP_GET_DEVICE_FD   = vfioType<<8 | (vfioBase + 6)

	VFIO_DEVICE_GET_INFO        = vfioType<<8 | (vfioBase + 7)
	VFIO_DEVICE_GET_REGION_INFO = vfioType<<8 | (vfioBase + 8)
	VFIO_DEVICE_GET_IRQ_INFO    = vfioType<<8 | (vfioBase + 9)
	VFIO_DEVICE_SET_IRQS        = vfioType<<8 | (vfioBase + 10)
	VFIO_DEVICE_RESET           = vfioType<<8 | (vfioBase + 11)

	vfioIoctlFirstDriver = vfioBase + 12

	VFIO_IOMMU_GET_INFO  = vfioType<<8 | (vfioIoctlFirstDriver + 0)
	VFIO_IOMMU_MAP_DMA   = vfioType<<8 | (vfioIoctlFirstDriver + 1)
	VFIO_IOMMU_UNMAP_DMA = vfioType<<8 | (vfioIoctlFirstDriver + 2)

	// VFIO_DEVICE_QUERY_GFX_PLANE reuses the same raw number as
	// VFIO_IOMMU_UNMAP_DMA (VFIO_BASE + 14 in include/uapi/linux/vfio.h):
	// the device-fd and container-fd ioctl number spaces overlap in the
	// real kernel ABI, disambiguated only by which fd the call targets.
	VFIO_DEVICE_QUERY_GFX_PLANE = vfioType<<8 | (vfioIoctlFirstDriver + 2)
)

// VFIO_API_VERSION is the only API version this repository speaks.
const VFIO_API_VERSION = 0

// IOMMU model flags for VFIO_CHECK_EXTENSION / VFIO_SET_IOMMU.
const (
	VFIO_TYPE1_IOMMU   = 1
	VFIO_TYPE1v2_IOMMU = 3
)

// Group status flags.
const (
	VFIO_GROUP_FLAGS_VIABLE        = 1 << 0
	VFIO_GROUP_FLAGS_CONTAINER_SET = 1 << 1
)

// Device flags (VFIO_DEVICE_GET_INFO).
const (
	VFIO_DEVICE_FLAGS_RESET = 1 << 0
	VFIO_DEVICE_FLAGS_PCI   = 1 << 1
)

// Region info flags.
const (
	VFIO_REGION_INFO_FLAG_READ  = 1 << 0
	VFIO_REGION_INFO_FLAG_WRITE = 1 << 1
	VFIO_REGION_INFO_FLAG_MMAP  = 1 << 2
	VFIO_REGION_INFO_FLAG_CAPS  = 1 << 3
)

// Region info capability kinds.
const (
	VFIO_REGION_INFO_CAP_SPARSE_MMAP = 1
	VFIO_REGION_INFO_CAP_TYPE        = 2
)

// Standard VFIO PCI region indices.
const (
	VFIO_PCI_BAR0_REGION_INDEX = iota
	VFIO_PCI_BAR1_REGION_INDEX
	VFIO_PCI_BAR2_REGION_INDEX
	VFIO_PCI_BAR3_REGION_INDEX
	VFIO_PCI_BAR4_REGION_INDEX
	VFIO_PCI_BAR5_REGION_INDEX
	VFIO_PCI_ROM_REGION_INDEX
	VFIO_PCI_CONFIG_REGION_INDEX
	VFIO_PCI_NUM_REGIONS
)

// Standard VFIO PCI IRQ indices.
const (
	VFIO_PCI_INTX_IRQ_INDEX = iota
	VFIO_PCI_MSI_IRQ_INDEX
	VFIO_PCI_MSIX_IRQ_INDEX
	VFIO_PCI_ERR_IRQ_INDEX
	VFIO_PCI_REQ_IRQ_INDEX
	VFIO_PCI_NUM_IRQS
)

// IRQ info flags.
const (
	VFIO_IRQ_INFO_EVENTFD    = 1 << 0
	VFIO_IRQ_INFO_MASKABLE   = 1 << 1
	VFIO_IRQ_INFO_AUTOMASKED = 1 << 2
	VFIO_IRQ_INFO_NORESIZE   = 1 << 3
)

// IRQ set data/action flags.
const (
	VFIO_IRQ_SET_DATA_NONE      = 1 << 0
	VFIO_IRQ_SET_DATA_BOOL      = 1 << 1
	VFIO_IRQ_SET_DATA_EVENTFD   = 1 << 2
	VFIO_IRQ_SET_ACTION_MASK    = 1 << 3
	VFIO_IRQ_SET_ACTION_UNMASK  = 1 << 4
	VFIO_IRQ_SET_ACTION_TRIGGER = 1 << 5
)

// IOMMU DMA map/unmap flags.
const (
	VFIO_DMA_MAP_FLAG_READ  = 1 << 0
	VFIO_DMA_MAP_FLAG_WRITE = 1 << 1
)

// IOMMU type1 info flags.
const (
	VFIO_IOMMU_INFO_PGSIZES = 1 << 0
	VFIO_IOMMU_INFO_CAPS    = 1 << 1
)

// VFIO_IOMMU_TYPE1_INFO_CAP_MIGRATION is the only IOMMU info capability
// this repository inspects, and only to assert a precondition; migration
// itself is out of scope.
const VFIO_IOMMU_TYPE1_INFO_CAP_MIGRATION = 1

// IoctlCommon is embedded at the front of every variable-length vfio
// ioctl struct. argsz tells the kernel (and, on the way back, tells us)
// how many bytes of the struct plus trailing variable data were valid;
// Grow callers retry with a larger buffer when the kernel reports a
// bigger argsz than was sent.
type IoctlCommon struct {
	ArgSz uint32
	Flags uint32
}

type GroupStatus struct {
	IoctlCommon
}

type DeviceInfo struct {
	IoctlCommon
	NumRegions uint32
	NumIrqs    uint32
}

type RegionInfo struct {
	IoctlCommon
	Index     uint32
	CapOffset uint32
	Size      uint64
	Offset    uint64
}

type InfoCapHeader struct {
	ID      uint16
	Version uint16
	Next    uint32
}

type RegionInfoCapSparseMmapHeader struct {
	InfoCapHeader
	NrAreas uint32
	_       uint32
}

type RegionSparseMmapArea struct {
	Offset uint64
	Size   uint64
}

type RegionInfoCapType struct {
	InfoCapHeader
	Type    uint32
	Subtype uint32
}

type IrqInfo struct {
	IoctlCommon
	Index uint32
	Count uint32
}

// IrqSetHeader is the fixed portion of vfio_irq_set; callers append
// `Count` elements of either one byte (bool data) or four bytes
// (little-endian int32 eventfd) immediately after it before the ioctl.
type IrqSetHeader struct {
	IoctlCommon
	Index uint32
	Start uint32
	Count uint32
}

type IommuType1Info struct {
	IoctlCommon
	IovaPgsizes uint64
	CapOffset   uint32
	_           uint32
}

// IommuType1InfoCapMigration mirrors vfio_iommu_type1_info_cap_migration:
// the capability's page-size bitmap must include the host page size for
// the mirror's map calls to be honored at page granularity.
type IommuType1InfoCapMigration struct {
	InfoCapHeader
	Flags              uint32
	PgsizeBitmap       uint64
	MaxDirtyBitmapSize uint64
}

type IommuType1DmaMap struct {
	IoctlCommon
	Vaddr uint64
	Iova  uint64
	Size  uint64
}

type IommuType1DmaUnmap struct {
	IoctlCommon
	Iova uint64
	Size uint64
}
