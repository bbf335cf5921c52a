package vfiopci

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/killvxk/mvisor-x/vfiouapi"
)

// fakeDeviceFd is the constant value every scenario's device descriptor
// gets. Container and group fds come from sequential Open calls instead,
// since only the device fd's value needs to be predictable for Pread and
// Pwrite to find the shadow config bytes.
const fakeDeviceFd = 777

// regionFixture is one canned VFIO_DEVICE_GET_REGION_INFO reply.
type regionFixture struct {
	flags       uint32
	offset      uint64
	size        uint64
	sparseAreas []vfiouapi.RegionSparseMmapArea
	hasType     bool
	typ         uint32
	subtype     uint32
}

type setIrqCall struct {
	index, start, count uint32
	fds                 []int32
}

type dmaCall struct {
	op    string // "map" or "unmap"
	vaddr uintptr
	iova  uint64
	size  uint64
}

// fakeSyscaller is the vfiouapi.Syscaller double this package's tests
// drive vfiopci.Device against: it plays back canned VFIO replies instead
// of talking to a real group/device.
type fakeSyscaller struct {
	mu sync.Mutex

	nextFd int
	open   map[int]string

	groupViable       bool
	msiEventfdCapable bool
	checkExtensionOK  bool

	numRegions uint32
	numIrqs    uint32
	regions    map[uint32]regionFixture

	config       [256]byte
	configOffset uint64

	iommuPgsizes uint64
	iommuCapBuf  []byte

	setIommuErr error
	setIrqErr   error
	mapDmaErr   error
	unmapDmaErr error

	setIrqCalls      []setIrqCall
	dmaCalls         []dmaCall
	resetCalls       int
	mmapCalls        int
	munmapCalls      int
	regionInfoCalls  map[uint32]int
}

func (f *fakeSyscaller) regionInfoCallCount(index uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regionInfoCalls[index]
}

func newFakeSyscaller() *fakeSyscaller {
	return &fakeSyscaller{
		open:              make(map[int]string),
		groupViable:       true,
		msiEventfdCapable: true,
		checkExtensionOK:  true,
		numRegions:        vfiouapi.VFIO_PCI_NUM_REGIONS,
		numIrqs:           vfiouapi.VFIO_PCI_NUM_IRQS,
		regions:           make(map[uint32]regionFixture),
		iommuPgsizes:      uint64(unix.Getpagesize()),
		regionInfoCalls:   make(map[uint32]int),
	}
}

func (f *fakeSyscaller) openFds() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.open))
	for fd := range f.open {
		out = append(out, fd)
	}
	return out
}

func (f *fakeSyscaller) Open(path string, flags int, mode uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextFd++
	fd := f.nextFd
	f.open[fd] = path
	return fd, nil
}

func (f *fakeSyscaller) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.open[fd]; !ok {
		return fmt.Errorf("fake: close of fd %d that was never opened or already closed", fd)
	}
	delete(f.open, fd)
	return nil
}

// ioctlBuf reinterprets a vfio ioctl argument as the byte slice it points
// to, trusting the argsz the caller already wrote into the first four
// bytes: every struct this package proxies starts with IoctlCommon, so
// argsz is always there before the kernel (here, the fake) is asked to
// fill in the rest.
func ioctlBuf(arg unsafe.Pointer) []byte {
	if arg == nil {
		return nil
	}
	n := *(*uint32)(arg)
	return unsafe.Slice((*byte)(arg), int(n))
}

func (f *fakeSyscaller) Ioctl(fd int, req uint, arg unsafe.Pointer) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch req {
	case vfiouapi.VFIO_GET_API_VERSION:
		return 0, nil

	case vfiouapi.VFIO_CHECK_EXTENSION:
		if uintptr(arg) == vfiouapi.VFIO_TYPE1v2_IOMMU && f.checkExtensionOK {
			return 1, nil
		}
		return 0, nil

	case vfiouapi.VFIO_SET_IOMMU:
		return 0, f.setIommuErr

	case vfiouapi.VFIO_GROUP_GET_STATUS:
		buf := ioctlBuf(arg)
		flags := uint32(0)
		if f.groupViable {
			flags |= vfiouapi.VFIO_GROUP_FLAGS_VIABLE
		}
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
		binary.LittleEndian.PutUint32(buf[4:8], flags)
		return 0, nil

	case vfiouapi.VFIO_GROUP_SET_CONTAINER:
		return 0, nil

	case vfiouapi.VFIO_GROUP_GET_DEVICE_FD:
		f.open[fakeDeviceFd] = "device"
		return uintptr(fakeDeviceFd), nil

	case vfiouapi.VFIO_DEVICE_GET_INFO:
		buf := ioctlBuf(arg)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
		binary.LittleEndian.PutUint32(buf[4:8], vfiouapi.VFIO_DEVICE_FLAGS_RESET|vfiouapi.VFIO_DEVICE_FLAGS_PCI)
		binary.LittleEndian.PutUint32(buf[8:12], f.numRegions)
		binary.LittleEndian.PutUint32(buf[12:16], f.numIrqs)
		return 0, nil

	case vfiouapi.VFIO_DEVICE_GET_REGION_INFO:
		return 0, f.handleRegionInfo(arg)

	case vfiouapi.VFIO_DEVICE_GET_IRQ_INFO:
		return 0, f.handleIrqInfo(arg)

	case vfiouapi.VFIO_DEVICE_SET_IRQS:
		return 0, f.handleSetIrqs(arg)

	case vfiouapi.VFIO_DEVICE_RESET:
		f.resetCalls++
		return 0, nil

	case vfiouapi.VFIO_IOMMU_GET_INFO:
		return 0, f.handleIommuInfo(arg)

	case vfiouapi.VFIO_IOMMU_MAP_DMA:
		return 0, f.handleMapDma(arg)

	case vfiouapi.VFIO_IOMMU_UNMAP_DMA:
		// Same raw ioctl number as VFIO_DEVICE_QUERY_GFX_PLANE; the real
		// kernel tells them apart by fd (container vs device), so do the
		// same here.
		if fd == fakeDeviceFd {
			return 0, unix.ENOTTY
		}
		return 0, f.handleUnmapDma(arg)

	default:
		return 0, fmt.Errorf("fake: unhandled ioctl request %#x", req)
	}
}

func (f *fakeSyscaller) handleRegionInfo(arg unsafe.Pointer) error {
	buf := ioctlBuf(arg)
	index := binary.LittleEndian.Uint32(buf[8:12])
	f.regionInfoCalls[index]++
	fixture := f.regions[index]

	capBytes := encodeRegionCaps(fixture)
	total := 32 + len(capBytes)

	if len(buf) >= 4 {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	}
	flags := fixture.flags
	if len(capBytes) > 0 {
		flags |= vfiouapi.VFIO_REGION_INFO_FLAG_CAPS
	}
	if len(buf) >= 8 {
		binary.LittleEndian.PutUint32(buf[4:8], flags)
	}
	if len(buf) >= 12 {
		binary.LittleEndian.PutUint32(buf[8:12], index)
	}
	capOffset := uint32(0)
	if len(capBytes) > 0 {
		capOffset = 32
	}
	if len(buf) >= 16 {
		binary.LittleEndian.PutUint32(buf[12:16], capOffset)
	}
	if len(buf) >= 24 {
		binary.LittleEndian.PutUint64(buf[16:24], fixture.size)
	}
	if len(buf) >= 32 {
		binary.LittleEndian.PutUint64(buf[24:32], fixture.offset)
	}
	if len(buf) >= total {
		copy(buf[32:total], capBytes)
	}
	return nil
}

// encodeRegionCaps builds the capability chain a region-info reply would
// carry past its fixed 32-byte header: a sparse-mmap entry followed by a
// type entry, chained the same way RegionSparseMmapAreas/RegionTypeSubtype
// expect to walk them.
func encodeRegionCaps(fixture regionFixture) []byte {
	var out []byte
	base := uint32(32)

	sparseLen := 0
	if len(fixture.sparseAreas) > 0 {
		sparseLen = 16 + 16*len(fixture.sparseAreas)
	}
	typeOff := base + uint32(sparseLen)

	if len(fixture.sparseAreas) > 0 {
		next := uint32(0)
		if fixture.hasType {
			next = typeOff
		}
		hdr := make([]byte, 16)
		binary.LittleEndian.PutUint16(hdr[0:2], vfiouapi.VFIO_REGION_INFO_CAP_SPARSE_MMAP)
		binary.LittleEndian.PutUint16(hdr[2:4], 1)
		binary.LittleEndian.PutUint32(hdr[4:8], next)
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(fixture.sparseAreas)))
		out = append(out, hdr...)
		for _, area := range fixture.sparseAreas {
			entry := make([]byte, 16)
			binary.LittleEndian.PutUint64(entry[0:8], area.Offset)
			binary.LittleEndian.PutUint64(entry[8:16], area.Size)
			out = append(out, entry...)
		}
	}

	if fixture.hasType {
		hdr := make([]byte, 16)
		binary.LittleEndian.PutUint16(hdr[0:2], vfiouapi.VFIO_REGION_INFO_CAP_TYPE)
		binary.LittleEndian.PutUint16(hdr[2:4], 1)
		binary.LittleEndian.PutUint32(hdr[4:8], 0)
		binary.LittleEndian.PutUint32(hdr[8:12], fixture.typ)
		binary.LittleEndian.PutUint32(hdr[12:16], fixture.subtype)
		out = append(out, hdr...)
	}

	return out
}

func (f *fakeSyscaller) handleIrqInfo(arg unsafe.Pointer) error {
	buf := ioctlBuf(arg)
	index := binary.LittleEndian.Uint32(buf[8:12])

	flags, count := uint32(0), uint32(0)
	if index == vfiouapi.VFIO_PCI_MSI_IRQ_INDEX {
		count = 1
		if f.msiEventfdCapable {
			flags |= vfiouapi.VFIO_IRQ_INFO_EVENTFD
		}
	}

	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[4:8], flags)
	binary.LittleEndian.PutUint32(buf[8:12], index)
	binary.LittleEndian.PutUint32(buf[12:16], count)
	return nil
}

func (f *fakeSyscaller) handleSetIrqs(arg unsafe.Pointer) error {
	buf := ioctlBuf(arg)
	index := binary.LittleEndian.Uint32(buf[8:12])
	start := binary.LittleEndian.Uint32(buf[12:16])
	count := binary.LittleEndian.Uint32(buf[16:20])

	fds := make([]int32, count)
	for i := range fds {
		off := 20 + i*4
		fds[i] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	f.setIrqCalls = append(f.setIrqCalls, setIrqCall{index: index, start: start, count: count, fds: fds})
	return f.setIrqErr
}

func (f *fakeSyscaller) handleIommuInfo(arg unsafe.Pointer) error {
	buf := ioctlBuf(arg)
	total := 24 + len(f.iommuCapBuf)

	if len(buf) >= 4 {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	}
	flags := uint32(vfiouapi.VFIO_IOMMU_INFO_PGSIZES)
	capOffset := uint32(0)
	if len(f.iommuCapBuf) > 0 {
		flags |= vfiouapi.VFIO_IOMMU_INFO_CAPS
		capOffset = 24
	}
	if len(buf) >= 8 {
		binary.LittleEndian.PutUint32(buf[4:8], flags)
	}
	if len(buf) >= 16 {
		binary.LittleEndian.PutUint64(buf[8:16], f.iommuPgsizes)
	}
	if len(buf) >= 20 {
		binary.LittleEndian.PutUint32(buf[16:20], capOffset)
	}
	if len(buf) >= total {
		copy(buf[24:total], f.iommuCapBuf)
	}
	return nil
}

func (f *fakeSyscaller) handleMapDma(arg unsafe.Pointer) error {
	buf := ioctlBuf(arg)
	vaddr := binary.LittleEndian.Uint64(buf[8:16])
	iova := binary.LittleEndian.Uint64(buf[16:24])
	size := binary.LittleEndian.Uint64(buf[24:32])
	f.dmaCalls = append(f.dmaCalls, dmaCall{op: "map", vaddr: uintptr(vaddr), iova: iova, size: size})
	return f.mapDmaErr
}

func (f *fakeSyscaller) handleUnmapDma(arg unsafe.Pointer) error {
	buf := ioctlBuf(arg)
	iova := binary.LittleEndian.Uint64(buf[8:16])
	size := binary.LittleEndian.Uint64(buf[16:24])
	f.dmaCalls = append(f.dmaCalls, dmaCall{op: "unmap", iova: iova, size: size})
	return f.unmapDmaErr
}

func (f *fakeSyscaller) Mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mmapCalls++
	return make([]byte, length), nil
}

func (f *fakeSyscaller) Munmap(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.munmapCalls++
	return nil
}

func (f *fakeSyscaller) Pread(fd int, data []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd != fakeDeviceFd {
		return 0, fmt.Errorf("fake: pread on unexpected fd %d", fd)
	}
	if offset >= int64(f.configOffset) && offset < int64(f.configOffset)+int64(len(f.config)) {
		start := int(offset - int64(f.configOffset))
		return copy(data, f.config[start:]), nil
	}
	return len(data), nil
}

func (f *fakeSyscaller) Pwrite(fd int, data []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd != fakeDeviceFd {
		return 0, fmt.Errorf("fake: pwrite on unexpected fd %d", fd)
	}
	if offset >= int64(f.configOffset) && offset < int64(f.configOffset)+int64(len(f.config)) {
		start := int(offset - int64(f.configOffset))
		return copy(f.config[start:], data), nil
	}
	return len(data), nil
}

func (f *fakeSyscaller) Readlink(path string) (string, error) {
	return "../../../kernel/iommu_groups/7", nil
}
