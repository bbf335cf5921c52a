package vfiouapi

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// fakeSyscaller is a minimal Syscaller double for exercising the
// argsz-grow-and-retry ioctls directly, without a real vfio device. Only
// the requests these tests drive are implemented; anything else is a
// test bug and fails loudly.
type fakeSyscaller struct {
	regionInfoReplies map[uint32]func(buf []byte)
	iommuInfoReply    func(buf []byte)
	callCounts        map[uint]int
}

func newFakeSyscaller() *fakeSyscaller {
	return &fakeSyscaller{
		regionInfoReplies: make(map[uint32]func(buf []byte)),
		callCounts:        make(map[uint]int),
	}
}

func (f *fakeSyscaller) Open(path string, flags int, mode uint32) (int, error) { return 3, nil }
func (f *fakeSyscaller) Close(fd int) error                                    { return nil }
func (f *fakeSyscaller) Mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	return make([]byte, length), nil
}
func (f *fakeSyscaller) Munmap(data []byte) error                  { return nil }
func (f *fakeSyscaller) Pread(fd int, data []byte, offset int64) (int, error)  { return len(data), nil }
func (f *fakeSyscaller) Pwrite(fd int, data []byte, offset int64) (int, error) { return len(data), nil }
func (f *fakeSyscaller) Readlink(path string) (string, error)                 { return "", nil }

func (f *fakeSyscaller) Ioctl(fd int, req uint, arg unsafe.Pointer) (uintptr, error) {
	f.callCounts[req]++
	switch req {
	case VFIO_DEVICE_GET_REGION_INFO:
		buf := bufFromArgsz(arg)
		index := binary.LittleEndian.Uint32(buf[8:12])
		reply, ok := f.regionInfoReplies[index]
		if !ok {
			return 0, fmt.Errorf("fake: no region info reply configured for index %d", index)
		}
		reply(buf)
		return 0, nil
	case VFIO_IOMMU_GET_INFO:
		buf := bufFromArgsz(arg)
		if f.iommuInfoReply == nil {
			return 0, fmt.Errorf("fake: no iommu info reply configured")
		}
		f.iommuInfoReply(buf)
		return 0, nil
	default:
		return 0, fmt.Errorf("fake: unhandled ioctl request %#x", req)
	}
}

func bufFromArgsz(arg unsafe.Pointer) []byte {
	n := *(*uint32)(arg)
	return unsafe.Slice((*byte)(arg), int(n))
}
