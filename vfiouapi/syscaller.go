package vfiouapi

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Syscaller is the seam between this package and the kernel. Production
// code uses Default, which is a thin pass-through to golang.org/x/sys/unix;
// tests substitute a fake that records ioctls and returns canned region,
// group, and IOMMU responses so the attach/detach state machine can be
// exercised without a real VFIO-bound device.
type Syscaller interface {
	Open(path string, flags int, mode uint32) (int, error)
	Close(fd int) error
	// Ioctl returns the raw return value of the syscall. Most vfio ioctls
	// communicate purely through the struct argument and the caller can
	// ignore it; VFIO_GROUP_GET_DEVICE_FD returns the new fd as this value.
	Ioctl(fd int, req uint, arg unsafe.Pointer) (uintptr, error)
	Mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error)
	Munmap(data []byte) error
	Pread(fd int, data []byte, offset int64) (int, error)
	Pwrite(fd int, data []byte, offset int64) (int, error)
	Readlink(path string) (string, error)
}

type unixSyscaller struct{}

// Default is the real syscall-backed implementation used outside tests.
var Default Syscaller = unixSyscaller{}

func (unixSyscaller) Open(path string, flags int, mode uint32) (int, error) {
	return unix.Open(path, flags, mode)
}

func (unixSyscaller) Close(fd int) error {
	return unix.Close(fd)
}

func (unixSyscaller) Ioctl(fd int, req uint, arg unsafe.Pointer) (uintptr, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

func (unixSyscaller) Mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, prot, flags)
}

func (unixSyscaller) Munmap(data []byte) error {
	return unix.Munmap(data)
}

func (unixSyscaller) Pread(fd int, data []byte, offset int64) (int, error) {
	return unix.Pread(fd, data, offset)
}

func (unixSyscaller) Pwrite(fd int, data []byte, offset int64) (int, error) {
	return unix.Pwrite(fd, data, offset)
}

func (unixSyscaller) Readlink(path string) (string, error) {
	buf := make([]byte, 256)
	n, err := unix.Readlink(path, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
