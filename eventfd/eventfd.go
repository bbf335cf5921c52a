// Package eventfd wraps the Linux eventfd(2) object this repository uses
// to bind one counter per MSI vector: the reactor polls the read side,
// the kernel (via VFIO_DEVICE_SET_IRQS) increments it on the host
// interrupt, and a drain of the counter acknowledges it.
package eventfd

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

type EventFd struct {
	fd int
}

// New creates a non-blocking eventfd. Non-blocking is required: the
// reactor drains it from an epoll callback, and a blocking Read there
// would stall every other registered fd behind it.
func New() (*EventFd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EventFd{fd: fd}, nil
}

func (e *EventFd) Close() error {
	return unix.Close(e.fd)
}

func (e *EventFd) Fd() int {
	return e.fd
}

// Wait reads (and clears) the 64-bit counter, retrying on EINTR. Nothing
// in this repository calls it; production code drains through the
// reactor's non-blocking path instead.
func (e *EventFd) Wait() (uint64, error) {
	var buf [8]byte
	for {
		n, err := unix.Read(e.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n != 8 {
			return 0, nil
		}
		return binary.LittleEndian.Uint64(buf[:]), nil
	}
}

// Signal adds val to the counter, waking anything blocked in Wait or
// polling the fd for readability.
func (e *EventFd) Signal(val uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	for {
		_, err := unix.Write(e.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// Drain clears the counter without returning its value. An empty counter
// (EAGAIN) is not an error here, whereas Wait returns it as one.
func (e *EventFd) Drain() error {
	var buf [8]byte
	_, err := unix.Read(e.fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}
