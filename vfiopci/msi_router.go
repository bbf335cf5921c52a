package vfiopci

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/killvxk/mvisor-x/eventfd"
	"github.com/killvxk/mvisor-x/logger"
	"github.com/killvxk/mvisor-x/vfiouapi"
)

// interruptRoute is one vector's eventfd plus whether it is currently
// bound to VFIO as the device's interrupt trigger. This core only ever
// binds exactly one vector, but the router is written as a slice so the
// state machine generalizes cleanly if that constraint is ever relaxed.
type interruptRoute struct {
	vector uint
	fd     *eventfd.EventFd
	bound  bool
}

// armMsiRouter confirms the host MSI irq index accepts an eventfd
// trigger, then creates the eventfd(s) and starts polling them, without
// yet binding to VFIO. Binding happens only once the guest enables MSI
// (updateMsiRoutes).
func (d *Device) armMsiRouter() error {
	irqInfo, err := vfiouapi.GetIrqInfo(d.sys, d.deviceFd, vfiouapi.VFIO_PCI_MSI_IRQ_INDEX)
	if err != nil {
		return err
	}
	if irqInfo.Flags&vfiouapi.VFIO_IRQ_INFO_EVENTFD == 0 {
		return fmt.Errorf("msi irq index does not accept an eventfd trigger")
	}
	if irqInfo.Count > 1 {
		return ErrTooManyVectors
	}
	if irqInfo.Count < 1 {
		return fmt.Errorf("msi irq index reports no vectors")
	}

	fd, err := eventfd.New()
	if err != nil {
		return fmt.Errorf("create msi eventfd: %w", err)
	}
	route := &interruptRoute{vector: 0, fd: fd}
	d.interrupts = append(d.interrupts, route)

	return d.reactorRef.StartPolling(fd.Fd(), unix.EPOLLIN, func(int) {
		if err := fd.Drain(); err != nil {
			logger.Warn("msi eventfd drain failed", "device", d.Name(), "vector", route.vector, "error", err)
			return
		}
		if err := d.interruptCtl.SignalMsi(route.vector); err != nil {
			logger.Warn("signal msi failed", "device", d.Name(), "vector", route.vector, "error", err)
		}
	})
}

// updateMsiRoutes recomputes the enable state and vector count from the
// MSI control register and binds or unbinds each vector's eventfd in
// VFIO accordingly.
func (d *Device) updateMsiRoutes() error {
	control := d.Header.Get16(d.msi.Offset + msiOffsetControl)
	d.msi.Enabled = control&msiFlagsEnable != 0
	d.msi.VectorCount = 1 << ((control & msiFlagsQSize) >> 4)
	if d.msi.VectorCount != 1 {
		return ErrTooManyVectors
	}

	for _, route := range d.interrupts {
		if d.msi.Enabled {
			if route.bound {
				continue
			}
			if err := vfiouapi.SetIrqEventfds(d.sys, d.deviceFd, vfiouapi.VFIO_PCI_MSI_IRQ_INDEX, uint32(route.vector), []int32{int32(route.fd.Fd())}); err != nil {
				return fmt.Errorf("bind msi vector %d: %w", route.vector, err)
			}
			route.bound = true
			continue
		}

		if !route.bound {
			continue
		}
		if err := vfiouapi.SetIrqEventfds(d.sys, d.deviceFd, vfiouapi.VFIO_PCI_MSI_IRQ_INDEX, uint32(route.vector), []int32{-1}); err != nil {
			logger.Warn("unbind msi vector failed", "device", d.Name(), "vector", route.vector, "error", err)
		}
		route.bound = false
	}
	return nil
}

// disarmMsiRouter reverses armMsiRouter at detach: stop polling and close
// every vector's eventfd, unbinding first if still bound.
func (d *Device) disarmMsiRouter() {
	for _, route := range d.interrupts {
		if route.bound {
			if err := vfiouapi.DisableIrq(d.sys, d.deviceFd, vfiouapi.VFIO_PCI_MSI_IRQ_INDEX); err != nil {
				logger.Warn("disable msi irq failed", "device", d.Name(), "error", err)
			}
		}
		if err := d.reactorRef.StopPolling(route.fd.Fd()); err != nil {
			logger.Warn("stop polling msi eventfd failed", "device", d.Name(), "error", err)
		}
		if err := route.fd.Close(); err != nil {
			logger.Warn("close msi eventfd failed", "device", d.Name(), "error", err)
		}
	}
	d.interrupts = nil
}
