package machine

import "sync/atomic"

// InterruptController is the guest interrupt-injection collaborator. A
// passthrough device never injects interrupts itself; it only ever asks
// the controller to raise the vector a host MSI landed on.
type InterruptController interface {
	SignalMsi(vector uint) error
}

// counterInterruptController is a minimal stand-in for the machine's real
// APIC/MSI delivery path: it just counts deliveries per vector. Good
// enough to drive and test the passthrough core's interrupt plumbing
// without a full guest CPU model.
type counterInterruptController struct {
	counts [256]uint64
}

func NewInterruptController() *counterInterruptController {
	return &counterInterruptController{}
}

func (c *counterInterruptController) SignalMsi(vector uint) error {
	atomic.AddUint64(&c.counts[vector%256], 1)
	return nil
}

func (c *counterInterruptController) DeliveryCount(vector uint) uint64 {
	return atomic.LoadUint64(&c.counts[vector%256])
}
