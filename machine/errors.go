package machine

import "errors"

// Memory layout errors.
var ErrMemoryConflict = errors.New("memory region conflicts with an existing slot")
var ErrMemoryNotFound = errors.New("memory region not found")
var ErrMemoryUnaligned = errors.New("memory region is not page aligned")

// PCI bus / device errors.
var ErrPciSlotTaken = errors.New("pci slot already occupied")
var ErrPciSlotEmpty = errors.New("pci slot is empty")
var ErrPciBusNotFound = errors.New("no pci bus attached to model")
var ErrPciCapabilityMismatch = errors.New("pci capability chain is malformed")
var ErrIoResourceNotFound = errors.New("io resource not found on device")

// Interrupt errors.
var ErrInterruptUnavailable = errors.New("no interrupt controller attached")
