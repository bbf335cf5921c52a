package machine

// Model ties the bus, memory, and interrupt collaborators together for
// whatever owns the guest as a whole. Nothing in this repository's test
// suite constructs a full VM around the passthrough core, but cmd/vmx
// needs one place to hold the three collaborators a Device is built from.
type Model struct {
	Bus       *PciBus
	Memory    MemoryManager
	Interrupt InterruptController

	devices []Device
}

func NewModel(memory MemoryManager, interrupt InterruptController) *Model {
	return &Model{
		Bus:       NewPciBus(),
		Memory:    memory,
		Interrupt: interrupt,
		devices:   make([]Device, 0, 1),
	}
}

func (model *Model) Devices() []Device {
	return model.devices
}

func (model *Model) Register(device Device) {
	model.devices = append(model.devices, device)
}
