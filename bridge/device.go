package bridge

import (
	"fmt"
	"strings"

	"github.com/usnistgov/tsbridge/hw/dmamem"
	"github.com/usnistgov/tsbridge/hw/mmio"
	"go.uber.org/zap"
)

// CardType identifies a card family.
type CardType int

// CardType values.
const (
	CardOctopus CardType = iota
	CardOctopusCI
	CardMod
)

var cardTypeNames = map[CardType]string{
	CardOctopus:   "octopus",
	CardOctopusCI: "octopus-ci",
	CardMod:       "mod",
}

func (t CardType) String() string {
	if s, ok := cardTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("CardType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t CardType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *CardType) UnmarshalText(text []byte) error {
	for value, name := range cardTypeNames {
		if strings.EqualFold(name, string(text)) {
			*t = value
			return nil
		}
	}
	return fmt.Errorf("%w: unknown card type %q", ErrInvalid, text)
}

// PortConfig describes a port of a card.
type PortConfig struct {
	Class PortClass `json:"class"`

	// Inputs is the number of inputs, 0 to 2.
	Inputs int `json:"inputs"`

	// Output indicates whether the port has an output.
	Output bool `json:"output,omitempty"`

	// Bitrate is the output bitrate in kbit/s.
	// Default is DefaultBitrate.
	Bitrate uint32 `json:"bitrate,omitempty"`

	// Gap is an explicit null-packet gap on the output.
	// Default is derived from Bitrate.
	Gap *uint32 `json:"gap,omitempty"`

	// Divider selects divider and gap shaping instead of NCO on capable cards.
	Divider bool `json:"divider,omitempty"`
}

// DeviceConfig describes a card.
type DeviceConfig struct {
	Type     CardType  `json:"type"`
	Link     int       `json:"link,omitempty"`
	RegMapID uint32    `json:"regmapid,omitempty"`
	IRQ      IRQLayout `json:"irq"`

	// RegMap overrides the register layout selected by IRQ.
	RegMap *RegMap `json:"-"`

	Ports []PortConfig `json:"ports"`

	// NoDMA indicates the card has no DMA engine. Its ports can be configured but not streamed
	// or redirected.
	NoDMA bool `json:"noDMA,omitempty"`
}

func (dc DeviceConfig) regMap() RegMap {
	if dc.RegMap != nil {
		return *dc.RegMap
	}
	switch dc.IRQ {
	case IRQSplitMSI:
		return RegMapOctopusMSI
	case IRQV2:
		return RegMapOctopusV2
	}
	return RegMapOctopus
}

func (dc DeviceConfig) validate() error {
	rm := dc.regMap()
	nIn, nOut := 0, 0
	for p, pc := range dc.Ports {
		if pc.Inputs < 0 || pc.Inputs > 2 {
			return fmt.Errorf("%w: port %d has %d inputs", ErrInvalid, p, pc.Inputs)
		}
		if pc.Inputs > 0 {
			nIn = 2*p + pc.Inputs
		}
		if pc.Output {
			nOut = p + 1
		}
	}
	if nIn > rm.Input.Num || nIn > rm.IDMA.Num {
		return fmt.Errorf("%w: %d inputs exceed register map", ErrInvalid, nIn)
	}
	if nOut > rm.Output.Num || nOut > rm.ODMA.Num {
		return fmt.Errorf("%w: %d outputs exceed register map", ErrInvalid, nOut)
	}
	if len(dc.Ports) > 0x10 {
		return fmt.Errorf("%w: %d ports", ErrInvalid, len(dc.Ports))
	}
	return nil
}

// Device is an attached card.
type Device struct {
	reg      *Registry
	id       int
	cfg      DeviceConfig
	bus      mmio.Bus
	regMap   RegMap
	strategy dmamem.Strategy
	irq      irqTable

	ports   []*Port
	inputs  []*Input
	outputs []*Output
	rings   []*Ring
}

func (dev *Device) String() string {
	return fmt.Sprintf("dev%d", dev.id)
}

// ID returns the registry index of this card.
func (dev *Device) ID() int {
	return dev.id
}

// Config returns the card configuration.
func (dev *Device) Config() DeviceConfig {
	return dev.cfg
}

// HasDMA determines whether the card has a DMA engine.
func (dev *Device) HasDMA() bool {
	return !dev.cfg.NoDMA
}

// Ports returns the ports.
func (dev *Device) Ports() []*Port {
	return dev.ports
}

// Port returns a port by number, or nil.
func (dev *Device) Port(nr int) *Port {
	if nr < 0 || nr >= len(dev.ports) {
		return nil
	}
	return dev.ports[nr]
}

// Input returns an input by card-wide number, or nil.
func (dev *Device) Input(nr int) *Input {
	if nr < 0 || nr >= len(dev.inputs) {
		return nil
	}
	return dev.inputs[nr]
}

// Inputs returns existing inputs.
func (dev *Device) Inputs() (list []*Input) {
	for _, in := range dev.inputs {
		if in != nil {
			list = append(list, in)
		}
	}
	return list
}

// Outputs returns existing outputs.
func (dev *Device) Outputs() (list []*Output) {
	for _, out := range dev.outputs {
		if out != nil {
			list = append(list, out)
		}
	}
	return list
}

// Close detaches the card from its registry.
func (dev *Device) Close() error {
	return dev.reg.Detach(dev)
}

func (dev *Device) read(addr uint32) uint32 {
	return dev.bus.Read32(dev.cfg.Link, addr)
}

func (dev *Device) write(addr uint32, value uint32) {
	dev.bus.Write32(dev.cfg.Link, addr, value)
}

func (dev *Device) logger() *zap.Logger {
	return logger.With(zap.Int("dev", dev.id), zap.Int("link", dev.cfg.Link))
}

// build creates ports, inputs, outputs and rings.
func (dev *Device) build() {
	for p, pc := range dev.cfg.Ports {
		port := &Port{dev: dev, nr: p, cfg: pc}
		if port.cfg.Bitrate == 0 {
			port.cfg.Bitrate = DefaultBitrate
		}
		for slot := range pc.Inputs {
			in := newInput(port, 2*p+slot)
			port.inputs[slot] = in
			dev.growInputs(in.nr)
			dev.inputs[in.nr] = in
		}
		if pc.Output {
			out := newOutput(port, p)
			port.output = out
			dev.growOutputs(out.nr)
			dev.outputs[out.nr] = out
		}
		dev.ports = append(dev.ports, port)
	}
	if dev.cfg.NoDMA {
		return
	}
	for _, in := range dev.Inputs() {
		in.ring = newRing(dev, in.nr, dmamem.FromDevice)
		in.ring.tl = newTasklet(in.tasklet)
		dev.rings = append(dev.rings, in.ring)
	}
	for _, out := range dev.Outputs() {
		out.ring = newRing(dev, out.nr, dmamem.ToDevice)
		out.ring.tl = newTasklet(out.tasklet)
		dev.rings = append(dev.rings, out.ring)
	}
}

func (dev *Device) growInputs(nr int) {
	for len(dev.inputs) <= nr {
		dev.inputs = append(dev.inputs, nil)
	}
}

func (dev *Device) growOutputs(nr int) {
	for len(dev.outputs) <= nr {
		dev.outputs = append(dev.outputs, nil)
	}
}

// setup allocates DMA buffers, programs address tables and arms interrupts.
func (dev *Device) setup() error {
	for _, r := range dev.rings {
		if e := r.alloc(); e != nil {
			dev.freeRings()
			return e
		}
	}
	for _, r := range dev.rings {
		r.setTable(r)
		dev.SetIRQHandler(r.irq, r.tl.schedule)
		go r.tl.loop()
	}
	dev.EnableIRQ()
	return nil
}

func (dev *Device) freeRings() {
	for _, r := range dev.rings {
		r.free()
	}
}

// teardown stops every io, disarms interrupts and releases DMA buffers.
func (dev *Device) teardown() {
	dev.DisableIRQ()
	for _, in := range dev.Inputs() {
		in.stop()
	}
	for _, out := range dev.Outputs() {
		out.stop()
	}
	for _, r := range dev.rings {
		dev.SetIRQHandler(r.irq, nil)
		r.tl.close()
	}
	dev.freeRings()
}

// Poll runs the tasklet of every ring once, in the calling goroutine.
// It serves cards without a usable interrupt.
func (dev *Device) Poll() {
	for _, r := range dev.rings {
		r.tl.run()
	}
}
