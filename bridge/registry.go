package bridge

import (
	"fmt"
	"io"
	"sync"

	"github.com/usnistgov/tsbridge/core/events"
	"github.com/usnistgov/tsbridge/hw/dmamem"
	"github.com/usnistgov/tsbridge/hw/mmio"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MaxDevices is the capacity of a Registry.
const MaxDevices = 64

const (
	evtOverflow  = "overflow"
	evtUnaligned = "unaligned"
	evtRedirect  = "redirect"
)

// Registry holds attached cards.
// Redirects may connect any input and output within the same Registry.
type Registry struct {
	cfg     Config
	emitter *events.Emitter

	// mu serializes redirect graph mutation, chain walks and every start or stop.
	mu      sync.Mutex
	pending []redirectEvent

	devMu   sync.RWMutex
	devices [MaxDevices]*Device
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config) (*Registry, error) {
	cfg.ApplyDefaults()
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	return &Registry{
		cfg:     cfg,
		emitter: events.NewEmitter(),
	}, nil
}

// Config returns the Registry configuration with defaults applied.
func (reg *Registry) Config() Config {
	return reg.cfg
}

// Attach adds a card at the lowest free index.
// On failure, nothing is left allocated.
func (reg *Registry) Attach(dc DeviceConfig, bus mmio.Bus, mem dmamem.Memory) (dev *Device, e error) {
	if e := dc.validate(); e != nil {
		return nil, e
	}

	reg.devMu.Lock()
	defer reg.devMu.Unlock()
	id := -1
	for i, d := range reg.devices {
		if d == nil {
			id = i
			break
		}
	}
	if id < 0 {
		return nil, fmt.Errorf("%w: registry full", ErrBusy)
	}

	dev = &Device{
		reg:      reg,
		id:       id,
		cfg:      dc,
		bus:      bus,
		regMap:   dc.regMap(),
		strategy: dmamem.New(reg.cfg.AltDMA, mem),
	}
	dev.build()
	if e := dev.setup(); e != nil {
		return nil, fmt.Errorf("attach %s: %w", dev, e)
	}
	reg.devices[id] = dev
	dev.logger().Info("card attached",
		zap.Stringer("type", dc.Type),
		zap.Stringer("irq", dev.regMap.IRQ),
		zap.Stringer("dma", dev.strategy),
		zap.Int("ports", len(dev.ports)),
	)
	return dev, nil
}

// Detach removes a card.
// If any ring of the card, or any output it feeds, is streaming, the card stays attached with
// its redirects intact and ErrBusy is returned. Otherwise redirects touching the card are
// disconnected first.
func (reg *Registry) Detach(dev *Device) (e error) {
	reg.mu.Lock()
	for _, in := range dev.Inputs() {
		if in.users > 0 {
			e = multierr.Append(e, fmt.Errorf("%w: %s has %d users", ErrBusy, in, in.users))
		}
		if out := in.redo.Load(); out != nil && out.ring.IsRunning() {
			e = multierr.Append(e, fmt.Errorf("%w: %s is running", ErrBusy, out))
		}
	}
	for _, out := range dev.Outputs() {
		if out.ring != nil && out.ring.IsRunning() {
			e = multierr.Append(e, fmt.Errorf("%w: %s is running", ErrBusy, out))
		}
	}
	if e != nil {
		reg.unlock()
		return e
	}

	for _, port := range dev.ports {
		e = multierr.Append(e, reg.unredirectLocked(port))
	}
	for _, in := range dev.Inputs() {
		if out := in.redo.Load(); out != nil {
			e = multierr.Append(e, reg.unredirectLocked(out.port))
		}
	}
	if e != nil {
		reg.unlock()
		return e
	}
	dev.teardown()
	reg.unlock()

	reg.devMu.Lock()
	reg.devices[dev.id] = nil
	reg.devMu.Unlock()
	dev.logger().Info("card detached")
	return nil
}

// Close detaches every card.
func (reg *Registry) Close() (e error) {
	for _, dev := range reg.Devices() {
		e = multierr.Append(e, reg.Detach(dev))
	}
	return e
}

// Device returns a card by index, or nil.
func (reg *Registry) Device(id int) *Device {
	if id < 0 || id >= MaxDevices {
		return nil
	}
	reg.devMu.RLock()
	defer reg.devMu.RUnlock()
	return reg.devices[id]
}

// Devices returns attached cards in index order.
func (reg *Registry) Devices() (list []*Device) {
	reg.devMu.RLock()
	defer reg.devMu.RUnlock()
	for _, dev := range reg.devices {
		if dev != nil {
			list = append(list, dev)
		}
	}
	return list
}

// OnOverflow registers a callback when a tasklet observes an input overflow.
// The callback runs in the tasklet goroutine and must not block.
func (reg *Registry) OnOverflow(cb func(in *Input)) io.Closer {
	return reg.emitter.On(evtOverflow, cb)
}

// OnUnaligned registers a callback when an input switches to unaligned processing.
func (reg *Registry) OnUnaligned(cb func(in *Input)) io.Closer {
	return reg.emitter.On(evtUnaligned, cb)
}

// OnRedirect registers a callback when an output starts or stops mirroring an input.
// in is nil on disconnect.
func (reg *Registry) OnRedirect(cb func(in *Input, out *Output)) io.Closer {
	return reg.emitter.On(evtRedirect, cb)
}
