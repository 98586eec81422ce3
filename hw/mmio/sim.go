package mmio

import (
	"sync"
)

// Access records one register write on SimBus.
type Access struct {
	Link  int
	Addr  uint32
	Value uint32
}

type simKey struct {
	link int
	addr uint32
}

// SimBus is a Bus backed by a map, used for simulated cards and tests.
// Unwritten registers read as zero.
type SimBus struct {
	mu      sync.Mutex
	regs    map[simKey]uint32
	writes  []Access
	noRec   bool
	onWrite []func(Access)
	onRead  map[simKey]func() uint32
}

var _ Bus = (*SimBus)(nil)

// NewSimBus creates a SimBus.
func NewSimBus() *SimBus {
	return &SimBus{
		regs:   map[simKey]uint32{},
		onRead: map[simKey]func() uint32{},
	}
}

// Read32 implements Bus.
func (b *SimBus) Read32(link int, addr uint32) uint32 {
	b.mu.Lock()
	k := simKey{link, addr}
	if f := b.onRead[k]; f != nil {
		b.mu.Unlock()
		return f()
	}
	defer b.mu.Unlock()
	return b.regs[k]
}

// Write32 implements Bus.
// Write hooks are invoked after the register is updated, outside the bus lock.
func (b *SimBus) Write32(link int, addr uint32, value uint32) {
	a := Access{link, addr, value}
	b.mu.Lock()
	b.regs[simKey{link, addr}] = value
	if !b.noRec {
		b.writes = append(b.writes, a)
	}
	hooks := b.onWrite
	b.mu.Unlock()

	for _, hook := range hooks {
		hook(a)
	}
}

// Poke sets a register as the hardware would, without recording a write or invoking hooks.
func (b *SimBus) Poke(link int, addr uint32, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[simKey{link, addr}] = value
}

// Peek returns the last value of a register without invoking read hooks.
func (b *SimBus) Peek(link int, addr uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[simKey{link, addr}]
}

// OnWrite registers a hook that observes every register write.
func (b *SimBus) OnWrite(hook func(a Access)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onWrite = append(b.onWrite, hook)
}

// OnRead installs a function that computes the value of a register on every read.
// Passing nil removes it.
func (b *SimBus) OnRead(link int, addr uint32, f func() uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f == nil {
		delete(b.onRead, simKey{link, addr})
	} else {
		b.onRead[simKey{link, addr}] = f
	}
}

// SetRecording enables or disables recording of register writes. It is enabled initially.
func (b *SimBus) SetRecording(enable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noRec = !enable
	if !enable {
		b.writes = nil
	}
}

// Writes returns register writes recorded since the last call, and clears the record.
func (b *SimBus) Writes() (list []Access) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list, b.writes = b.writes, nil
	return list
}

// WritesTo filters writes to a register.
func WritesTo(list []Access, link int, addr uint32) (values []uint32) {
	for _, a := range list {
		if a.Link == link && a.Addr == addr {
			values = append(values, a.Value)
		}
	}
	return values
}
