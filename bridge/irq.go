package bridge

import (
	"fmt"
	"math/bits"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/usnistgov/tsbridge/core/logging"
	"go.uber.org/zap"
)

// IRQLayout identifies how a card reports interrupt sources.
type IRQLayout int

// IRQLayout values.
const (
	// IRQLegacy has one status register at RegIRQStatus, acknowledged by writing the same bits to
	// RegIRQAck. Bit 31 reads set when the card is gone.
	IRQLegacy IRQLayout = iota
	// IRQSplitMSI is IRQLegacy with TS sources on vector 0 and message sources on vector 1.
	IRQSplitMSI
	// IRQV2 has a summary register selecting up to 7 groups of 32 sources.
	IRQV2
)

var irqLayoutNames = map[IRQLayout]string{
	IRQLegacy:   "legacy",
	IRQSplitMSI: "msi",
	IRQV2:       "v2",
}

func (l IRQLayout) String() string {
	if s, ok := irqLayoutNames[l]; ok {
		return s
	}
	return fmt.Sprintf("IRQLayout(%d)", int(l))
}

// MarshalText implements encoding.TextMarshaler.
func (l IRQLayout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *IRQLayout) UnmarshalText(text []byte) error {
	for value, name := range irqLayoutNames {
		if strings.EqualFold(name, string(text)) {
			*l = value
			return nil
		}
	}
	return fmt.Errorf("%w: unknown IRQ layout %q", ErrInvalid, text)
}

// Interrupt status masks.
const (
	irqMaskLegacy = 0x8FFFFF0F
	irqMaskTS     = 0x8FFFFF00
	irqMaskMsg    = 0x8000000F
	irqAbort      = 0x80000000
)

// irqPassLimit bounds status re-reads within one HandleIRQ call.
const irqPassLimit = 16

// irqV2Groups is the number of 32-source groups in IRQV2.
const irqV2Groups = 7

type irqTable struct {
	mu       sync.RWMutex
	handlers map[int]func()
	counts   map[int]*atomic.Uint64
	unknown  atomic.Uint64
}

func (t *irqTable) set(src int, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers == nil {
		t.handlers, t.counts = map[int]func(){}, map[int]*atomic.Uint64{}
	}
	if fn == nil {
		delete(t.handlers, src)
		return
	}
	t.handlers[src] = fn
	if t.counts[src] == nil {
		t.counts[src] = &atomic.Uint64{}
	}
}

func (t *irqTable) dispatch(src int) {
	t.mu.RLock()
	fn, cnt := t.handlers[src], t.counts[src]
	t.mu.RUnlock()
	if fn == nil {
		t.unknown.Add(1)
		return
	}
	cnt.Add(1)
	fn()
}

// masks returns enable bits of registered sources, indexed by 32-source group.
func (t *irqTable) masks() (m [irqV2Groups]uint32) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for src := range t.handlers {
		if g := src / 32; g < irqV2Groups {
			m[g] |= 1 << (src % 32)
		}
	}
	return m
}

// SetIRQHandler registers a handler for an interrupt source, or removes it if fn is nil.
// Rings register their own handlers when the card is attached.
// Call EnableIRQ afterwards to update the card's enable mask.
func (dev *Device) SetIRQHandler(src int, fn func()) {
	dev.irq.set(src, fn)
}

// IRQCount returns how many times the handler of an interrupt source has been invoked.
func (dev *Device) IRQCount(src int) uint64 {
	dev.irq.mu.RLock()
	defer dev.irq.mu.RUnlock()
	if cnt := dev.irq.counts[src]; cnt != nil {
		return cnt.Load()
	}
	return 0
}

// UnknownIRQs returns how many interrupts arrived for sources without a handler.
func (dev *Device) UnknownIRQs() uint64 {
	return dev.irq.unknown.Load()
}

// EnableIRQ writes the enable mask of every registered source.
func (dev *Device) EnableIRQ() {
	m := dev.irq.masks()
	switch dev.regMap.IRQ {
	case IRQV2:
		var groups uint32
		for g, mask := range m {
			dev.write(RegIRQv2Enable+4*uint32(g), mask)
			if mask != 0 {
				groups |= 1 << g
			}
		}
		dev.write(RegIRQv2Control, groups)
	default:
		dev.write(RegIRQEnable, m[0])
	}
}

// DisableIRQ masks every source.
func (dev *Device) DisableIRQ() {
	switch dev.regMap.IRQ {
	case IRQV2:
		dev.write(RegIRQv2Control, 0)
		for g := range irqV2Groups {
			dev.write(RegIRQv2Enable+4*uint32(g), 0)
		}
	default:
		dev.write(RegIRQEnable, 0)
	}
}

// HandleIRQ processes an interrupt received on an MSI vector, or vector 0 for a shared line.
// It acknowledges pending sources and invokes their handlers.
// Returns false if the card had nothing pending or has dropped off the bus.
func (dev *Device) HandleIRQ(vector int) (handled bool) {
	switch dev.regMap.IRQ {
	case IRQSplitMSI:
		if vector == 0 {
			return dev.handleLegacy(irqMaskTS)
		}
		return dev.handleLegacy(irqMaskMsg)
	case IRQV2:
		return dev.handleV2()
	default:
		return dev.handleLegacy(irqMaskLegacy)
	}
}

func (dev *Device) handleLegacy(mask uint32) (handled bool) {
	for range irqPassLimit {
		s := dev.read(RegIRQStatus) & mask
		if s == 0 {
			return handled
		}
		if s&irqAbort != 0 {
			logger.Warn("IRQ status aborted", zap.Stringer("dev", dev), logging.Hex("status", s))
			return handled
		}
		dev.write(RegIRQAck, s)
		handled = true
		dev.dispatchBits(0, s)
	}
	return handled
}

func (dev *Device) handleV2() (handled bool) {
	summary := dev.read(RegIRQv2Status) & (1<<irqV2Groups - 1)
	if summary == 0 {
		return false
	}
	for summary != 0 {
		g := bits.TrailingZeros32(summary)
		summary &^= 1 << g
		reg := RegIRQv2Status + 4 + 4*uint32(g)
		s := dev.read(reg)
		if s == 0 {
			continue
		}
		dev.write(reg, s)
		dev.dispatchBits(32*g, s)
	}
	return true
}

func (dev *Device) dispatchBits(base int, s uint32) {
	for s != 0 {
		bit := bits.TrailingZeros32(s)
		s &^= 1 << bit
		dev.irq.dispatch(base + bit)
	}
}
