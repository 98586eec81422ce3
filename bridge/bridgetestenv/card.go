package bridgetestenv

import (
	"sync"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/hw/dmamem"
	"github.com/usnistgov/tsbridge/hw/mmio"
)

// Card simulates the DMA engine and interrupt controller of a bridge card.
// The card moves data only when told to: Produce fills input buffers, Consume drains output
// buffers, each through the address table the driver programmed.
type Card struct {
	Bus    *mmio.SimBus
	Mem    *dmamem.Heap
	Link   int
	RegMap bridge.RegMap
	Layout bridge.IRQLayout
	Dev    *bridge.Device

	mu      sync.Mutex
	pending [16]uint32
	idmaAck map[uint32]uint32 // ack register => control register
}

// NewCard creates a Card on a bus.
func NewCard(bus *mmio.SimBus, mem *dmamem.Heap, dc bridge.DeviceConfig) *Card {
	rm := bridge.RegMapOctopus
	switch {
	case dc.RegMap != nil:
		rm = *dc.RegMap
	case dc.IRQ == bridge.IRQSplitMSI:
		rm = bridge.RegMapOctopusMSI
	case dc.IRQ == bridge.IRQV2:
		rm = bridge.RegMapOctopusV2
	}
	c := &Card{
		Bus:     bus,
		Mem:     mem,
		Link:    dc.Link,
		RegMap:  rm,
		Layout:  rm.IRQ,
		idmaAck: map[uint32]uint32{},
	}
	for nr := range rm.IDMA.Num {
		regs := rm.IDMA.At(nr)
		c.idmaAck[regs+bridge.RegDMABufferAck] = regs + bridge.RegDMABufferControl
	}

	bus.OnWrite(c.onWrite)
	bus.OnRead(c.Link, bridge.RegIRQStatus, func() uint32 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.pending[0]
	})
	bus.OnRead(c.Link, bridge.RegIRQv2Status, func() (summary uint32) {
		c.mu.Lock()
		defer c.mu.Unlock()
		for g, s := range c.pending {
			if s != 0 {
				summary |= 1 << g
			}
		}
		return summary
	})
	for g := range c.pending {
		bus.OnRead(c.Link, groupReg(g), func() uint32 {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.pending[g]
		})
	}
	return c
}

func groupReg(g int) uint32 {
	return bridge.RegIRQv2Status + 4 + 4*uint32(g)
}

func (c *Card) onWrite(a mmio.Access) {
	if a.Link != c.Link {
		return
	}
	if ctrl, ok := c.idmaAck[a.Addr]; ok {
		c.Bus.Poke(c.Link, ctrl, c.Bus.Peek(c.Link, ctrl)&^bridge.BufCtrlOverflow)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case a.Addr == bridge.RegIRQAck && c.Layout != bridge.IRQV2:
		c.pending[0] &^= a.Value
	case a.Addr >= groupReg(0) && a.Addr <= groupReg(len(c.pending)-1) && c.Layout == bridge.IRQV2:
		c.pending[(a.Addr-groupReg(0))/4] &^= a.Value
	}
}

// Raise marks interrupt sources pending.
func (c *Card) Raise(srcs ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, src := range srcs {
		if c.Layout == bridge.IRQV2 {
			c.pending[src/32] |= 1 << (src % 32)
		} else {
			c.pending[0] |= 1 << src
		}
	}
}

// Pending returns pending interrupt bits of a group.
func (c *Card) Pending(g int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[g]
}

// Table returns buffers programmed into a DMA address table, as the card sees them.
func (c *Card) Table(regs, table uint32) (bufs [][]byte) {
	_, num, size := bridge.DecodeSizeWord(c.Bus.Peek(c.Link, regs+bridge.RegDMABufferSize))
	for i := range num {
		lo := c.Bus.Peek(c.Link, table+8*i)
		hi := c.Bus.Peek(c.Link, table+8*i+4)
		bufs = append(bufs, c.Mem.Access(uint64(hi)<<32|uint64(lo), int(size)))
	}
	return bufs
}

// TableAddrs returns bus addresses programmed into a DMA address table.
func (c *Card) TableAddrs(regs, table uint32) (addrs []uint64) {
	_, num, _ := bridge.DecodeSizeWord(c.Bus.Peek(c.Link, regs+bridge.RegDMABufferSize))
	for i := range num {
		lo := c.Bus.Peek(c.Link, table+8*i)
		hi := c.Bus.Peek(c.Link, table+8*i+4)
		addrs = append(addrs, uint64(hi)<<32|uint64(lo))
	}
	return addrs
}

// InputRegs returns DMA register and address table bases of an input ring.
func (c *Card) InputRegs(nr int) (regs, table uint32) {
	return c.RegMap.IDMA.At(nr), c.RegMap.IDMABuf.At(nr)
}

// OutputRegs returns DMA register and address table bases of an output ring.
func (c *Card) OutputRegs(nr int) (regs, table uint32) {
	return c.RegMap.ODMA.At(nr), c.RegMap.ODMABuf.At(nr)
}

// Cursor returns the card's position on a ring.
func (c *Card) Cursor(regs uint32) bridge.Cursor {
	return bridge.DecodeCursor(c.Bus.Peek(c.Link, regs+bridge.RegDMABufferCurrent))
}

// SetCursor moves the card's position on a ring.
func (c *Card) SetCursor(regs uint32, cur bridge.Cursor) {
	c.Bus.Poke(c.Link, regs+bridge.RegDMABufferCurrent, cur.Encode())
}

// Ack returns the last position acknowledged by the driver on a ring.
func (c *Card) Ack(regs uint32) bridge.Cursor {
	return bridge.DecodeCursor(c.Bus.Peek(c.Link, regs+bridge.RegDMABufferAck))
}

// Produce fills whole input buffers starting at the card's position, one slice per buffer,
// and advances the position past them. If the position catches up with the last acknowledged
// buffer, the overflow bit is set.
func (c *Card) Produce(nr int, data ...[]byte) {
	regs, table := c.InputRegs(nr)
	bufs := c.Table(regs, table)
	cur := c.Cursor(regs)
	for _, d := range data {
		copy(bufs[cur.Buf], d)
		cur.Buf = (cur.Buf + 1) % uint32(len(bufs))
		cur.Off = 0
		if cur.Buf == c.Ack(regs).Buf {
			c.SetOverflow(nr)
		}
	}
	c.SetCursor(regs, cur)
}

// SetOverflow sets the overflow bit of an input ring.
func (c *Card) SetOverflow(nr int) {
	ctrl := c.RegMap.IDMA.At(nr) + bridge.RegDMABufferControl
	c.Bus.Poke(c.Link, ctrl, c.Bus.Peek(c.Link, ctrl)|bridge.BufCtrlOverflow)
}

// AddLoss advances the 16-bit packet loss counter of an input.
func (c *Card) AddLoss(nr int, n uint32) {
	stat := c.RegMap.Input.At(nr) + bridge.RegTSStat
	c.Bus.Poke(c.Link, stat, (c.Bus.Peek(c.Link, stat)+n)&0xFFFF)
}

// Consume drains up to n octets from an output ring, reading from the card's position up to
// the last acknowledged position, and advances the card's position.
func (c *Card) Consume(nr int, n int) (data []byte) {
	regs, table := c.OutputRegs(nr)
	bufs := c.Table(regs, table)
	size := uint32(len(bufs[0]))
	cur, ack := c.Cursor(regs), c.Ack(regs)
	for len(data) < n && cur != ack {
		end := size
		if cur.Buf == ack.Buf && ack.Off > cur.Off {
			end = ack.Off
		}
		chunk := min(end-cur.Off, uint32(n-len(data)))
		data = append(data, bufs[cur.Buf][cur.Off:cur.Off+chunk]...)
		cur.Off += chunk
		if cur.Off == size {
			cur.Buf, cur.Off = (cur.Buf+1)%uint32(len(bufs)), 0
		}
	}
	c.SetCursor(regs, cur)
	return data
}
