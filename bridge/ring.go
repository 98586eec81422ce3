package bridge

import (
	"fmt"
	"sync"

	"github.com/usnistgov/tsbridge/core/runningstat"
	"github.com/usnistgov/tsbridge/hw/dmamem"
)

// Ring is a DMA ring: a fixed set of buffers that the card fills or drains in order, wrapping
// around. The CPU side follows with a software cursor (cbuf, coff) and acknowledges progress
// by writing it back to the card.
type Ring struct {
	dev      *Device
	nr       int
	dir      dmamem.Direction
	regs     uint32
	bufregs  uint32
	irq      int
	num      uint32
	size     uint32
	div      uint32
	strategy dmamem.Strategy
	bufs     []*dmamem.Buffer
	tl       *tasklet
	wq       waitQueue

	mu         sync.Mutex
	running    bool
	bufval     uint32
	owner      *Ring
	cbuf       uint32
	coff       uint32
	stat       Cursor
	ctrl       uint32
	packetLoss uint32
	stalls     uint32
	overflows  uint32
	unaligned  bool
	inOverflow bool
	runs       uint64
	batch      runningstat.IntStat
}

func newRing(dev *Device, nr int, dir dmamem.Direction) (r *Ring) {
	cfg := dev.reg.cfg
	r = &Ring{
		dev:      dev,
		nr:       nr,
		dir:      dir,
		num:      uint32(cfg.BufferCount),
		size:     cfg.BufferOctets(),
		div:      1,
		strategy: dev.strategy,
	}
	rm := dev.regMap
	if dir == dmamem.ToDevice {
		r.regs, r.bufregs, r.irq = rm.ODMA.At(nr), rm.ODMABuf.At(nr), rm.IRQBaseODMA+nr
	} else {
		r.regs, r.bufregs, r.irq = rm.IDMA.At(nr), rm.IDMABuf.At(nr), rm.IRQBaseIDMA+nr
	}
	r.owner = r
	return r
}

func (r *Ring) String() string {
	if r.dir == dmamem.ToDevice {
		return fmt.Sprintf("%s/odma%d", r.dev, r.nr)
	}
	return fmt.Sprintf("%s/idma%d", r.dev, r.nr)
}

// alloc allocates every buffer of the ring.
// On failure, buffers allocated so far are kept; the caller frees every ring of the card.
func (r *Ring) alloc() error {
	r.bufs = make([]*dmamem.Buffer, r.num)
	for i := range r.bufs {
		b, e := r.strategy.Alloc(int(r.size), r.dir)
		if e != nil {
			return fmt.Errorf("ring %s buffer %d: %w", r, i, e)
		}
		r.bufs[i] = b
	}
	return nil
}

// free releases every buffer. It is safe to call on a partially allocated or freed ring.
func (r *Ring) free() {
	for i, b := range r.bufs {
		if b != nil {
			r.strategy.Free(b)
			r.bufs[i] = nil
		}
	}
}

// setTable writes the buffer addresses of src into this ring's DMA address table, followed by
// the size word. When src is r itself, this restores the ring's own table.
func (r *Ring) setTable(src *Ring) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range src.bufs {
		addr := r.bufregs + uint32(i)*8
		r.dev.write(addr, uint32(b.Bus))
		r.dev.write(addr+4, uint32(b.Bus>>32))
	}
	r.bufval = SizeWord(src.div, src.num, src.size)
	r.dev.write(r.regs+RegDMABufferSize, r.bufval)
	r.owner = src
}

// snapshot reads the current position and control word of the card.
func (r *Ring) snapshot() {
	r.stat = DecodeCursor(r.dev.read(r.regs + RegDMABufferCurrent))
	r.ctrl = r.dev.read(r.regs + RegDMABufferControl)
}

// pass starts a tasklet pass. It records how many buffers the card has completed since the
// previous pass.
func (r *Ring) pass() {
	prev := r.stat.Buf
	r.snapshot()
	r.runs++
	r.batch.Push(uint64((r.stat.Buf + r.num - prev) % r.num))
}

func (r *Ring) ack(c Cursor) {
	r.dev.write(r.regs+RegDMABufferAck, c.Encode())
}

func (r *Ring) resetCursor() {
	r.cbuf, r.coff = 0, 0
	r.stat, r.ctrl = Cursor{}, 0
	r.packetLoss, r.stalls, r.overflows = 0, 0, 0
	r.unaligned, r.inOverflow = false, false
	r.batch.Clear()
}

// Wakeup returns a channel that is closed when the ring's tasklet runs next.
// Blocking readers and writers obtain it before checking Avail or Free.
func (r *Ring) Wakeup() <-chan struct{} {
	return r.wq.channel()
}

// IsRunning determines whether the card's DMA engine is enabled on this ring.
func (r *Ring) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
