package bridge

import (
	"fmt"

	"github.com/usnistgov/tsbridge/core/runningstat"
)

// RingCounters contains ring state and counters.
type RingCounters struct {
	Running    bool   `json:"running"`
	Buffers    uint32 `json:"buffers"`
	BufferSize uint32 `json:"bufferSize"`
	Cursor     Cursor `json:"cursor"`
	Stat       Cursor `json:"stat"`
	Owner      string `json:"owner"`
	PacketLoss uint32 `json:"packetLoss"`
	Stalls     uint32 `json:"stalls"`
	Overflows  uint32 `json:"overflows"`
	Unaligned  bool   `json:"unaligned"`
	Runs       uint64 `json:"runs"`

	// Batch is the number of buffers completed by the card per tasklet pass.
	Batch runningstat.Snapshot `json:"batch"`
}

func (cnt RingCounters) String() string {
	s := "stopped"
	if cnt.Running {
		s = "running"
	}
	return fmt.Sprintf("%s %dx%dB cursor=%s stat=%s loss=%d stalls=%d overflows=%d runs=%d",
		s, cnt.Buffers, cnt.BufferSize, cnt.Cursor, cnt.Stat, cnt.PacketLoss, cnt.Stalls, cnt.Overflows, cnt.Runs)
}

// Counters retrieves ring state and counters.
func (r *Ring) Counters() (cnt RingCounters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingCounters{
		Running:    r.running,
		Buffers:    r.num,
		BufferSize: r.size,
		Cursor:     Cursor{Buf: r.cbuf, Off: r.coff},
		Stat:       r.stat,
		Owner:      r.owner.String(),
		PacketLoss: r.packetLoss,
		Stalls:     r.stalls,
		Overflows:  r.overflows,
		Unaligned:  r.unaligned,
		Runs:       r.runs,
		Batch:      r.batch.Read(),
	}
}

// TableOwner returns the ring whose buffers are programmed into this ring's address table.
// It is the ring itself unless the ring belongs to a redirected output.
func (r *Ring) TableOwner() *Ring {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

// BufVal returns the size word last programmed into the address table.
func (r *Ring) BufVal() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufval
}

// Buffer returns the CPU view of buffer i.
func (r *Ring) Buffer(i int) []byte {
	return r.bufs[i].Virt
}

// BusAddr returns the bus address of buffer i.
func (r *Ring) BusAddr(i int) uint64 {
	return r.bufs[i].Bus
}

// Regs returns the base address of the ring's DMA registers and address table.
func (r *Ring) Regs() (regs, table uint32) {
	return r.regs, r.bufregs
}

// IRQ returns the interrupt source number of the ring.
func (r *Ring) IRQ() int {
	return r.irq
}
