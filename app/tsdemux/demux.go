// Package tsdemux implements a software transport stream demultiplexer.
// It receives buffers from bridge input tasklets and dispatches packets by PID.
package tsdemux

import (
	"slices"
	"sync"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/core/logging"
	"go.uber.org/zap"
)

var logger = logging.New("tsdemux")

// PIDNull is the PID of null packets, which are counted but never dispatched.
const PIDNull = 0x1FFF

// Handler receives one packet. pkt is only valid during the call.
type Handler func(pkt []byte)

// Counters contains demux counters.
type Counters struct {
	NPackets  uint64 `json:"nPackets"`
	NNull     uint64 `json:"nNull"`
	NDropped  uint64 `json:"nDropped"`
	NResync   uint64 `json:"nResync"`
	NSkipped  uint64 `json:"nSkipped"` // octets discarded while searching for sync
	NRawBytes uint64 `json:"nRawBytes"`
}

// PIDCounters contains per-PID counters.
type PIDCounters struct {
	NPackets          uint64 `json:"nPackets"`
	NContinuityErrors uint64 `json:"nContinuityErrors"`
	NTransportErrors  uint64 `json:"nTransportErrors"`
}

type pidState struct {
	PIDCounters
	lastCC int
}

// Demux dispatches packets to handlers by PID.
type Demux struct {
	mu        sync.Mutex
	dests     map[uint16]Handler
	fallback  Handler
	raw       func(buf []byte)
	pids      map[uint16]*pidState
	carry     []byte
	synced    bool
	searching bool
	cnt       Counters
}

var _ bridge.Demux = (*Demux)(nil)

// New creates a Demux.
func New() *Demux {
	return &Demux{
		dests: map[uint16]Handler{},
		pids:  map[uint16]*pidState{},
	}
}

// SetDest sets the handler of a PID. Passing nil removes it.
func (d *Demux) SetDest(pid uint16, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.dests, pid)
	} else {
		d.dests[pid] = h
	}
}

// SetFallback sets the handler of packets whose PID has no handler.
func (d *Demux) SetFallback(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = h
}

// SetRaw sets the receiver of raw buffers.
// If unset, raw buffers are parsed as a byte stream.
func (d *Demux) SetRaw(f func(buf []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.raw = f
}

// Counters returns demux counters.
func (d *Demux) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cnt
}

// PIDCounters returns counters of a PID.
func (d *Demux) PIDCounters(pid uint16) PIDCounters {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.pids[pid]; st != nil {
		return st.PIDCounters
	}
	return PIDCounters{}
}

// PIDs returns PIDs seen so far, in ascending order.
func (d *Demux) PIDs() (list []uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pid := range d.pids {
		list = append(list, pid)
	}
	slices.Sort(list)
	return list
}

// FeedRaw implements bridge.Demux.
func (d *Demux) FeedRaw(buf []byte) {
	d.mu.Lock()
	d.cnt.NRawBytes += uint64(len(buf))
	raw := d.raw
	d.mu.Unlock()

	if raw != nil {
		raw(buf)
		return
	}
	d.FeedBytes(buf)
}

// FeedBytes implements bridge.Demux.
// Packets may span calls; a partial packet at the end of buf is kept until the next call.
func (d *Demux) FeedBytes(buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	work := buf
	if len(d.carry) > 0 {
		work = append(d.carry, buf...)
		d.carry = nil
	}

	for len(work) > 0 {
		if !d.synced || work[0] != bridge.SyncByte {
			d.synced = false
			skip, ok := findSync(work)
			if skip > 0 {
				if !d.searching {
					d.searching = true
					d.cnt.NResync++
					logger.Debug("lost sync")
				}
				d.cnt.NSkipped += uint64(skip)
				work = work[skip:]
			}
			if !ok {
				d.carry = append([]byte(nil), work...)
				return
			}
			d.synced, d.searching = true, false
		}
		if len(work) < bridge.PacketSize {
			d.carry = append([]byte(nil), work...)
			return
		}
		d.dispatch(work[:bridge.PacketSize])
		work = work[bridge.PacketSize:]
	}
}

// findSync locates the first sync byte confirmed by another sync byte one packet later, or by
// the end of buf. ok is false if no packet can be confirmed yet; buf[i:] should then be kept
// until more data arrives.
func findSync(buf []byte) (i int, ok bool) {
	for i = range buf {
		if buf[i] != bridge.SyncByte {
			continue
		}
		switch next := i + bridge.PacketSize; {
		case next > len(buf):
			return i, false
		case next == len(buf), buf[next] == bridge.SyncByte:
			return i, true
		}
	}
	return len(buf), false
}

// FeedPackets implements bridge.Demux.
func (d *Demux) FeedPackets(buf []byte, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range count {
		pkt := buf[i*bridge.PacketSize : (i+1)*bridge.PacketSize]
		if pkt[0] != bridge.SyncByte {
			d.cnt.NResync++
			d.cnt.NSkipped += bridge.PacketSize
			logger.Debug("packet without sync byte", zap.Int("index", i))
			continue
		}
		d.dispatch(pkt)
	}
}

// dispatch counts and delivers one packet. Caller must hold d.mu.
func (d *Demux) dispatch(pkt []byte) {
	d.cnt.NPackets++
	pid := uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
	if pid == PIDNull {
		d.cnt.NNull++
		return
	}

	st := d.pids[pid]
	if st == nil {
		st = &pidState{lastCC: -1}
		d.pids[pid] = st
	}
	st.NPackets++
	if pkt[1]&0x80 != 0 {
		st.NTransportErrors++
	}
	if cc, hasPayload := int(pkt[3]&0x0F), pkt[3]&0x10 != 0; hasPayload {
		if st.lastCC >= 0 && cc != st.lastCC && cc != (st.lastCC+1)&0x0F {
			st.NContinuityErrors++
		}
		st.lastCC = cc
	}

	h := d.dests[pid]
	if h == nil {
		h = d.fallback
	}
	if h == nil {
		d.cnt.NDropped++
		return
	}
	h(pkt)
}
