package bridge

import (
	"github.com/usnistgov/tsbridge/core/logging"
	"go.uber.org/zap"
)

// These functions compare the software cursor with the last snapshot of the card's cursor.
// Caller must hold r.mu.

// inputAvail reports whether at least one packet can be read.
// An overflowed ring is resynchronized to the card's position and reports nothing.
// Overflow is counted and logged once until a check finds the bit clear.
func (r *Ring) inputAvail() int {
	ctrl := r.dev.read(r.regs + RegDMABufferControl)
	if ctrl&BufCtrlOverflow != 0 {
		if !r.inOverflow {
			r.inOverflow = true
			r.overflows++
			logger.Warn("input overflow",
				zap.Stringer("ring", r),
				zap.Stringer("stat", r.stat),
				logging.Hex("ctrl", ctrl),
			)
		}
		r.ack(r.stat)
		return 0
	}
	r.inOverflow = false
	if r.cbuf != r.stat.Buf {
		return PacketSize
	}
	return 0
}

// inputRead copies completed buffer contents into p, in whole packets.
func (r *Ring) inputRead(p []byte) (n int) {
	left := len(p) - len(p)%PacketSize
	idx := r.stat.Buf
	for left > 0 && r.cbuf != idx {
		chunk := min(int(r.size-r.coff), left)
		b := r.bufs[r.cbuf]
		r.strategy.SyncForCPU(b)
		copy(p[n:n+chunk], b.Virt[r.coff:])
		n += chunk
		left -= chunk
		r.advance(uint32(chunk))
		r.ack(Cursor{Buf: r.cbuf, Off: r.coff})
	}
	return n
}

// outputFree reports whether at least one packet can be written.
// The last two packets before the card's read position are withheld.
func (r *Ring) outputFree() int {
	idx, off := r.stat.Buf, r.stat.Off
	if r.cbuf != idx {
		if (r.cbuf+1)%r.num == idx && r.size-r.coff <= 2*PacketSize {
			return 0
		}
		return PacketSize
	}
	if diff := int(off) - int(r.coff); diff > 0 && diff <= 2*PacketSize {
		return 0
	}
	return PacketSize
}

// outputWrite copies whole packets from p into the ring, stopping short of the card's read
// position.
func (r *Ring) outputWrite(p []byte) (n int) {
	left := len(p) - len(p)%PacketSize
	idx, off := r.stat.Buf, r.stat.Off
	for left > 0 {
		chunk := r.size - r.coff
		if (r.cbuf+1)%r.num == idx && off == 0 {
			if chunk <= PacketSize {
				break
			}
			chunk -= PacketSize
		}
		if r.cbuf == idx && off > r.coff {
			chunk = off - r.coff
			chunk -= chunk % PacketSize
			if chunk <= PacketSize {
				break
			}
			chunk -= PacketSize
		}
		chunk = min(chunk, uint32(left))
		b := r.bufs[r.cbuf]
		copy(b.Virt[r.coff:r.coff+chunk], p[n:])
		r.strategy.SyncForDevice(b)
		n += int(chunk)
		left -= int(chunk)
		r.advance(chunk)
		r.ack(Cursor{Buf: r.cbuf, Off: r.coff})
	}
	return n
}

func (r *Ring) advance(n uint32) {
	r.coff += n
	if r.coff >= r.size {
		r.coff = 0
		r.cbuf = (r.cbuf + 1) % r.num
	}
}
