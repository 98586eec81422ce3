package bridge

import (
	"sync"

	"go.uber.org/zap"
)

// tasklet runs a ring's bottom half in a dedicated goroutine.
// Scheduling is coalesced: any number of schedule calls before the body starts cause one run.
// The body never runs concurrently with itself, whether started by the goroutine or by Poll.
type tasklet struct {
	body    func()
	runMu   sync.Mutex
	pending chan struct{}
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newTasklet(body func()) *tasklet {
	return &tasklet{
		body:    body,
		pending: make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (t *tasklet) schedule() {
	select {
	case t.pending <- struct{}{}:
	default:
	}
}

func (t *tasklet) run() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.body()
}

func (t *tasklet) loop() {
	defer close(t.done)
	for {
		select {
		case <-t.quit:
			return
		case <-t.pending:
			t.run()
		}
	}
}

// close stops the goroutine and waits for a running body to return.
// loop must have been started.
func (t *tasklet) close() {
	t.once.Do(func() {
		close(t.quit)
		<-t.done
	})
}

// tasklet is the input bottom half: it picks up the card's progress, hands completed buffers to
// a demux and relays the cursor to a chained output.
func (in *Input) tasklet() {
	r := in.ring
	var evt taskletEvents
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.pass()
	in.updateLoss()
	if r.ctrl&BufCtrlOverflow != 0 {
		r.stalls++
	}
	if redi := in.redi.Load(); redi != nil {
		evt = in.writeDemux(redi)
	}
	if redo := in.redo.Load(); redo != nil {
		in.relay(redo)
	}
	r.mu.Unlock()

	r.wq.wake()
	evt.emit(in)
}

type taskletEvents struct {
	overflow  bool
	unaligned bool
}

func (evt taskletEvents) emit(in *Input) {
	em := in.port.dev.reg.emitter
	if evt.overflow {
		em.Emit(evtOverflow, in)
	}
	if evt.unaligned {
		em.Emit(evtUnaligned, in)
	}
}

// writeDemux hands completed buffers of this input's ring to the demux of target.
// The ring is acknowledged only if no output is chained to this input; a chained output
// acknowledges as it drains. Overflow forces acknowledgement and one catch-up pass.
// At most one ring's worth of buffers is handed over per call.
// Caller must hold in.ring.mu.
func (in *Input) writeDemux(target *Input) (evt taskletEvents) {
	r := in.ring
	ref := target.demux.Load()
	if ref == nil {
		return
	}
	raw := in.port.dev.reg.cfg.RawStream

	ack := in.redo.Load() == nil
	force := false
	if r.ctrl&BufCtrlOverflow != 0 {
		ack, force = true, r.cbuf == r.stat.Buf
		r.overflows++
		evt.overflow = true
		logger.Warn("input overflow",
			zap.Stringer("ring", r),
			zap.Stringer("cursor", Cursor{Buf: r.cbuf, Off: r.coff}),
			zap.Stringer("stat", r.stat),
		)
	}

	for n := uint32(0); n < r.num && (r.cbuf != r.stat.Buf || force); n++ {
		force = false
		b := r.bufs[r.cbuf]
		r.strategy.SyncForCPU(b)
		switch {
		case raw:
			ref.d.FeedRaw(b.Virt)
		case r.unaligned || b.Virt[0] != SyncByte:
			if !r.unaligned {
				r.unaligned = true
				evt.unaligned = true
				logger.Info("switching to unaligned processing", zap.Stringer("ring", r), zap.Uint32("buf", r.cbuf))
			}
			ref.d.FeedBytes(b.Virt)
		default:
			ref.d.FeedPackets(b.Virt, len(b.Virt)/PacketSize)
		}
		r.cbuf = (r.cbuf + 1) % r.num
		r.coff = 0
		if ack {
			r.ack(Cursor{Buf: r.cbuf})
		}
		r.snapshot()
	}
	return evt
}

// relay passes the card's cursor of this input to a chained output, whose address table
// aliases this input's buffers. Nothing is copied.
// Caller must hold in.ring.mu.
func (in *Input) relay(out *Output) {
	r, o := in.ring, out.ring
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ack(r.stat)
	o.cbuf, o.coff = r.stat.Buf, r.stat.Off
}

// tasklet is the output bottom half: it picks up the card's progress and acknowledges the
// upstream input as far as this output has drained.
func (out *Output) tasklet() {
	r := out.ring
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.pass()
	stat := r.stat
	r.mu.Unlock()

	if redi := out.redi.Load(); redi != nil {
		redi.ackFrom(stat)
	}
	r.wq.wake()
}

// ackFrom acknowledges this input's ring up to the position a chained output has reached.
// The software cursor follows only if no demux consumes this ring; otherwise writeDemux owns it.
func (in *Input) ackFrom(stat Cursor) {
	r := in.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ack(stat)
	if in.redi.Load() == nil {
		r.cbuf, r.coff = stat.Buf, stat.Off
	}
}
