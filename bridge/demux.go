package bridge

// Demux receives completed input buffers from a tasklet.
// Calls are made with the input ring locked and must not block.
type Demux interface {
	// FeedRaw receives a whole buffer without regard to packet boundaries.
	FeedRaw(buf []byte)

	// FeedBytes receives a buffer that may not start on a packet boundary.
	FeedBytes(buf []byte)

	// FeedPackets receives count whole packets starting at buf[0].
	FeedPackets(buf []byte, count int)
}

type demuxRef struct {
	d Demux
}

// AttachDemux sets the demux that receives data of this input, and of any input whose data is
// redirected back to it. Passing nil detaches the demux.
// The input must be stopped and must not feed an output.
func (in *Input) AttachDemux(d Demux) error {
	reg := in.port.dev.reg
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if in.ring == nil {
		return ErrInvalid
	}
	if in.ring.IsRunning() || in.redo.Load() != nil {
		return ErrBusy
	}

	if d == nil {
		in.demux.Store(nil)
		if in.redi.Load() == in {
			in.redi.Store(nil)
		}
		return nil
	}

	in.demux.Store(&demuxRef{d})
	if in.redi.Load() == nil {
		in.redi.Store(in)
	}
	return nil
}

// HasDemux determines whether a demux is attached.
func (in *Input) HasDemux() bool {
	return in.demux.Load() != nil
}
