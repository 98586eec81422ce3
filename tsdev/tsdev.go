// Package tsdev provides file-like access to the TS ports of a bridge card.
//
// A File opened for reading consumes the port's first input, and a File opened for writing
// produces into the port's output. Read and Write transfer whole packets and block until the
// buffer is fully transferred, unless the File is non-blocking.
package tsdev

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/core/logging"
	"go.uber.org/zap"
)

var logger = logging.New("tsdev")

// Mode selects the directions of a File.
type Mode int

// Mode values.
const (
	ModeRead Mode = 1 << iota
	ModeWrite

	ModeReadWrite = ModeRead | ModeWrite
)

// Events is a set of readiness events.
type Events int

// Events values.
const (
	EventReadable Events = 1 << iota
	EventWritable
)

func (ev Events) String() string {
	switch ev {
	case 0:
		return "none"
	case EventReadable:
		return "readable"
	case EventWritable:
		return "writable"
	case EventReadable | EventWritable:
		return "readable|writable"
	}
	return fmt.Sprintf("Events(%d)", int(ev))
}

// Options contains File options.
type Options struct {
	Mode Mode

	// NonBlock makes Read and Write return ErrWouldBlock instead of waiting when nothing can be
	// transferred, and return a short count when part of the buffer can be transferred.
	NonBlock bool
}

// File is an open TS port.
type File struct {
	reg      *bridge.Registry
	port     *bridge.Port
	in       *bridge.Input
	out      *bridge.Output
	nonblock bool

	closeOnce sync.Once
	closed    chan struct{}
}

var _ io.ReadWriteCloser = (*File)(nil)

// Open opens a TS port.
// Reading is refused with bridge.ErrBusy while the input is redirected or demultiplexed,
// and writing is refused while the output is fed by an input or another File.
func Open(reg *bridge.Registry, port *bridge.Port, opts Options) (f *File, e error) {
	if opts.Mode&ModeReadWrite == 0 {
		return nil, fmt.Errorf("%w: no access mode", bridge.ErrInvalid)
	}
	f = &File{
		reg:      reg,
		port:     port,
		nonblock: opts.NonBlock,
		closed:   make(chan struct{}),
	}

	if opts.Mode&ModeRead != 0 {
		in := port.Input(0)
		if in == nil {
			return nil, fmt.Errorf("%w: %s has no input", bridge.ErrInvalid, port)
		}
		if e := reg.StartReader(in); e != nil {
			return nil, e
		}
		f.in = in
	}

	if opts.Mode&ModeWrite != 0 {
		out := port.Output()
		if out == nil {
			e = fmt.Errorf("%w: %s has no output", bridge.ErrInvalid, port)
		} else {
			e = reg.StartWriter(out)
		}
		if e != nil {
			if f.in != nil {
				reg.StopFeed(f.in)
			}
			return nil, e
		}
		f.out = out
	}

	logger.Debug("opened",
		zap.Stringer("port", port),
		zap.Bool("read", f.in != nil),
		zap.Bool("write", f.out != nil),
	)
	return f, nil
}

// Port returns the port.
func (f *File) Port() *bridge.Port {
	return f.port
}

func (f *File) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Close releases the port. The input chain and the output are stopped when their last user
// goes away.
func (f *File) Close() error {
	e := fs.ErrClosed
	f.closeOnce.Do(func() {
		close(f.closed)
		if f.in != nil {
			f.reg.StopFeed(f.in)
		}
		if f.out != nil {
			f.reg.StopOutput(f.out)
		}
		logger.Debug("closed", zap.Stringer("port", f.port))
		e = nil
	})
	return e
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (n int, e error) {
	return f.ReadContext(context.Background(), p)
}

// ReadContext reads whole packets into p.
// In blocking mode it waits until p is full or ctx is done.
func (f *File) ReadContext(ctx context.Context, p []byte) (n int, e error) {
	if f.in == nil {
		return 0, fmt.Errorf("%w: not open for reading", bridge.ErrInvalid)
	}
	return f.transfer(ctx, p, f.in.Ring(), f.in.Read)
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (n int, e error) {
	return f.WriteContext(context.Background(), p)
}

// WriteContext writes whole packets from p. A trailing partial packet is not written.
// In blocking mode it waits until every whole packet is written or ctx is done.
func (f *File) WriteContext(ctx context.Context, p []byte) (n int, e error) {
	if f.out == nil {
		return 0, fmt.Errorf("%w: not open for writing", bridge.ErrInvalid)
	}
	return f.transfer(ctx, p, f.out.Ring(), f.out.Write)
}

func (f *File) transfer(ctx context.Context, p []byte, r *bridge.Ring, op func(p []byte) int) (n int, e error) {
	if len(p) < bridge.PacketSize {
		return 0, fmt.Errorf("%w: buffer is shorter than one packet", bridge.ErrInvalid)
	}
	for len(p)-n >= bridge.PacketSize {
		if f.isClosed() {
			return n, fs.ErrClosed
		}
		wake := r.Wakeup()
		if k := op(p[n:]); k > 0 {
			n += k
			continue
		}
		if f.nonblock {
			break
		}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-f.closed:
			return n, fs.ErrClosed
		case <-wake:
		}
	}
	if n == 0 {
		return 0, bridge.ErrWouldBlock
	}
	return n, nil
}

// Poll returns the events that are ready now.
func (f *File) Poll() (ev Events) {
	if f.in != nil && f.in.Avail() > 0 {
		ev |= EventReadable
	}
	if f.out != nil && f.out.Free() > 0 {
		ev |= EventWritable
	}
	return ev
}

// Wait blocks until at least one of the wanted events is ready, and returns the ready events.
func (f *File) Wait(ctx context.Context, want Events) (ev Events, e error) {
	var rWake, wWake <-chan struct{}
	if want&EventReadable != 0 && f.in != nil {
		rWake = f.in.Ring().Wakeup()
	}
	if want&EventWritable != 0 && f.out != nil {
		wWake = f.out.Ring().Wakeup()
	}
	if rWake == nil && wWake == nil {
		return 0, fmt.Errorf("%w: no wanted event can occur on %s", bridge.ErrInvalid, f.port)
	}

	for {
		if ev = f.Poll() & want; ev != 0 {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-f.closed:
			return 0, fs.ErrClosed
		case <-rWake:
			rWake = f.in.Ring().Wakeup()
		case <-wWake:
			wWake = f.out.Ring().Wakeup()
		}
	}
}
