package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DisconnectToken is the input token that disconnects a port without connecting another input.
const DisconnectToken = 8

// chainLimit bounds chain walks. An acyclic chain cannot be longer than the number of outputs.
const chainLimit = MaxDevices * 0x10

// ParseRedirect parses the administrative redirect string "II PP": the input token and the port
// token, both hexadecimal.
func ParseRedirect(s string) (i, p uint32, e error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%w: redirect %q must have two tokens", ErrInvalid, s)
	}
	i64, e := strconv.ParseUint(fields[0], 16, 32)
	if e != nil {
		return 0, 0, fmt.Errorf("%w: input token %q", ErrInvalid, fields[0])
	}
	p64, e := strconv.ParseUint(fields[1], 16, 32)
	if e != nil {
		return 0, 0, fmt.Errorf("%w: port token %q", ErrInvalid, fields[1])
	}
	return uint32(i64), uint32(p64), nil
}

// RedirectString parses "II PP" and performs Redirect.
func (reg *Registry) RedirectString(s string) error {
	i, p, e := ParseRedirect(s)
	if e != nil {
		return e
	}
	return reg.Redirect(i, p)
}

// Redirect makes the output of a port mirror an input, possibly on another card.
// Token bits 4-9 select the card; bits 0-3 select the port, and bits 0-2 select the input.
// Any existing redirect on the port is disconnected first. If i is DisconnectToken, that is all.
//
// The output's DMA address table is rewritten to point at the input's buffers, so data written
// by the card into the input is read by the card from the output without a copy. Data arriving
// on the port's first input, typically returning from a CI module, is delivered to whichever
// demux the input fed before.
func (reg *Registry) Redirect(i, p uint32) error {
	idev, pdev := reg.Device(int(i>>4)&0x3F), reg.Device(int(p>>4)&0x3F)
	if idev == nil || pdev == nil {
		return fmt.Errorf("%w: no card for redirect %02x %02x", ErrInvalid, i, p)
	}
	if !idev.HasDMA() || !pdev.HasDMA() {
		return fmt.Errorf("%w: card without DMA", ErrInvalid)
	}
	port := pdev.Port(int(p & 0x0F))
	if port == nil || port.output == nil {
		return fmt.Errorf("%w: port %02x has no output", ErrInvalid, p)
	}

	var input *Input
	if i != DisconnectToken {
		if input = idev.Input(int(i & 0x07)); input == nil {
			return fmt.Errorf("%w: input %02x does not exist", ErrInvalid, i)
		}
	}

	reg.mu.Lock()
	defer reg.unlock()
	if input != nil {
		if input.ring.IsRunning() {
			return fmt.Errorf("%w: %s is running", ErrBusy, input)
		}
		if redo := input.redo.Load(); redo != nil && redo != port.output {
			return fmt.Errorf("%w: %s already feeds %s", ErrBusy, input, redo)
		}
	}
	if e := reg.unredirectLocked(port); e != nil {
		return e
	}
	if input == nil {
		return nil
	}
	return reg.redirectLocked(input, port)
}

func (reg *Registry) redirectLocked(input *Input, port *Port) error {
	out := port.output
	if input.ring.IsRunning() || out.ring.IsRunning() {
		return fmt.Errorf("%w: %s or %s is running", ErrBusy, input, out)
	}
	if redo := input.redo.Load(); redo != nil {
		return fmt.Errorf("%w: %s already feeds %s", ErrBusy, input, redo)
	}
	input2 := port.inputs[0]
	if reachable(input2, input) {
		return fmt.Errorf("%w: %s to %s", ErrLoop, input, out)
	}

	if input2 != nil {
		if redi := input.redi.Load(); redi != nil {
			input2.redi.Store(redi)
			input.redi.Store(nil)
		} else {
			input2.redi.Store(input)
		}
	}
	input.redo.Store(out)
	out.redi.Store(input)
	out.ring.setTable(input.ring)

	logger.Info("redirect", zap.Stringer("input", input), zap.Stringer("output", out))
	reg.pending = append(reg.pending, redirectEvent{input, out})
	return nil
}

// reachable determines whether target is found by following the chain from start.
func reachable(start, target *Input) bool {
	for n, in := 0, start; in != nil && n < chainLimit; n++ {
		if in == target {
			return true
		}
		out := in.redo.Load()
		if out == nil {
			return false
		}
		in = out.port.inputs[0]
	}
	return false
}

// Unredirect disconnects the output of a port from the input it mirrors.
// If the port's first input feeds another output, that output is relinked to mirror the
// disconnected input directly. It is not an error if the port has no redirect.
func (reg *Registry) Unredirect(port *Port) error {
	reg.mu.Lock()
	defer reg.unlock()
	return reg.unredirectLocked(port)
}

func (reg *Registry) unredirectLocked(port *Port) error {
	out := port.output
	if out == nil || out.ring == nil {
		return nil
	}
	x := out.redi.Load()
	if x == nil {
		return nil
	}
	if out.ring.IsRunning() {
		return fmt.Errorf("%w: %s is running", ErrBusy, out)
	}

	if b := port.inputs[0]; b != nil {
		if next := b.redo.Load(); next != nil {
			if next.ring.IsRunning() {
				return fmt.Errorf("%w: %s is running", ErrBusy, next)
			}
			x.redo.Store(next)
			next.redi.Store(x)
			next.ring.setTable(x.ring)
			b.redo.Store(nil)
			logger.Info("redirect", zap.Stringer("input", x), zap.Stringer("output", next))
			reg.pending = append(reg.pending, redirectEvent{x, next})
		} else {
			redi := b.redi.Load()
			if redi == x {
				redi = x.standalone()
			}
			x.redi.Store(redi)
			x.redo.Store(nil)
		}
		b.redi.Store(b.standalone())
	} else {
		x.redo.Store(nil)
	}
	out.redi.Store(nil)
	out.ring.setTable(out.ring)

	logger.Info("unredirect", zap.Stringer("input", x), zap.Stringer("output", out))
	reg.pending = append(reg.pending, redirectEvent{nil, out})
	return nil
}

type redirectEvent struct {
	in  *Input
	out *Output
}

// unlock releases reg.mu, then emits redirect events recorded while it was held.
func (reg *Registry) unlock() {
	pending := reg.pending
	reg.pending = nil
	reg.mu.Unlock()
	for _, evt := range pending {
		reg.emitter.Emit(evtRedirect, evt.in, evt.out)
	}
}

// StartAll starts an input and every output and input chained after it.
func (reg *Registry) StartAll(input *Input) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.startAllLocked(input)
}

func (reg *Registry) startAllLocked(input *Input) {
	i := input
	for n := 0; i != nil && n < chainLimit; n++ {
		o := i.redo.Load()
		if o == nil {
			break
		}
		o.start()
		if i = o.port.inputs[0]; i != nil {
			i.start()
		}
	}
	input.start()
}

// StopAll stops an input and every output and input chained after it.
func (reg *Registry) StopAll(input *Input) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.stopAllLocked(input)
}

func (reg *Registry) stopAllLocked(input *Input) {
	input.stop()
	i := input
	for n := 0; i != nil && n < chainLimit; n++ {
		o := i.redo.Load()
		if o == nil {
			break
		}
		o.stop()
		if i = o.port.inputs[0]; i != nil {
			i.stop()
		}
	}
}

// StartFeed registers a consumer of an input. The first consumer starts the chain.
func (reg *Registry) StartFeed(input *Input) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if input.users == 0 {
		reg.startAllLocked(input)
	}
	input.users++
}

// StopFeed unregisters a consumer of an input. The last consumer stops the chain.
func (reg *Registry) StopFeed(input *Input) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if input.users == 0 {
		return
	}
	input.users--
	if input.users == 0 {
		reg.stopAllLocked(input)
	}
}

// Users returns the number of consumers registered with StartFeed.
func (reg *Registry) Users(input *Input) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return input.users
}

// StartOutput starts an output fed by the CPU.
func (reg *Registry) StartOutput(out *Output) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out.start()
}

// StopOutput stops an output.
func (reg *Registry) StopOutput(out *Output) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out.stop()
}

// StartReader registers the CPU as a consumer of an input.
// An input drained by a demux or a chained output cannot be read.
func (reg *Registry) StartReader(input *Input) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	switch {
	case input.ring == nil:
		return fmt.Errorf("%w: %s has no DMA ring", ErrInvalid, input)
	case input.redo.Load() != nil, input.demux.Load() != nil:
		return fmt.Errorf("%w: %s is redirected", ErrBusy, input)
	}
	if input.users == 0 {
		reg.startAllLocked(input)
	}
	input.users++
	return nil
}

// StartWriter starts an output for the CPU as its only producer.
func (reg *Registry) StartWriter(out *Output) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	switch {
	case out.ring == nil:
		return fmt.Errorf("%w: %s has no DMA ring", ErrInvalid, out)
	case out.redi.Load() != nil, out.ring.IsRunning():
		return fmt.Errorf("%w: %s is in use", ErrBusy, out)
	}
	out.start()
	return nil
}

// InputByToken finds an input by its administrative token, or returns nil.
func (reg *Registry) InputByToken(tok uint32) *Input {
	if dev := reg.Device(int(tok>>4) & 0x3F); dev != nil {
		return dev.Input(int(tok & 0x07))
	}
	return nil
}

// PortByToken finds a port by its administrative token, or returns nil.
func (reg *Registry) PortByToken(tok uint32) *Port {
	if dev := reg.Device(int(tok>>4) & 0x3F); dev != nil {
		return dev.Port(int(tok & 0x0F))
	}
	return nil
}
