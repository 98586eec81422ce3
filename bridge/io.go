package bridge

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/usnistgov/tsbridge/core/logging"
	"go.uber.org/zap"
)

// PortClass identifies what is connected to a port.
type PortClass int

// PortClass values.
const (
	ClassNone PortClass = iota
	ClassTuner
	ClassLoop
	ClassCI
	ClassMod
)

var portClassNames = map[PortClass]string{
	ClassNone:  "none",
	ClassTuner: "tuner",
	ClassLoop:  "loop",
	ClassCI:    "ci",
	ClassMod:   "mod",
}

func (c PortClass) String() string {
	if s, ok := portClassNames[c]; ok {
		return s
	}
	return fmt.Sprintf("PortClass(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c PortClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *PortClass) UnmarshalText(text []byte) error {
	for value, name := range portClassNames {
		if strings.EqualFold(name, string(text)) {
			*c = value
			return nil
		}
	}
	return fmt.Errorf("%w: unknown port class %q", ErrInvalid, text)
}

// Port groups up to two inputs and one output sharing a connector.
type Port struct {
	dev    *Device
	nr     int
	cfg    PortConfig
	inputs [2]*Input
	output *Output
}

func (port *Port) String() string {
	return fmt.Sprintf("%s/port%d", port.dev, port.nr)
}

// Device returns the card.
func (port *Port) Device() *Device {
	return port.dev
}

// Nr returns the port number within the card.
func (port *Port) Nr() int {
	return port.nr
}

// Class returns what is connected to the port.
func (port *Port) Class() PortClass {
	return port.cfg.Class
}

// Input returns input 0 or 1 of the port, or nil.
func (port *Port) Input(slot int) *Input {
	if slot < 0 || slot >= len(port.inputs) {
		return nil
	}
	return port.inputs[slot]
}

// Output returns the output of the port, or nil.
func (port *Port) Output() *Output {
	return port.output
}

// Input is a TS input of a card. The card writes into its ring.
type Input struct {
	port  *Port
	nr    int
	regs  uint32
	ring  *Ring
	users int // guarded by Registry.mu

	redi  atomic.Pointer[Input]
	redo  atomic.Pointer[Output]
	demux atomic.Pointer[demuxRef]
}

func newInput(port *Port, nr int) *Input {
	return &Input{
		port: port,
		nr:   nr,
		regs: port.dev.regMap.Input.At(nr),
	}
}

func (in *Input) String() string {
	return fmt.Sprintf("%s/input%d", in.port.dev, in.nr)
}

// Port returns the port.
func (in *Input) Port() *Port {
	return in.port
}

// Nr returns the card-wide input number.
func (in *Input) Nr() int {
	return in.nr
}

// Ring returns the DMA ring, or nil if the card has no DMA.
func (in *Input) Ring() *Ring {
	return in.ring
}

// Token returns the administrative token of this input, as accepted by Registry.Redirect.
func (in *Input) Token() uint32 {
	return uint32(in.port.dev.id)<<4 | uint32(in.nr)
}

// Redi returns the input whose demux receives this input's data, or nil.
func (in *Input) Redi() *Input {
	return in.redi.Load()
}

// Redo returns the output mirroring this input, or nil.
func (in *Input) Redo() *Output {
	return in.redo.Load()
}

// standalone returns the redi of this input when it is not part of a redirect chain.
func (in *Input) standalone() *Input {
	if in.demux.Load() != nil {
		return in
	}
	return nil
}

// start arms the card to fill the ring. It has no effect on a running ring.
func (in *Input) start() {
	dev, r := in.port.dev, in.ring
	if r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.running {
			return
		}
		r.resetCursor()
		dev.write(r.regs+RegDMABufferControl, 0)
	}
	dev.write(in.regs+RegTSControl, 0)
	dev.write(in.regs+RegTSControl, TSCtrlReset)
	dev.write(in.regs+RegTSControl, 0)
	if r != nil {
		dev.write(r.regs+RegDMABufferSize, r.bufval)
		r.ack(Cursor{})
		dev.write(RegDMABaseWrite, 1)
		dev.write(r.regs+RegDMABufferControl, BufCtrlEnable|BufCtrlInit)
	}
	dev.write(in.regs+RegTSControl, 0x09)
	if r != nil {
		r.running = true
	}
	dev.logger().Debug("input started", zap.Int("input", in.nr))
}

// stop disarms the card and finalizes the packet loss counter.
func (in *Input) stop() {
	dev, r := in.port.dev, in.ring
	if r == nil {
		dev.write(in.regs+RegTSControl, 0)
		return
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	dev.write(in.regs+RegTSControl, 0)
	dev.write(r.regs+RegDMABufferControl, 0)
	in.updateLoss()
	r.running = false
	loss, stalls := r.packetLoss, r.stalls
	r.mu.Unlock()

	if loss != 0 || stalls != 0 {
		dev.logger().Info("input stopped with loss",
			zap.Int("input", in.nr),
			zap.Uint32("packet-loss", loss),
			zap.Uint32("stalls", stalls),
		)
	}
}

// updateLoss folds the card's 16-bit free-running loss counter into the 32-bit counter.
// Caller must hold in.ring.mu.
func (in *Input) updateLoss() {
	r := in.ring
	cur := in.port.dev.read(in.regs+RegTSStat) & 0xFFFF
	if cur < r.packetLoss&0xFFFF {
		r.packetLoss += 0x10000
	}
	r.packetLoss = r.packetLoss&0xFFFF0000 | cur
}

// Avail returns PacketSize if at least one packet can be read, otherwise 0.
func (in *Input) Avail() int {
	r := in.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return 0
	}
	return r.inputAvail()
}

// Read copies whole packets into p without blocking. It returns the number of octets copied.
// An overflowed ring is resynchronized first and yields nothing.
func (in *Input) Read(p []byte) int {
	r := in.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.inputAvail() == 0 {
		return 0
	}
	return r.inputRead(p)
}

// Output is a TS output of a card. The card reads from its ring.
type Output struct {
	port *Port
	nr   int
	regs uint32
	ring *Ring

	redi atomic.Pointer[Input]
}

func newOutput(port *Port, nr int) *Output {
	return &Output{
		port: port,
		nr:   nr,
		regs: port.dev.regMap.Output.At(nr),
	}
}

func (out *Output) String() string {
	return fmt.Sprintf("%s/output%d", out.port.dev, out.nr)
}

// Port returns the port.
func (out *Output) Port() *Port {
	return out.port
}

// Nr returns the output number, which equals the port number.
func (out *Output) Nr() int {
	return out.nr
}

// Ring returns the DMA ring, or nil if the card has no DMA.
func (out *Output) Ring() *Ring {
	return out.ring
}

// Token returns the administrative token of this output's port, as accepted by Registry.Redirect.
func (out *Output) Token() uint32 {
	return uint32(out.port.dev.id)<<4 | uint32(out.port.nr)
}

// Redi returns the input mirrored by this output, or nil.
func (out *Output) Redi() *Input {
	return out.redi.Load()
}

// control returns TS control words for the port configuration.
func (out *Output) control() (con, con2 uint32) {
	port := out.port
	if in0 := port.inputs[0]; in0 != nil && in0.port.cfg.Class == ClassLoop {
		return 1<<13 | 0x14, 0
	}
	gap := uint32(GapAuto)
	if port.cfg.Gap != nil {
		gap = *port.cfg.Gap
	}
	return calcCon(shapingParams{
		CI:       port.dev.cfg.Type == CardOctopusCI && port.nr > 1,
		RegMapID: port.dev.cfg.RegMapID,
		Divider:  port.cfg.Divider,
		Bitrate:  port.cfg.Bitrate,
		Gap:      gap,
	})
}

// start arms the card to drain the ring. It has no effect on a running ring.
func (out *Output) start() {
	dev, r := out.port.dev, out.ring
	con, con2 := out.control()
	if r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.running {
			return
		}
		r.resetCursor()
		dev.write(r.regs+RegDMABufferControl, 0)
	}
	dev.write(out.regs+RegTSControl, 0)
	dev.write(out.regs+RegTSControl, TSCtrlReset)
	dev.write(out.regs+RegTSControl, 0)
	dev.write(out.regs+RegTSControl, con)
	dev.write(out.regs+RegTSControl2, con2)
	if r != nil {
		dev.write(r.regs+RegDMABufferSize, r.bufval)
		r.ack(Cursor{})
		dev.write(RegDMABaseRead, 1)
		dev.write(r.regs+RegDMABufferControl, BufCtrlEnable|BufCtrlInit|BufCtrlOverflow)
	}
	dev.write(out.regs+RegTSControl, con|TSCtrlEnable)
	if r != nil {
		r.running = true
	}
	dev.logger().Debug("output started", zap.Int("output", out.nr), logging.Hex("con", con), logging.Hex("con2", con2))
}

func (out *Output) stop() {
	dev, r := out.port.dev, out.ring
	if r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.running {
			return
		}
	}
	dev.write(out.regs+RegTSControl, 0)
	if r != nil {
		dev.write(r.regs+RegDMABufferControl, 0)
		r.running = false
	}
}

// Free returns PacketSize if at least one packet can be written, otherwise 0.
func (out *Output) Free() int {
	r := out.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return 0
	}
	return r.outputFree()
}

// Write copies whole packets from p without blocking. It returns the number of octets copied.
func (out *Output) Write(p []byte) int {
	r := out.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return 0
	}
	return r.outputWrite(p)
}
