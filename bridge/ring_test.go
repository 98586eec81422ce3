package bridge_test

import (
	"testing"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/bridge/bridgetestenv"
	"github.com/usnistgov/tsbridge/core/testenv"
	"github.com/usnistgov/tsbridge/hw/mmio"
)

const bufSize = bridge.BufferUnit // bridgetestenv.Config has one unit per buffer

func TestInputStartStop(t *testing.T) {
	assert, require := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	in := card.Dev.Input(1)
	require.NotNil(in)
	regs, _ := card.InputRegs(1)
	ts := card.RegMap.Input.At(1)

	card.Bus.Writes()
	env.Registry.StartFeed(in)
	w := card.Bus.Writes()
	assert.Equal([]uint32{0, 2, 0, 9}, mmio.WritesTo(w, 0, ts+bridge.RegTSControl))
	assert.Equal([]uint32{0, 3}, mmio.WritesTo(w, 0, regs+bridge.RegDMABufferControl))
	assert.Equal([]uint32{bridge.SizeWord(1, 8, bufSize)}, mmio.WritesTo(w, 0, regs+bridge.RegDMABufferSize))
	assert.Equal([]uint32{0}, mmio.WritesTo(w, 0, regs+bridge.RegDMABufferAck))
	assert.Equal([]uint32{1}, mmio.WritesTo(w, 0, bridge.RegDMABaseWrite))

	cnt := in.Ring().Counters()
	assert.True(cnt.Running)
	assert.Equal(bridge.Cursor{}, cnt.Cursor)
	assert.Equal(uint32(8), cnt.Buffers)
	assert.Equal(uint32(bufSize), cnt.BufferSize)

	// second consumer does not restart
	env.Registry.StartFeed(in)
	assert.Empty(card.Bus.Writes())
	assert.Equal(2, env.Registry.Users(in))

	env.Registry.StopFeed(in)
	assert.True(in.Ring().IsRunning())
	env.Registry.StopFeed(in)
	assert.False(in.Ring().IsRunning())
	w = card.Bus.Writes()
	assert.Equal([]uint32{0}, mmio.WritesTo(w, 0, ts+bridge.RegTSControl))
	assert.Equal([]uint32{0}, mmio.WritesTo(w, 0, regs+bridge.RegDMABufferControl))

	env.Registry.StopFeed(in)
	assert.Equal(0, env.Registry.Users(in))
}

func TestInputStartResetsCursor(t *testing.T) {
	assert, _ := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	in := card.Dev.Input(0)
	pkts := testenv.TSPackets(0x100, 32)

	env.Registry.StartFeed(in)
	card.Produce(0, pkts, pkts)
	card.Dev.Poll()
	assert.Equal(2*bufSize, in.Read(make([]byte, 3*bufSize)))
	assert.Equal(bridge.Cursor{Buf: 2}, in.Ring().Counters().Cursor)
	env.Registry.StopFeed(in)

	card.Bus.Writes()
	env.Registry.StartFeed(in)
	assert.Equal(bridge.Cursor{}, in.Ring().Counters().Cursor)
	regs, _ := card.InputRegs(0)
	assert.Equal(bridge.SizeWord(1, 8, bufSize), card.Bus.Peek(0, regs+bridge.RegDMABufferSize))
}

func TestInputRead(t *testing.T) {
	assert, require := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	in := card.Dev.Input(0)
	regs, _ := card.InputRegs(0)

	assert.Equal(0, in.Read(make([]byte, 188)), "stopped input")
	env.Registry.StartFeed(in)
	defer env.Registry.StopFeed(in)
	assert.Equal(0, in.Avail())

	pkts0, pkts1 := testenv.TSPackets(0x100, 32), testenv.TSPackets(0x101, 32)
	card.Produce(0, pkts0, pkts1)
	card.Dev.Poll()
	assert.Equal(188, in.Avail())

	card.Bus.Writes()
	p := make([]byte, 1880)
	require.Equal(1880, in.Read(p))
	testenv.BytesEqual(assert, pkts0[:1880], p)
	assert.Equal(bridge.Cursor{Buf: 0, Off: 1880}, in.Ring().Counters().Cursor)
	assert.Equal([]uint32{14}, mmio.WritesTo(card.Bus.Writes(), 0, regs+bridge.RegDMABufferAck))

	// less than one packet
	assert.Equal(0, in.Read(make([]byte, 100)))
	assert.Empty(card.Bus.Writes())

	// partial packets are not copied
	p = make([]byte, 400)
	assert.Equal(376, in.Read(p))
	testenv.BytesEqual(assert, pkts0[1880:2256], p[:376])
	assert.Equal([]uint32{2256 >> 7}, mmio.WritesTo(card.Bus.Writes(), 0, regs+bridge.RegDMABufferAck))

	// stops at the card's position
	p = make([]byte, 4*bufSize)
	n := in.Read(p)
	assert.Equal(2*bufSize-2256, n)
	testenv.BytesEqual(assert, append(append([]byte{}, pkts0[2256:]...), pkts1...), p[:n])
	assert.Equal([]uint32{1 << 11, 2 << 11}, mmio.WritesTo(card.Bus.Writes(), 0, regs+bridge.RegDMABufferAck))
	assert.Equal(0, in.Avail())
}

func TestInputAvailPerBuffer(t *testing.T) {
	assert, _ := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	in := card.Dev.Input(0)
	pkts := testenv.TSPackets(0x100, 32)

	env.Registry.StartFeed(in)
	defer env.Registry.StopFeed(in)
	for i := 1; i < 8; i++ {
		card.Produce(0, pkts)
		card.Dev.Poll()
		assert.Equal(188, in.Avail(), "after %d buffers", i)
	}

	// eighth buffer laps the reader
	card.Produce(0, pkts)
	card.Dev.Poll()
	regs, _ := card.InputRegs(0)
	card.Bus.Writes()
	assert.Equal(0, in.Avail())
	assert.Equal([]uint32{0}, mmio.WritesTo(card.Bus.Writes(), 0, regs+bridge.RegDMABufferAck))
	assert.Zero(card.Bus.Peek(0, regs+bridge.RegDMABufferControl) & bridge.BufCtrlOverflow)
	assert.Equal(uint32(1), in.Ring().Counters().Stalls)
	assert.Equal(uint32(1), in.Ring().Counters().Overflows)

	// an overflow is counted once until a check finds the bit clear
	card.SetOverflow(0)
	assert.Equal(0, in.Avail())
	assert.Equal(uint32(1), in.Ring().Counters().Overflows)
	assert.Equal(0, in.Avail())
	card.SetOverflow(0)
	assert.Equal(0, in.Avail())
	assert.Equal(uint32(2), in.Ring().Counters().Overflows)

	// reading resumes once the card moves on
	card.Produce(0, pkts)
	card.Dev.Poll()
	p := make([]byte, 2*bufSize)
	assert.Equal(bufSize, in.Read(p))
}

func TestInputPacketLoss(t *testing.T) {
	assert, _ := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	in := card.Dev.Input(0)

	env.Registry.StartFeed(in)
	card.AddLoss(0, 0xFFF0)
	card.Dev.Poll()
	assert.Equal(uint32(0xFFF0), in.Ring().Counters().PacketLoss)
	card.AddLoss(0, 0x20)
	card.Dev.Poll()
	assert.Equal(uint32(0x10010), in.Ring().Counters().PacketLoss)
	card.AddLoss(0, 0x5)
	env.Registry.StopFeed(in)
	assert.Equal(uint32(0x10015), in.Ring().Counters().PacketLoss)
}

func TestOutputStartStop(t *testing.T) {
	assert, require := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	out := card.Dev.Port(2).Output()
	require.NotNil(out)
	regs, _ := card.OutputRegs(2)
	ts := card.RegMap.Output.At(2)

	card.Bus.Writes()
	env.Registry.StartOutput(out)
	w := card.Bus.Writes()
	assert.Equal([]uint32{0, 2, 0, 0x1C, 0x1D}, mmio.WritesTo(w, 0, ts+bridge.RegTSControl))
	assert.Equal([]uint32{0}, mmio.WritesTo(w, 0, ts+bridge.RegTSControl2))
	assert.Equal([]uint32{0, 7}, mmio.WritesTo(w, 0, regs+bridge.RegDMABufferControl))
	assert.Equal([]uint32{bridge.SizeWord(1, 8, bufSize)}, mmio.WritesTo(w, 0, regs+bridge.RegDMABufferSize))
	assert.Equal([]uint32{1}, mmio.WritesTo(w, 0, bridge.RegDMABaseRead))
	assert.True(out.Ring().IsRunning())

	env.Registry.StopOutput(out)
	w = card.Bus.Writes()
	assert.Equal([]uint32{0}, mmio.WritesTo(w, 0, ts+bridge.RegTSControl))
	assert.False(out.Ring().IsRunning())
}

func TestOutputLoopback(t *testing.T) {
	assert, _ := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{
		Ports: []bridge.PortConfig{{Class: bridge.ClassLoop, Inputs: 1, Output: true}},
	})
	out := card.Dev.Port(0).Output()
	ts := card.RegMap.Output.At(0)

	card.Bus.Writes()
	env.Registry.StartOutput(out)
	w := card.Bus.Writes()
	assert.Equal([]uint32{0, 2, 0, 0x2014, 0x2015}, mmio.WritesTo(w, 0, ts+bridge.RegTSControl))
	env.Registry.StopOutput(out)
}

func TestOutputWrite(t *testing.T) {
	assert, require := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	out := card.Dev.Port(3).Output()
	regs, _ := card.OutputRegs(3)

	assert.Equal(0, out.Write(testenv.TSPackets(0x200, 1)), "stopped output")
	env.Registry.StartOutput(out)
	defer env.Registry.StopOutput(out)
	assert.Equal(188, out.Free())

	pkts := testenv.TSPackets(0x200, 64)
	card.Bus.Writes()
	require.Equal(len(pkts), out.Write(pkts))
	assert.Equal([]uint32{1 << 11, 2 << 11}, mmio.WritesTo(card.Bus.Writes(), 0, regs+bridge.RegDMABufferAck))
	testenv.BytesEqual(assert, pkts, card.Consume(3, len(pkts)))

	// fill the ring up to the holdback before the card's position
	card.Dev.Poll()
	assert.Equal(bridge.Cursor{Buf: 2}, out.Ring().Counters().Stat)
	big := testenv.TSPackets(0x201, 8*32)
	n := out.Write(big)
	assert.Equal(8*bufSize-188, n)
	assert.Equal(bridge.Cursor{Buf: 1, Off: bufSize - 188}, out.Ring().Counters().Cursor)
	assert.Equal(0, out.Free())
	assert.Equal(0, out.Write(big[n:]))

	// the card drains, making room
	testenv.BytesEqual(assert, big[:3*bufSize], card.Consume(3, 3*bufSize))
	card.Dev.Poll()
	assert.Equal(188, out.Free())
}

func TestOutputFreeSameBuffer(t *testing.T) {
	assert, _ := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	out := card.Dev.Port(3).Output()
	regs, _ := card.OutputRegs(3)

	env.Registry.StartOutput(out)
	defer env.Registry.StopOutput(out)
	assert.Equal(10*188, out.Write(testenv.TSPackets(0x200, 10)))

	// card is reading two packets ahead of the writer in the same buffer
	card.SetCursor(regs, bridge.Cursor{Buf: 0, Off: 17 * 128})
	card.Dev.Poll()
	assert.Equal(0, out.Free())

	card.SetCursor(regs, bridge.Cursor{Buf: 0, Off: 20 * 128})
	card.Dev.Poll()
	assert.Equal(188, out.Free())
	assert.Equal(2*188, out.Write(testenv.TSPackets(0x200, 4)))
}

func TestAltDMA(t *testing.T) {
	assert, _ := makeAR(t)
	cfg := bridgetestenv.Config
	cfg.AltDMA = true
	env := bridgetestenv.New(t, cfg)
	card := env.Attach(t, bridge.DeviceConfig{})
	in := card.Dev.Input(0)
	out := card.Dev.Port(2).Output()

	env.Registry.StartFeed(in)
	defer env.Registry.StopFeed(in)
	pkts := testenv.TSPackets(0x100, 32)
	card.Produce(0, pkts)
	card.Dev.Poll()
	p := make([]byte, bufSize)
	assert.Equal(bufSize, in.Read(p))
	testenv.BytesEqual(assert, pkts, p)

	env.Registry.StartOutput(out)
	defer env.Registry.StopOutput(out)
	assert.Equal(bufSize, out.Write(pkts))
	testenv.BytesEqual(assert, pkts, card.Consume(2, bufSize))
}
