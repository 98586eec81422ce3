package bridge_test

import (
	"testing"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/bridge/bridgetestenv"
)

type irqCounter map[int]int

func (cnt irqCounter) install(dev *bridge.Device, srcs ...int) {
	for _, src := range srcs {
		dev.SetIRQHandler(src, func() { cnt[src]++ })
	}
}

func TestIRQLegacy(t *testing.T) {
	assert, _ := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	dev := card.Dev

	assert.Equal(uint32(0x1F<<8|1<<14|1<<18|1<<19), card.Bus.Peek(0, bridge.RegIRQEnable))

	cnt := irqCounter{}
	cnt.install(dev, 0, 3)
	dev.EnableIRQ()
	assert.Equal(uint32(0x1F<<8|1<<14|1<<18|1<<19|0x9), card.Bus.Peek(0, bridge.RegIRQEnable))

	assert.False(dev.HandleIRQ(0))

	card.Raise(3, 0, 9, 20)
	assert.True(dev.HandleIRQ(0))
	assert.Equal(irqCounter{0: 1, 3: 1}, cnt)
	assert.Equal(uint64(1), dev.IRQCount(9))
	assert.Equal(uint64(1), dev.UnknownIRQs())
	assert.Zero(card.Pending(0))

	// bits outside the mask are ignored
	card.Raise(4)
	assert.False(dev.HandleIRQ(0))
	assert.Equal(uint32(1<<4), card.Pending(0))

	// card gone
	card.Raise(31, 3)
	assert.False(dev.HandleIRQ(0))
	assert.Equal(1, cnt[3])

	dev.SetIRQHandler(3, nil)
	dev.DisableIRQ()
	assert.Zero(card.Bus.Peek(0, bridge.RegIRQEnable))
}

func TestIRQSplitMSI(t *testing.T) {
	assert, _ := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{IRQ: bridge.IRQSplitMSI})
	dev := card.Dev

	cnt := irqCounter{}
	cnt.install(dev, 1, 8, 17)
	card.Raise(1, 8, 17)

	assert.True(dev.HandleIRQ(0))
	assert.Equal(irqCounter{8: 1, 17: 1}, cnt)
	assert.Equal(uint32(1<<1), card.Pending(0))

	assert.True(dev.HandleIRQ(1))
	assert.Equal(irqCounter{1: 1, 8: 1, 17: 1}, cnt)
	assert.Zero(card.Pending(0))
}

func TestIRQV2(t *testing.T) {
	assert, _ := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{IRQ: bridge.IRQV2})
	dev := card.Dev

	in := dev.Input(0)
	assert.Equal(64, in.Ring().IRQ())
	assert.Equal(130, dev.Port(2).Output().Ring().IRQ())
	assert.Equal(uint32(0x1F|1<<6), card.Bus.Peek(0, bridge.RegIRQv2Enable+4*2))
	assert.Equal(uint32(1<<2|1<<4), card.Bus.Peek(0, bridge.RegIRQv2Control))

	cnt := irqCounter{}
	cnt.install(dev, 0, 33)
	assert.False(dev.HandleIRQ(0))

	card.Raise(0, 33, 64, 130, 200)
	assert.True(dev.HandleIRQ(0))
	assert.Equal(irqCounter{0: 1, 33: 1}, cnt)
	assert.Equal(uint64(1), dev.IRQCount(64))
	assert.Equal(uint64(1), dev.IRQCount(130))
	assert.Equal(uint64(1), dev.UnknownIRQs())
	for g := range 16 {
		assert.Zero(card.Pending(g), "group %d", g)
	}
}

func TestIRQLayoutText(t *testing.T) {
	assert, _ := makeAR(t)

	var l bridge.IRQLayout
	assert.NoError(l.UnmarshalText([]byte("V2")))
	assert.Equal(bridge.IRQV2, l)
	text, _ := l.MarshalText()
	assert.Equal("v2", string(text))
	assert.ErrorIs(l.UnmarshalText([]byte("pci")), bridge.ErrInvalid)
}
