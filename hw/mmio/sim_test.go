package mmio_test

import (
	"testing"

	"github.com/usnistgov/tsbridge/core/testenv"
	"github.com/usnistgov/tsbridge/hw/mmio"
)

func TestSimBus(t *testing.T) {
	assert, _ := testenv.MakeAR(t)

	bus := mmio.NewSimBus()
	assert.EqualValues(0, bus.Read32(0, 0x300))

	var hooked []mmio.Access
	bus.OnWrite(func(a mmio.Access) { hooked = append(hooked, a) })

	bus.Write32(0, 0x300, 3)
	bus.Write32(1, 0x300, 7)
	bus.Poke(0, 0x308, 0x1800)
	assert.EqualValues(3, bus.Read32(0, 0x300))
	assert.EqualValues(7, bus.Read32(1, 0x300))
	assert.EqualValues(0x1800, bus.Read32(0, 0x308))
	assert.Len(hooked, 2)

	writes := bus.Writes()
	assert.Equal([]uint32{3}, mmio.WritesTo(writes, 0, 0x300))
	assert.Empty(bus.Writes())

	n := uint32(0)
	bus.OnRead(0, 0x44, func() uint32 { n++; return n })
	assert.EqualValues(1, bus.Read32(0, 0x44))
	assert.EqualValues(2, bus.Read32(0, 0x44))
	bus.OnRead(0, 0x44, nil)
	assert.EqualValues(0, bus.Read32(0, 0x44))

	bus.SetRecording(false)
	bus.Write32(0, 0x300, 4)
	assert.Empty(bus.Writes())
	assert.Len(hooked, 3)
	assert.EqualValues(4, bus.Peek(0, 0x300))
}
