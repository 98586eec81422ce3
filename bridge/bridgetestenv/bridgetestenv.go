// Package bridgetestenv provides a simulated bridge card for testing.
package bridgetestenv

import (
	"testing"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/hw/dmamem"
	"github.com/usnistgov/tsbridge/hw/mmio"
)

// HeapLimit is the simulated DMA memory shared by cards of an Env.
const HeapLimit = 64 << 20

// Config is a small ring configuration that keeps tests fast.
var Config = bridge.Config{
	BufferCount: 8,
	BufferSize:  1,
}

// Ports is a typical Octopus card: two dual tuners and two CI slots.
// Inputs are numbered 0-3 on tuner ports, 4 and 6 on CI ports.
func Ports() []bridge.PortConfig {
	return []bridge.PortConfig{
		{Class: bridge.ClassTuner, Inputs: 2},
		{Class: bridge.ClassTuner, Inputs: 2},
		{Class: bridge.ClassCI, Inputs: 1, Output: true},
		{Class: bridge.ClassCI, Inputs: 1, Output: true},
	}
}

// Env is a Registry with simulated cards sharing one DMA memory.
type Env struct {
	Registry *bridge.Registry
	Mem      *dmamem.Heap
	Cards    []*Card
}

// New creates an Env. The Registry is closed when the test ends.
func New(t testing.TB, cfg bridge.Config) *Env {
	reg, e := bridge.NewRegistry(cfg)
	if e != nil {
		t.Fatalf("bridge.NewRegistry: %v", e)
	}
	t.Cleanup(func() { reg.Close() })
	return &Env{
		Registry: reg,
		Mem:      dmamem.NewHeap(HeapLimit),
	}
}

// Attach attaches a simulated card.
// If dc.Ports is empty, Ports() is used.
func (env *Env) Attach(t testing.TB, dc bridge.DeviceConfig) *Card {
	if len(dc.Ports) == 0 {
		dc.Ports = Ports()
	}
	c := NewCard(mmio.NewSimBus(), env.Mem, dc)
	dev, e := env.Registry.Attach(dc, c.Bus, env.Mem)
	if e != nil {
		t.Fatalf("Registry.Attach: %v", e)
	}
	c.Dev = dev
	env.Cards = append(env.Cards, c)
	return c
}
