// Package dmamem allocates DMA buffers for bridge rings.
//
// A Strategy is chosen once when a card is attached:
// Coherent buffers are shared by the CPU and the card without synchronization;
// Streaming buffers are plain CPU memory mapped for the card, and must be synchronized explicitly
// before the card reads them or after the card writes them.
package dmamem

import (
	"errors"

	"github.com/usnistgov/tsbridge/core/logging"
)

var logger = logging.New("dmamem")

// ErrNoMemory indicates DMA memory is exhausted.
var ErrNoMemory = errors.New("DMA memory exhausted")

// Direction indicates who writes a buffer.
type Direction int

// Direction values.
const (
	FromDevice Direction = iota // the card writes, the CPU reads
	ToDevice                    // the CPU writes, the card reads
)

func (dir Direction) String() string {
	if dir == ToDevice {
		return "to-device"
	}
	return "from-device"
}

// Buffer is a DMA buffer.
type Buffer struct {
	// Virt is the CPU view.
	Virt []byte
	// Bus is the address programmed into the card.
	Bus uint64
	// Dir is the transfer direction.
	Dir Direction

	dev []byte
}

// Memory provides device-visible memory regions.
type Memory interface {
	Alloc(size int) (region []byte, bus uint64, e error)
	Free(region []byte, bus uint64)
}

// Strategy allocates and synchronizes DMA buffers.
type Strategy interface {
	Alloc(size int, dir Direction) (*Buffer, error)
	Free(b *Buffer)
	// SyncForDevice makes CPU writes visible to the card.
	SyncForDevice(b *Buffer)
	// SyncForCPU makes card writes visible to the CPU.
	SyncForCPU(b *Buffer)
	String() string
}

// New selects a Strategy.
func New(streaming bool, mem Memory) Strategy {
	if streaming {
		return Streaming{mem}
	}
	return Coherent{mem}
}

// Coherent allocates buffers directly from device-visible memory.
type Coherent struct {
	Mem Memory
}

// Alloc implements Strategy.
func (s Coherent) Alloc(size int, dir Direction) (*Buffer, error) {
	region, bus, e := s.Mem.Alloc(size)
	if e != nil {
		return nil, e
	}
	return &Buffer{Virt: region, Bus: bus, Dir: dir, dev: region}, nil
}

// Free implements Strategy.
func (s Coherent) Free(b *Buffer) {
	if b == nil || b.dev == nil {
		return
	}
	s.Mem.Free(b.dev, b.Bus)
	b.Virt, b.dev = nil, nil
}

// SyncForDevice implements Strategy.
func (Coherent) SyncForDevice(*Buffer) {}

// SyncForCPU implements Strategy.
func (Coherent) SyncForCPU(*Buffer) {}

func (Coherent) String() string {
	return "coherent"
}

// Streaming allocates buffers in ordinary memory and maps them through a device-visible region.
type Streaming struct {
	Mem Memory
}

// Alloc implements Strategy.
func (s Streaming) Alloc(size int, dir Direction) (*Buffer, error) {
	virt := make([]byte, size)
	region, bus, e := s.Mem.Alloc(size)
	if e != nil {
		return nil, e
	}
	return &Buffer{Virt: virt, Bus: bus, Dir: dir, dev: region}, nil
}

// Free implements Strategy.
func (s Streaming) Free(b *Buffer) {
	if b == nil || b.dev == nil {
		return
	}
	s.Mem.Free(b.dev, b.Bus)
	b.Virt, b.dev = nil, nil
}

// SyncForDevice implements Strategy.
func (Streaming) SyncForDevice(b *Buffer) {
	if b.Dir == ToDevice {
		copy(b.dev, b.Virt)
	}
}

// SyncForCPU implements Strategy.
func (Streaming) SyncForCPU(b *Buffer) {
	if b.Dir == FromDevice {
		copy(b.Virt, b.dev)
	}
}

func (Streaming) String() string {
	return "streaming"
}
