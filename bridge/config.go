package bridge

import (
	"fmt"
)

// Config defaults and limits.
const (
	DefaultBufferCount = 8
	MinBufferCount     = 8
	MaxBufferCount     = 32

	DefaultBufferSize = 21
	MinBufferSize     = 1
	MaxBufferSize     = 43
)

// Config contains parameters shared by every card in a Registry.
// They are fixed when the Registry is created.
type Config struct {
	// BufferCount is the number of DMA buffers per ring.
	BufferCount int `json:"bufferCount,omitempty"`

	// BufferSize is the size of each DMA buffer, in units of BufferUnit octets.
	BufferSize int `json:"bufferSize,omitempty"`

	// AltDMA selects streaming DMA mappings with explicit cache synchronization
	// instead of coherent allocations.
	AltDMA bool `json:"altDMA,omitempty"`

	// RawStream hands whole buffers to the demux without looking at packet boundaries.
	RawStream bool `json:"rawStream,omitempty"`
}

// ApplyDefaults sets empty values to defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.BufferCount == 0 {
		cfg.BufferCount = DefaultBufferCount
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
}

// Validate checks value ranges.
func (cfg Config) Validate() error {
	if cfg.BufferCount < MinBufferCount || cfg.BufferCount > MaxBufferCount {
		return fmt.Errorf("%w: bufferCount %d out of range [%d,%d]", ErrInvalid, cfg.BufferCount, MinBufferCount, MaxBufferCount)
	}
	if cfg.BufferSize < MinBufferSize || cfg.BufferSize > MaxBufferSize {
		return fmt.Errorf("%w: bufferSize %d out of range [%d,%d]", ErrInvalid, cfg.BufferSize, MinBufferSize, MaxBufferSize)
	}
	return nil
}

// BufferOctets returns the size of each DMA buffer in octets.
func (cfg Config) BufferOctets() uint32 {
	return uint32(cfg.BufferSize) * BufferUnit
}
