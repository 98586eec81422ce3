// Package mmio provides 32-bit register access to a bridge card.
package mmio

import (
	"github.com/usnistgov/tsbridge/core/logging"
)

var logger = logging.New("mmio")

// Bus reads and writes 32-bit registers.
// Every access is tagged with a link number; link 0 is the card itself, other links are
// daisy-chained cards reached through it.
type Bus interface {
	Read32(link int, addr uint32) uint32
	Write32(link int, addr uint32, value uint32)
}

// AllOnes is the value read from a register when the card has dropped off the bus.
const AllOnes = 0xFFFFFFFF
