package bridge

import (
	"fmt"
)

// Global registers.
const (
	RegIRQEnable = 0x40
	RegIRQStatus = 0x44
	RegIRQAck    = 0x4C

	RegDMABaseWrite = 0x100
	RegDMABaseRead  = 0x140

	RegIRQv2Control = 0x500
	RegIRQv2Enable  = 0x504 // + 4*group
	RegIRQv2Status  = 0x520 // summary; group g status at +4+4*g
)

// TS control registers, relative to an input or output register block.
const (
	RegTSControl  = 0x00
	RegTSControl2 = 0x04
	RegTSStat     = 0x08 // low 16 bits: free-running packet loss counter
)

// DMA ring registers, relative to a DMA register block.
const (
	RegDMABufferControl = 0x00
	RegDMABufferAck     = 0x04
	RegDMABufferCurrent = 0x08
	RegDMABufferSize    = 0x0C
)

// DMA buffer control bits.
const (
	BufCtrlEnable   = 1 << 0
	BufCtrlInit     = 1 << 1
	BufCtrlOverflow = 1 << 2
)

// TS control bits.
const (
	TSCtrlEnable = 1 << 0
	TSCtrlReset  = 1 << 1
)

// RegSet locates a group of identical register blocks.
type RegSet struct {
	Base uint32
	Num  int
	Size uint32
}

// At returns the base address of block nr.
func (rs RegSet) At(nr int) uint32 {
	return rs.Base + rs.Size*uint32(nr)
}

// RegMap describes the register layout of a card generation.
type RegMap struct {
	Input   RegSet
	Output  RegSet
	IDMA    RegSet
	IDMABuf RegSet
	ODMA    RegSet
	ODMABuf RegSet

	// IRQBaseIDMA and IRQBaseODMA are the interrupt sources of input and output ring 0.
	IRQBaseIDMA int
	IRQBaseODMA int
	IRQ         IRQLayout
}

// RegMapOctopus is the layout of Octopus family cards with a single interrupt status register.
var RegMapOctopus = RegMap{
	Input:       RegSet{0x200, 8, 0x10},
	Output:      RegSet{0x280, 4, 0x10},
	IDMA:        RegSet{0x300, 8, 0x10},
	IDMABuf:     RegSet{0x2000, 8, 0x100},
	ODMA:        RegSet{0x380, 4, 0x10},
	ODMABuf:     RegSet{0x2800, 4, 0x100},
	IRQBaseIDMA: 8,
	IRQBaseODMA: 16,
	IRQ:         IRQLegacy,
}

// RegMapOctopusMSI is RegMapOctopus with TS and message interrupts on separate MSI vectors.
var RegMapOctopusMSI = func() RegMap {
	rm := RegMapOctopus
	rm.IRQ = IRQSplitMSI
	return rm
}()

// RegMapOctopusV2 is the layout of cards with grouped interrupt status registers.
var RegMapOctopusV2 = RegMap{
	Input:       RegSet{0x200, 8, 0x10},
	Output:      RegSet{0x280, 4, 0x10},
	IDMA:        RegSet{0x300, 8, 0x10},
	IDMABuf:     RegSet{0x2000, 8, 0x100},
	ODMA:        RegSet{0x380, 4, 0x10},
	ODMABuf:     RegSet{0x2800, 4, 0x100},
	IRQBaseIDMA: 64,
	IRQBaseODMA: 128,
	IRQ:         IRQV2,
}

// Cursor is a position within a DMA ring.
// The card reports and accepts it packed as (buf<<11)|(off>>7): five bits of buffer index and
// eleven bits of offset in 128-octet units.
type Cursor struct {
	Buf uint32 // buffer index
	Off uint32 // octet offset within the buffer
}

// DecodeCursor unpacks a current or ack register value.
func DecodeCursor(stat uint32) Cursor {
	return Cursor{
		Buf: (stat >> 11) & 0x1F,
		Off: (stat & 0x7FF) << 7,
	}
}

// Encode packs the cursor in register format.
func (c Cursor) Encode() uint32 {
	return (c.Buf&0x1F)<<11 | (c.Off>>7)&0x7FF
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d+%d", c.Buf, c.Off)
}

// SizeWord packs the DMA buffer size register.
func SizeWord(div, num, size uint32) uint32 {
	return (div&0x0F)<<16 | (num&0x1F)<<11 | (size>>7)&0x7FF
}

// DecodeSizeWord unpacks the DMA buffer size register.
func DecodeSizeWord(w uint32) (div, num, size uint32) {
	return (w >> 16) & 0x0F, (w >> 11) & 0x1F, (w & 0x7FF) << 7
}
