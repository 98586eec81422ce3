// Package bridge moves transport stream data between the DMA rings of PCIe bridge cards.
//
// Each card has inputs fed by tuners or CI modules, and outputs feeding CI modules, modulators or
// loopbacks. Every input and output owns a ring of DMA buffers that the card fills or drains while
// the CPU follows behind with a software cursor. An output can be redirected to mirror an input on
// the same or another card: the output's DMA table is rewritten to point at the input's buffers, so
// data flows between them without being copied.
package bridge

import (
	"github.com/usnistgov/tsbridge/core/logging"
)

var logger = logging.New("bridge")

// PacketSize is the size of one transport stream packet.
const PacketSize = 188

// SyncByte is the first octet of every transport stream packet.
const SyncByte = 0x47

// BufferUnit is the granularity of DMA buffer sizes.
const BufferUnit = 128 * 47
