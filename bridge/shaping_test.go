package bridge

import (
	"fmt"
	"testing"

	"github.com/usnistgov/tsbridge/core/testenv"
)

func TestCalcCon(t *testing.T) {
	assert, _ := testenv.MakeAR(t)

	newCI := uint32(0x10003)
	tests := []struct {
		p    shapingParams
		con  uint32
		con2 uint32
	}{
		{shapingParams{Bitrate: 72000, Gap: GapAuto}, 0x0C, 0},
		{shapingParams{Bitrate: 70000, Gap: GapAuto}, 0x1C, 0},
		{shapingParams{Bitrate: 31000, Gap: GapAuto}, 0x1C, 122},
		{shapingParams{Bitrate: 10000, Gap: GapAuto}, 0x1C, 122},
		{shapingParams{Bitrate: 100000, Gap: GapAuto}, 0x0C, 0},
		{shapingParams{Bitrate: 50000, Gap: 5}, 0x1C, 5},
		{shapingParams{CI: true, RegMapID: 0x10002, Bitrate: 72000, Gap: GapAuto}, 0x10C, 0},
		{shapingParams{CI: true, RegMapID: 0x10002, Bitrate: 50000, Gap: GapAuto}, 0x11C, 39},
		{shapingParams{CI: true, RegMapID: 0x10002, Bitrate: 90000, Gap: GapAuto}, 0x91C, 4},
		{shapingParams{CI: true, RegMapID: 0x10002, Divider: true, Bitrate: 60000, Gap: GapAuto}, 0x11C, 16},
		{shapingParams{CI: true, RegMapID: newCI, Bitrate: 72000, Gap: GapAuto}, 0x10C, 0},
		{shapingParams{CI: true, RegMapID: newCI, Bitrate: 96000, Gap: GapAuto}, 0x90C, 0},
		{shapingParams{CI: true, RegMapID: newCI, Bitrate: 50000, Gap: GapAuto}, 0x110C, 5689 << 16},
		{shapingParams{CI: true, RegMapID: newCI, Divider: true, Bitrate: 60000, Gap: GapAuto}, 0x191C, 8<<16 | 4},
		{shapingParams{CI: true, RegMapID: newCI, Divider: true, Bitrate: 90000, Gap: GapAuto}, 0x191C, 5<<16 | 4},
		{shapingParams{CI: true, RegMapID: newCI, Bitrate: 80000, Gap: 10}, 0x91C, 16},
		{shapingParams{CI: true, RegMapID: newCI, Bitrate: 60000, Gap: 10}, 0x11C, 10},
	}
	for _, tt := range tests {
		con, con2 := calcCon(tt.p)
		msg := fmt.Sprintf("%+v", tt.p)
		assert.Equal(tt.con, con, msg)
		assert.Equal(tt.con2, con2, msg)
	}
}
