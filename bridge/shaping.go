package bridge

// Output shaping defaults, in kbit/s.
const (
	DefaultBitrate = 70000
	MinBitrate     = 31000
)

// GapAuto means the null-packet gap is derived from the bitrate.
const GapAuto = 0xFFFFFFFF

const maxGap = 127

// shapingParams are the inputs of calcCon.
type shapingParams struct {
	CI       bool   // output of a CI card port numbered above 1
	RegMapID uint32 // register map version
	Divider  bool   // prefer divider+gap over NCO
	Bitrate  uint32 // requested output bitrate
	Gap      uint32 // explicit gap or GapAuto
}

// calcCon computes the TS control words of an output.
// con selects gap insertion (0x10), 96 Mbit/s clock (0x800), NCO (0x1000) or divider (0x1810);
// con2 carries the NCO or divider value in the high half and the gap in the low half.
func calcCon(p shapingParams) (con, con2 uint32) {
	br, maxBr := p.Bitrate, uint32(72000)
	gap, nco := uint32(4), uint32(0)
	gapOverride := p.Gap != GapAuto

	con = 0x1C
	if gapOverride {
		gap, maxBr = p.Gap, 0
	}
	if p.CI {
		con = 0x10C
		switch {
		case p.RegMapID < 0x10003 || gapOverride:
			if br > 72000 {
				con |= 0x810
				maxBr = 96000
			}
			con |= 0x10
		case !p.Divider:
			maxBr, gap = 0, 0
			if br != 72000 {
				if br >= 96000 {
					con |= 0x800
				} else {
					con |= 0x1000
					nco = (br*8192 + 71999) / 72000
				}
			}
		default:
			con |= 0x1810
			switch {
			case br <= 64000:
				maxBr, nco = 64000, 8
			case br <= 72000:
				maxBr, nco = 72000, 7
			default:
				maxBr, nco = 96000, 5
			}
		}
	}

	if maxBr > 0 {
		br = max(min(br, maxBr), MinBitrate)
		gap = (maxBr - br) * 94 / br
		if gap < 2 {
			con &^= 0x10
		} else {
			gap -= 2
		}
		gap = min(gap, maxGap)
	}
	return con, nco<<16 | gap
}
