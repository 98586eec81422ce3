// Package demuxmgmt provides the Demux management service.
package demuxmgmt

import (
	"fmt"
	"slices"

	"github.com/usnistgov/tsbridge/app/tsdemux"
	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/mgmt"
)

// DemuxMgmt reports software demux counters.
type DemuxMgmt struct {
	// Demuxes maps input tokens to the demux attached to each input.
	// It must not be modified after the service is registered.
	Demuxes map[uint32]*tsdemux.Demux
}

// InputArg selects an input by its token.
type InputArg struct {
	Input uint32
}

// PIDInfo contains counters of a PID.
type PIDInfo struct {
	PID uint16
	tsdemux.PIDCounters
}

// DemuxInfo contains counters of a demux.
type DemuxInfo struct {
	Input uint32
	tsdemux.Counters
	PIDs []PIDInfo `json:",omitempty"`
}

func describe(tok uint32, d *tsdemux.Demux, withPIDs bool) (info DemuxInfo) {
	info.Input = tok
	info.Counters = d.Counters()
	if withPIDs {
		for _, pid := range d.PIDs() {
			info.PIDs = append(info.PIDs, PIDInfo{PID: pid, PIDCounters: d.PIDCounters(pid)})
		}
	}
	return info
}

// List lists demuxes in order of input token, without per-PID counters.
func (mg DemuxMgmt) List(args struct{}, reply *[]DemuxInfo) error {
	toks := make([]uint32, 0, len(mg.Demuxes))
	for tok := range mg.Demuxes {
		toks = append(toks, tok)
	}
	slices.Sort(toks)

	list := []DemuxInfo{}
	for _, tok := range toks {
		list = append(list, describe(tok, mg.Demuxes[tok], false))
	}
	*reply = list
	return nil
}

// Get describes the demux of an input, including per-PID counters.
func (mg DemuxMgmt) Get(args InputArg, reply *DemuxInfo) error {
	d := mg.Demuxes[args.Input]
	if d == nil {
		return mgmt.Error(fmt.Errorf("%w: input %02x has no demux", bridge.ErrInvalid, args.Input))
	}
	*reply = describe(args.Input, d, true)
	return nil
}
