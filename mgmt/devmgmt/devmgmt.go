// Package devmgmt provides the Device management service.
package devmgmt

import (
	"fmt"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/mgmt"
)

// DeviceMgmt lists cards and their rings.
type DeviceMgmt struct {
	Registry *bridge.Registry
}

// IDArg selects a card.
type IDArg struct {
	ID int
}

// BasicInfo describes a card.
type BasicInfo struct {
	ID       int
	Type     bridge.CardType
	IRQ      bridge.IRQLayout
	RegMapID uint32
	HasDMA   bool
	NPorts   int
}

func newBasicInfo(dev *bridge.Device) BasicInfo {
	cfg := dev.Config()
	return BasicInfo{
		ID:       dev.ID(),
		Type:     cfg.Type,
		IRQ:      cfg.IRQ,
		RegMapID: cfg.RegMapID,
		HasDMA:   dev.HasDMA(),
		NPorts:   len(dev.Ports()),
	}
}

// PortInfo describes a port.
type PortInfo struct {
	Nr     int
	Class  bridge.PortClass
	Inputs []uint32
	Output *uint32 `json:",omitempty"`
}

// RingInfo describes an input or output and its DMA ring.
type RingInfo struct {
	Token    uint32
	Name     string
	Redi     *uint32 `json:",omitempty"`
	Redo     *uint32 `json:",omitempty"`
	Demux    bool    `json:",omitempty"`
	Users    int     `json:",omitempty"`
	IRQ      int
	IRQCount uint64
	Counters *bridge.RingCounters `json:",omitempty"`
}

// DeviceInfo describes a card in detail.
type DeviceInfo struct {
	BasicInfo
	Ports       []PortInfo
	Inputs      []RingInfo
	Outputs     []RingInfo
	UnknownIRQs uint64
}

func tokenOf(x interface{ Token() uint32 }) *uint32 {
	tok := x.Token()
	return &tok
}

// List lists cards.
func (mg DeviceMgmt) List(args struct{}, reply *[]BasicInfo) error {
	list := []BasicInfo{}
	for _, dev := range mg.Registry.Devices() {
		list = append(list, newBasicInfo(dev))
	}
	*reply = list
	return nil
}

// Get describes a card.
func (mg DeviceMgmt) Get(args IDArg, reply *DeviceInfo) error {
	dev := mg.Registry.Device(args.ID)
	if dev == nil {
		return mgmt.Error(fmt.Errorf("%w: card %d not found", bridge.ErrInvalid, args.ID))
	}

	info := DeviceInfo{
		BasicInfo:   newBasicInfo(dev),
		UnknownIRQs: dev.UnknownIRQs(),
	}
	for _, port := range dev.Ports() {
		pi := PortInfo{Nr: port.Nr(), Class: port.Class()}
		for slot := range 2 {
			if in := port.Input(slot); in != nil {
				pi.Inputs = append(pi.Inputs, in.Token())
			}
		}
		if out := port.Output(); out != nil {
			pi.Output = tokenOf(out)
		}
		info.Ports = append(info.Ports, pi)
	}

	for _, in := range dev.Inputs() {
		ri := RingInfo{
			Token: in.Token(),
			Name:  in.String(),
			Demux: in.HasDemux(),
			Users: mg.Registry.Users(in),
		}
		if redi := in.Redi(); redi != nil {
			ri.Redi = tokenOf(redi)
		}
		if redo := in.Redo(); redo != nil {
			ri.Redo = tokenOf(redo)
		}
		describeRing(dev, in.Ring(), &ri)
		info.Inputs = append(info.Inputs, ri)
	}

	for _, out := range dev.Outputs() {
		ri := RingInfo{
			Token: out.Token(),
			Name:  out.String(),
		}
		if redi := out.Redi(); redi != nil {
			ri.Redi = tokenOf(redi)
		}
		describeRing(dev, out.Ring(), &ri)
		info.Outputs = append(info.Outputs, ri)
	}

	*reply = info
	return nil
}

func describeRing(dev *bridge.Device, r *bridge.Ring, ri *RingInfo) {
	ri.IRQ = -1
	if r == nil {
		return
	}
	cnt := r.Counters()
	ri.Counters = &cnt
	ri.IRQ = r.IRQ()
	ri.IRQCount = dev.IRQCount(ri.IRQ)
}
