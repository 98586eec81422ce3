package main

import (
	"fmt"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/core/nnduration"
	"github.com/usnistgov/tsbridge/core/pciaddr"
)

// DefaultPollInterval is the tasklet polling interval of cards without an interrupt source.
const DefaultPollInterval nnduration.Milliseconds = 10

// SimHeapLimit is the simulated DMA memory of each simulated card.
const SimHeapLimit = 64 << 20

// DeviceConfig describes a card to attach.
type DeviceConfig struct {
	bridge.DeviceConfig

	// PCI is the PCI address of the card.
	// If omitted, the card is simulated and never produces data.
	PCI *pciaddr.PCIAddress `json:"pci,omitempty"`
}

// RecordConfig copies an input to a file through the blocking port interface.
type RecordConfig struct {
	// Port is the port token.
	Port uint32 `json:"port"`
	// File is the output filename. It is truncated when the daemon starts.
	File string `json:"file"`
}

// Config is the daemon configuration.
type Config struct {
	Bridge  bridge.Config  `json:"bridge"`
	Devices []DeviceConfig `json:"devices"`

	// Demux lists input tokens that receive a software demux.
	// Each is started when the daemon starts.
	Demux []uint32 `json:"demux,omitempty"`

	// Redirects lists redirects in "II PP" form, applied in order.
	Redirects []string `json:"redirects,omitempty"`

	Record []RecordConfig `json:"record,omitempty"`

	// PollInterval applies to simulated cards and cards without a UIO device.
	PollInterval nnduration.Milliseconds `json:"pollInterval,omitempty"`
}

// Validate checks the configuration before any card is touched.
func (cfg Config) Validate() error {
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("%w: no devices", bridge.ErrInvalid)
	}
	if len(cfg.Devices) > bridge.MaxDevices {
		return fmt.Errorf("%w: %d devices", bridge.ErrInvalid, len(cfg.Devices))
	}
	for i, s := range cfg.Redirects {
		if _, _, e := bridge.ParseRedirect(s); e != nil {
			return fmt.Errorf("redirects[%d]: %w", i, e)
		}
	}
	for i, rc := range cfg.Record {
		if rc.File == "" {
			return fmt.Errorf("%w: record[%d] has no file", bridge.ErrInvalid, i)
		}
	}
	return nil
}
