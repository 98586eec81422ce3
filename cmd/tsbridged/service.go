package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/usnistgov/tsbridge/app/tsdemux"
	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/hw/dmamem"
	"github.com/usnistgov/tsbridge/hw/mmio"
	"github.com/usnistgov/tsbridge/tsdev"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// service owns every card, demux and recorder of the daemon.
type service struct {
	reg     *bridge.Registry
	demuxes map[uint32]*tsdemux.Demux
	feeds   []*bridge.Input
	files   []*tsdev.File
	closers []io.Closer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newService(cfg Config) (svc *service, e error) {
	if e = cfg.Validate(); e != nil {
		return nil, e
	}
	reg, e := bridge.NewRegistry(cfg.Bridge)
	if e != nil {
		return nil, e
	}

	svc = &service{
		reg:     reg,
		demuxes: map[uint32]*tsdemux.Demux{},
	}
	svc.ctx, svc.cancel = context.WithCancel(context.Background())
	defer func() {
		if e != nil {
			svc.Close()
			svc = nil
		}
	}()

	reg.OnOverflow(func(in *bridge.Input) {
		logger.Debug("overflow event", zap.Stringer("input", in))
	})
	reg.OnRedirect(func(in *bridge.Input, out *bridge.Output) {
		if in == nil {
			logger.Info("output disconnected", zap.Stringer("output", out))
			return
		}
		logger.Info("output connected", zap.Stringer("input", in), zap.Stringer("output", out))
	})

	var hugepages *dmamem.Hugepages
	for i, dc := range cfg.Devices {
		if dc.PCI != nil && hugepages == nil {
			hugepages = &dmamem.Hugepages{}
			svc.closers = append(svc.closers, hugepages)
		}
		if e = svc.attach(dc, hugepages, cfg.PollInterval.DurationOr(DefaultPollInterval)); e != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, e)
		}
	}

	for _, tok := range cfg.Demux {
		in := reg.InputByToken(tok)
		if in == nil {
			return nil, fmt.Errorf("%w: demux input %02x does not exist", bridge.ErrInvalid, tok)
		}
		d := tsdemux.New()
		if e = in.AttachDemux(d); e != nil {
			return nil, fmt.Errorf("demux %s: %w", in, e)
		}
		svc.demuxes[tok] = d
	}

	for _, s := range cfg.Redirects {
		if e = reg.RedirectString(s); e != nil {
			return nil, fmt.Errorf("redirect %q: %w", s, e)
		}
	}

	for _, tok := range cfg.Demux {
		in := reg.InputByToken(tok)
		reg.StartFeed(in)
		svc.feeds = append(svc.feeds, in)
	}

	for _, rc := range cfg.Record {
		if e = svc.record(rc); e != nil {
			return nil, fmt.Errorf("record %02x: %w", rc.Port, e)
		}
	}
	return svc, nil
}

func (svc *service) attach(dc DeviceConfig, hugepages *dmamem.Hugepages, poll time.Duration) error {
	if dc.PCI == nil {
		bus := mmio.NewSimBus()
		bus.SetRecording(false)
		dev, e := svc.reg.Attach(dc.DeviceConfig, bus, dmamem.NewHeap(SimHeapLimit))
		if e != nil {
			return e
		}
		logger.Info("simulated card attached", zap.Stringer("dev", dev))
		svc.poll(dev, poll)
		return nil
	}

	bus, e := mmio.OpenPCI(*dc.PCI)
	if e != nil {
		return e
	}
	dev, e := svc.reg.Attach(dc.DeviceConfig, bus, hugepages)
	if e != nil {
		bus.Close()
		return e
	}
	// detaching happens in Registry.Close, before the BAR is unmapped
	svc.closers = append(svc.closers, bus)
	logger.Info("card attached", zap.Stringer("dev", dev), zap.Stringer("pci", dc.PCI))

	uio, e := mmio.OpenUIO(*dc.PCI)
	if errors.Is(e, mmio.ErrNoUIO) {
		logger.Warn("no UIO device, polling", zap.Stringer("dev", dev), zap.Duration("interval", poll))
		svc.poll(dev, poll)
		return nil
	} else if e != nil {
		return e
	}
	svc.closers = append(svc.closers, uio)
	svc.wg.Add(1)
	go svc.irqLoop(dev, uio)
	return nil
}

func (svc *service) poll(dev *bridge.Device, interval time.Duration) {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-svc.ctx.Done():
				return
			case <-ticker.C:
				dev.Poll()
			}
		}
	}()
}

func (svc *service) irqLoop(dev *bridge.Device, uio *mmio.UIO) {
	defer svc.wg.Done()
	vectors := 1
	if dev.Config().IRQ == bridge.IRQSplitMSI {
		vectors = 2
	}
	for {
		if e := uio.Enable(); e != nil {
			logger.Error("UIO enable error", zap.Stringer("dev", dev), zap.Error(e))
			return
		}
		if _, e := uio.Wait(svc.ctx); e != nil {
			if !errors.Is(e, context.Canceled) {
				logger.Error("UIO wait error", zap.Stringer("dev", dev), zap.Error(e))
			}
			return
		}
		for v := range vectors {
			dev.HandleIRQ(v)
		}
	}
}

func (svc *service) record(rc RecordConfig) error {
	port := svc.reg.PortByToken(rc.Port)
	if port == nil {
		return fmt.Errorf("%w: port does not exist", bridge.ErrInvalid)
	}
	file, e := os.Create(rc.File)
	if e != nil {
		return e
	}
	f, e := tsdev.Open(svc.reg, port, tsdev.Options{Mode: tsdev.ModeRead})
	if e != nil {
		file.Close()
		return e
	}
	svc.files = append(svc.files, f)

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		defer file.Close()
		logEntry := logger.With(zap.Stringer("port", port), zap.String("file", rc.File))
		logEntry.Info("recording")
		buf := make([]byte, svc.reg.Config().BufferOctets())
		for {
			n, e := f.ReadContext(svc.ctx, buf)
			if n > 0 {
				if _, we := file.Write(buf[:n]); we != nil {
					logEntry.Error("write error", zap.Error(we))
					return
				}
			}
			if e != nil {
				if !errors.Is(e, context.Canceled) {
					logEntry.Info("recording stopped", zap.Error(e))
				}
				return
			}
		}
	}()
	return nil
}

// Close stops every goroutine and detaches every card.
func (svc *service) Close() (e error) {
	svc.cancel()
	for _, f := range svc.files {
		f.Close()
	}
	svc.wg.Wait()
	for _, in := range svc.feeds {
		svc.reg.StopFeed(in)
	}
	e = multierr.Append(e, svc.reg.Close())
	for i := len(svc.closers) - 1; i >= 0; i-- {
		e = multierr.Append(e, svc.closers[i].Close())
	}
	return e
}
