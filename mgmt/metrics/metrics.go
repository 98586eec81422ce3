// Package metrics exports ring and demux counters to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/usnistgov/tsbridge/app/tsdemux"
	"github.com/usnistgov/tsbridge/bridge"
)

// Collector implements prometheus.Collector, reading counters on each scrape.
type Collector struct {
	reg     *bridge.Registry
	demuxes map[uint32]*tsdemux.Demux

	running     *prometheus.Desc
	packetLoss  *prometheus.Desc
	stalls      *prometheus.Desc
	overflows   *prometheus.Desc
	unaligned   *prometheus.Desc
	runs        *prometheus.Desc
	irqs        *prometheus.Desc
	unknownIRQs *prometheus.Desc

	demuxPackets *prometheus.Desc
	demuxDropped *prometheus.Desc
	demuxResync  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector.
// demuxes maps input tokens to demuxes, and may be nil.
func NewCollector(reg *bridge.Registry, demuxes map[uint32]*tsdemux.Demux) *Collector {
	ringLabels := []string{"dev", "dir", "nr"}
	return &Collector{
		reg:     reg,
		demuxes: demuxes,

		running: prometheus.NewDesc(
			"tsbridge_ring_running",
			"Whether the DMA engine is enabled on the ring.",
			ringLabels, nil,
		),
		packetLoss: prometheus.NewDesc(
			"tsbridge_input_packet_loss_total",
			"Packets lost by the card on an input.",
			ringLabels, nil,
		),
		stalls: prometheus.NewDesc(
			"tsbridge_input_stalls_total",
			"Tasklet passes that found an input ring stalled.",
			ringLabels, nil,
		),
		overflows: prometheus.NewDesc(
			"tsbridge_input_overflows_total",
			"Input ring overflows handled by the tasklet.",
			ringLabels, nil,
		),
		unaligned: prometheus.NewDesc(
			"tsbridge_input_unaligned",
			"Whether an input switched to unaligned processing.",
			ringLabels, nil,
		),
		runs: prometheus.NewDesc(
			"tsbridge_ring_tasklet_runs_total",
			"Tasklet passes on the ring.",
			ringLabels, nil,
		),
		irqs: prometheus.NewDesc(
			"tsbridge_ring_irqs_total",
			"Interrupts dispatched to the ring.",
			ringLabels, nil,
		),
		unknownIRQs: prometheus.NewDesc(
			"tsbridge_unknown_irqs_total",
			"Interrupts from sources without a handler.",
			[]string{"dev"}, nil,
		),
		demuxPackets: prometheus.NewDesc(
			"tsbridge_demux_packets_total",
			"Packets dispatched by a software demux.",
			[]string{"input"}, nil,
		),
		demuxDropped: prometheus.NewDesc(
			"tsbridge_demux_dropped_total",
			"Packets without a handler.",
			[]string{"input"}, nil,
		),
		demuxResync: prometheus.NewDesc(
			"tsbridge_demux_resync_total",
			"Sync losses in a software demux.",
			[]string{"input"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.packetLoss
	ch <- c.stalls
	ch <- c.overflows
	ch <- c.unaligned
	ch <- c.runs
	ch <- c.irqs
	ch <- c.unknownIRQs
	ch <- c.demuxPackets
	ch <- c.demuxDropped
	ch <- c.demuxResync
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, dev := range c.reg.Devices() {
		devLabel := strconv.Itoa(dev.ID())
		ch <- prometheus.MustNewConstMetric(c.unknownIRQs, prometheus.CounterValue, float64(dev.UnknownIRQs()), devLabel)

		ringMetrics := func(r *bridge.Ring, dir string, nr int) (bridge.RingCounters, []string) {
			labels := []string{devLabel, dir, strconv.Itoa(nr)}
			cnt := r.Counters()
			ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolGauge(cnt.Running), labels...)
			ch <- prometheus.MustNewConstMetric(c.runs, prometheus.CounterValue, float64(cnt.Runs), labels...)
			ch <- prometheus.MustNewConstMetric(c.irqs, prometheus.CounterValue, float64(dev.IRQCount(r.IRQ())), labels...)
			return cnt, labels
		}

		for _, in := range dev.Inputs() {
			if in.Ring() == nil {
				continue
			}
			cnt, labels := ringMetrics(in.Ring(), "input", in.Nr())
			ch <- prometheus.MustNewConstMetric(c.packetLoss, prometheus.CounterValue, float64(cnt.PacketLoss), labels...)
			ch <- prometheus.MustNewConstMetric(c.stalls, prometheus.CounterValue, float64(cnt.Stalls), labels...)
			ch <- prometheus.MustNewConstMetric(c.overflows, prometheus.CounterValue, float64(cnt.Overflows), labels...)
			ch <- prometheus.MustNewConstMetric(c.unaligned, prometheus.GaugeValue, boolGauge(cnt.Unaligned), labels...)
		}
		for _, out := range dev.Outputs() {
			if out.Ring() == nil {
				continue
			}
			ringMetrics(out.Ring(), "output", out.Nr())
		}
	}

	for tok, d := range c.demuxes {
		label := strconv.FormatUint(uint64(tok), 16)
		cnt := d.Counters()
		ch <- prometheus.MustNewConstMetric(c.demuxPackets, prometheus.CounterValue, float64(cnt.NPackets), label)
		ch <- prometheus.MustNewConstMetric(c.demuxDropped, prometheus.CounterValue, float64(cnt.NDropped), label)
		ch <- prometheus.MustNewConstMetric(c.demuxResync, prometheus.CounterValue, float64(cnt.NResync), label)
	}
}
