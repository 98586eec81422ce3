package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/usnistgov/tsbridge/app/tsdemux"
	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/bridge/bridgetestenv"
	"github.com/usnistgov/tsbridge/core/testenv"
	"github.com/usnistgov/tsbridge/mgmt/metrics"
)

var (
	makeAR = testenv.MakeAR
)

func TestCollector(t *testing.T) {
	assert, require := makeAR(t)
	env := bridgetestenv.New(t, bridgetestenv.Config)
	card := env.Attach(t, bridge.DeviceConfig{})
	in := card.Dev.Input(0)
	d := tsdemux.New()
	require.NoError(in.AttachDemux(d))

	env.Registry.StartFeed(in)
	defer env.Registry.StopFeed(in)
	card.AddLoss(0, 3)
	card.Produce(0, testenv.TSPackets(0x100, 32))
	card.Dev.Poll()

	pr := prometheus.NewRegistry()
	pr.MustRegister(metrics.NewCollector(env.Registry, map[uint32]*tsdemux.Demux{0x00: d}))
	families, e := pr.Gather()
	require.NoError(e)

	values := map[string]float64{}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["dev"] != "0" && labels["input"] != "0" {
				continue
			}
			if labels["dir"] == "output" || (labels["nr"] != "" && labels["nr"] != "0") {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				values[fam.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[fam.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(1.0, values["tsbridge_ring_running"])
	assert.Equal(3.0, values["tsbridge_input_packet_loss_total"])
	assert.Equal(1.0, values["tsbridge_ring_tasklet_runs_total"])
	assert.Equal(0.0, values["tsbridge_input_overflows_total"])
	assert.Equal(32.0, values["tsbridge_demux_packets_total"])
	assert.Contains(values, "tsbridge_unknown_irqs_total")
}
