package bridge_test

import (
	"sync"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/core/testenv"
)

var (
	makeAR = testenv.MakeAR
)

type feedCall struct {
	Kind  string
	Len   int
	Count int
	First byte
}

// recordDemux records hand-offs from a tasklet.
type recordDemux struct {
	mu    sync.Mutex
	calls []feedCall
	data  []byte
}

var _ bridge.Demux = (*recordDemux)(nil)

func (d *recordDemux) record(kind string, buf []byte, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, feedCall{kind, len(buf), count, buf[0]})
	d.data = append(d.data, buf...)
}

func (d *recordDemux) FeedRaw(buf []byte) {
	d.record("raw", buf, 0)
}

func (d *recordDemux) FeedBytes(buf []byte) {
	d.record("bytes", buf, 0)
}

func (d *recordDemux) FeedPackets(buf []byte, count int) {
	d.record("packets", buf, count)
}

func (d *recordDemux) Calls() []feedCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]feedCall{}, d.calls...)
}

func (d *recordDemux) Data() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte{}, d.data...)
}
