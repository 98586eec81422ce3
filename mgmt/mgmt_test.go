package mgmt_test

import (
	"net"
	"testing"

	"github.com/powerman/rpc-codec/jsonrpc2"
	"github.com/usnistgov/tsbridge/app/tsdemux"
	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/bridge/bridgetestenv"
	"github.com/usnistgov/tsbridge/core/testenv"
	"github.com/usnistgov/tsbridge/core/version"
	"github.com/usnistgov/tsbridge/mgmt"
	"github.com/usnistgov/tsbridge/mgmt/demuxmgmt"
	"github.com/usnistgov/tsbridge/mgmt/devmgmt"
	"github.com/usnistgov/tsbridge/mgmt/logmgmt"
	"github.com/usnistgov/tsbridge/mgmt/redirmgmt"
	"github.com/usnistgov/tsbridge/mgmt/versionmgmt"
	"golang.org/x/sys/unix"
)

var (
	makeAR = testenv.MakeAR
)

type fixture struct {
	env    *bridgetestenv.Env
	card   *bridgetestenv.Card
	demux  *tsdemux.Demux
	client *jsonrpc2.Client
}

func newFixture(t *testing.T) (f fixture) {
	_, require := makeAR(t)
	f.env = bridgetestenv.New(t, bridgetestenv.Config)
	f.card = f.env.Attach(t, bridge.DeviceConfig{})
	f.demux = tsdemux.New()
	require.NoError(f.card.Dev.Input(0).AttachDemux(f.demux))

	s := mgmt.NewServer()
	require.NoError(s.Register(devmgmt.DeviceMgmt{Registry: f.env.Registry}))
	require.NoError(s.Register(redirmgmt.RedirectMgmt{Registry: f.env.Registry}))
	require.NoError(s.Register(demuxmgmt.DemuxMgmt{Demuxes: map[uint32]*tsdemux.Demux{0x00: f.demux}}))
	require.NoError(s.Register(versionmgmt.VersionMgmt{}))
	require.NoError(s.Register(logmgmt.LoggingMgmt{}))

	l, e := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(e)
	s.Serve(l)
	t.Cleanup(func() { s.Close() })

	f.client, e = mgmt.Dial("tcp://" + l.Addr().String())
	require.NoError(e)
	t.Cleanup(func() { f.client.Close() })
	return f
}

func TestParseListen(t *testing.T) {
	assert, _ := makeAR(t)

	network, addr, e := mgmt.ParseListen(mgmt.DefaultListen)
	assert.NoError(e)
	assert.Equal("unix", network)
	assert.Equal("/run/tsbridge-mgmt.sock", addr)

	network, addr, e = mgmt.ParseListen("tcp4://127.0.0.1:6345")
	assert.NoError(e)
	assert.Equal("tcp4", network)
	assert.Equal("127.0.0.1:6345", addr)

	_, _, e = mgmt.ParseListen("udp://127.0.0.1:6345")
	assert.Error(e)
}

func TestDevice(t *testing.T) {
	assert, require := makeAR(t)
	f := newFixture(t)

	var list []devmgmt.BasicInfo
	require.NoError(f.client.Call("Device.List", struct{}{}, &list))
	require.Len(list, 1)
	assert.Equal(0, list[0].ID)
	assert.Equal(4, list[0].NPorts)
	assert.True(list[0].HasDMA)

	var info devmgmt.DeviceInfo
	require.NoError(f.client.Call("Device.Get", devmgmt.IDArg{ID: 0}, &info))
	require.Len(info.Ports, 4)
	assert.Equal(bridge.ClassCI, info.Ports[2].Class)
	assert.Equal([]uint32{0x04}, info.Ports[2].Inputs)
	require.NotNil(info.Ports[2].Output)
	assert.Equal(uint32(0x02), *info.Ports[2].Output)
	assert.Nil(info.Ports[0].Output)

	require.Len(info.Inputs, 6)
	assert.True(info.Inputs[0].Demux)
	require.NotNil(info.Inputs[0].Redi)
	assert.Equal(uint32(0x00), *info.Inputs[0].Redi)
	require.NotNil(info.Inputs[0].Counters)
	assert.Equal(uint32(8), info.Inputs[0].Counters.Buffers)
	require.Len(info.Outputs, 2)

	e := f.client.Call("Device.Get", devmgmt.IDArg{ID: 9}, &info)
	require.Error(e)
	assert.Equal(-int(unix.EINVAL), jsonrpc2.ServerError(e).Code)
}

func TestRedirect(t *testing.T) {
	assert, require := makeAR(t)
	f := newFixture(t)

	require.NoError(f.client.Call("Redirect.Set", redirmgmt.SetArg{Redirect: "00 02"}, &struct{}{}))
	var edges []redirmgmt.Edge
	require.NoError(f.client.Call("Redirect.List", struct{}{}, &edges))
	require.Len(edges, 1)
	assert.Equal(uint32(0x00), edges[0].Input)
	assert.Equal(uint32(0x02), edges[0].Port)
	assert.Same(f.card.Dev.Input(0), f.card.Dev.Port(2).Output().Redi())

	f.env.Registry.StartFeed(f.card.Dev.Input(1))
	defer f.env.Registry.StopFeed(f.card.Dev.Input(1))
	in1, port3 := uint32(0x01), uint32(0x03)
	e := f.client.Call("Redirect.Set", redirmgmt.SetArg{Input: &in1, Port: &port3}, &struct{}{})
	require.Error(e)
	assert.Equal(-int(unix.EBUSY), jsonrpc2.ServerError(e).Code)

	e = f.client.Call("Redirect.Set", redirmgmt.SetArg{Input: &in1}, &struct{}{})
	require.Error(e)
	assert.Equal(-int(unix.EINVAL), jsonrpc2.ServerError(e).Code)

	e = f.client.Call("Redirect.Set", redirmgmt.SetArg{Redirect: "zz"}, &struct{}{})
	require.Error(e)
	assert.Equal(-int(unix.EINVAL), jsonrpc2.ServerError(e).Code)

	require.NoError(f.client.Call("Redirect.Unset", redirmgmt.PortArg{Port: 0x02}, &struct{}{}))
	require.NoError(f.client.Call("Redirect.List", struct{}{}, &edges))
	assert.Empty(edges)
	assert.Nil(f.card.Dev.Port(2).Output().Redi())

	e = f.client.Call("Redirect.Unset", redirmgmt.PortArg{Port: 0x1F}, &struct{}{})
	assert.Error(e)
}

func TestDemux(t *testing.T) {
	assert, require := makeAR(t)
	f := newFixture(t)
	in := f.card.Dev.Input(0)

	f.env.Registry.StartFeed(in)
	defer f.env.Registry.StopFeed(in)
	f.card.Produce(0, testenv.TSPackets(0x100, 32))
	f.card.Dev.Poll()

	var list []demuxmgmt.DemuxInfo
	require.NoError(f.client.Call("Demux.List", struct{}{}, &list))
	require.Len(list, 1)
	assert.Equal(uint64(32), list[0].NPackets)
	assert.Empty(list[0].PIDs)

	var info demuxmgmt.DemuxInfo
	require.NoError(f.client.Call("Demux.Get", demuxmgmt.InputArg{Input: 0x00}, &info))
	require.Len(info.PIDs, 1)
	assert.Equal(uint16(0x100), info.PIDs[0].PID)
	assert.Equal(uint64(32), info.PIDs[0].NPackets)

	assert.Error(f.client.Call("Demux.Get", demuxmgmt.InputArg{Input: 0x01}, &info))
}

func TestVersion(t *testing.T) {
	assert, require := makeAR(t)
	f := newFixture(t)

	var v version.Version
	require.NoError(f.client.Call("Version.Get", struct{}{}, &v))
	assert.Equal(version.V.Version, v.Version)
	assert.Equal(version.V.Commit, v.Commit)
	assert.True(version.V.Date.Equal(v.Date))
}

func TestLogging(t *testing.T) {
	assert, require := makeAR(t)
	f := newFixture(t)

	levelOf := func(pkg string) string {
		var list []logmgmt.Level
		require.NoError(f.client.Call("Logging.List", struct{}{}, &list))
		for _, l := range list {
			if l.Package == pkg {
				return l.Level
			}
		}
		return ""
	}

	require.NoError(f.client.Call("Logging.Set", logmgmt.Level{Package: "bridge", Level: "W"}, &struct{}{}))
	assert.Equal("W", levelOf("bridge"))
	require.NoError(f.client.Call("Logging.Set", logmgmt.Level{Package: "bridge", Level: "I"}, &struct{}{}))
	assert.Equal("I", levelOf("bridge"))

	e := f.client.Call("Logging.Set", logmgmt.Level{Package: "nonexistent", Level: "D"}, &struct{}{})
	require.Error(e)
	assert.Equal(-int(unix.EINVAL), jsonrpc2.ServerError(e).Code)
}
