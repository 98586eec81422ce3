package dmamem_test

import (
	"testing"

	"github.com/usnistgov/tsbridge/core/testenv"
	"github.com/usnistgov/tsbridge/hw/dmamem"
)

func TestCoherent(t *testing.T) {
	assert, require := testenv.MakeAR(t)

	heap := dmamem.NewHeap(8192)
	s := dmamem.New(false, heap)
	assert.Equal("coherent", s.String())

	b, e := s.Alloc(4096, dmamem.FromDevice)
	require.NoError(e)
	assert.EqualValues(dmamem.HeapBase, b.Bus)

	dev := heap.Access(b.Bus+16, 4)
	require.NotNil(dev)
	copy(dev, []byte{1, 2, 3, 4})
	assert.Equal([]byte{1, 2, 3, 4}, b.Virt[16:20])

	b2, e := s.Alloc(4096, dmamem.ToDevice)
	require.NoError(e)
	assert.EqualValues(dmamem.HeapBase+4096, b2.Bus)

	_, e = s.Alloc(1, dmamem.ToDevice)
	assert.ErrorIs(e, dmamem.ErrNoMemory)

	s.Free(b)
	s.Free(b)
	assert.Equal(4096, heap.Used())
	assert.Nil(heap.Access(dmamem.HeapBase, 4))
}

func TestStreaming(t *testing.T) {
	assert, require := testenv.MakeAR(t)

	heap := dmamem.NewHeap(1 << 20)
	s := dmamem.New(true, heap)
	assert.Equal("streaming", s.String())

	in, e := s.Alloc(188, dmamem.FromDevice)
	require.NoError(e)
	copy(heap.Access(in.Bus, 188), testenv.TSPackets(0x100, 1))
	assert.EqualValues(0, in.Virt[0])
	s.SyncForCPU(in)
	assert.EqualValues(0x47, in.Virt[0])

	out, e := s.Alloc(188, dmamem.ToDevice)
	require.NoError(e)
	copy(out.Virt, testenv.TSPackets(0x200, 1))
	assert.EqualValues(0, heap.Access(out.Bus, 1)[0])
	s.SyncForDevice(out)
	assert.EqualValues(0x47, heap.Access(out.Bus, 1)[0])
}
