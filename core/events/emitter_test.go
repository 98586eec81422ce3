package events_test

import (
	"sync/atomic"
	"testing"

	"github.com/usnistgov/tsbridge/core/events"
	"github.com/usnistgov/tsbridge/core/testenv"
)

var makeAR = testenv.MakeAR

func TestOnCancel(t *testing.T) {
	assert, _ := makeAR(t)

	var nA, nB, nC atomic.Int32
	fA := func(n int) { nA.Add(int32(n)) }
	fB := func(n int) { nB.Add(int32(n)) }
	fC := func(n int) { nC.Add(int32(n)) }

	emitter := events.NewEmitter()
	cancelA := emitter.On("overflow", fA)
	cancelB := emitter.On("overflow", fB)
	emitter.Once("stall", fC)

	emitter.Emit("overflow", 1)
	assert.EqualValues(1, nA.Load())
	assert.EqualValues(1, nB.Load())

	cancelA.Close()
	emitter.Emit("overflow", 2)
	assert.EqualValues(1, nA.Load())
	assert.EqualValues(3, nB.Load())

	cancelB.Close()
	emitter.Emit("overflow", 4)
	assert.EqualValues(3, nB.Load())

	emitter.Emit("stall", 5)
	emitter.Emit("stall", 5)
	assert.EqualValues(5, nC.Load())
}
