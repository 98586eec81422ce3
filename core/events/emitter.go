// Package events provides a simple event emitter.
package events

import (
	"io"

	"github.com/tul/emission"
)

// Emitter is a simple event emitter.
// This is a thin wrapper of emission.Emitter that modifies On and Once methods to return an io.Closer that cancels the callback registration.
type Emitter struct {
	*emission.Emitter
}

// NewEmitter creates a simple event emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		Emitter: emission.NewEmitter(),
	}
}

// On registers a callback when an event occurs.
// Returns an io.Closer that cancels the callback registration.
func (emitter *Emitter) On(event, listener any) io.Closer {
	h := emitter.Emitter.On(event, listener)
	return canceler{emitter.Emitter, event, h}
}

// Once registers a one-time callback when an event occurs.
// Returns an io.Closer that cancels the callback registration.
func (emitter *Emitter) Once(event, listener any) io.Closer {
	h := emitter.Emitter.Once(event, listener)
	return canceler{emitter.Emitter, event, h}
}

type canceler struct {
	emitter  *emission.Emitter
	event    any
	listener emission.ListenerHandle
}

func (c canceler) Close() error {
	c.emitter.RemoveListener(c.event, c.listener)
	return nil
}
