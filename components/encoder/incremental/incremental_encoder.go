// Package incremental implements a quadrature encoder decoder driven by edge interrupts.
package incremental

import (
	"sync"

	"go.uber.org/atomic"

	"go.viam.com/edukit/components/board"
	"go.viam.com/edukit/logging"
)

// A LevelReader reports the current level of a digital input.
type LevelReader interface {
	Level() bool
}

// Encoder keeps track of the pendulum angle using a rotary incremental encoder.
//
// A rotary encoder looks like
//
//	picture from https://github.com/joan2937/pigpio/blob/master/EXAMPLES/C/ROTARY_ENCODER/rotary_encoder.c
//	  1   2     3    4    1    2    3    4     1
//
//	          +---------+         +---------+      0
//	          |         |         |         |
//	X         |         |         |         |
//	          |         |         |         |
//	+---------+         +---------+         +----- 1
//
//	    +---------+         +---------+            0
//	    |         |         |         |
//	Y   |         |         |         |
//	    |         |         |         |
//	----+         +---------+         +---------+  1
//
// An edge on X counts forward when the new X level differs from Y. An edge on Y counts forward
// when the new Y level equals X. Every edge is one count, so one full cycle of the diagram is four
// counts.
type Encoder struct {
	x, y LevelReader

	// Each level is only written by the handler of its own line.
	xLevel   atomic.Bool
	yLevel   atomic.Bool
	forward  atomic.Bool
	position atomic.Int64

	logger logging.Logger

	mu      sync.Mutex
	removes []func()
}

// NewEncoder returns an encoder reading lines x and y, seeded with their current levels.
func NewEncoder(x, y LevelReader, logger logging.Logger) *Encoder {
	e := &Encoder{x: x, y: y, logger: logger}
	e.xLevel.Store(x.Level())
	e.yLevel.Store(y.Level())
	e.forward.Store(true)
	return e
}

// Attach starts decoding edges reported by the two interrupts. The interrupts must be the lines
// the encoder was created with.
func (e *Encoder) Attach(x, y board.DigitalInterrupt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removes = append(e.removes,
		x.AddCallback(func(board.Tick) { e.HandleX() }),
		y.AddCallback(func(board.Tick) { e.HandleY() }),
	)
}

// HandleX is the edge handler for line X. It never blocks.
func (e *Encoder) HandleX() {
	x := e.x.Level()
	// Reject short pulses.
	if x == e.xLevel.Load() {
		return
	}
	e.xLevel.Store(x)
	e.step(x != e.y.Level())
}

// HandleY is the edge handler for line Y. It never blocks.
func (e *Encoder) HandleY() {
	y := e.y.Level()
	if y == e.yLevel.Load() {
		return
	}
	e.yLevel.Store(y)
	e.step(y == e.x.Level())
}

func (e *Encoder) step(forward bool) {
	e.forward.Store(forward)
	if forward {
		e.position.Inc()
	} else {
		e.position.Dec()
	}
}

// Position returns the current count.
func (e *Encoder) Position() int64 {
	return e.position.Load()
}

// SetPosition overwrites the count, typically to zero the encoder.
func (e *Encoder) SetPosition(value int64) {
	e.position.Store(value)
}

// Value returns the current count as read by the control loop.
func (e *Encoder) Value() int32 {
	return int32(e.position.Load())
}

// Forward reports the direction of the latest counted edge.
func (e *Encoder) Forward() bool {
	return e.forward.Load()
}

// Close detaches the encoder from its interrupts.
func (e *Encoder) Close() error {
	e.logger.Debug("closing incremental encoder")
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, remove := range e.removes {
		remove()
	}
	e.removes = nil
	return nil
}
