// Package board defines the hardware boundary of the rig: GPIO pins, edge interrupts, the SPI bus
// and the step clock that paces the stepper driver.
package board

import (
	"context"
)

// Tick represents a signal received by an interrupt pin.
type Tick struct {
	Name             string
	High             bool
	TimestampNanosec uint64
}

// A DigitalInterrupt is a GPIO input line that reports both rising and falling edges.
type DigitalInterrupt interface {
	// Name returns the name of the interrupt.
	Name() string

	// Level returns the most recently observed level of the line. It never blocks.
	Level() bool

	// AddCallback registers f to be called for every edge, on the goroutine that observed the
	// edge. Callbacks must return quickly and must not block. The returned function removes the
	// callback.
	AddCallback(f func(Tick)) (remove func())

	// Close stops monitoring the line.
	Close() error
}

// TimerTickHz is the frequency of the step clock's timer: one period tick lasts 10µs.
const TimerTickHz = 100_000

// A StepClock produces the step pulse train for a stepper driver. The output toggles once per
// period, so one full step pulse lasts two periods.
type StepClock interface {
	// SetPeriod sets the timer reload value in ticks of 1/TimerTickHz seconds. A zero period is
	// invalid.
	SetPeriod(ctx context.Context, ticks uint32) error

	// Period returns the current reload value.
	Period() uint32

	// Close stops the pulse train.
	Close(ctx context.Context) error
}
