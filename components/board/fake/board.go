// Package fake implements in-memory stand-ins for the board boundary: GPIO pins, edge interrupts,
// a scripted SPI bus and a recording step clock.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/edukit/components/board"
	"go.viam.com/edukit/components/board/genericlinux/buses"
)

// GPIOPin is a fake output pin that remembers every level it was driven to.
type GPIOPin struct {
	mu      sync.Mutex
	high    bool
	history []bool
	// SetErr, when non-nil, is returned from every Set.
	SetErr error
}

// Set stores the level.
func (gp *GPIOPin) Set(ctx context.Context, high bool) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	if gp.SetErr != nil {
		return gp.SetErr
	}
	gp.high = high
	gp.history = append(gp.history, high)
	return nil
}

// Get returns the stored level.
func (gp *GPIOPin) Get(ctx context.Context) (bool, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.high, nil
}

// History returns every level passed to Set, oldest first.
func (gp *GPIOPin) History() []bool {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return append([]bool(nil), gp.history...)
}

// DigitalInterrupt is a fake interrupt line driven by Tick.
type DigitalInterrupt struct {
	name  string
	level atomic.Bool

	mu        sync.Mutex
	nextID    int
	callbacks map[int]func(board.Tick)
	closed    bool
}

// NewDigitalInterrupt returns a fake interrupt that starts low.
func NewDigitalInterrupt(name string) *DigitalInterrupt {
	return &DigitalInterrupt{name: name, callbacks: map[int]func(board.Tick){}}
}

// Name returns the name of the interrupt.
func (di *DigitalInterrupt) Name() string {
	return di.name
}

// Level returns the current level.
func (di *DigitalInterrupt) Level() bool {
	return di.level.Load()
}

// AddCallback registers f for every Tick.
func (di *DigitalInterrupt) AddCallback(f func(board.Tick)) func() {
	di.mu.Lock()
	defer di.mu.Unlock()
	id := di.nextID
	di.nextID++
	di.callbacks[id] = f
	return func() {
		di.mu.Lock()
		defer di.mu.Unlock()
		delete(di.callbacks, id)
	}
}

// Tick sets the level and runs the callbacks synchronously, the way an edge event would.
func (di *DigitalInterrupt) Tick(high bool) error {
	di.mu.Lock()
	defer di.mu.Unlock()
	if di.closed {
		return errors.Errorf("interrupt %q is closed", di.name)
	}
	di.level.Store(high)
	tick := board.Tick{Name: di.name, High: high, TimestampNanosec: uint64(time.Now().UnixNano())}
	for _, cb := range di.callbacks {
		cb(tick)
	}
	return nil
}

// CallbackCount returns the number of registered callbacks.
func (di *DigitalInterrupt) CallbackCount() int {
	di.mu.Lock()
	defer di.mu.Unlock()
	return len(di.callbacks)
}

// Close marks the line closed.
func (di *DigitalInterrupt) Close() error {
	di.mu.Lock()
	defer di.mu.Unlock()
	di.closed = true
	return nil
}

// StepClock records every period it is programmed with.
type StepClock struct {
	mu      sync.Mutex
	period  uint32
	history []uint32
	closed  bool
}

// SetPeriod stores ticks.
func (sc *StepClock) SetPeriod(ctx context.Context, ticks uint32) error {
	if ticks == 0 {
		return errors.New("step clock period must be at least one tick")
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.period = ticks
	sc.history = append(sc.history, ticks)
	return nil
}

// Period returns the last programmed period.
func (sc *StepClock) Period() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.period
}

// History returns every programmed period, oldest first.
func (sc *StepClock) History() []uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]uint32(nil), sc.history...)
}

// Closed reports whether Close was called.
func (sc *StepClock) Closed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.closed
}

// Close stops the fake clock.
func (sc *StepClock) Close(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.closed = true
	return nil
}

var (
	_ = board.GPIOPin(&GPIOPin{})
	_ = board.DigitalInterrupt(&DigitalInterrupt{})
	_ = board.StepClock(&StepClock{})
	_ = buses.SPI(&SPI{})
)
