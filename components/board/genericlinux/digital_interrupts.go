//go:build linux

package genericlinux

import (
	"context"
	"sync"

	"github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/utils"

	"go.viam.com/edukit/components/board"
	"go.viam.com/edukit/logging"
	rutils "go.viam.com/edukit/utils"
)

// DigitalInterrupt monitors a gpiochip line for both edges.
type DigitalInterrupt struct {
	name    string
	line    *gpio.LineWithEvent
	level   *atomic.Bool
	workers rutils.StoppableWorkers
	logger  logging.Logger

	mu        sync.Mutex
	nextID    int
	callbacks map[int]func(board.Tick)
}

// NewDigitalInterrupt opens line offset of the gpiochip at devicePath as an input reporting both
// rising and falling edges.
func NewDigitalInterrupt(
	name, devicePath string,
	offset uint32,
	logger logging.Logger,
) (*DigitalInterrupt, error) {
	chip, err := gpio.OpenChip(devicePath)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	line, err := chip.OpenLineWithEvents(offset, gpio.Input, gpio.BothEdges, "edukit-interrupt")
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open interrupt line %d on %s", offset, devicePath)
	}
	value, err := line.Value()
	if err != nil {
		utils.UncheckedError(line.Close())
		return nil, err
	}

	di := &DigitalInterrupt{
		name:      name,
		line:      line,
		level:     atomic.NewBool(value != 0),
		logger:    logger,
		callbacks: map[int]func(board.Tick){},
	}
	di.workers = rutils.NewStoppableWorkers(di.monitor)
	return di, nil
}

func (di *DigitalInterrupt) monitor(ctx context.Context) {
	events := di.line.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			di.dispatch(board.Tick{
				Name:             di.name,
				High:             event.RisingEdge,
				TimestampNanosec: uint64(event.Time.UnixNano()),
			})
		}
	}
}

func (di *DigitalInterrupt) dispatch(tick board.Tick) {
	di.level.Store(tick.High)
	di.mu.Lock()
	defer di.mu.Unlock()
	for _, cb := range di.callbacks {
		cb(tick)
	}
}

// Name returns the name of the interrupt.
func (di *DigitalInterrupt) Name() string {
	return di.name
}

// Level returns the level carried by the latest edge.
func (di *DigitalInterrupt) Level() bool {
	return di.level.Load()
}

// AddCallback registers f for every edge.
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

// Close stops the monitor and releases the line.
func (di *DigitalInterrupt) Close() error {
	di.logger.Debugw("closing digital interrupt", "name", di.name)
	di.workers.Stop()
	return di.line.Close()
}
