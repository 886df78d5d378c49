//go:build !linux

package genericlinux

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/edukit/components/board"
	"go.viam.com/edukit/logging"
)

var errUnsupported = errors.New("gpio character devices are only supported on linux")

// GPIOPin is unavailable off Linux.
type GPIOPin struct{}

// NewGPIOPin always fails off Linux.
func NewGPIOPin(devicePath string, offset uint32, initial bool, logger logging.Logger) (*GPIOPin, error) {
	return nil, errUnsupported
}

// Set always fails off Linux.
func (pin *GPIOPin) Set(ctx context.Context, isHigh bool) error {
	return errUnsupported
}

// Get always fails off Linux.
func (pin *GPIOPin) Get(ctx context.Context) (bool, error) {
	return false, errUnsupported
}

// Close is a no-op.
func (pin *GPIOPin) Close() error {
	return nil
}

// DigitalInterrupt is unavailable off Linux.
type DigitalInterrupt struct{}

// NewDigitalInterrupt always fails off Linux.
func NewDigitalInterrupt(name, devicePath string, offset uint32, logger logging.Logger) (*DigitalInterrupt, error) {
	return nil, errUnsupported
}

// Name returns an empty name.
func (di *DigitalInterrupt) Name() string {
	return ""
}

// Level is always low.
func (di *DigitalInterrupt) Level() bool {
	return false
}

// AddCallback never fires.
func (di *DigitalInterrupt) AddCallback(f func(board.Tick)) func() {
	return func() {}
}

// Close is a no-op.
func (di *DigitalInterrupt) Close() error {
	return nil
}
