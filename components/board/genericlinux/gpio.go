//go:build linux

// Package genericlinux implements the board boundary on Linux: GPIO lines through the gpiochip
// character device (by way of mkch's gpio package), SPI through spidev (by way of periph.io) and
// the step clock through sysfs PWM.
package genericlinux

import (
	"context"
	"sync"

	"github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/edukit/logging"
)

// GPIOPin is an output line on a gpiochip device.
type GPIOPin struct {
	// These values should both be considered immutable.
	devicePath string
	offset     uint32

	mu     sync.Mutex
	line   *gpio.Line
	level  bool
	logger logging.Logger
}

// NewGPIOPin opens line offset of the gpiochip at devicePath as an output driven to initial.
func NewGPIOPin(devicePath string, offset uint32, initial bool, logger logging.Logger) (*GPIOPin, error) {
	pin := &GPIOPin{devicePath: devicePath, offset: offset, logger: logger}
	pin.mu.Lock()
	defer pin.mu.Unlock()
	if err := pin.openGpioFd(initial); err != nil {
		return nil, errors.Wrapf(err, "cannot open gpio line %d on %s", offset, devicePath)
	}
	pin.level = initial
	return pin, nil
}

// openGpioFd must be called with the mutex held.
func (pin *GPIOPin) openGpioFd(initial bool) error {
	if pin.line != nil {
		return nil
	}

	chip, err := gpio.OpenChip(pin.devicePath)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	line, err := chip.OpenLine(pin.offset, levelByte(initial), gpio.Output, "edukit-gpio")
	if err != nil {
		return err
	}
	pin.line = line
	return nil
}

// Set drives the line high or low.
func (pin *GPIOPin) Set(ctx context.Context, isHigh bool) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if pin.line == nil {
		return errors.New("gpio line is closed")
	}
	if err := pin.line.SetValue(levelByte(isHigh)); err != nil {
		return err
	}
	pin.level = isHigh
	return nil
}

// Get returns the level of the line as read back from the device.
func (pin *GPIOPin) Get(ctx context.Context) (bool, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if pin.line == nil {
		return pin.level, errors.New("gpio line is closed")
	}
	value, err := pin.line.Value()
	if err != nil {
		return false, err
	}

	// We'd expect value to be either 0 or 1, but any non-zero value should be considered high.
	return value != 0, nil
}

// Close releases the line.
func (pin *GPIOPin) Close() error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if pin.line == nil {
		return nil
	}
	pin.logger.Debugw("closing gpio line", "chip", pin.devicePath, "offset", pin.offset)
	err := pin.line.Close()
	pin.line = nil
	return err
}

func levelByte(high bool) byte {
	if high {
		return 1
	}
	return 0
}
