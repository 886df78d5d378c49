package genericlinux

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/edukit/components/board"
	"go.viam.com/edukit/logging"
)

// DefaultPWMRootPath is where the kernel exposes PWM chips.
const DefaultPWMRootPath = "/sys/class/pwm"

// exportSettleTime is how long udev needs to fix permissions on a freshly exported channel.
const exportSettleTime = 100 * time.Millisecond

// PWMStepClock drives the step input of the stepper driver from a sysfs PWM channel. A timer in
// output-toggle mode flips the pin once per period, so the PWM runs at twice the period with a
// 50% duty cycle to produce the same pulse train.
type PWMStepClock struct {
	// These values are immutable.
	chipPath string
	line     int
	linePath string
	logger   logging.Logger

	mu               sync.Mutex
	periodTicks      uint32
	periodNs         uint64
	activeDurationNs uint64
	isExported       bool
	isEnabled        bool
}

// NewPWMStepClock returns a step clock on channel line of the PWM chip named chipName under
// rootPath. An empty rootPath means DefaultPWMRootPath.
func NewPWMStepClock(rootPath, chipName string, line int, logger logging.Logger) *PWMStepClock {
	if rootPath == "" {
		rootPath = DefaultPWMRootPath
	}
	chipPath := fmt.Sprintf("%s/%s", rootPath, chipName)
	return &PWMStepClock{
		chipPath: chipPath,
		line:     line,
		linePath: fmt.Sprintf("%s/pwm%d", chipPath, line),
		logger:   logger,
	}
}

func writeValue(filepath string, value uint64) error {
	// The permissions on the file aren't important: if the file needs to be created, the chip
	// path is wrong.
	return os.WriteFile(filepath, []byte(fmt.Sprintf("%d", value)), 0o660)
}

func (pwm *PWMStepClock) chipFile(filename string) string {
	return fmt.Sprintf("%s/%s", pwm.chipPath, filename)
}

func (pwm *PWMStepClock) lineFile(filename string) string {
	return fmt.Sprintf("%s/%s", pwm.linePath, filename)
}

// export must be called with the mutex held.
func (pwm *PWMStepClock) export() error {
	if pwm.isExported {
		return nil
	}
	if _, err := os.Stat(pwm.linePath); err == nil {
		pwm.isExported = true
		return nil
	}
	if err := writeValue(pwm.chipFile("export"), uint64(pwm.line)); err != nil {
		return err
	}
	pwm.isExported = true
	time.Sleep(exportSettleTime)
	return nil
}

// setEnabled must be called with the mutex held.
func (pwm *PWMStepClock) setEnabled(enabled bool) error {
	if pwm.isEnabled == enabled {
		return nil
	}
	var value uint64
	if enabled {
		value = 1
	}
	if err := writeValue(pwm.lineFile("enable"), value); err != nil {
		return err
	}
	pwm.isEnabled = enabled
	return nil
}

// SetPeriod reprograms the channel for a timer reload of ticks.
func (pwm *PWMStepClock) SetPeriod(ctx context.Context, ticks uint32) error {
	if ticks == 0 {
		return errors.New("step clock period must be at least one tick")
	}
	pwm.mu.Lock()
	defer pwm.mu.Unlock()

	if ticks == pwm.periodTicks && pwm.isEnabled {
		return nil
	}
	if err := pwm.export(); err != nil {
		return err
	}

	periodNs := 2 * uint64(ticks) * uint64(time.Second) / board.TimerTickHz
	activeDurationNs := periodNs / 2

	// The active duration can never exceed the period, so the write order depends on whether the
	// period grows or shrinks.
	if periodNs < pwm.activeDurationNs {
		if err := writeValue(pwm.lineFile("duty_cycle"), activeDurationNs); err != nil {
			return err
		}
		if err := writeValue(pwm.lineFile("period"), periodNs); err != nil {
			return err
		}
	} else {
		if err := writeValue(pwm.lineFile("period"), periodNs); err != nil {
			return err
		}
		if err := writeValue(pwm.lineFile("duty_cycle"), activeDurationNs); err != nil {
			return err
		}
	}
	pwm.periodNs = periodNs
	pwm.activeDurationNs = activeDurationNs
	pwm.periodTicks = ticks

	return pwm.setEnabled(true)
}

// Period returns the last programmed reload value.
func (pwm *PWMStepClock) Period() uint32 {
	pwm.mu.Lock()
	defer pwm.mu.Unlock()
	return pwm.periodTicks
}

// Close disables and unexports the channel.
func (pwm *PWMStepClock) Close(ctx context.Context) error {
	pwm.mu.Lock()
	defer pwm.mu.Unlock()

	if !pwm.isExported {
		return nil
	}
	pwm.logger.Debugw("releasing step clock", "chip", pwm.chipPath, "channel", pwm.line)
	err := pwm.setEnabled(false)
	err = multierr.Combine(err, writeValue(pwm.chipFile("unexport"), uint64(pwm.line)))
	pwm.isExported = false
	return err
}
