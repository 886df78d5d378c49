package robot

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/edukit/components/board/genericlinux"
	"go.viam.com/edukit/config"
	"go.viam.com/edukit/logging"
)

// OpenParts opens the hardware described by cfg on a Linux board. On failure every part opened so
// far is released again.
func OpenParts(ctx context.Context, cfg config.BoardConfig, logger logging.Logger) (parts Parts, err error) {
	boardLogger := logger.Sublogger("board")
	var closers []func(ctx context.Context) error
	defer func() {
		if err == nil {
			return
		}
		for _, closer := range closers {
			err = multierr.Combine(err, closer(ctx))
		}
	}()
	ignoreCtx := func(f func() error) func(context.Context) error {
		return func(context.Context) error { return f() }
	}

	bus, err := genericlinux.NewSPIBus(cfg.SPIBus)
	if err != nil {
		return Parts{}, errors.Wrap(err, "cannot open spi bus")
	}
	closers = append(closers, bus.Close)

	// The direction line idles high, matching the driver's initial direction.
	direction, err := genericlinux.NewGPIOPin(cfg.GPIOChip, uint32(cfg.Direction), true, boardLogger)
	if err != nil {
		return Parts{}, err
	}
	closers = append(closers, ignoreCtx(direction.Close))

	// The driver stays in standby until the rig starts.
	standbyReset, err := genericlinux.NewGPIOPin(cfg.GPIOChip, uint32(cfg.StandbyReset), false, boardLogger)
	if err != nil {
		return Parts{}, err
	}
	closers = append(closers, ignoreCtx(standbyReset.Close))

	encoderA, err := genericlinux.NewDigitalInterrupt("encoder_a", cfg.GPIOChip, uint32(cfg.EncoderA), boardLogger)
	if err != nil {
		return Parts{}, err
	}
	closers = append(closers, ignoreCtx(encoderA.Close))

	encoderB, err := genericlinux.NewDigitalInterrupt("encoder_b", cfg.GPIOChip, uint32(cfg.EncoderB), boardLogger)
	if err != nil {
		return Parts{}, err
	}
	closers = append(closers, ignoreCtx(encoderB.Close))

	flag, err := genericlinux.NewDigitalInterrupt("flag", cfg.GPIOChip, uint32(cfg.Flag), boardLogger)
	if err != nil {
		return Parts{}, err
	}
	closers = append(closers, ignoreCtx(flag.Close))

	pwmRoot := cfg.PWMRoot
	if pwmRoot == "" {
		pwmRoot = genericlinux.DefaultPWMRootPath
	}
	// The driver closes the step clock itself.
	stepClock := genericlinux.NewPWMStepClock(pwmRoot, cfg.PWMChip, cfg.PWMLine, boardLogger)

	return Parts{
		Bus:          bus,
		ChipSelect:   cfg.ChipSelect,
		Direction:    direction,
		StandbyReset: standbyReset,
		StepClock:    stepClock,
		EncoderA:     encoderA,
		EncoderB:     encoderB,
		Flag:         flag,
		Closers:      closers,
	}, nil
}
