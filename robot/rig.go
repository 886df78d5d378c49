// Package robot assembles the pendulum rig: it composes the stepper driver and the encoder into
// the sensor and actuator of the controllers, and runs the startup and shutdown sequences around
// the control loop and the background jobs.
package robot

import (
	"context"
	"math/rand"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/edukit/bridge"
	"go.viam.com/edukit/components/board"
	"go.viam.com/edukit/components/board/genericlinux/buses"
	"go.viam.com/edukit/components/encoder/incremental"
	"go.viam.com/edukit/components/motor/l6474"
	"go.viam.com/edukit/config"
	"go.viam.com/edukit/control"
	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/robot/jobmanager"
	"go.viam.com/edukit/supervisory"
)

// Parts are the hardware handles of the rig.
type Parts struct {
	Bus          buses.SPI
	ChipSelect   string
	Direction    board.GPIOPin
	StandbyReset board.GPIOPin
	StepClock    board.StepClock
	EncoderA     board.DigitalInterrupt
	EncoderB     board.DigitalInterrupt
	// Flag is the open-drain fault output of the driver. It may be nil.
	Flag board.DigitalInterrupt

	// Closers release the parts. They run concurrently once the driver is disabled.
	Closers []func(ctx context.Context) error
}

// Validate ensures every required part is present.
func (p Parts) Validate() error {
	switch {
	case p.Bus == nil:
		return errors.New("rig needs an spi bus")
	case p.Direction == nil:
		return errors.New("rig needs a direction pin")
	case p.StandbyReset == nil:
		return errors.New("rig needs a standby reset pin")
	case p.StepClock == nil:
		return errors.New("rig needs a step clock")
	case p.EncoderA == nil || p.EncoderB == nil:
		return errors.New("rig needs both encoder lines")
	}
	return nil
}

// Rig is the assembled pendulum rig.
type Rig struct {
	cfg    *config.Config
	parts  Parts
	logger logging.Logger
	rng    *rand.Rand

	State      *supervisory.State
	Driver     *l6474.Driver
	Encoder    *incremental.Encoder
	PID        *control.PID2
	PID1       *control.PID
	StateSpace *control.StateSpace
	Loop       *control.Loop
	Bridge     *bridge.Table
	jobs       *jobmanager.Jobmanager

	mu      sync.Mutex
	started bool
	closed  bool
}

// New wires the rig together. Nothing touches the hardware until Start.
func New(cfg *config.Config, parts Parts, logger logging.Logger, clk clock.Clock) (*Rig, error) {
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	if err := parts.Validate(); err != nil {
		return nil, err
	}
	state, err := supervisory.NewState(cfg.Capture)
	if err != nil {
		return nil, err
	}
	state.SetControllerType(cfg.ControllerType)

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63() //nolint:gosec
	}
	r := &Rig{
		cfg:     cfg,
		parts:   parts,
		logger:  logger,
		rng:     rand.New(rand.NewSource(seed)), //nolint:gosec
		State:   state,
		Driver:  l6474.NewDriver(parts.Bus, parts.ChipSelect, parts.Direction, parts.StepClock, logger.Sublogger("l6474")),
		Encoder: incremental.NewEncoder(parts.EncoderA, parts.EncoderB, logger.Sublogger("encoder")),
	}

	if r.PID, err = control.NewPID2(cfg.PID, r.Sense, r.Actuate, state); err != nil {
		return nil, errors.Wrap(err, "pid")
	}
	if r.PID1, err = control.NewPID(cfg.PID1, r.Sense, r.Actuate, state); err != nil {
		return nil, errors.Wrap(err, "pid1")
	}
	if r.StateSpace, err = control.NewStateSpace(cfg.StateSpace, r.Sense, r.Actuate, state); err != nil {
		return nil, errors.Wrap(err, "state_space")
	}
	r.Loop, err = control.NewLoop(
		control.LoopConfig{SamplingPeriod: cfg.SamplingPeriod},
		state,
		r.controllers(),
		logger.Sublogger("loop"),
		clk,
	)
	if err != nil {
		return nil, err
	}

	r.Bridge, err = bridge.NewTable(bridge.Deps{
		State:      state,
		PID:        r.PID,
		PID1:       r.PID1,
		StateSpace: r.StateSpace,
		Encoder:    r.Encoder,
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]jobmanager.JobFunc, 0, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		job, err := r.job(jc.Name)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if r.jobs, err = jobmanager.New(logger); err != nil {
		return nil, err
	}
	for i, jc := range cfg.Jobs {
		if err := r.jobs.AddJob(jc, jobs[i]); err != nil {
			return nil, multierr.Combine(err, r.jobs.Shutdown())
		}
	}
	r.applyLogLevels(cfg.Log)
	return r, nil
}

// applyLogLevels sets the levels of the component loggers named by the config.
func (r *Rig) applyLogLevels(patterns []logging.LoggerPatternConfig) {
	updated, err := logging.ApplyLoggerPatterns(patterns)
	if err != nil {
		r.logger.Warnw("cannot apply log levels", "error", err)
	}
	if len(updated) > 0 {
		r.logger.Debugw("log levels applied", "loggers", updated)
	}
}

func (r *Rig) job(name string) (jobmanager.JobFunc, error) {
	switch name {
	case config.MaintenanceJobName:
		return jobmanager.Maintenance(r.logger.Sublogger("jobs")), nil
	case config.StatusJobName:
		return r.logStatus, nil
	default:
		return nil, errors.Errorf("unknown job %q", name)
	}
}

func (r *Rig) logStatus(ctx context.Context) error {
	status, err := r.Status(ctx)
	if err != nil {
		return err
	}
	r.logger.Infow("status",
		"controller", status.ControllerType,
		"counter", status.Counter,
		"overrun_count", status.OverrunCount,
		"tick_mean", status.Timings.Mean,
		"tick_max", status.Timings.Max,
		"encoder_position", status.EncoderPosition,
		"faulted", status.Faulted,
	)
	return nil
}

// Sense reads the stepper's step counter and the encoder.
func (r *Rig) Sense(ctx context.Context) (control.SensorSample, error) {
	stepper, err := r.Driver.GetAbsPosEfficient(ctx)
	if err != nil {
		return control.SensorSample{}, err
	}
	return control.SensorSample{StepperPosition: stepper, EncoderPosition: r.Encoder.Value()}, nil
}

// Actuate commands the stepper speed.
func (r *Rig) Actuate(ctx context.Context, u float64) error {
	return r.Driver.SetPeriodDirection(ctx, u)
}

// Start brings the driver out of standby, programs its registers, and starts the control loop
// and the background jobs.
func (r *Rig) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("rig is closed")
	}
	if r.started {
		return nil
	}

	if err := r.parts.StandbyReset.Set(ctx, true); err != nil {
		return errors.Wrap(err, "cannot release driver from standby")
	}

	ctrl := r.cfg.Excitation.Control
	r.State.SetControlSequence(ctrl.StdNoise, ctrl.Height1, ctrl.Height2, ctrl.Duration, r.rng)
	ref := r.cfg.Excitation.Reference
	r.State.SetReferenceSequence(ref.StdNoise, ref.Height1, ref.Height2, ref.Duration, r.rng)

	sum, err := r.Driver.SetDefault(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot write driver defaults")
	}
	if err := l6474.CheckAcknowledgement(sum); err != nil {
		r.logger.Warnw("driver acknowledgement mismatch", "error", err)
	}
	if err := r.Driver.Enable(ctx); err != nil {
		return errors.Wrap(err, "cannot enable driver")
	}
	if err := r.Driver.SetPeriodDirection(ctx, 0); err != nil {
		return errors.Wrap(err, "cannot hold motor")
	}

	r.Encoder.Attach(r.parts.EncoderA, r.parts.EncoderB)
	r.Loop.Start()
	r.jobs.Start()
	r.started = true
	r.logger.Infow("rig started",
		"controller", r.State.ControllerType(),
		"sampling_period", r.cfg.SamplingPeriod,
	)
	return nil
}

// Close stops the loop and the jobs, disables the driver and releases every part. It is safe to
// call more than once.
func (r *Rig) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.Loop.Stop()
	err := multierr.Combine(
		r.jobs.Shutdown(),
		r.Driver.Close(ctx),
		r.Encoder.Close(),
		r.parts.StandbyReset.Set(ctx, false),
	)

	closers, closeCtx := errgroup.WithContext(ctx)
	for _, closer := range r.parts.Closers {
		closer := closer
		closers.Go(func() error {
			return closer(closeCtx)
		})
	}
	err = multierr.Combine(err, closers.Wait())
	r.logger.Info("rig closed")
	return err
}

// Config returns the config the rig is running with.
func (r *Rig) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Faulted reports the driver's FLAG output. The line is active low; without a flag line the rig
// never reports a fault.
func (r *Rig) Faulted() bool {
	if r.parts.Flag == nil {
		return false
	}
	return !r.parts.Flag.Level()
}
