package control

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/supervisory"
	"go.viam.com/edukit/utils"
)

const (
	// timingWindow is the number of tick durations kept for diagnostics.
	timingWindow = 1000
	// errorLogInterval bounds how often a failing controller is logged.
	errorLogInterval = time.Second
)

// LoopConfig configures the periodic control loop.
type LoopConfig struct {
	SamplingPeriod time.Duration `json:"sampling_period"`
}

// Validate ensures all parts of the config are valid.
func (cfg LoopConfig) Validate() error {
	if cfg.SamplingPeriod <= 0 {
		return errors.Errorf("sampling period must be positive, got %v", cfg.SamplingPeriod)
	}
	return nil
}

// Loop runs the selected controller once per sampling period and feeds the supervisory capture.
// A tick that overruns its period is recorded and the next tick starts immediately; missed ticks
// are never caught up.
type Loop struct {
	cfg         LoopConfig
	state       *supervisory.State
	controllers Set
	logger      logging.Logger
	clk         clock.Clock
	timings     *utils.TimingRing

	// Only touched by the goroutine running Tick.
	errorLog    *rate.Sometimes
	failedSteps uint64
	logState    string

	mu      sync.Mutex
	workers utils.StoppableWorkers
}

// NewLoop constructs a control loop. It does not start until Start is called.
func NewLoop(
	cfg LoopConfig,
	state *supervisory.State,
	controllers Set,
	logger logging.Logger,
	clk clock.Clock,
) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if controllers.PID == nil {
		return nil, errors.New("control loop needs a PID controller")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		cfg:         cfg,
		state:       state,
		controllers: controllers,
		logger:      logger,
		clk:         clk,
		timings:     utils.NewTimingRing(timingWindow),
		errorLog:    &rate.Sometimes{First: 1, Interval: errorLogInterval},
	}, nil
}

// Tick runs one iteration and returns the time left in the sampling period. A non-positive
// result is an overrun.
func (l *Loop) Tick(ctx context.Context) time.Duration {
	start := l.clk.Now()

	ctrl := l.controllers.Select(ParseType(l.state.ControllerType()))
	// A failed or cancelled step leaves the counter and the capture buffers as the last completed
	// tick left them.
	if err := ctrl.Control(ctx); err != nil {
		if ctx.Err() == nil {
			l.failedSteps++
			l.errorLog.Do(func() {
				l.logger.Errorw("control step failed",
					"counter", l.state.Counter(),
					"failed_steps", l.failedSteps,
					"error", err,
				)
			})
		}
	} else {
		l.state.IncrementCounter()
		sample := ctrl.Sample()
		l.state.RecordUpdate(sample)
		l.state.LogUpdate(sample)
		l.checkLogState()
	}

	elapsed := l.clk.Since(start)
	l.timings.Add(elapsed)
	remaining := l.cfg.SamplingPeriod - elapsed
	if remaining > 0 {
		l.state.ClearOverrun()
		return remaining
	}
	l.state.RecordOverrun(remaining)
	l.logger.Debugw("control tick overran its period", "overrun", -remaining, "elapsed", elapsed)
	return remaining
}

// checkLogState logs an invalid log capture state once per distinct message.
func (l *Loop) checkLogState() {
	state := l.state.Log.State()
	if state == "" || state == l.logState {
		l.logState = state
		return
	}
	l.logState = state
	l.logger.Errorw("log capture in an invalid state", "state", state, "counter", l.state.Log.Counter())
}

func (l *Loop) run(ctx context.Context) {
	l.logger.Infow("control loop started", "sampling_period", l.cfg.SamplingPeriod)
	defer l.logger.Info("control loop stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		remaining := l.Tick(ctx)
		if remaining <= 0 {
			continue
		}
		timer := l.clk.Timer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Start runs the loop in the background. Starting a running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers != nil {
		return
	}
	l.workers = utils.NewStoppableWorkers(l.run)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers == nil {
		return
	}
	l.workers.Stop()
	l.workers = nil
}

// Running reports whether the loop has been started and not stopped.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workers != nil
}

// Timings summarizes the durations of recent ticks.
func (l *Loop) Timings() utils.TimingSummary {
	return l.timings.Summary()
}

// SamplingPeriod returns the configured period.
func (l *Loop) SamplingPeriod() time.Duration {
	return l.cfg.SamplingPeriod
}
