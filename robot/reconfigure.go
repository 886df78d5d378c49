package robot

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/edukit/config"
)

// Reconfigure applies the tunable parts of cfg to the running rig: controller selection, gains,
// setpoints, limits and run flags. Changes to the wiring, the sampling period, the capture sizes
// or the jobs only take effect after a restart and are reported in the log.
func (r *Rig) Reconfigure(cfg *config.Config) error {
	if err := cfg.Validate(""); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.cfg
	if cfg.Board != old.Board || cfg.SamplingPeriod != old.SamplingPeriod || cfg.Capture != old.Capture {
		r.logger.Warn("wiring, sampling period and capture sizes only change on restart")
	}

	pid := cfg.PID
	err := multierr.Combine(
		r.PID.SetGains(1, pid.Gains1),
		r.PID.SetGains(2, pid.Gains2),
		r.PID.SetReference(1, pid.Reference1),
		r.PID.SetReference(2, pid.Reference2),
		r.PID.SetLimitSum(1, pid.LimitSum1),
		r.PID.SetLimitSum(2, pid.LimitSum2),
		r.PID.SetChannelRun(1, pid.Run1),
		r.PID.SetChannelRun(2, pid.Run2),
	)
	r.PID.SetRun(pid.Run)

	pid1 := cfg.PID1
	err = multierr.Combine(err,
		r.PID1.SetGains(pid1.Gains),
		r.PID1.SetReference(pid1.Reference),
		r.PID1.SetLimitSum(pid1.LimitSum),
	)
	r.PID1.SetRun(pid1.Run)

	ss := cfg.StateSpace
	err = multierr.Combine(err,
		r.StateSpace.SetMatrices(ss.A, ss.B, ss.C),
		r.StateSpace.SetGain(ss.Gain),
		r.StateSpace.SetCascadeGains(ss.Cascade.Gains),
		r.StateSpace.SetReference(ss.Cascade.Reference),
		r.StateSpace.SetCascadeLimitSum(ss.Cascade.LimitSum),
	)
	r.StateSpace.SetRun(ss.Run)
	r.StateSpace.SetCascadeRun(ss.Cascade.Run)
	if err != nil {
		return errors.Wrap(err, "cannot apply controller settings")
	}

	if cfg.ControllerType != r.State.ControllerType() {
		r.logger.Infow("switching controller", "from", r.State.ControllerType(), "to", cfg.ControllerType)
		r.State.SetControllerType(cfg.ControllerType)
	}
	config.UpdateFileConfigDebug(cfg.Debug)
	r.applyLogLevels(cfg.Log)

	updated := *cfg
	updated.Board = old.Board
	updated.SamplingPeriod = old.SamplingPeriod
	updated.Capture = old.Capture
	updated.Jobs = old.Jobs
	r.cfg = &updated
	return nil
}
