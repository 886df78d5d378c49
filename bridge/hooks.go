package bridge

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"go.viam.com/edukit/control"
	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/supervisory"
)

func (t *Table) registerSupervisory() {
	state := t.deps.State

	t.register("counter", readOnly(func() interface{} { return state.Counter() }))
	t.register("overrun", readOnly(func() interface{} { return state.Overrun() }))
	t.register("overrun_count", readOnly(func() interface{} { return state.OverrunCount() }))
	t.register("controller_type", hook{
		get: func() (interface{}, error) { return state.ControllerType(), nil },
		set: func(value interface{}) error {
			s, err := cast.ToStringE(value)
			if err != nil {
				return err
			}
			typ := control.ParseType(s)
			if typ.String() != strings.ToLower(s) {
				return errors.Errorf("unknown controller type %q", s)
			}
			state.SetControllerType(typ.String())
			return nil
		},
	})
	t.register("sample", readOnly(func() interface{} {
		return control.Set{PID: t.deps.PID, PID1: t.deps.PID1, StateSpace: t.deps.StateSpace}.
			Select(control.ParseType(state.ControllerType())).
			Sample()
	}))

	record := state.Record
	t.register("record_enabled", boolHook(record.Enabled, record.SetEnabled))
	t.register("record_ready", readOnly(func() interface{} { return record.Ready() }))
	t.register("record_counter", readOnly(func() interface{} { return record.Counter() }))
	t.register("record_num_samples", readOnly(func() interface{} { return record.NumSamples() }))
	t.register("record_data", hook{get: func() (interface{}, error) { return record.Data() }})

	log := state.Log
	t.register("log_enabled", boolHook(log.Enabled, log.SetEnabled))
	t.register("log_ready", readOnly(func() interface{} { return log.Ready() }))
	t.register("log_counter", readOnly(func() interface{} { return log.Counter() }))
	t.register("log_num_samples", intHook(log.NumSamples, log.SetNumSamples))
	t.register("log_start", intHook(log.NumSamples, log.Start))
	t.register("log_buf_len", readOnly(func() interface{} { return log.BufLen() }))
	t.register("log_active0", readOnly(func() interface{} { return log.Active0() }))
	t.register("log_active1", readOnly(func() interface{} { return log.Active1() }))
	t.register("log_state", hook{
		get: func() (interface{}, error) { return log.State(), nil },
		set: func(value interface{}) error {
			if s, err := cast.ToStringE(value); err != nil || s != "" {
				return errors.New("log_state can only be cleared by setting it to an empty string")
			}
			log.ClearState()
			return nil
		},
	})
	t.register("log0_data", readOnly(func() interface{} { return log.Data0() }))
	t.register("log1_data", readOnly(func() interface{} { return log.Data1() }))
}

func (t *Table) registerExcitation(prefix string, e *supervisory.Excitation) {
	t.register(prefix+"_add", boolHook(e.Add, e.SetAdd))
	t.register(prefix+"_repeat", boolHook(e.Repeat, e.SetRepeat))
	t.register(prefix+"_counter", intHook(e.Counter, e.SetCounter))
	t.register(prefix+"_num_samples", readOnly(func() interface{} { return e.NumSamples() }))
	t.register(prefix+"_sequence", hook{
		get: func() (interface{}, error) { return e.Sequence(), nil },
		set: func(value interface{}) error {
			values, err := toFloat32Slice(value)
			if err != nil {
				return err
			}
			return e.SetSequence(values)
		},
	})
}

func (t *Table) registerPID() {
	pid := t.deps.PID
	t.register("pid_run", boolHook(pid.Run, pid.SetRun))
	for n := 1; n <= 2; n++ {
		n := n
		t.register(fmt.Sprintf("pid_kp%d", n), t.pidGain(n, func(g *control.Gains) *float64 { return &g.Kp }))
		t.register(fmt.Sprintf("pid_ki%d", n), t.pidGain(n, func(g *control.Gains) *float64 { return &g.Ki }))
		t.register(fmt.Sprintf("pid_kd%d", n), t.pidGain(n, func(g *control.Gains) *float64 { return &g.Kd }))
		t.register(fmt.Sprintf("pid_reference%d", n), hook{
			get: func() (interface{}, error) { return pid.Reference(n) },
			set: func(value interface{}) error {
				v, err := cast.ToFloat64E(value)
				if err != nil {
					return err
				}
				return pid.SetReference(n, v)
			},
		})
		t.register(fmt.Sprintf("pid_limit_sum%d", n), hook{
			get: func() (interface{}, error) { return pid.LimitSum(n) },
			set: func(value interface{}) error {
				v, err := cast.ToFloat64E(value)
				if err != nil {
					return err
				}
				return pid.SetLimitSum(n, v)
			},
		})
		t.register(fmt.Sprintf("pid_run%d", n), hook{
			get: func() (interface{}, error) { return pid.ChannelRun(n) },
			set: func(value interface{}) error {
				v, err := cast.ToBoolE(value)
				if err != nil {
					return err
				}
				return pid.SetChannelRun(n, v)
			},
		})
		t.register(fmt.Sprintf("pid_esum%d", n), hook{get: func() (interface{}, error) { return pid.ESum(n) }})
		t.register(fmt.Sprintf("pid_limit_flag%d", n), hook{get: func() (interface{}, error) { return pid.LimitFlag(n) }})
	}
}

// logLevelPrefix addresses the level of a registered logger, e.g. "log_level.edukit.loop". These
// names are resolved on every access and are not listed by Names.
const logLevelPrefix = "log_level."

func logLevelHook(name string) (hook, error) {
	logger, ok := logging.LoggerNamed(name)
	if !ok {
		return hook{}, errors.Errorf("unknown logger %q", name)
	}
	return hook{
		get: func() (interface{}, error) { return strings.ToLower(logger.GetLevel().String()), nil },
		set: func(value interface{}) error {
			s, err := cast.ToStringE(value)
			if err != nil {
				return err
			}
			level, err := logging.LevelFromString(s)
			if err != nil {
				return err
			}
			return logging.UpdateLoggerLevel(name, level)
		},
	}, nil
}

func (t *Table) registerPID1() {
	pid := t.deps.PID1
	gain := func(field func(*control.Gains) *float64) hook {
		return hook{
			get: func() (interface{}, error) {
				gains := pid.Gains()
				return *field(&gains), nil
			},
			set: func(value interface{}) error {
				v, err := cast.ToFloat64E(value)
				if err != nil {
					return err
				}
				gains := pid.Gains()
				*field(&gains) = v
				return pid.SetGains(gains)
			},
		}
	}
	t.register("pid1_run", boolHook(pid.Run, pid.SetRun))
	t.register("pid1_kp", gain(func(g *control.Gains) *float64 { return &g.Kp }))
	t.register("pid1_ki", gain(func(g *control.Gains) *float64 { return &g.Ki }))
	t.register("pid1_kd", gain(func(g *control.Gains) *float64 { return &g.Kd }))
	t.register("pid1_reference", floatHook(pid.Reference, pid.SetReference))
	t.register("pid1_limit_sum", floatHook(pid.LimitSum, pid.SetLimitSum))
	t.register("pid1_esum", readOnly(func() interface{} { return pid.ESum() }))
	t.register("pid1_limit_flag", readOnly(func() interface{} { return pid.LimitFlag() }))
}

func (t *Table) pidGain(n int, field func(*control.Gains) *float64) hook {
	pid := t.deps.PID
	return hook{
		get: func() (interface{}, error) {
			gains, err := pid.Gains(n)
			if err != nil {
				return nil, err
			}
			return *field(&gains), nil
		},
		set: func(value interface{}) error {
			v, err := cast.ToFloat64E(value)
			if err != nil {
				return err
			}
			gains, err := pid.Gains(n)
			if err != nil {
				return err
			}
			*field(&gains) = v
			return pid.SetGains(n, gains)
		},
	}
}

func (t *Table) registerStateSpace() {
	ss := t.deps.StateSpace
	t.register("ss_run", boolHook(ss.Run, ss.SetRun))
	t.register("ss_gain", floatHook(ss.Gain, ss.SetGain))
	t.register("ss_state", readOnly(func() interface{} { return ss.State() }))
	for i := 0; i < 2; i++ {
		i := i
		for j := 0; j < 2; j++ {
			j := j
			t.register(fmt.Sprintf("ss_a%d%d", i+1, j+1), t.matrixEntry(func(a *[2][2]float64, _, _ *[2]float64) *float64 {
				return &a[i][j]
			}))
		}
		t.register(fmt.Sprintf("ss_b%d", i+1), t.matrixEntry(func(_ *[2][2]float64, b, _ *[2]float64) *float64 {
			return &b[i]
		}))
		t.register(fmt.Sprintf("ss_c%d", i+1), t.matrixEntry(func(_ *[2][2]float64, _, c *[2]float64) *float64 {
			return &c[i]
		}))
	}

	cascadeGain := func(field func(*control.Gains) *float64) hook {
		return floatHook(
			func() float64 {
				gains := ss.CascadeGains()
				return *field(&gains)
			},
			func(v float64) error {
				gains := ss.CascadeGains()
				*field(&gains) = v
				return ss.SetCascadeGains(gains)
			},
		)
	}
	t.register("ss_kp", cascadeGain(func(g *control.Gains) *float64 { return &g.Kp }))
	t.register("ss_ki", cascadeGain(func(g *control.Gains) *float64 { return &g.Ki }))
	t.register("ss_kd", cascadeGain(func(g *control.Gains) *float64 { return &g.Kd }))
	t.register("ss_reference", floatHook(ss.Reference, ss.SetReference))
	t.register("ss_limit_sum", floatHook(ss.CascadeLimitSum, ss.SetCascadeLimitSum))
	t.register("ss_cascade_run", boolHook(ss.CascadeRun, ss.SetCascadeRun))
}

// matrixEntry exposes one element of A, B or C, picked by entry.
func (t *Table) matrixEntry(entry func(a *[2][2]float64, b, c *[2]float64) *float64) hook {
	ss := t.deps.StateSpace
	return floatHook(
		func() float64 {
			a, b, c := ss.Matrices()
			return *entry(&a, &b, &c)
		},
		func(v float64) error {
			a, b, c := ss.Matrices()
			*entry(&a, &b, &c) = v
			return ss.SetMatrices(a, b, c)
		},
	)
}
