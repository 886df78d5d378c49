package control

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/edukit/supervisory"
)

// StateSpaceConfig configures a second order state-space controller on the encoder, with an
// optional PID cascade on the stepper position.
type StateSpaceConfig struct {
	A    [2][2]float64 `json:"a"`
	B    [2]float64    `json:"b"`
	C    [2]float64    `json:"c"`
	Gain float64       `json:"gain"`
	Run  bool          `json:"run"`

	// Cascade is the PID term on the stepper position. It only contributes when Cascade.Run is
	// set.
	Cascade PIDConfig `json:"cascade"`
}

// Validate ensures all parts of the config are valid.
func (cfg StateSpaceConfig) Validate() error {
	if err := validateMatrices(cfg.A, cfg.B, cfg.C); err != nil {
		return err
	}
	if err := checkFinite("gain", cfg.Gain); err != nil {
		return err
	}
	return errors.Wrap(cfg.Cascade.Validate(), "cascade")
}

func validateMatrices(a [2][2]float64, b, c [2]float64) error {
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if err := checkFinite("A", a[i][j]); err != nil {
				return err
			}
		}
		if err := checkFinite("B", b[i]); err != nil {
			return err
		}
		if err := checkFinite("C", c[i]); err != nil {
			return err
		}
	}
	return nil
}

// StateSpace runs x = A x + B y2, u = gain * (C x + cascade) every tick. While idle the state
// is frozen and the command is zero.
type StateSpace struct {
	sensor   SensorFunc
	actuator ActuatorFunc
	state    *supervisory.State

	mu         sync.Mutex
	a          [2][2]float64
	b          [2]float64
	c          [2]float64
	gain       float64
	run        bool
	x          [2]float64
	cascade    channel
	cascadeRun bool
	y          SensorSample
	yPrev      SensorSample
	u          float64
	sample     Sample
}

// NewStateSpace returns a state-space controller.
func NewStateSpace(
	cfg StateSpaceConfig,
	sensor SensorFunc,
	actuator ActuatorFunc,
	state *supervisory.State,
) (*StateSpace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StateSpace{
		sensor:   sensor,
		actuator: actuator,
		state:    state,
		a:        cfg.A,
		b:        cfg.B,
		c:        cfg.C,
		gain:     cfg.Gain,
		run:      cfg.Run,
		cascade: channel{
			gains:     cfg.Cascade.Gains,
			reference: cfg.Cascade.Reference,
			limit:     cfg.Cascade.LimitSum,
		},
		cascadeRun: cfg.Cascade.Run,
	}, nil
}

// Control runs one tick.
func (ss *StateSpace) Control(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	y, err := ss.sensor(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot read sensors")
	}
	ss.yPrev = ss.y
	ss.y = y
	y1, y2 := float64(y.StepperPosition), float64(y.EncoderPosition)
	e1 := ss.state.Reference.Next(ss.cascade.reference) - y1

	ss.cascade.limitFlag = false
	ss.u = 0
	if ss.run {
		x := ss.x
		ss.x[0] = ss.a[0][0]*x[0] + ss.a[0][1]*x[1] + ss.b[0]*y2
		ss.x[1] = ss.a[1][0]*x[0] + ss.a[1][1]*x[1] + ss.b[1]*y2
		u := ss.c[0]*ss.x[0] + ss.c[1]*ss.x[1]
		if ss.cascadeRun {
			ss.cascade.accumulate(e1)
			ss.cascade.clamp()
			u += ss.cascade.law(e1, y1-float64(ss.yPrev.StepperPosition))
		}
		ss.u = ss.gain * u
	}

	actuated := ss.state.Control.Next(ss.u)
	if err := ss.actuator(ctx, actuated); err != nil {
		return errors.Wrap(err, "cannot actuate")
	}
	ss.sample = Sample{Y1: y.StepperPosition, Y2: y.EncoderPosition, U: float32(actuated)}
	return nil
}

// Sample returns the capture of the last tick. U includes the control excitation.
func (ss *StateSpace) Sample() Sample {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.sample
}

// Reset zeroes the state, the cascade integrator and the previous measurements.
func (ss *StateSpace) Reset() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.x = [2]float64{}
	ss.cascade.reset()
	ss.y = SensorSample{}
	ss.yPrev = SensorSample{}
}

// SetMatrices replaces A, B and C. The state is kept.
func (ss *StateSpace) SetMatrices(a [2][2]float64, b, c [2]float64) error {
	if err := validateMatrices(a, b, c); err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.a, ss.b, ss.c = a, b, c
	return nil
}

// Matrices returns A, B and C.
func (ss *StateSpace) Matrices() ([2][2]float64, [2]float64, [2]float64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.a, ss.b, ss.c
}

// SetGain replaces the output gain.
func (ss *StateSpace) SetGain(gain float64) error {
	if err := checkFinite("gain", gain); err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.gain = gain
	return nil
}

// Gain returns the output gain.
func (ss *StateSpace) Gain() float64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.gain
}

// SetRun starts or idles the controller.
func (ss *StateSpace) SetRun(run bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.run = run
}

// Run reports whether the controller is running.
func (ss *StateSpace) Run() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.run
}

// State returns the controller state x.
func (ss *StateSpace) State() [2]float64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.x
}

// SetCascadeGains replaces the gains of the cascade PID.
func (ss *StateSpace) SetCascadeGains(gains Gains) error {
	if err := gains.Validate(); err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.cascade.gains = gains
	return nil
}

// CascadeGains returns the gains of the cascade PID.
func (ss *StateSpace) CascadeGains() Gains {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.cascade.gains
}

// SetCascadeRun switches the cascade PID on or off.
func (ss *StateSpace) SetCascadeRun(run bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.cascadeRun = run
}

// CascadeRun reports whether the cascade PID contributes.
func (ss *StateSpace) CascadeRun() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.cascadeRun
}

// SetReference replaces the setpoint of the cascade PID.
func (ss *StateSpace) SetReference(r float64) error {
	if err := checkFinite("reference", r); err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.cascade.reference = r
	return nil
}

// Reference returns the setpoint of the cascade PID.
func (ss *StateSpace) Reference() float64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.cascade.reference
}

// SetCascadeLimitSum replaces the integrator bound of the cascade PID.
func (ss *StateSpace) SetCascadeLimitSum(limit float64) error {
	if err := checkLimit("limit_sum", limit); err != nil {
		return err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.cascade.limit = limit
	return nil
}

// CascadeLimitSum returns the integrator bound of the cascade PID.
func (ss *StateSpace) CascadeLimitSum() float64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.cascade.limit
}
