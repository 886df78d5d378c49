package control

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/edukit/supervisory"
)

// PIDConfig configures a single-channel PID controller.
type PIDConfig struct {
	Gains     Gains   `json:"gains"`
	Reference float64 `json:"reference"`
	LimitSum  float64 `json:"limit_sum"`
	Run       bool    `json:"run"`
}

// Validate ensures all parts of the config are valid.
func (cfg PIDConfig) Validate() error {
	if err := cfg.Gains.Validate(); err != nil {
		return err
	}
	if err := checkFinite("reference", cfg.Reference); err != nil {
		return err
	}
	return checkLimit("limit_sum", cfg.LimitSum)
}

// PID controls the stepper position with a single PID channel. The reference excitation is added
// to the setpoint and the control excitation to the command.
type PID struct {
	sensor   SensorFunc
	actuator ActuatorFunc
	state    *supervisory.State

	mu     sync.Mutex
	ch     channel
	run    bool
	y      SensorSample
	yPrev  int32
	u      float64
	sample Sample
}

// NewPID returns a PID controller.
func NewPID(cfg PIDConfig, sensor SensorFunc, actuator ActuatorFunc, state *supervisory.State) (*PID, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PID{
		sensor:   sensor,
		actuator: actuator,
		state:    state,
		ch:       channel{gains: cfg.Gains, reference: cfg.Reference, limit: cfg.LimitSum},
		run:      cfg.Run,
	}, nil
}

// Control runs one tick.
func (p *PID) Control(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	y, err := p.sensor(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot read sensors")
	}
	p.yPrev = p.y.StepperPosition
	p.y = y
	y1 := float64(y.StepperPosition)
	e := p.state.Reference.Next(p.ch.reference) - y1

	p.ch.limitFlag = false
	if p.run {
		p.ch.accumulate(e)
		p.ch.clamp()
		p.u = p.ch.law(e, y1-float64(p.yPrev))
	} else {
		p.u = 0
	}

	actuated := p.state.Control.Next(p.u)
	if err := p.actuator(ctx, actuated); err != nil {
		return errors.Wrap(err, "cannot actuate")
	}
	p.sample = Sample{Y1: y.StepperPosition, Y2: y.EncoderPosition, U: float32(actuated)}
	return nil
}

// Sample returns the capture of the last completed tick. U includes the control excitation.
func (p *PID) Sample() Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sample
}

// Reset clears the integrator and the previous measurement.
func (p *PID) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch.reset()
	p.yPrev = 0
	p.y = SensorSample{}
}

// SetGains replaces the gains.
func (p *PID) SetGains(gains Gains) error {
	if err := gains.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch.gains = gains
	return nil
}

// Gains returns the gains.
func (p *PID) Gains() Gains {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.gains
}

// SetReference replaces the setpoint.
func (p *PID) SetReference(r float64) error {
	if err := checkFinite("reference", r); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch.reference = r
	return nil
}

// Reference returns the setpoint.
func (p *PID) Reference() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.reference
}

// SetLimitSum replaces the integrator bound.
func (p *PID) SetLimitSum(limit float64) error {
	if err := checkLimit("limit_sum", limit); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch.limit = limit
	return nil
}

// LimitSum returns the integrator bound.
func (p *PID) LimitSum() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.limit
}

// SetRun starts or idles the controller. An idle controller commands zero.
func (p *PID) SetRun(run bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.run = run
}

// Run reports whether the controller is running.
func (p *PID) Run() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run
}

// ESum returns the integrator.
func (p *PID) ESum() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.eSum
}

// LimitFlag reports whether the integrator was clamped during the last tick.
func (p *PID) LimitFlag() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.limitFlag
}
