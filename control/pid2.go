package control

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/edukit/supervisory"
)

// DefaultLimitSum bounds the integrators unless configured otherwise.
const DefaultLimitSum = 1 << 16

// PID2Config configures a dual-channel PID controller. Channel 1 feeds back the stepper position,
// channel 2 the encoder.
type PID2Config struct {
	Gains1     Gains   `json:"gains1"`
	Gains2     Gains   `json:"gains2"`
	Reference1 float64 `json:"reference1"`
	Reference2 float64 `json:"reference2"`
	LimitSum1  float64 `json:"limit_sum1"`
	LimitSum2  float64 `json:"limit_sum2"`
	Run        bool    `json:"run"`
	Run1       bool    `json:"run1"`
	Run2       bool    `json:"run2"`
}

// DefaultPID2Config returns an idle controller with both channels enabled and zero gains.
func DefaultPID2Config() PID2Config {
	return PID2Config{
		LimitSum1: DefaultLimitSum,
		LimitSum2: DefaultLimitSum,
		Run1:      true,
		Run2:      true,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg PID2Config) Validate() error {
	if err := cfg.Gains1.Validate(); err != nil {
		return errors.Wrap(err, "gains1")
	}
	if err := cfg.Gains2.Validate(); err != nil {
		return errors.Wrap(err, "gains2")
	}
	if err := checkFinite("reference1", cfg.Reference1); err != nil {
		return err
	}
	if err := checkFinite("reference2", cfg.Reference2); err != nil {
		return err
	}
	if err := checkLimit("limit_sum1", cfg.LimitSum1); err != nil {
		return err
	}
	return checkLimit("limit_sum2", cfg.LimitSum2)
}

// PID2 sums two PID channels into one command. Either channel can be switched off with
// Run1/Run2 while Run stays on.
type PID2 struct {
	sensor   SensorFunc
	actuator ActuatorFunc
	state    *supervisory.State

	mu     sync.Mutex
	ch1    channel
	ch2    channel
	run    bool
	run1   bool
	run2   bool
	y      SensorSample
	yPrev  SensorSample
	u      float64
	sample Sample
}

// NewPID2 returns a dual-channel PID controller.
func NewPID2(cfg PID2Config, sensor SensorFunc, actuator ActuatorFunc, state *supervisory.State) (*PID2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PID2{
		sensor:   sensor,
		actuator: actuator,
		state:    state,
		ch1:      channel{gains: cfg.Gains1, reference: cfg.Reference1, limit: cfg.LimitSum1},
		ch2:      channel{gains: cfg.Gains2, reference: cfg.Reference2, limit: cfg.LimitSum2},
		run:      cfg.Run,
		run1:     cfg.Run1,
		run2:     cfg.Run2,
	}, nil
}

// limit clamps both integrators, whichever channel is running.
func (p *PID2) limit() {
	p.ch1.clamp()
	p.ch2.clamp()
}

// Control runs one tick.
func (p *PID2) Control(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	y, err := p.sensor(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot read sensors")
	}
	p.yPrev = p.y
	p.y = y
	y1, y2 := float64(y.StepperPosition), float64(y.EncoderPosition)
	e1 := p.state.Reference.Next(p.ch1.reference) - y1
	e2 := p.ch2.reference - y2

	p.ch1.limitFlag = false
	p.ch2.limitFlag = false
	p.u = 0
	if p.run {
		if p.run1 {
			p.ch1.accumulate(e1)
			p.limit()
			p.u += p.ch1.law(e1, y1-float64(p.yPrev.StepperPosition))
		}
		if p.run2 {
			p.ch2.accumulate(e2)
			p.limit()
			p.u += p.ch2.law(e2, y2-float64(p.yPrev.EncoderPosition))
		}
	}

	actuated := p.state.Control.Next(p.u)
	if err := p.actuator(ctx, actuated); err != nil {
		return errors.Wrap(err, "cannot actuate")
	}
	p.sample = Sample{Y1: y.StepperPosition, Y2: y.EncoderPosition, U: float32(actuated)}
	return nil
}

// Sample returns the capture of the last tick. U includes the control excitation.
func (p *PID2) Sample() Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sample
}

// Reset clears both integrators and the previous measurements.
func (p *PID2) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch1.reset()
	p.ch2.reset()
	p.y = SensorSample{}
	p.yPrev = SensorSample{}
}

func (p *PID2) channel(n int) (*channel, error) {
	switch n {
	case 1:
		return &p.ch1, nil
	case 2:
		return &p.ch2, nil
	default:
		return nil, errors.Errorf("PID2 has channels 1 and 2, not %d", n)
	}
}

// SetGains replaces the gains of channel n.
func (p *PID2) SetGains(n int, gains Gains) error {
	if err := gains.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel(n)
	if err != nil {
		return err
	}
	ch.gains = gains
	return nil
}

// Gains returns the gains of channel n.
func (p *PID2) Gains(n int) (Gains, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel(n)
	if err != nil {
		return Gains{}, err
	}
	return ch.gains, nil
}

// SetReference replaces the setpoint of channel n.
func (p *PID2) SetReference(n int, r float64) error {
	if err := checkFinite("reference", r); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel(n)
	if err != nil {
		return err
	}
	ch.reference = r
	return nil
}

// Reference returns the setpoint of channel n.
func (p *PID2) Reference(n int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel(n)
	if err != nil {
		return 0, err
	}
	return ch.reference, nil
}

// SetLimitSum replaces the integrator bound of channel n.
func (p *PID2) SetLimitSum(n int, limit float64) error {
	if err := checkLimit("limit_sum", limit); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel(n)
	if err != nil {
		return err
	}
	ch.limit = limit
	return nil
}

// LimitSum returns the integrator bound of channel n.
func (p *PID2) LimitSum(n int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel(n)
	if err != nil {
		return 0, err
	}
	return ch.limit, nil
}

// ESum returns the integrator of channel n.
func (p *PID2) ESum(n int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel(n)
	if err != nil {
		return 0, err
	}
	return ch.eSum, nil
}

// LimitFlag reports whether the integrator of channel n was clamped during the last tick.
func (p *PID2) LimitFlag(n int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel(n)
	if err != nil {
		return false, err
	}
	return ch.limitFlag, nil
}

// SetRun starts or idles the controller.
func (p *PID2) SetRun(run bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.run = run
}

// Run reports whether the controller is running.
func (p *PID2) Run() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run
}

// SetChannelRun switches channel n on or off.
func (p *PID2) SetChannelRun(n int, run bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch n {
	case 1:
		p.run1 = run
	case 2:
		p.run2 = run
	default:
		return errors.Errorf("PID2 has channels 1 and 2, not %d", n)
	}
	return nil
}

// ChannelRun reports whether channel n is switched on.
func (p *PID2) ChannelRun(n int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch n {
	case 1:
		return p.run1, nil
	case 2:
		return p.run2, nil
	default:
		return false, errors.Errorf("PID2 has channels 1 and 2, not %d", n)
	}
}
