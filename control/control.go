// Package control implements the controllers of the rig and the periodic loop that runs them.
package control

import (
	"context"
	"math"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/edukit/supervisory"
)

// Sample is what a controller exposes after each tick.
type Sample = supervisory.Sample

// SensorSample is one reading of both position sensors.
type SensorSample struct {
	StepperPosition int32
	EncoderPosition int32
}

// SensorFunc reads both sensors.
type SensorFunc func(ctx context.Context) (SensorSample, error)

// ActuatorFunc applies a control value to the motor.
type ActuatorFunc func(ctx context.Context, u float64) error

// A Controller runs one step of a control law per call to Control.
type Controller interface {
	// Control reads the sensors, computes the command and actuates it. Sensor and actuator
	// failures are returned; the control law itself never fails.
	Control(ctx context.Context) error

	// Sample returns the capture of the last tick.
	Sample() Sample

	// Reset clears the integrators and the cached previous samples.
	Reset()
}

// Type selects a controller.
type Type int

const (
	// TypePID is the dual-channel PID controller.
	TypePID Type = iota
	// TypePID1 is the single-channel PID controller on the stepper position.
	TypePID1
	// TypeStateSpace is the state-space controller.
	TypeStateSpace
)

func (t Type) String() string {
	switch t {
	case TypePID1:
		return supervisory.ControllerPID1
	case TypeStateSpace:
		return supervisory.ControllerStateSpace
	default:
		return supervisory.ControllerPID
	}
}

// ParseType parses a controller selector. Anything unknown selects the PID controller.
func ParseType(s string) Type {
	switch strings.ToLower(s) {
	case supervisory.ControllerPID1:
		return TypePID1
	case supervisory.ControllerStateSpace:
		return TypeStateSpace
	default:
		return TypePID
	}
}

// Set holds one controller per Type.
type Set struct {
	PID        Controller
	PID1       Controller
	StateSpace Controller
}

// Select returns the controller for t, falling back to PID when that slot is empty.
func (s Set) Select(t Type) Controller {
	switch {
	case t == TypePID1 && s.PID1 != nil:
		return s.PID1
	case t == TypeStateSpace && s.StateSpace != nil:
		return s.StateSpace
	default:
		return s.PID
	}
}

// Gains are the proportional, integral and derivative gains of one PID channel.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// Validate rejects gains that are not finite.
func (g Gains) Validate() error {
	for _, gain := range []struct {
		name  string
		value float64
	}{{"Kp", g.Kp}, {"Ki", g.Ki}, {"Kd", g.Kd}} {
		if err := checkFinite(gain.name, gain.value); err != nil {
			return err
		}
	}
	return nil
}

func checkFinite(name string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.Errorf("%s must be finite, got %v", name, value)
	}
	return nil
}

func checkLimit(name string, value float64) error {
	if math.IsNaN(value) || value < 0 {
		return errors.Errorf("%s must be a non-negative number, got %v", name, value)
	}
	return nil
}

// channel is the state of one PID channel. The derivative acts on the measurement so setpoint
// and excitation steps cause no derivative kick.
type channel struct {
	gains     Gains
	reference float64
	limit     float64
	eSum      float64
	limitFlag bool
}

// clamp bounds the integrator to ±limit. The flag records whether clamping happened during the
// current tick; callers clear it at the start of each tick.
func (c *channel) clamp() {
	switch {
	case c.eSum < -c.limit:
		c.eSum = -c.limit
		c.limitFlag = true
	case c.eSum > c.limit:
		c.eSum = c.limit
		c.limitFlag = true
	}
}

func (c *channel) accumulate(e float64) {
	c.eSum += e
}

func (c *channel) law(e, yDiff float64) float64 {
	return c.gains.Kp*e + c.gains.Ki*c.eSum - c.gains.Kd*yDiff
}

func (c *channel) reset() {
	c.eSum = 0
	c.limitFlag = false
}
