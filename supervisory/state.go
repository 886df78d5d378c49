// Package supervisory holds the state shared between the control loop, the controllers and the
// host bridge: tick counter, excitation sequences, single-shot record capture, double-buffered log
// capture and loop diagnostics.
//
// Every field has exactly one writer at a time. Flags and counters are atomics so readers outside
// the loop never observe torn values; capture buffers are only meant to be read once their ready
// flag is set.
package supervisory

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Defaults matching the firmware of the rig.
const (
	DefaultRecordNumSamples = 200
	DefaultLogBufLen        = 128
	DefaultSamplingPeriod   = 10 * time.Millisecond
)

// Controller type selectors.
const (
	ControllerPID        = "pid"
	ControllerPID1       = "pid1"
	ControllerStateSpace = "state_space"
)

// Sample is the capture of one control tick: the stepper position, the encoder position and the
// actuator command.
type Sample struct {
	Y1 int32
	Y2 int32
	U  float32
}

// Config sizes the capture arrays. Zero values mean the defaults.
type Config struct {
	RecordNumSamples int `json:"record_num_samples"`
	LogBufLen        int `json:"log_buf_len"`
}

// State is the supervisory state of the rig. Create it once with NewState.
type State struct {
	counter        atomic.Uint64
	controllerType atomic.String

	Record    *Record
	Reference *Excitation
	Control   *Excitation
	Log       *Log

	overrun      atomic.Duration
	overrunCount atomic.Uint64
}

// NewState allocates every capture array. The arrays never grow.
func NewState(cfg Config) (*State, error) {
	if cfg.RecordNumSamples == 0 {
		cfg.RecordNumSamples = DefaultRecordNumSamples
	}
	if cfg.LogBufLen == 0 {
		cfg.LogBufLen = DefaultLogBufLen
	}
	if cfg.RecordNumSamples < 0 {
		return nil, errors.Errorf("record_num_samples must be positive, got %d", cfg.RecordNumSamples)
	}
	if cfg.LogBufLen < 0 {
		return nil, errors.Errorf("log_buf_len must be positive, got %d", cfg.LogBufLen)
	}

	s := &State{
		Record:    newRecord(cfg.RecordNumSamples),
		Reference: newExcitation(cfg.RecordNumSamples),
		Control:   newExcitation(cfg.RecordNumSamples),
		Log:       newLog(cfg.LogBufLen),
	}
	s.controllerType.Store(ControllerPID)
	return s, nil
}

// Counter returns the number of completed ticks.
func (s *State) Counter() uint64 {
	return s.counter.Load()
}

// IncrementCounter counts one completed tick.
func (s *State) IncrementCounter() uint64 {
	return s.counter.Inc()
}

// ControllerType returns the selector of the active controller.
func (s *State) ControllerType() string {
	return s.controllerType.Load()
}

// SetControllerType selects the active controller. Unknown selectors run the PID controller.
func (s *State) SetControllerType(controllerType string) {
	s.controllerType.Store(controllerType)
}

// RecordUpdate feeds one tick into the single-shot record.
func (s *State) RecordUpdate(sample Sample) {
	s.Record.update(sample)
}

// LogUpdate feeds one tick into the log double buffer.
func (s *State) LogUpdate(sample Sample) {
	s.Log.update(sample)
}

// RecordOverrun notes a tick that exceeded its budget. remaining is zero or negative.
func (s *State) RecordOverrun(remaining time.Duration) {
	s.overrun.Store(remaining)
	s.overrunCount.Inc()
}

// ClearOverrun notes a tick that fit its budget.
func (s *State) ClearOverrun() {
	s.overrun.Store(0)
}

// Overrun returns the remaining time of the last tick when it overran, otherwise 0.
func (s *State) Overrun() time.Duration {
	return s.overrun.Load()
}

// OverrunCount returns the number of ticks that overran.
func (s *State) OverrunCount() uint64 {
	return s.overrunCount.Load()
}
