package supervisory

import (
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Excitation is a time-indexed sequence superimposed on the reference or the actuator command,
// used for step responses and system identification.
type Excitation struct {
	add      atomic.Bool
	repeat   atomic.Bool
	counter  atomic.Int64
	sequence []float32
}

func newExcitation(numSamples int) *Excitation {
	e := &Excitation{sequence: make([]float32, numSamples)}
	e.repeat.Store(true)
	return e
}

// Next returns base plus the current element of the sequence and advances it. Once the sequence
// is exhausted base is returned unchanged, the position rewinds, and the excitation switches
// itself off unless it repeats.
func (e *Excitation) Next(base float64) float64 {
	if !e.add.Load() {
		return base
	}
	counter := e.counter.Load()
	if counter >= int64(len(e.sequence)) {
		if !e.repeat.Load() {
			e.add.Store(false)
		}
		e.counter.Store(0)
		return base
	}
	e.counter.Store(counter + 1)
	return base + float64(e.sequence[counter])
}

// Add reports whether the excitation is applied.
func (e *Excitation) Add() bool {
	return e.add.Load()
}

// SetAdd switches the excitation on or off.
func (e *Excitation) SetAdd(add bool) {
	e.add.Store(add)
}

// Repeat reports whether the sequence restarts when exhausted.
func (e *Excitation) Repeat() bool {
	return e.repeat.Load()
}

// SetRepeat sets whether the sequence restarts when exhausted.
func (e *Excitation) SetRepeat(repeat bool) {
	e.repeat.Store(repeat)
}

// Counter returns the index of the next element.
func (e *Excitation) Counter() int {
	return int(e.counter.Load())
}

// SetCounter moves the index of the next element.
func (e *Excitation) SetCounter(counter int) error {
	if counter < 0 {
		return errors.Errorf("excitation counter must be non-negative, got %d", counter)
	}
	e.counter.Store(int64(counter))
	return nil
}

// NumSamples returns the length of the sequence.
func (e *Excitation) NumSamples() int {
	return len(e.sequence)
}

// Sequence returns a copy of the sequence.
func (e *Excitation) Sequence() []float32 {
	return append([]float32(nil), e.sequence...)
}

// SetSequence overwrites the sequence. The length must match NumSamples.
func (e *Excitation) SetSequence(values []float32) error {
	if len(values) != len(e.sequence) {
		return errors.Errorf("excitation sequence needs %d samples, got %d", len(e.sequence), len(values))
	}
	copy(e.sequence, values)
	return nil
}

// Generate fills the sequence with a step from height1 to height2 after duration samples, plus
// uniform noise scaled by stdNoise.
func (e *Excitation) Generate(stdNoise, height1, height2 float64, duration int, rng *rand.Rand) {
	for i := range e.sequence {
		height := height2
		if i < duration {
			height = height1
		}
		e.sequence[i] = float32(height + stdNoise*rng.Float64())
	}
}

// SetControlSequence fills the actuator excitation with a step.
func (s *State) SetControlSequence(stdNoise, height1, height2 float64, duration int, rng *rand.Rand) {
	s.Control.Generate(stdNoise, height1, height2, duration, rng)
}

// SetReferenceSequence fills the reference excitation with a step.
func (s *State) SetReferenceSequence(stdNoise, height1, height2 float64, duration int, rng *rand.Rand) {
	s.Reference.Generate(stdNoise, height1, height2, duration, rng)
}
