package supervisory

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// LogStateBothInactive is reported when a log tick finds neither buffer active.
const LogStateBothInactive = "error: cannot log0 and log1"

// Buffer holds captured samples column by column.
type Buffer struct {
	Y1 []int32
	Y2 []int32
	U  []float32
}

func newBuffer(n int) Buffer {
	return Buffer{Y1: make([]int32, n), Y2: make([]int32, n), U: make([]float32, n)}
}

func (b Buffer) put(i int, sample Sample) {
	b.Y1[i] = sample.Y1
	b.Y2[i] = sample.Y2
	b.U[i] = sample.U
}

// Len returns the capacity of the buffer.
func (b Buffer) Len() int {
	return len(b.Y1)
}

// At returns the i-th sample.
func (b Buffer) At(i int) Sample {
	return Sample{Y1: b.Y1[i], Y2: b.Y2[i], U: b.U[i]}
}

// Clone returns a deep copy.
func (b Buffer) Clone() Buffer {
	return Buffer{
		Y1: append([]int32(nil), b.Y1...),
		Y2: append([]int32(nil), b.Y2...),
		U:  append([]float32(nil), b.U...),
	}
}

// Record is a single-shot capture of NumSamples consecutive ticks.
type Record struct {
	enabled atomic.Bool
	ready   atomic.Bool
	counter atomic.Int64
	data    Buffer
}

func newRecord(numSamples int) *Record {
	return &Record{data: newBuffer(numSamples)}
}

func (r *Record) update(sample Sample) {
	if !r.enabled.Load() {
		return
	}
	counter := r.counter.Load()
	if counter >= int64(r.data.Len()) {
		r.enabled.Store(false)
		r.counter.Store(0)
		r.ready.Store(true)
		return
	}
	r.ready.Store(false)
	r.data.put(int(counter), sample)
	r.counter.Store(counter + 1)
}

// Enabled reports whether a capture is in progress.
func (r *Record) Enabled() bool {
	return r.enabled.Load()
}

// SetEnabled starts or aborts a capture.
func (r *Record) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// Ready reports whether the buffer holds a completed capture.
func (r *Record) Ready() bool {
	return r.ready.Load()
}

// Counter returns the number of samples captured so far.
func (r *Record) Counter() int {
	return int(r.counter.Load())
}

// NumSamples returns the length of a capture.
func (r *Record) NumSamples() int {
	return r.data.Len()
}

// Data returns a copy of the capture. It fails while the capture is incomplete.
func (r *Record) Data() (Buffer, error) {
	if !r.ready.Load() {
		return Buffer{}, errors.New("record is not ready")
	}
	return r.data.Clone(), nil
}

// Log is a continuous capture into two alternating buffers of BufLen samples: buffer 0 takes
// ticks [0,L), [2L,3L), ... and buffer 1 takes [L,2L), [3L,4L), ... A reader drains the buffer
// that just went inactive while the other one fills.
type Log struct {
	enabled    atomic.Bool
	ready      atomic.Bool
	active0    atomic.Bool
	active1    atomic.Bool
	counter    atomic.Int64
	numSamples atomic.Int64
	state      atomic.String

	buf0 Buffer
	buf1 Buffer
}

func newLog(bufLen int) *Log {
	l := &Log{buf0: newBuffer(bufLen), buf1: newBuffer(bufLen)}
	l.ready.Store(true)
	return l
}

func (l *Log) update(sample Sample) {
	if !l.enabled.Load() {
		return
	}
	counter := l.counter.Load()
	if counter >= l.numSamples.Load() {
		l.enabled.Store(false)
		l.active0.Store(false)
		l.active1.Store(false)
		l.counter.Store(0)
		l.ready.Store(true)
		return
	}
	l.ready.Store(false)

	bufLen := int64(l.buf0.Len())
	if counter%bufLen == 0 {
		first := counter%(2*bufLen) == 0
		// Deactivate before activating so the two are never active together.
		if first {
			l.active1.Store(false)
			l.active0.Store(true)
		} else {
			l.active0.Store(false)
			l.active1.Store(true)
		}
	}

	i := int(counter % bufLen)
	switch {
	case l.active0.Load():
		l.buf0.put(i, sample)
	case l.active1.Load():
		l.buf1.put(i, sample)
	default:
		l.state.Store(LogStateBothInactive)
	}
	l.counter.Store(counter + 1)
}

// Enabled reports whether logging is in progress.
func (l *Log) Enabled() bool {
	return l.enabled.Load()
}

// Start begins logging numSamples ticks from the start of buffer 0.
func (l *Log) Start(numSamples int) error {
	if numSamples < 0 {
		return errors.Errorf("log_num_samples must be non-negative, got %d", numSamples)
	}
	l.numSamples.Store(int64(numSamples))
	l.counter.Store(0)
	l.enabled.Store(true)
	return nil
}

// SetEnabled switches logging on or off without touching the counter.
func (l *Log) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// Ready reports whether the last log run completed.
func (l *Log) Ready() bool {
	return l.ready.Load()
}

// Counter returns the number of ticks logged in the current run.
func (l *Log) Counter() int {
	return int(l.counter.Load())
}

// NumSamples returns the length of the current run.
func (l *Log) NumSamples() int {
	return int(l.numSamples.Load())
}

// SetNumSamples changes the length of the current run.
func (l *Log) SetNumSamples(numSamples int) error {
	if numSamples < 0 {
		return errors.Errorf("log_num_samples must be non-negative, got %d", numSamples)
	}
	l.numSamples.Store(int64(numSamples))
	return nil
}

// BufLen returns the length of each buffer.
func (l *Log) BufLen() int {
	return l.buf0.Len()
}

// Active0 reports whether buffer 0 accepts writes.
func (l *Log) Active0() bool {
	return l.active0.Load()
}

// Active1 reports whether buffer 1 accepts writes.
func (l *Log) Active1() bool {
	return l.active1.Load()
}

// State returns the last logic error seen by the logger, or "".
func (l *Log) State() string {
	return l.state.Load()
}

// ClearState forgets the last logic error.
func (l *Log) ClearState() {
	l.state.Store("")
}

// Data0 returns a copy of buffer 0.
func (l *Log) Data0() Buffer {
	return l.buf0.Clone()
}

// Data1 returns a copy of buffer 1.
func (l *Log) Data1() Buffer {
	return l.buf1.Clone()
}
