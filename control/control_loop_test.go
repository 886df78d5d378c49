package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/supervisory"
)

// fakeController advances a mock clock by cost on every tick and remembers when it ran.
type fakeController struct {
	clk    *clock.Mock
	cost   time.Duration
	sample Sample
	err    error

	mu    sync.Mutex
	ticks []time.Time
}

func (f *fakeController) Control(ctx context.Context) error {
	f.mu.Lock()
	f.ticks = append(f.ticks, f.clk.Now())
	f.mu.Unlock()
	if f.cost > 0 {
		f.clk.Add(f.cost)
	}
	return f.err
}

func (f *fakeController) Sample() Sample {
	return f.sample
}

func (f *fakeController) Reset() {}

func (f *fakeController) tickTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.ticks...)
}

func newTestLoop(t *testing.T, ctrl Set, clk clock.Clock) (*Loop, *supervisory.State) {
	t.Helper()
	state, err := supervisory.NewState(supervisory.Config{RecordNumSamples: 4, LogBufLen: 4})
	test.That(t, err, test.ShouldBeNil)
	loop, err := NewLoop(LoopConfig{SamplingPeriod: 10 * time.Millisecond}, state, ctrl, logging.NewTestLogger(t), clk)
	test.That(t, err, test.ShouldBeNil)
	return loop, state
}

func TestNewLoop(t *testing.T) {
	state, err := supervisory.NewState(supervisory.Config{})
	test.That(t, err, test.ShouldBeNil)
	logger := logging.NewTestLogger(t)
	ctrl := &fakeController{clk: clock.NewMock()}

	_, err = NewLoop(LoopConfig{}, state, Set{PID: ctrl}, logger, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewLoop(LoopConfig{SamplingPeriod: time.Millisecond}, state, Set{}, logger, nil)
	test.That(t, err, test.ShouldNotBeNil)
	loop, err := NewLoop(LoopConfig{SamplingPeriod: time.Millisecond}, state, Set{PID: ctrl}, logger, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loop.SamplingPeriod(), test.ShouldEqual, time.Millisecond)
	test.That(t, loop.Running(), test.ShouldBeFalse)
}

func TestSelect(t *testing.T) {
	pid := &fakeController{}
	pid1 := &fakeController{}
	ss := &fakeController{}
	set := Set{PID: pid, PID1: pid1, StateSpace: ss}

	test.That(t, ParseType("pid"), test.ShouldEqual, TypePID)
	test.That(t, ParseType("PID1"), test.ShouldEqual, TypePID1)
	test.That(t, ParseType("State_Space"), test.ShouldEqual, TypeStateSpace)
	test.That(t, ParseType("lqr"), test.ShouldEqual, TypePID)
	test.That(t, TypeStateSpace.String(), test.ShouldEqual, supervisory.ControllerStateSpace)
	test.That(t, TypePID1.String(), test.ShouldEqual, supervisory.ControllerPID1)
	test.That(t, TypePID.String(), test.ShouldEqual, supervisory.ControllerPID)

	test.That(t, set.Select(TypePID), test.ShouldEqual, pid)
	test.That(t, set.Select(TypePID1), test.ShouldEqual, pid1)
	test.That(t, set.Select(TypeStateSpace), test.ShouldEqual, ss)
	test.That(t, Set{PID: pid}.Select(TypeStateSpace), test.ShouldEqual, pid)
	test.That(t, Set{PID: pid}.Select(TypePID1), test.ShouldEqual, pid)
}

func TestTick(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	pid := &fakeController{clk: mock, cost: 3 * time.Millisecond, sample: Sample{Y1: 1, Y2: 2, U: 3}}
	ss := &fakeController{clk: mock, cost: 12 * time.Millisecond, sample: Sample{Y1: 4, Y2: 5, U: 6}}
	loop, state := newTestLoop(t, Set{PID: pid, StateSpace: ss}, mock)
	state.Record.SetEnabled(true)

	t.Run("within budget", func(t *testing.T) {
		test.That(t, loop.Tick(ctx), test.ShouldEqual, 7*time.Millisecond)
		test.That(t, state.Counter(), test.ShouldEqual, uint64(1))
		test.That(t, state.Overrun(), test.ShouldEqual, time.Duration(0))
		test.That(t, state.OverrunCount(), test.ShouldEqual, uint64(0))
		test.That(t, state.Record.Counter(), test.ShouldEqual, 1)
		test.That(t, state.Log.Counter(), test.ShouldEqual, 0)
		test.That(t, len(pid.tickTimes()), test.ShouldEqual, 1)
	})

	t.Run("overrun", func(t *testing.T) {
		state.SetControllerType(supervisory.ControllerStateSpace)
		test.That(t, loop.Tick(ctx), test.ShouldEqual, -2*time.Millisecond)
		test.That(t, state.Counter(), test.ShouldEqual, uint64(2))
		test.That(t, state.Overrun(), test.ShouldEqual, -2*time.Millisecond)
		test.That(t, state.OverrunCount(), test.ShouldEqual, uint64(1))
		test.That(t, len(ss.tickTimes()), test.ShouldEqual, 1)
	})

	t.Run("recovers", func(t *testing.T) {
		state.SetControllerType(supervisory.ControllerPID)
		test.That(t, loop.Tick(ctx), test.ShouldEqual, 7*time.Millisecond)
		test.That(t, state.Overrun(), test.ShouldEqual, time.Duration(0))
		test.That(t, state.OverrunCount(), test.ShouldEqual, uint64(1))
	})

	t.Run("record captures the active controller", func(t *testing.T) {
		loop.Tick(ctx)
		data, err := state.Record.Data()
		test.That(t, err, test.ShouldNotBeNil)
		loop.Tick(ctx)
		data, err = state.Record.Data()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, data.At(0), test.ShouldResemble, pid.sample)
		test.That(t, data.At(1), test.ShouldResemble, ss.sample)
		test.That(t, data.At(2), test.ShouldResemble, pid.sample)
	})

	summary := loop.Timings()
	test.That(t, summary.Count, test.ShouldEqual, 5)
	test.That(t, summary.Max, test.ShouldEqual, 12*time.Millisecond)
}

func TestTickControlError(t *testing.T) {
	mock := clock.NewMock()
	pid := &fakeController{clk: mock, sample: Sample{Y1: 5, Y2: 7, U: 5}}
	state, err := supervisory.NewState(supervisory.Config{RecordNumSamples: 4, LogBufLen: 4})
	test.That(t, err, test.ShouldBeNil)
	state.Record.SetEnabled(true)
	logger, observed := logging.NewObservedTestLogger(t)
	loop, err := NewLoop(LoopConfig{SamplingPeriod: 10 * time.Millisecond}, state, Set{PID: pid}, logger, mock)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, loop.Tick(context.Background()), test.ShouldEqual, 10*time.Millisecond)
	test.That(t, state.Counter(), test.ShouldEqual, uint64(1))
	test.That(t, state.Record.Counter(), test.ShouldEqual, 1)

	// A failed step is logged and the tick still keeps its timing, but nothing is captured.
	pid.err = errors.New("spi down")
	pid.cost = 12 * time.Millisecond
	test.That(t, loop.Tick(context.Background()), test.ShouldEqual, -2*time.Millisecond)
	test.That(t, state.Counter(), test.ShouldEqual, uint64(1))
	test.That(t, state.Record.Counter(), test.ShouldEqual, 1)
	test.That(t, state.OverrunCount(), test.ShouldEqual, uint64(1))
	test.That(t, observed.FilterMessage("control step failed").Len(), test.ShouldEqual, 1)

	// Repeated failures are not logged every tick.
	pid.cost = 0
	test.That(t, loop.Tick(context.Background()), test.ShouldEqual, 10*time.Millisecond)
	test.That(t, state.Counter(), test.ShouldEqual, uint64(1))
	test.That(t, observed.FilterMessage("control step failed").Len(), test.ShouldEqual, 1)
	test.That(t, loop.failedSteps, test.ShouldEqual, uint64(2))

	// Errors caused by cancellation are expected during shutdown and leave the state untouched.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pid.err = ctx.Err()
	loop.Tick(ctx)
	test.That(t, observed.FilterMessage("control step failed").Len(), test.ShouldEqual, 1)
	test.That(t, loop.failedSteps, test.ShouldEqual, uint64(2))
	test.That(t, state.Counter(), test.ShouldEqual, uint64(1))
	test.That(t, state.Record.Counter(), test.ShouldEqual, 1)
	test.That(t, state.Log.Counter(), test.ShouldEqual, 0)
	test.That(t, loop.Timings().Count, test.ShouldEqual, 4)
}

func TestRun(t *testing.T) {
	mock := clock.NewMock()
	pid := &fakeController{clk: mock}
	loop, state := newTestLoop(t, Set{PID: pid}, mock)

	loop.Start()
	loop.Start()
	test.That(t, loop.Running(), test.ShouldBeTrue)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mock.Add(5 * time.Millisecond)
		test.That(tb, state.Counter(), test.ShouldBeGreaterThanOrEqualTo, uint64(3))
	})
	loop.Stop()
	loop.Stop()
	test.That(t, loop.Running(), test.ShouldBeFalse)

	// Ticks never come closer together than the sampling period.
	ticks := pid.tickTimes()
	for i := 1; i < len(ticks); i++ {
		test.That(t, ticks[i].Sub(ticks[i-1]), test.ShouldBeGreaterThanOrEqualTo, 10*time.Millisecond)
	}

	// Nothing runs after Stop returns.
	counter := state.Counter()
	mock.Add(time.Second)
	test.That(t, state.Counter(), test.ShouldEqual, counter)
}

func TestRunPID2EndToEnd(t *testing.T) {
	mock := clock.NewMock()
	r := newRig(t)
	r.reading = SensorSample{StepperPosition: 5}
	cfg := DefaultPID2Config()
	cfg.Gains1 = Gains{Kp: 1}
	cfg.Reference1 = 10
	cfg.Run = true
	pid2, err := NewPID2(cfg, r.sensor, r.actuator, r.state)
	test.That(t, err, test.ShouldBeNil)

	loop, err := NewLoop(LoopConfig{SamplingPeriod: 10 * time.Millisecond}, r.state, Set{PID: pid2},
		logging.NewTestLogger(t), mock)
	test.That(t, err, test.ShouldBeNil)
	r.state.Record.SetEnabled(true)

	test.That(t, loop.Tick(context.Background()), test.ShouldEqual, 10*time.Millisecond)
	test.That(t, r.actuated, test.ShouldResemble, []float64{5})
	test.That(t, r.state.Record.Counter(), test.ShouldEqual, 1)
	for i := 0; i < 4; i++ {
		loop.Tick(context.Background())
	}
	data, err := r.state.Record.Data()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data.At(0), test.ShouldResemble, Sample{Y1: 5, Y2: 0, U: 5})
}
