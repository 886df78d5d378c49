package robot

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/edukit/components/board/fake"
	"go.viam.com/edukit/config"
	"go.viam.com/edukit/control"
	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/supervisory"
)

type testParts struct {
	bus          *fake.SPI
	direction    *fake.GPIOPin
	standbyReset *fake.GPIOPin
	stepClock    *fake.StepClock
	encoderA     *fake.DigitalInterrupt
	encoderB     *fake.DigitalInterrupt
	flag         *fake.DigitalInterrupt
	closed       atomic.Int64
}

func (tp *testParts) parts() Parts {
	closer := func(ctx context.Context) error {
		tp.closed.Inc()
		return nil
	}
	return Parts{
		Bus:          tp.bus,
		ChipSelect:   "0",
		Direction:    tp.direction,
		StandbyReset: tp.standbyReset,
		StepClock:    tp.stepClock,
		EncoderA:     tp.encoderA,
		EncoderB:     tp.encoderB,
		Flag:         tp.flag,
		Closers:      []func(context.Context) error{closer, closer},
	}
}

func newTestRig(t *testing.T, logger logging.Logger) (*Rig, *testParts, *clock.Mock) {
	t.Helper()
	tp := &testParts{
		bus:          &fake.SPI{},
		direction:    &fake.GPIOPin{},
		standbyReset: &fake.GPIOPin{},
		stepClock:    &fake.StepClock{},
		encoderA:     fake.NewDigitalInterrupt("encoder_a"),
		encoderB:     fake.NewDigitalInterrupt("encoder_b"),
		flag:         fake.NewDigitalInterrupt("flag"),
	}
	cfg := config.Default()
	cfg.Seed = 1
	mock := clock.NewMock()
	rig, err := New(cfg, tp.parts(), logger, mock)
	test.That(t, err, test.ShouldBeNil)
	return rig, tp, mock
}

func TestNew(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, tp, _ := newTestRig(t, logger)

	cfg := config.Default()
	cfg.Jobs[0].Name = "defrag"
	_, err := New(cfg, tp.parts(), logger, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "defrag")

	cfg = config.Default()
	cfg.SamplingPeriod = 0
	_, err = New(cfg, tp.parts(), logger, nil)
	test.That(t, err, test.ShouldNotBeNil)

	parts := tp.parts()
	parts.EncoderB = nil
	_, err = New(config.Default(), parts, logger, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "encoder")
}

func TestSense(t *testing.T) {
	rig, tp, _ := newTestRig(t, logging.NewTestLogger(t))

	tp.bus.QueueResponse(0x00, 0x3F, 0xFF, 0xFE)
	test.That(t, tp.encoderA.Tick(true), test.ShouldBeNil)
	rig.Encoder.Attach(tp.encoderA, tp.encoderB)
	test.That(t, tp.encoderB.Tick(true), test.ShouldBeNil)

	sample, err := rig.Sense(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sample, test.ShouldResemble, control.SensorSample{StepperPosition: -2, EncoderPosition: 1})
	test.That(t, tp.bus.Sent(), test.ShouldResemble, []byte{0x21, 0x00, 0x00, 0x00})
}

func TestActuate(t *testing.T) {
	rig, tp, _ := newTestRig(t, logging.NewTestLogger(t))
	ctx := context.Background()

	test.That(t, rig.Actuate(ctx, -100), test.ShouldBeNil)
	test.That(t, tp.stepClock.Period(), test.ShouldEqual, uint32(100))
	test.That(t, tp.direction.History(), test.ShouldResemble, []bool{false})
}

func TestStartClose(t *testing.T) {
	ctx := context.Background()
	logger, observed := logging.NewObservedTestLogger(t)
	rig, tp, mock := newTestRig(t, logger)

	// A non-zero acknowledgement for the first register write.
	tp.bus.QueueResponse(0x00, 0x00, 0x00, 0x01)
	test.That(t, rig.Start(ctx), test.ShouldBeNil)
	test.That(t, rig.Start(ctx), test.ShouldBeNil)
	test.That(t, observed.FilterMessage("driver acknowledgement mismatch").Len(), test.ShouldEqual, 1)

	test.That(t, tp.standbyReset.History(), test.ShouldResemble, []bool{true})
	sent := tp.bus.Sent()
	// Register defaults first, then ENABLE.
	test.That(t, sent[0], test.ShouldEqual, byte(0x01))
	test.That(t, sent[28], test.ShouldEqual, byte(0xB8))
	test.That(t, tp.stepClock.History()[0], test.ShouldEqual, uint32(100000))
	test.That(t, tp.encoderA.CallbackCount(), test.ShouldEqual, 1)
	test.That(t, rig.Loop.Running(), test.ShouldBeTrue)

	// The excitation sequences are generated at startup.
	seq := rig.State.Reference.Sequence()
	test.That(t, seq[0], test.ShouldEqual, float32(20))
	test.That(t, seq[150], test.ShouldEqual, float32(-20))

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mock.Add(5 * time.Millisecond)
		test.That(tb, rig.State.Counter(), test.ShouldBeGreaterThanOrEqualTo, uint64(2))
	})

	test.That(t, rig.Close(ctx), test.ShouldBeNil)
	test.That(t, rig.Close(ctx), test.ShouldBeNil)
	test.That(t, rig.Loop.Running(), test.ShouldBeFalse)
	test.That(t, tp.stepClock.Closed(), test.ShouldBeTrue)
	test.That(t, tp.encoderA.CallbackCount(), test.ShouldEqual, 0)
	test.That(t, tp.standbyReset.History(), test.ShouldResemble, []bool{true, false})
	test.That(t, tp.closed.Load(), test.ShouldEqual, int64(2))
	sent = tp.bus.Sent()
	test.That(t, sent[len(sent)-1], test.ShouldEqual, byte(0xA8))

	test.That(t, rig.Start(ctx), test.ShouldNotBeNil)
}

func TestStatus(t *testing.T) {
	rig, tp, _ := newTestRig(t, logging.NewTestLogger(t))
	tp.bus.QueueResponse(0x00, 0x1E, 0x11)
	test.That(t, tp.flag.Tick(true), test.ShouldBeNil)

	status, err := rig.Status(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status.ControllerType, test.ShouldEqual, supervisory.ControllerPID)
	test.That(t, status.Running, test.ShouldBeFalse)
	test.That(t, status.Driver.HighZ, test.ShouldBeTrue)
	test.That(t, status.Driver.Forward, test.ShouldBeTrue)
	test.That(t, status.Driver.Faulted(), test.ShouldBeFalse)
	test.That(t, status.Faulted, test.ShouldBeFalse)
	test.That(t, tp.bus.Sent(), test.ShouldResemble, []byte{0xD0, 0x00, 0x00})

	test.That(t, tp.flag.Tick(false), test.ShouldBeNil)
	test.That(t, rig.Faulted(), test.ShouldBeTrue)
}

func TestReconfigure(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	rig, _, _ := newTestRig(t, logger)

	cfg := config.Default()
	cfg.ControllerType = supervisory.ControllerStateSpace
	cfg.PID.Gains1 = control.Gains{Kp: 3}
	cfg.PID.Run = true
	cfg.PID.Run2 = false
	cfg.StateSpace.Gain = 2
	cfg.StateSpace.Cascade.Run = true
	cfg.Board.SPIBus = "1"
	test.That(t, rig.Reconfigure(cfg), test.ShouldBeNil)

	gains, err := rig.PID.Gains(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gains, test.ShouldResemble, control.Gains{Kp: 3})
	test.That(t, rig.PID.Run(), test.ShouldBeTrue)
	run2, err := rig.PID.ChannelRun(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, run2, test.ShouldBeFalse)
	test.That(t, rig.StateSpace.Gain(), test.ShouldEqual, 2.)
	test.That(t, rig.StateSpace.CascadeRun(), test.ShouldBeTrue)
	test.That(t, rig.State.ControllerType(), test.ShouldEqual, supervisory.ControllerStateSpace)
	test.That(t, rig.Controller(), test.ShouldEqual, rig.StateSpace)

	// The wiring only changes on restart.
	test.That(t, rig.Config().Board.SPIBus, test.ShouldEqual, config.DefaultSPIBus)
	test.That(t, observed.FilterMessage("wiring, sampling period and capture sizes only change on restart").Len(),
		test.ShouldEqual, 1)

	bad := config.Default()
	bad.PID.LimitSum1 = -1
	test.That(t, rig.Reconfigure(bad), test.ShouldNotBeNil)
	gains, err = rig.PID.Gains(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gains, test.ShouldResemble, control.Gains{Kp: 3})
}

func TestStatusJob(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	rig, tp, _ := newTestRig(t, logger)

	job, err := rig.job(config.StatusJobName)
	test.That(t, err, test.ShouldBeNil)
	tp.bus.QueueResponse(0x00, 0x1E, 0x11)
	test.That(t, job(context.Background()), test.ShouldBeNil)
	entries := observed.FilterMessage("status").All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].ContextMap()["controller"], test.ShouldEqual, supervisory.ControllerPID)

	tp.bus.XferErr = errors.New("bus gone")
	test.That(t, job(context.Background()), test.ShouldNotBeNil)
}

func TestSinglePIDController(t *testing.T) {
	rig, tp, _ := newTestRig(t, logging.NewTestLogger(t))

	cfg := config.Default()
	cfg.ControllerType = supervisory.ControllerPID1
	cfg.PID1 = control.PIDConfig{Gains: control.Gains{Kp: 2}, Reference: 10, LimitSum: 100, Run: true}
	test.That(t, rig.Reconfigure(cfg), test.ShouldBeNil)
	test.That(t, rig.Controller(), test.ShouldEqual, rig.PID1)
	test.That(t, rig.PID1.Gains(), test.ShouldResemble, control.Gains{Kp: 2})

	// ABS_POS reads 4, so the command is 2 * (10 - 4).
	tp.bus.QueueResponse(0x00, 0x00, 0x00, 0x04)
	rig.Loop.Tick(context.Background())
	test.That(t, rig.State.Counter(), test.ShouldEqual, uint64(1))
	test.That(t, rig.PID1.Sample(), test.ShouldResemble, control.Sample{Y1: 4, U: 12})
	test.That(t, tp.stepClock.Period(), test.ShouldEqual, uint32(833))
}

func TestReconfigureLogLevels(t *testing.T) {
	rig, _, _ := newTestRig(t, logging.NewTestLogger(t))

	cfg := config.Default()
	cfg.Log = []logging.LoggerPatternConfig{{Pattern: "l6474", Level: "error"}}
	test.That(t, rig.Reconfigure(cfg), test.ShouldBeNil)

	driverLogger, ok := logging.LoggerNamed("l6474")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, driverLogger.GetLevel(), test.ShouldEqual, logging.ERROR)
	loopLogger, ok := logging.LoggerNamed("loop")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, loopLogger.GetLevel(), test.ShouldEqual, logging.DEBUG)
}
