package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/atomic"
	"go.viam.com/test"

	"go.viam.com/edukit/components/board/fake"
	"go.viam.com/edukit/config"
	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/robot"
)

// syncBuffer is written by the loop goroutines while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeHardware struct {
	bus    *fake.SPI
	flag   *fake.DigitalInterrupt
	closed atomic.Int64
}

// install replaces the hardware opener for the duration of the test.
func (fh *fakeHardware) install(t *testing.T) {
	t.Helper()
	fh.bus = &fake.SPI{}
	fh.flag = fake.NewDigitalInterrupt("flag")
	previous := openParts
	openParts = func(ctx context.Context, cfg config.BoardConfig, logger logging.Logger) (robot.Parts, error) {
		return robot.Parts{
			Bus:          fh.bus,
			ChipSelect:   cfg.ChipSelect,
			Direction:    &fake.GPIOPin{},
			StandbyReset: &fake.GPIOPin{},
			StepClock:    &fake.StepClock{},
			EncoderA:     fake.NewDigitalInterrupt("encoder_a"),
			EncoderB:     fake.NewDigitalInterrupt("encoder_b"),
			Flag:         fh.flag,
			Closers: []func(context.Context) error{func(context.Context) error {
				fh.closed.Inc()
				return nil
			}},
		}, nil
	}
	t.Cleanup(func() { openParts = previous })
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edukit.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func setup(t *testing.T) (*syncBuffer, *syncBuffer, func(args ...string) error) {
	t.Helper()
	out := &syncBuffer{}
	errOut := &syncBuffer{}
	app := NewApp(out, errOut)
	return out, errOut, func(args ...string) error {
		return app.RunContext(context.Background(), append([]string{"edukit"}, args...))
	}
}

func TestValidateAction(t *testing.T) {
	path := writeConfig(t, `{"sampling_period": "20ms", "controller_type": "state_space"}`)
	out, _, run := setup(t)

	test.That(t, run("--config", path, "validate", "--print"), test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, path+" is valid")
	test.That(t, out.String(), test.ShouldContainSubstring, `"sampling_period": 20000000`)
	test.That(t, out.String(), test.ShouldContainSubstring, `"controller_type": "state_space"`)

	invalid := writeConfig(t, `{"controller_type": "lqr"}`)
	err := run("--config", invalid, "validate")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "lqr")

	err = run("--config", filepath.Join(t.TempDir(), "missing.json"), "validate")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHelp(t *testing.T) {
	out, _, run := setup(t)
	test.That(t, run("--help"), test.ShouldBeNil)
	for _, command := range []string{"run", "status", "registers", "validate", "schema"} {
		test.That(t, out.String(), test.ShouldContainSubstring, command)
	}
}

func TestRegistersAction(t *testing.T) {
	fh := &fakeHardware{}
	fh.install(t)
	path := writeConfig(t, `{}`)
	out, errOut, run := setup(t)

	test.That(t, run("--config", path, "registers", "--trace"), test.ShouldBeNil)
	test.That(t, errOut.String(), test.ShouldContainSubstring, "register read")
	for _, name := range []string{"ABS_POS", "TVAL", "CONFIG", "STATUS", "0x19"} {
		test.That(t, out.String(), test.ShouldContainSubstring, name)
	}
	// GET_PARAM of ABS_POS comes first.
	test.That(t, fh.bus.Sent()[0], test.ShouldEqual, byte(0x21))
	test.That(t, fh.closed.Load(), test.ShouldEqual, int64(1))
}

func TestStatusAction(t *testing.T) {
	fh := &fakeHardware{}
	fh.install(t)
	path := writeConfig(t, `{}`)
	out, _, run := setup(t)

	fh.bus.QueueResponse(0x00, 0x1E, 0x11)
	test.That(t, run("--config", path, "status"), test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, `"raw": "0x1E11"`)
	test.That(t, out.String(), test.ShouldContainSubstring, `"high_z": true`)
	// The fake flag line starts low, which is an active fault output.
	test.That(t, out.String(), test.ShouldContainSubstring, `"flag": true`)
	test.That(t, fh.bus.Sent(), test.ShouldResemble, []byte{0xD0, 0x00, 0x00})
	test.That(t, fh.closed.Load(), test.ShouldEqual, int64(1))
}

func TestRunAction(t *testing.T) {
	fh := &fakeHardware{}
	fh.install(t)
	path := writeConfig(t, `{"seed": 1}`)
	out, errOut, run := setup(t)

	test.That(t, run("--config", path, "run", "--duration", "100ms", "--snapshot"), test.ShouldBeNil)
	test.That(t, errOut.String(), test.ShouldContainSubstring, "rig started")
	test.That(t, errOut.String(), test.ShouldContainSubstring, "rig closed")
	test.That(t, out.String(), test.ShouldContainSubstring, `"controller_type": "pid"`)
	test.That(t, out.String(), test.ShouldContainSubstring, `"counter"`)
	test.That(t, out.String(), test.ShouldNotContainSubstring, `"record_data"`)
	test.That(t, fh.closed.Load(), test.ShouldEqual, int64(1))

	sent := fh.bus.Sent()
	// The driver is disabled on the way out.
	test.That(t, sent[len(sent)-1], test.ShouldEqual, byte(0xA8))
}

func TestSchemaAction(t *testing.T) {
	out, _, run := setup(t)
	test.That(t, run("schema"), test.ShouldBeNil)
	for _, field := range []string{`"sampling_period"`, `"controller_type"`, `"state_space"`, `"gains1"`} {
		test.That(t, out.String(), test.ShouldContainSubstring, field)
	}
	test.That(t, out.String(), test.ShouldNotContainSubstring, "ConfigFilePath")
}
