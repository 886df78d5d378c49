package config

import (
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/edukit/control"
	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/robot/jobmanager"
	"go.viam.com/edukit/supervisory"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(""), test.ShouldBeNil)
	test.That(t, cfg.SamplingPeriod, test.ShouldEqual, 10*time.Millisecond)
	test.That(t, cfg.Capture.RecordNumSamples, test.ShouldEqual, 200)
	test.That(t, cfg.Capture.LogBufLen, test.ShouldEqual, 128)
	test.That(t, cfg.PID.LimitSum1, test.ShouldEqual, float64(control.DefaultLimitSum))
	test.That(t, cfg.PID.Run, test.ShouldBeFalse)
	test.That(t, cfg.PID.Run1, test.ShouldBeTrue)
	test.That(t, cfg.Excitation.Control, test.ShouldResemble,
		SequenceConfig{StdNoise: 5, Height1: 40, Height2: -40, Duration: 100})
	test.That(t, cfg.Jobs, test.ShouldResemble,
		[]jobmanager.JobConfig{{Name: MaintenanceJobName, Schedule: "1s"}})
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name     string
		mutate   func(cfg *Config)
		contains string
	}{
		{"missing gpio chip", func(cfg *Config) { cfg.Board.GPIOChip = "" }, "gpio_chip"},
		{"missing spi bus", func(cfg *Config) { cfg.Board.SPIBus = "" }, "spi_bus"},
		{"shared line", func(cfg *Config) { cfg.Board.Flag = cfg.Board.EncoderA }, "share line"},
		{"negative line", func(cfg *Config) { cfg.Board.Direction = -1 }, "direction"},
		{"period", func(cfg *Config) { cfg.SamplingPeriod = 0 }, "sampling_period"},
		{"record size", func(cfg *Config) { cfg.Capture.RecordNumSamples = 0 }, "record_num_samples"},
		{"controller type", func(cfg *Config) { cfg.ControllerType = "lqr" }, "lqr"},
		{"limit", func(cfg *Config) { cfg.PID.LimitSum2 = -1 }, "limit_sum2"},
		{"excitation", func(cfg *Config) { cfg.Excitation.Reference.Duration = 300 }, "excitation.reference"},
		{"single pid limit", func(cfg *Config) { cfg.PID1.LimitSum = -1 }, "pid1"},
		{"log level", func(cfg *Config) {
			cfg.Log = []logging.LoggerPatternConfig{{Pattern: "edukit.*", Level: "info"}, {Pattern: "edukit", Level: "loud"}}
		}, "log.1"},
		{"job", func(cfg *Config) { cfg.Jobs[0].Schedule = "" }, "jobs.0"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate("rig")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.contains)
		})
	}

	cfg := Default()
	cfg.ControllerType = supervisory.ControllerStateSpace
	test.That(t, cfg.Validate(""), test.ShouldBeNil)
	cfg.ControllerType = supervisory.ControllerPID1
	cfg.Log = []logging.LoggerPatternConfig{{Pattern: "edukit.l6474", Level: "debug"}}
	test.That(t, cfg.Validate(""), test.ShouldBeNil)
}
