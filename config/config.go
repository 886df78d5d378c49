// Package config defines the configuration file of the rig and how it is read and watched.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/edukit/control"
	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/robot/jobmanager"
	"go.viam.com/edukit/supervisory"
)

// Defaults for the pin-out of an X-NUCLEO-IHM01A1 on a Raspberry Pi header.
const (
	DefaultGPIOChip     = "/dev/gpiochip0"
	DefaultSPIBus       = "0"
	DefaultChipSelect   = "0"
	DefaultPWMChip      = "pwmchip0"
	DefaultEncoderA     = 23
	DefaultEncoderB     = 24
	DefaultDirection    = 5
	DefaultStandbyReset = 6
	DefaultFlag         = 13
)

// Names of the jobs a rig knows how to run.
const (
	// MaintenanceJobName names the housekeeping job.
	MaintenanceJobName = "maintenance"
	// StatusJobName names the job that logs the rig status.
	StatusJobName = "status"
)

// Config is the configuration file of the rig.
type Config struct {
	ConfigFilePath string `json:"-"`

	Board          BoardConfig              `json:"board"`
	SamplingPeriod time.Duration            `json:"sampling_period"`
	Capture        supervisory.Config       `json:"capture"`
	ControllerType string                   `json:"controller_type"`
	PID            control.PID2Config       `json:"pid"`
	PID1           control.PIDConfig        `json:"pid1"`
	StateSpace     control.StateSpaceConfig `json:"state_space"`
	Excitation     ExcitationConfig         `json:"excitation"`
	Jobs           []jobmanager.JobConfig   `json:"jobs,omitempty"`
	Seed           int64                    `json:"seed,omitempty"`

	LogFile string                        `json:"log_file,omitempty"`
	Debug   bool                          `json:"debug,omitempty"`
	Log     []logging.LoggerPatternConfig `json:"log,omitempty"`
}

// BoardConfig describes how the driver board and the encoder are wired. Pins are line offsets of
// GPIOChip.
type BoardConfig struct {
	GPIOChip     string `json:"gpio_chip"`
	EncoderA     int    `json:"encoder_a"`
	EncoderB     int    `json:"encoder_b"`
	Direction    int    `json:"direction"`
	StandbyReset int    `json:"standby_reset"`
	Flag         int    `json:"flag"`
	SPIBus       string `json:"spi_bus"`
	ChipSelect   string `json:"chip_select"`
	PWMRoot      string `json:"pwm_root,omitempty"`
	PWMChip      string `json:"pwm_chip"`
	PWMLine      int    `json:"pwm_line"`
}

// SequenceConfig parameterizes a generated excitation sequence: Height1 for the first Duration
// samples, Height2 after, plus uniform noise scaled by StdNoise.
type SequenceConfig struct {
	StdNoise float64 `json:"std_noise"`
	Height1  float64 `json:"height1"`
	Height2  float64 `json:"height2"`
	Duration int     `json:"duration"`
}

// ExcitationConfig holds the sequences generated at startup.
type ExcitationConfig struct {
	Control   SequenceConfig `json:"control"`
	Reference SequenceConfig `json:"reference"`
}

// Default returns the configuration used for everything a file leaves out.
func Default() *Config {
	return &Config{
		Board: BoardConfig{
			GPIOChip:     DefaultGPIOChip,
			EncoderA:     DefaultEncoderA,
			EncoderB:     DefaultEncoderB,
			Direction:    DefaultDirection,
			StandbyReset: DefaultStandbyReset,
			Flag:         DefaultFlag,
			SPIBus:       DefaultSPIBus,
			ChipSelect:   DefaultChipSelect,
			PWMChip:      DefaultPWMChip,
		},
		SamplingPeriod: supervisory.DefaultSamplingPeriod,
		Capture: supervisory.Config{
			RecordNumSamples: supervisory.DefaultRecordNumSamples,
			LogBufLen:        supervisory.DefaultLogBufLen,
		},
		ControllerType: supervisory.ControllerPID,
		PID:            control.DefaultPID2Config(),
		PID1:           control.PIDConfig{LimitSum: control.DefaultLimitSum},
		StateSpace: control.StateSpaceConfig{
			Gain:    1,
			Cascade: control.PIDConfig{LimitSum: control.DefaultLimitSum},
		},
		Excitation: ExcitationConfig{
			Control:   SequenceConfig{StdNoise: 5, Height1: 40, Height2: -40, Duration: 100},
			Reference: SequenceConfig{StdNoise: 0, Height1: 20, Height2: -20, Duration: 100},
		},
		Jobs: []jobmanager.JobConfig{
			{Name: MaintenanceJobName, Schedule: jobmanager.MaintenanceInterval.String()},
		},
	}
}

// Validate returns an error naming the first invalid field, with path as the prefix of its
// location.
func (cfg *Config) Validate(path string) error {
	if err := cfg.Board.Validate(joinPath(path, "board")); err != nil {
		return err
	}
	if cfg.SamplingPeriod <= 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("sampling_period must be positive, got %v", cfg.SamplingPeriod))
	}
	if cfg.Capture.RecordNumSamples <= 0 {
		return utils.NewConfigValidationFieldRequiredError(joinPath(path, "capture"), "record_num_samples")
	}
	if cfg.Capture.LogBufLen <= 0 {
		return utils.NewConfigValidationFieldRequiredError(joinPath(path, "capture"), "log_buf_len")
	}
	switch cfg.ControllerType {
	case supervisory.ControllerPID, supervisory.ControllerPID1, supervisory.ControllerStateSpace:
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown controller_type %q", cfg.ControllerType))
	}
	if err := cfg.PID.Validate(); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "pid"), err)
	}
	if err := cfg.PID1.Validate(); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "pid1"), err)
	}
	if err := cfg.StateSpace.Validate(); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "state_space"), err)
	}
	if err := cfg.Excitation.Control.Validate(cfg.Capture.RecordNumSamples); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "excitation", "control"), err)
	}
	if err := cfg.Excitation.Reference.Validate(cfg.Capture.RecordNumSamples); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "excitation", "reference"), err)
	}
	for i, lc := range cfg.Log {
		if err := lc.Validate(); err != nil {
			return utils.NewConfigValidationError(fmt.Sprintf("%s.%d", joinPath(path, "log"), i), err)
		}
	}
	for i, jc := range cfg.Jobs {
		if err := jc.Validate(); err != nil {
			return utils.NewConfigValidationError(fmt.Sprintf("%s.%d", joinPath(path, "jobs"), i), err)
		}
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (bc BoardConfig) Validate(path string) error {
	if bc.GPIOChip == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "gpio_chip")
	}
	if bc.SPIBus == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "spi_bus")
	}
	if bc.ChipSelect == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "chip_select")
	}
	if bc.PWMChip == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "pwm_chip")
	}
	seen := map[int]string{}
	for _, pin := range []struct {
		name   string
		offset int
	}{
		{"encoder_a", bc.EncoderA},
		{"encoder_b", bc.EncoderB},
		{"direction", bc.Direction},
		{"standby_reset", bc.StandbyReset},
		{"flag", bc.Flag},
	} {
		if pin.offset < 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("%s must be a line offset, got %d", pin.name, pin.offset))
		}
		if other, ok := seen[pin.offset]; ok {
			return utils.NewConfigValidationError(path, errors.Errorf("%s and %s share line %d", other, pin.name, pin.offset))
		}
		seen[pin.offset] = pin.name
	}
	if bc.PWMLine < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("pwm_line must not be negative, got %d", bc.PWMLine))
	}
	return nil
}

// Validate ensures the sequence fits into numSamples.
func (sc SequenceConfig) Validate(numSamples int) error {
	if sc.Duration < 0 || sc.Duration > numSamples {
		return errors.Errorf("duration must be within [0, %d], got %d", numSamples, sc.Duration)
	}
	if sc.StdNoise < 0 {
		return errors.Errorf("std_noise must not be negative, got %v", sc.StdNoise)
	}
	return nil
}

func joinPath(path string, elems ...string) string {
	for _, elem := range elems {
		if path == "" {
			path = elem
			continue
		}
		path = path + "." + elem
	}
	return path
}
