package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/invopop/jsonschema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/edukit/components/motor/l6474"
	"go.viam.com/edukit/config"
	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/robot"
	"go.viam.com/edukit/utils"
)

// openParts opens the hardware of the rig. Tests replace it with fakes.
var openParts = robot.OpenParts

func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewBlankLogger("edukit")
	logger.SetLevel(logging.INFO)
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	config.InitLoggingSettings(logger, c.Bool(debugFlag))
	return logger
}

func closeParts(ctx context.Context, parts robot.Parts) error {
	var err error
	for _, closer := range parts.Closers {
		err = multierr.Combine(err, closer(ctx))
	}
	return err
}

func printJSON(c *cli.Context, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}

// RunAction is the corresponding Action for 'run'. It starts the rig, applies changes to the
// config file while running, and closes the rig on interrupt or once the duration elapses.
func RunAction(c *cli.Context) (err error) {
	ctx := c.Context
	if duration := c.Duration(durationFlag); duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	logger := newLogger(c)
	configPath := c.String(configFlag)

	cfg, err := config.Read(ctx, configPath, logger)
	if err != nil {
		return err
	}
	config.UpdateFileConfigDebug(cfg.Debug)
	defer goutils.UncheckedErrorFunc(config.AddLogFileAppender(logger, cfg))

	parts, err := openParts(ctx, cfg.Board, logger)
	if err != nil {
		return err
	}
	rig, err := robot.New(cfg, parts, logger, clock.New())
	if err != nil {
		return multierr.Combine(err, closeParts(ctx, parts))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		stopSlowLogger := utils.SlowLogger(closeCtx, clock.New(), "waiting for rig to close", logger, "config", configPath)
		err = multierr.Combine(err, rig.Close(closeCtx))
		stopSlowLogger()
		if err != nil || !c.Bool(snapshotFlag) {
			return
		}
		snapshot, snapErr := rig.Bridge.Snapshot()
		err = multierr.Combine(snapErr, printJSON(c, snapshot))
	}()

	if err := rig.Start(ctx); err != nil {
		return err
	}
	watcher, err := config.NewWatcher(ctx, configPath, logger)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(watcher.Close)

	for {
		select {
		case <-ctx.Done():
			return nil
		case newCfg := <-watcher.Config():
			if err := rig.Reconfigure(newCfg); err != nil {
				logger.Errorw("cannot apply changed config", "error", err)
				continue
			}
			logger.Infow("applied changed config", "controller", newCfg.ControllerType)
		}
	}
}

// withDriver opens the parts named by the config and talks to the stepper driver without
// starting the rig.
func withDriver(c *cli.Context, f func(ctx context.Context, driver *l6474.Driver, parts robot.Parts) error) (err error) {
	ctx := c.Context
	if c.Bool(traceFlag) {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	logger := newLogger(c)
	cfg, err := config.Read(ctx, c.String(configFlag), logger)
	if err != nil {
		return err
	}
	parts, err := openParts(ctx, cfg.Board, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closeParts(ctx, parts))
	}()
	if err := parts.Validate(); err != nil {
		return err
	}
	driver := l6474.NewDriver(parts.Bus, parts.ChipSelect, parts.Direction, parts.StepClock, logger.Sublogger("l6474"))
	return f(ctx, driver, parts)
}

type driverStatus struct {
	Raw     string       `json:"raw"`
	Status  l6474.Status `json:"status"`
	Faulted bool         `json:"faulted"`
	Flag    *bool        `json:"flag,omitempty"`
}

// StatusAction is the corresponding Action for 'status'.
func StatusAction(c *cli.Context) error {
	return withDriver(c, func(ctx context.Context, driver *l6474.Driver, parts robot.Parts) error {
		raw, err := driver.GetStatus(ctx)
		if err != nil {
			return errors.Wrap(err, "cannot read driver status")
		}
		status := l6474.DecodeStatus(raw)
		out := driverStatus{
			Raw:     fmt.Sprintf("0x%04X", raw),
			Status:  status,
			Faulted: status.Faulted(),
		}
		if parts.Flag != nil {
			// FLAG is active low.
			flag := !parts.Flag.Level()
			out.Flag = &flag
		}
		if out.Faulted {
			warningf(c.App.ErrWriter, "the driver reports a fault")
		}
		return printJSON(c, out)
	})
}

// RegistersAction is the corresponding Action for 'registers'.
func RegistersAction(c *cli.Context) error {
	return withDriver(c, func(ctx context.Context, driver *l6474.Driver, _ robot.Parts) error {
		values, err := driver.Registers(ctx)
		if err != nil {
			return errors.Wrap(err, "cannot read driver registers")
		}
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Register", "Address", "Value"})
		for _, name := range l6474.RegisterNames() {
			reg, _ := l6474.LookupRegister(name)
			t.AppendRow(table.Row{name, fmt.Sprintf("0x%02X", reg.Address), values[name]})
		}
		printf(c.App.Writer, "%s", t.Render())
		return nil
	})
}

// ValidateAction is the corresponding Action for 'validate'.
func ValidateAction(c *cli.Context) error {
	logger := newLogger(c)
	path := c.String(configFlag)
	cfg, err := config.Read(c.Context, path, logger)
	if err != nil {
		return err
	}
	infof(c.App.Writer, "%s is valid", path)
	if c.Bool(printFlag) {
		return printJSON(c, cfg)
	}
	return nil
}

// SchemaAction is the corresponding Action for 'schema'.
func SchemaAction(c *cli.Context) error {
	return printJSON(c, jsonschema.Reflect(&config.Config{}))
}
