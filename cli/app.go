// Package cli contains the command line interface of the rig.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	configFlag   = "config"
	debugFlag    = "debug"
	durationFlag = "duration"
	snapshotFlag = "snapshot"
	printFlag    = "print"
	traceFlag    = "trace"

	defaultConfigPath = "edukit.json"
	closeTimeout      = 10 * time.Second
)

var traceDriverFlag = &cli.BoolFlag{
	Name:  traceFlag,
	Usage: "log every register transfer of this command without raising the global log level",
}

var app = &cli.App{
	Name:            "edukit",
	Usage:           "run and inspect the pendulum rig",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Value:   defaultConfigPath,
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "run",
			Usage: "start the rig and run the control loop until interrupted",
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  durationFlag,
					Usage: "stop after `DURATION` instead of waiting for an interrupt",
				},
				&cli.BoolFlag{
					Name:  snapshotFlag,
					Usage: "print every value the bridge exposes once the rig stops",
				},
			},
			Action: RunAction,
		},
		{
			Name:   "status",
			Usage:  "print the decoded STATUS register of the stepper driver",
			Flags:  []cli.Flag{traceDriverFlag},
			Action: StatusAction,
		},
		{
			Name:   "registers",
			Usage:  "dump the parameter registers of the stepper driver",
			Flags:  []cli.Flag{traceDriverFlag},
			Action: RegistersAction,
		},
		{
			Name:  "validate",
			Usage: "read and validate the config file",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  printFlag,
					Usage: "print the config with every default filled in",
				},
			},
			Action: ValidateAction,
		},
		{
			Name:   "schema",
			Usage:  "print the JSON schema of the config file",
			Action: SchemaAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
