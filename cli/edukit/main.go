// Package main is the edukit command.
package main

import (
	"context"
	"os"

	"go.viam.com/utils"

	"go.viam.com/edukit/cli"
	"go.viam.com/edukit/logging"
)

func main() {
	logging.ReplaceGlobal(logging.NewLogger("edukit"))
	utils.ContextualMain(mainWithArgs, logging.Global())
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	return cli.NewApp(os.Stdout, os.Stderr).RunContext(ctx, args)
}
