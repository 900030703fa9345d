// Package main is the mpcsim CLI.
package main

import (
	"context"
	"os"
	"os/signal"

	"go.viam.com/mpc/cli"
	"go.viam.com/mpc/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logging.ReplaceGlobal(logging.NewLogger("mpcsim"))
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		logging.Global().Fatal(err)
	}
}
