// Command exstem is the terminal client for the grading server. It shares
// the saved session with the portal, so signing out in one signs out both.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stemsi/exstem-client/internal/app"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/internal/validator"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize client")
		return 1
	}
	defer a.Close()

	cli := commandLine{app: a, out: os.Stdout}
	if err := cli.run(ctx, os.Args); err != nil {
		if !errors.Is(err, errHelp) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", describe(err))
		}
		return 1
	}
	return 0
}
