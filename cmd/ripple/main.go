// Command ripple runs and inspects reactive graph scenarios.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/ripple/internal/cli"
)

func main() {
	// Commands replace this with a logger built from --config and --verbose.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := cli.NewRootCommand().Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Error())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
