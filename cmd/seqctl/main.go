// Package main is seqctl, the seqkeeper administration CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	runner := NewRunner(RunnerOpts{})
	defer runner.Close()

	app := &cli.Command{
		Name:    "seqkeeper",
		Usage:   "Manage numbering sequences and their periodic resets",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Sources: cli.EnvVars("SEQKEEPER_CONFIG"),
			},
		},
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "seqctl: %v\n", err)
		runner.Close()
		os.Exit(1)
	}
}
