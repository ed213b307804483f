// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the cachepush command tree.
package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cachepush/cmd/cachepush/cli"
	"github.com/bureau-foundation/cachepush/lib/clock"
	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/version"
)

// IO carries the streams and clock commands use. Tests substitute
// buffers and a fake clock.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Clock  clock.Clock
	Logger *slog.Logger
}

func (streams IO) withDefaults() IO {
	if streams.Clock == nil {
		streams.Clock = clock.Real()
	}
	if streams.Logger == nil {
		streams.Logger = cli.NewCommandLogger(slog.LevelInfo)
	}
	return streams
}

// Root returns the top-level command.
func Root(streams IO) *cli.Command {
	streams = streams.withDefaults()
	return &cli.Command{
		Name:    "cachepush",
		Summary: "Operate the binary cache push agent",
		Subcommands: []*cli.Command{
			deadLetterCommand(streams),
			probeCommand(streams),
			statusCommand(streams),
			tokenCommand(streams),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					_, err := fmt.Fprintf(streams.Stdout, "cachepush %s\n", version.Full())
					return err
				},
			},
		},
	}
}

// configFlag registers --config on flagSet.
func configFlag(flagSet *pflag.FlagSet, path *string) {
	flagSet.StringVarP(path, "config", "c", "", "agent configuration file (default: $"+config.EnvironmentVariable+")")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
