// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cachepush/cmd/cachepush/cli"
	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/deadletter"
	"github.com/bureau-foundation/cachepush/lib/trigger"
)

func deadLetterCommand(streams IO) *cli.Command {
	return &cli.Command{
		Name:    "deadletter",
		Summary: "Inspect, replay, and purge uploads the agent gave up on",
		Subcommands: []*cli.Command{
			deadLetterListCommand(streams),
			deadLetterReplayCommand(streams),
			deadLetterPurgeCommand(streams),
		},
	}
}

// openStore opens the dead-letter database named by the
// configuration. It refuses to create a database that does not exist.
func openStore(cfg *config.Config, streams IO) (*deadletter.Store, error) {
	if _, err := os.Stat(cfg.DeadLetter.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no dead-letter store at %s (has the agent run on this machine?)", cfg.DeadLetter.Path)
		}
		return nil, err
	}
	return deadletter.Open(deadletter.Config{
		Path:   cfg.DeadLetter.Path,
		Clock:  streams.Clock,
		Logger: streams.Logger,
	})
}

func deadLetterListCommand(streams IO) *cli.Command {
	var configPath, cache string
	var limit int
	var outputJSON bool
	return &cli.Command{
		Name:    "list",
		Summary: "List dead-lettered uploads, oldest first",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.StringVar(&cache, "cache", "", "only show records for this cache")
			flagSet.IntVarP(&limit, "limit", "n", 0, "maximum records to show (0 for all)")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Show the ten oldest failures", Command: "cachepush deadletter list -n 10"},
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, streams)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(context.Background(), deadletter.ListOptions{Cache: cache, Limit: limit})
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(streams.Stdout, records)
			}
			if len(records) == 0 {
				_, err := fmt.Fprintln(streams.Stdout, "no dead-lettered uploads")
				return err
			}
			tw := tabwriter.NewWriter(streams.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RECORDED\tCACHE\tREASON\tATTEMPTS\tSTORE PATH\tERROR")
			for _, record := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					record.RecordedAt.UTC().Format(time.RFC3339),
					record.Job.CacheName,
					record.Reason,
					record.Job.Attempts,
					record.Job.StorePath,
					record.Error,
				)
			}
			return tw.Flush()
		},
	}
}

func deadLetterReplayCommand(streams IO) *cli.Command {
	var configPath, cache string
	var limit int
	return &cli.Command{
		Name:        "replay",
		Summary:     "Ask the running agent to re-queue dead-lettered uploads",
		Description: "Replay sends the dead-lettered jobs back through the running agent's queue\nwith their attempt counts reset. Only as many jobs as the queue has room for\nare replayed; run it again to continue.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.StringVar(&cache, "cache", "", "only replay records for this cache")
			flagSet.IntVarP(&limit, "limit", "n", 0, "maximum records to replay (0 for as many as fit)")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			result, err := trigger.NewClient(cfg.SocketPath).Replay(ctx, trigger.Replay{Cache: cache, Limit: limit})
			if err != nil {
				return fmt.Errorf("replaying through %s: %w", cfg.SocketPath, err)
			}
			_, err = fmt.Fprintf(streams.Stdout, "replayed %d, %d remaining\n", result.Replayed, result.Remaining)
			return err
		},
	}
}

func deadLetterPurgeCommand(streams IO) *cli.Command {
	var configPath string
	var olderThan time.Duration
	return &cli.Command{
		Name:    "purge",
		Summary: "Delete dead-lettered uploads older than a duration",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("purge", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.DurationVar(&olderThan, "older-than", 7*24*time.Hour, "delete records recorded before now minus this duration")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Forget everything older than a day", Command: "cachepush deadletter purge --older-than 24h"},
		},
		Run: func(args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, streams)
			if err != nil {
				return err
			}
			defer store.Close()

			purged, err := store.Purge(context.Background(), streams.Clock.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(streams.Stdout, "purged %d records\n", purged)
			return err
		},
	}
}
