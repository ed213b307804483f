// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cachepush/cmd/cachepush/cli"
	"github.com/bureau-foundation/cachepush/lib/eventstream"
	"github.com/bureau-foundation/cachepush/lib/pushagent"
	"github.com/bureau-foundation/cachepush/lib/trigger"
)

func statusCommand(streams IO) *cli.Command {
	var configPath string
	var outputJSON bool
	return &cli.Command{
		Name:    "status",
		Summary: "Show the running agent's queue and event counters",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			var status pushagent.Status
			if err := trigger.NewClient(cfg.SocketPath).Call(ctx, trigger.ActionStatus, nil, &status); err != nil {
				return fmt.Errorf("querying agent at %s: %w", cfg.SocketPath, err)
			}
			if outputJSON {
				return cli.WriteJSON(streams.Stdout, status)
			}

			tw := tabwriter.NewWriter(streams.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "host\t%s\n", status.Host)
			fmt.Fprintf(tw, "uptime\t%s\n", status.Uptime.Round(time.Second))
			fmt.Fprintf(tw, "caches\t%v\n", status.Caches)
			fmt.Fprintf(tw, "queue\t%d/%d pending (%s), %d dropped, %d rejected\n",
				status.Queue.Pending, status.Queue.Capacity, status.Queue.Policy, status.Queue.Dropped, status.Queue.Rejected)
			fmt.Fprintf(tw, "workers\t%d busy of %d\n", status.Active, status.Workers)
			if status.DeadLetters >= 0 {
				fmt.Fprintf(tw, "dead letters\t%d\n", status.DeadLetters)
			}
			kinds := make([]string, 0, len(status.Events))
			for kind := range status.Events {
				kinds = append(kinds, string(kind))
			}
			slices.Sort(kinds)
			for _, kind := range kinds {
				fmt.Fprintf(tw, "events.%s\t%d\n", kind, status.Events[eventstream.Kind(kind)])
			}
			return tw.Flush()
		},
	}
}
