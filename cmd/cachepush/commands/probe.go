// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cachepush/cmd/cachepush/cli"
	"github.com/bureau-foundation/cachepush/lib/cacheclient"
	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/credential"
)

func probeCommand(streams IO) *cli.Command {
	var configPath string
	var timeout time.Duration
	var outputJSON bool
	return &cli.Command{
		Name:    "probe",
		Summary: "Check that a cache is reachable and accepts its token",
		Usage:   "cachepush probe [flags] CACHE",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("probe", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.DurationVar(&timeout, "timeout", 15*time.Second, "probe timeout")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: cachepush probe [flags] CACHE")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			target, ok := cfg.Cache(args[0])
			if !ok {
				return fmt.Errorf("no cache named %q in the configuration", args[0])
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			info, err := probe(ctx, cfg, target, streams)
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(streams.Stdout, info)
			}
			_, err = fmt.Fprintf(streams.Stdout, "%s: reachable at %s (%s)\n",
				info.CacheName, info.Endpoint, info.Latency.Round(time.Millisecond))
			return err
		},
	}
}

func probe(ctx context.Context, cfg *config.Config, target config.CacheTarget, streams IO) (cacheclient.ReachabilityInfo, error) {
	targets := []config.CacheTarget{target}
	resolver, err := credential.NewResolver(targets, cfg.Credentials.AgeIdentity)
	if err != nil {
		return cacheclient.ReachabilityInfo{}, err
	}
	router, err := cacheclient.NewRouter(ctx, targets, cacheclient.Options{
		Clock:  streams.Clock,
		Logger: streams.Logger,
	})
	if err != nil {
		return cacheclient.ReachabilityInfo{}, err
	}
	token, err := resolver.Token(ctx, target.Name)
	if err != nil {
		return cacheclient.ReachabilityInfo{}, fmt.Errorf("token for %s: %w", target.Name, err)
	}
	defer token.Close()
	return router.Probe(ctx, target.Name, token.Bytes())
}
