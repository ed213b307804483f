// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Cachepush-hook is installed as the Nix post-build-hook. Nix runs it
// after every successful build with DRV_PATH and OUT_PATHS set; the
// hook forwards them to the running cachepush-agent and returns.
//
// The hook always exits 0. A failing post-build-hook stops Nix from
// scheduling further builds, so an unreachable agent is reported on
// stderr and otherwise ignored.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bureau-foundation/cachepush/lib/process"
	"github.com/bureau-foundation/cachepush/lib/trigger"
	"github.com/bureau-foundation/cachepush/lib/version"
)

const (
	defaultSocketPath = "/run/cachepush/trigger.sock"
	socketEnvironment = "CACHEPUSH_SOCKET"
)

func main() {
	if err := run(os.Args[1:], os.Getenv); err != nil {
		process.Warn("cachepush-hook", err)
	}
}

func run(args []string, getenv func(string) string) error {
	flags := flag.NewFlagSet("cachepush-hook", flag.ContinueOnError)
	socketPath := flags.String("socket", "", "agent trigger socket (default: $"+socketEnvironment+" or "+defaultSocketPath+")")
	// The agent may hold a notification for up to queue.block_timeout
	// (5s by default) when the queue is full, so the default leaves
	// room for the reply that carries the rejected count.
	timeout := flags.Duration("timeout", 10*time.Second, "how long to wait for the agent (keep above the agent's queue.block_timeout)")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Printf("cachepush-hook %s\n", version.Info())
		return nil
	}

	derivation, outputs := buildFromEnvironment(getenv)
	if len(outputs) == 0 {
		return nil
	}

	path := *socketPath
	if path == "" {
		path = getenv(socketEnvironment)
	}
	if path == "" {
		path = defaultSocketPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	result, err := trigger.NewClient(path).NotifyBuild(ctx, derivation, outputs)
	if err != nil {
		return fmt.Errorf("notifying agent about %s: %w", derivation, err)
	}
	if result.Rejected > 0 {
		return fmt.Errorf("agent queue rejected %d of %d uploads for %s", result.Rejected,
			result.Accepted+result.Deduplicated+result.Rejected, derivation)
	}
	return nil
}

// buildFromEnvironment reads the variables Nix sets for a
// post-build-hook. OUT_PATHS is space-separated.
func buildFromEnvironment(getenv func(string) string) (string, []string) {
	return getenv("DRV_PATH"), strings.Fields(getenv("OUT_PATHS"))
}
