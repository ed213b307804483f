// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Cachepush-agent is the long-running push daemon. It listens on the
// trigger socket for build-complete notifications from the Nix
// post-build hook and uploads each accepted output to every
// configured binary cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bureau-foundation/cachepush/lib/cacheclient"
	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/credential"
	"github.com/bureau-foundation/cachepush/lib/deadletter"
	"github.com/bureau-foundation/cachepush/lib/eventstream"
	"github.com/bureau-foundation/cachepush/lib/process"
	"github.com/bureau-foundation/cachepush/lib/pushagent"
	"github.com/bureau-foundation/cachepush/lib/selfguard"
	"github.com/bureau-foundation/cachepush/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var configPath string
	var probe bool
	var showVersion bool

	flags := flag.NewFlagSet("cachepush-agent", flag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the configuration file (default: $"+config.EnvironmentVariable+")")
	flags.BoolVar(&probe, "probe", true, "probe every cache at startup and log reachability")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("cachepush-agent %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// A cache host must refuse to start before it touches credentials,
	// directories, or the dead-letter store.
	host, err := selfguard.HostIdentity(cfg.Hostname)
	if err != nil {
		return err
	}
	if err := selfguard.Check(host, cfg.ExcludedHosts); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting cachepush-agent", "version", version.Info())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	credentials, err := credential.NewResolver(cfg.Caches, cfg.Credentials.AgeIdentity)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDirectory, 0o750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	spoolDirectory := filepath.Join(cfg.StateDirectory, "spool")
	if err := os.MkdirAll(spoolDirectory, 0o700); err != nil {
		return fmt.Errorf("creating spool directory: %w", err)
	}

	client, err := cacheclient.NewRouter(ctx, cfg.Caches, cacheclient.Options{
		SpoolDirectory: spoolDirectory,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("configuring caches: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DeadLetter.Path), 0o750); err != nil {
		return fmt.Errorf("creating dead-letter directory: %w", err)
	}
	store, err := deadletter.Open(deadletter.Config{Path: cfg.DeadLetter.Path, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening dead-letter store: %w", err)
	}
	defer store.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	var hub *eventstream.Hub
	if cfg.StatusListen != "" {
		hub = eventstream.NewHub(logger)
	}

	agent, err := pushagent.New(cfg, pushagent.Options{
		Client:       client,
		Credentials:  credentials,
		DeadLetters:  store,
		Hub:          hub,
		ProbeOnStart: probe,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	return agent.Run(ctx)
}

func newLogger(logging config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if logging.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}
