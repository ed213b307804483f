// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/cachepush/lib/codec"
	"github.com/bureau-foundation/cachepush/lib/testutil"
	"github.com/bureau-foundation/cachepush/lib/trigger"
)

func environment(values map[string]string) func(string) string {
	return func(name string) string { return values[name] }
}

func TestHookForwardsBuild(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(testutil.SocketDir(t), "trigger.sock")
	received := make(chan trigger.BuildComplete, 1)
	server := trigger.NewServer(socketPath, slog.New(slog.DiscardHandler))
	server.Handle(trigger.ActionBuildComplete, func(ctx context.Context, raw []byte) (any, error) {
		var request trigger.BuildComplete
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		received <- request
		return trigger.BuildCompleteResult{Accepted: len(request.Outputs)}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, serveDone, 5*time.Second, "server did not stop")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server not ready")

	err := run([]string{"--socket", socketPath}, environment(map[string]string{
		"DRV_PATH":  "/nix/store/x-hello.drv",
		"OUT_PATHS": "/nix/store/a-hello /nix/store/b-hello-man",
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	request := testutil.RequireReceive(t, received, 5*time.Second, "agent saw no request")
	if request.Derivation != "/nix/store/x-hello.drv" || len(request.Outputs) != 2 || request.Outputs[1] != "/nix/store/b-hello-man" {
		t.Errorf("request = %+v", request)
	}
}

func TestHookWithoutAgent(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(testutil.SocketDir(t), "missing.sock")
	err := run([]string{"--timeout", "1s"}, environment(map[string]string{
		"CACHEPUSH_SOCKET": socketPath,
		"DRV_PATH":         "/nix/store/x-hello.drv",
		"OUT_PATHS":        "/nix/store/a-hello",
	}))
	if err == nil || !strings.Contains(err.Error(), "/nix/store/x-hello.drv") {
		t.Errorf("run without agent = %v, want an error naming the derivation", err)
	}
}

func TestHookNothingToSend(t *testing.T) {
	t.Parallel()

	if err := run(nil, environment(map[string]string{"DRV_PATH": "/nix/store/x.drv"})); err != nil {
		t.Errorf("run with no outputs = %v", err)
	}
}
