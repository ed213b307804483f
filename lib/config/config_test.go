// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Workers.Count != 4 {
		t.Errorf("workers.count = %d, want 4", cfg.Workers.Count)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry.max_attempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Queue.Policy != PolicyBlock {
		t.Errorf("queue.policy = %q, want %q", cfg.Queue.Policy, PolicyBlock)
	}
	if cfg.Queue.BlockTimeout <= 0 {
		t.Error("queue.block_timeout should default to a positive duration")
	}
}

func TestLoadFileYAML(t *testing.T) {
	t.Setenv("STATE_DIRECTORY", "/var/lib/cachepush-test")

	path := writeConfig(t, "cachepush.yaml", `
hostname: worker1
excluded_hosts: [cache1]
caches:
  - name: main
    endpoint: https://cache.example.com
    token: file:/run/secrets/main-token
  - name: archive
    endpoint: s3://nix-archive
    region: eu-west-1
    compression: lz4
    token: env:ARCHIVE_TOKEN
queue:
  capacity: 16
  policy: drop_oldest
retry:
  initial_backoff: 500ms
  max_backoff: 4s
filter:
  exclude_patterns: ["-source"]
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Hostname != "worker1" || len(cfg.ExcludedHosts) != 1 || cfg.ExcludedHosts[0] != "cache1" {
		t.Errorf("host identity = %q excluded %v", cfg.Hostname, cfg.ExcludedHosts)
	}
	if len(cfg.Caches) != 2 {
		t.Fatalf("caches = %d, want 2", len(cfg.Caches))
	}
	if cfg.Caches[0].Compression != CompressionZstd {
		t.Errorf("main compression = %q, want default %q", cfg.Caches[0].Compression, CompressionZstd)
	}
	archive, ok := cfg.Cache("archive")
	if !ok || archive.Compression != CompressionLZ4 || archive.Region != "eu-west-1" {
		t.Errorf("archive target = %+v, found %v", archive, ok)
	}
	if cfg.Queue.Capacity != 16 || cfg.Queue.Policy != PolicyDropOldest {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Retry.InitialBackoff != 500*time.Millisecond || cfg.Retry.MaxBackoff != 4*time.Second {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("unset retry.max_attempts = %d, want default 3", cfg.Retry.MaxAttempts)
	}
	if len(cfg.Filter.ExcludePatterns) != 1 || cfg.Filter.ExcludePatterns[0] != "-source" {
		t.Errorf("exclude_patterns = %v, want [-source]", cfg.Filter.ExcludePatterns)
	}
	if cfg.StateDirectory != "/var/lib/cachepush-test" {
		t.Errorf("state_directory = %q", cfg.StateDirectory)
	}
	if cfg.DeadLetter.Path != "/var/lib/cachepush-test/deadletter.db" {
		t.Errorf("dead_letter.path = %q", cfg.DeadLetter.Path)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "cachepush.jsonc", `{
  // Primary cache.
  "caches": [
    {"name": "main", "endpoint": "http://127.0.0.1:8080", "token": "env:MAIN_TOKEN", "compression": "none"},
  ],
  "state_directory": "/tmp/cachepush",
  "workers": {"count": 2},
  "shutdown": {"grace_timeout": "5s"}, /* trailing comma above */
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Workers.Count != 2 {
		t.Errorf("workers.count = %d, want 2", cfg.Workers.Count)
	}
	if cfg.Shutdown.GraceTimeout != 5*time.Second {
		t.Errorf("grace_timeout = %v, want 5s", cfg.Shutdown.GraceTimeout)
	}
	if cfg.DeadLetter.Path != "/tmp/cachepush/deadletter.db" {
		t.Errorf("dead_letter.path = %q", cfg.DeadLetter.Path)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load succeeded without CACHEPUSH_CONFIG")
	}
	if !strings.HasPrefix(err.Error(), EnvironmentVariable) {
		t.Errorf("error = %q, want it to name %s", err, EnvironmentVariable)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := Default()
		cfg.StateDirectory = "/tmp/state"
		cfg.DeadLetter.Path = "/tmp/state/deadletter.db"
		cfg.Caches = []CacheTarget{{
			Name:        "main",
			Endpoint:    "https://cache.example.com",
			Token:       "env:TOKEN",
			Compression: CompressionZstd,
		}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no caches", mutate: func(c *Config) { c.Caches = nil }, wantErr: "at least one entry in caches"},
		{
			name: "duplicate cache",
			mutate: func(c *Config) {
				c.Caches = append(c.Caches, c.Caches[0])
			},
			wantErr: "not unique",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Caches[0].Endpoint = "ftp://cache" },
			wantErr: "scheme \"ftp\"",
		},
		{
			name:    "sealed without identity",
			mutate:  func(c *Config) { c.Caches[0].Token = "sealed:/etc/cachepush/main.age" },
			wantErr: "age_identity",
		},
		{
			name:    "bad compression",
			mutate:  func(c *Config) { c.Caches[0].Compression = "gzip" },
			wantErr: "compression",
		},
		{name: "bad policy", mutate: func(c *Config) { c.Queue.Policy = "spill" }, wantErr: "queue.policy"},
		{name: "zero capacity", mutate: func(c *Config) { c.Queue.Capacity = 0 }, wantErr: "queue.capacity"},
		{name: "zero workers", mutate: func(c *Config) { c.Workers.Count = 0 }, wantErr: "workers.count"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{
			name:    "inverted backoff",
			mutate:  func(c *Config) { c.Retry.MaxBackoff = c.Retry.InitialBackoff / 2 },
			wantErr: "initial_backoff <= max_backoff",
		},
		{name: "jitter too large", mutate: func(c *Config) { c.Retry.Jitter = 1.5 }, wantErr: "jitter"},
		{
			name:    "bad replay schedule",
			mutate:  func(c *Config) { c.DeadLetter.ReplaySchedule = "every tuesday" },
			wantErr: "replay_schedule",
		},
		{
			name:   "replay schedule",
			mutate: func(c *Config) { c.DeadLetter.ReplaySchedule = "*/15 * * * *" },
		},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			testCase.mutate(cfg)
			err := cfg.Validate()
			if testCase.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate succeeded, want error containing %q", testCase.wantErr)
			}
			if !strings.Contains(err.Error(), testCase.wantErr) {
				t.Errorf("Validate error = %q, want it to contain %q", err, testCase.wantErr)
			}
		})
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("CACHEPUSH_TEST_DIR", "/srv/cache")

	tests := []struct {
		input string
		vars  map[string]string
		want  string
	}{
		{input: "${CACHEPUSH_TEST_DIR}/db", want: "/srv/cache/db"},
		{input: "${CACHEPUSH_TEST_UNSET:-/fallback}/db", want: "/fallback/db"},
		{input: "${CACHEPUSH_STATE}/db", vars: map[string]string{"CACHEPUSH_STATE": "/state"}, want: "/state/db"},
		{input: "/plain/path", want: "/plain/path"},
	}
	for _, testCase := range tests {
		if got := expandVars(testCase.input, testCase.vars); got != testCase.want {
			t.Errorf("expandVars(%q) = %q, want %q", testCase.input, got, testCase.want)
		}
	}
}
