// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/cachepush/lib/selfguard"
)

func TestExcludedHostRefusesBeforeSideEffects(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	stateDirectory := filepath.Join(directory, "state")
	storeDirectory := filepath.Join(directory, "deadletter")
	configPath := filepath.Join(directory, "cachepush.yaml")
	content := fmt.Sprintf(`hostname: cache1.example
excluded_hosts: [cache1]
socket_path: %s
state_directory: %s
dead_letter:
  path: %s
credentials:
  age_identity: %s
caches:
  - name: main
    endpoint: https://cache1.example
    token: sealed:%s
`,
		filepath.Join(directory, "run", "trigger.sock"),
		stateDirectory,
		filepath.Join(storeDirectory, "deadletter.db"),
		filepath.Join(directory, "missing-identity"),
		filepath.Join(directory, "missing-token.age"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	err := run([]string{"--config", configPath, "--probe=false"})
	if !errors.Is(err, selfguard.ErrSelfUpload) {
		t.Fatalf("run = %v, want ErrSelfUpload", err)
	}
	var configurationError *selfguard.ConfigurationError
	if !errors.As(err, &configurationError) {
		t.Errorf("run = %T, want *selfguard.ConfigurationError", err)
	}
	for _, path := range []string{stateDirectory, storeDirectory, filepath.Join(directory, "run")} {
		if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
			t.Errorf("%s exists after refusal (stat error %v)", path, statErr)
		}
	}
}
