// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Cachepush is the operator CLI for the push agent: inspecting and
// replaying dead-lettered uploads, probing caches, and sealing tokens.
package main

import (
	"os"

	"github.com/bureau-foundation/cachepush/cmd/cachepush/commands"
	"github.com/bureau-foundation/cachepush/lib/process"
)

func main() {
	process.Fatal(commands.Root(commands.IO{Stdin: os.Stdin, Stdout: os.Stdout}).Execute(os.Args[1:]))
}
