// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command-tree framework behind the cachepush
// operator CLI: pflag-based flag parsing per command, structured help
// output, JSON output, and exit-code signaling.
package cli
