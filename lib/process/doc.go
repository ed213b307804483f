// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the cachepush
// binaries: reporting an error from run() before a structured logger
// exists, and exiting with a status code.
package process
