// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits 1. A nil err is a
// no-op. An err with an ExitCode() int method exits with that code
// and prints nothing, since the command already wrote its output.
func Fatal(err error) {
	if err == nil {
		return
	}
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		os.Exit(coder.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Warn writes "prefix: err" to stderr. It is for binaries that must
// never fail their caller, such as the post-build hook.
func Warn(prefix string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", prefix, err)
}
