// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds cache access tokens in memory the Go runtime
// never sees.
//
// A [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Close zeroes it before
// unmapping. The push agent resolves a token into a Buffer immediately
// before an upload attempt and closes it as soon as the attempt
// returns, so no token outlives a single request.
//
// Buffer implements slog.LogValuer and fmt.Formatter so an accidental
// log statement prints "[REDACTED]" rather than the token.
//
// Depends on golang.org/x/sys/unix.
package secret
