// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the push agent's tests:
// bounded channel receives so a broken test fails instead of hanging,
// and short socket directories that stay under the Unix socket path
// limit.
package testutil
