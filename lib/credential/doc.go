// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential resolves the bearer token for each cache target.
//
// Tokens are never held by long-lived components. The upload pool asks
// the Provider for a token at the start of every attempt, uses it for
// one push, and closes the returned [secret.Buffer], which zeroes it.
// Rotating a token file or environment value therefore takes effect on
// the next attempt without restarting the agent.
//
// Configuration names a token by reference:
//
//   - env:NAME reads the environment variable NAME
//   - file:/path reads a file (typically a systemd credential under
//     $CREDENTIALS_DIRECTORY)
//   - sealed:/path.age decrypts an age file with the identity named by
//     credentials.age_identity
//
// A reference whose source does not exist or is empty yields an error
// matching [ErrNoToken]. The pool treats that as "skip this upload",
// not as a retryable failure.
package credential
