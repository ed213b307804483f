// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed decrypts age-encrypted token files for the
// "sealed:" credential reference.
//
// Operators encrypt a cache token to the push agent's age recipient
// (cachepush token seal) and place the ciphertext on disk. The agent
// decrypts it with its identity file on every upload attempt, so a
// rotated file takes effect without a restart. Both binary and
// ASCII-armored ciphertext are accepted.
//
// Identities and plaintext are handled through secret.Buffer; the
// package never returns token material in a heap slice.
package sealed
