// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cacheclient pushes store paths to remote binary caches.
//
// [Client] is the transport-neutral contract the worker pool talks
// to: Push one store path to a named cache with a token, or Probe a
// cache for reachability. [Router] implements Client by dispatching
// each call to the transport built for the named target:
//
//   - http/https endpoints: PUT {endpoint}/cache/{name} with an
//     Authorization: Bearer header
//   - s3://bucket endpoints: PutObject with the token read as
//     ACCESS_KEY_ID:SECRET_ACCESS_KEY
//
// Every failure is an [*Error] carrying a [Class]. Only Unreachable
// and ServerError are retryable; Unauthorized and ClientError mean
// another attempt with the same input would fail the same way.
// Transports never retry on their own: the S3 SDK's retryer is
// disabled so the pool's backoff is the only retry policy in effect.
//
// Push serializes the store path (nix-store --dump by default),
// computes a BLAKE3 digest of the uncompressed archive, compresses it
// with zstd or lz4 per target, and spools the result to a temporary
// file so its length and digest can be sent up front.
//
// Tokens are borrowed for the duration of a call and never retained.
package cacheclient
