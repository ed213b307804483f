// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pushagent is the push agent: it accepts build-complete
// events, queues one upload job per (output path, cache) pair, and
// uploads them with a fixed pool of workers.
//
// [Agent] owns the pipeline. Submit filters the outputs with
// lib/pathfilter and enqueues the survivors on the shared
// lib/queue.Queue, returning immediately. [Pool] workers dequeue, ask
// the credential provider for a fresh token, push through a
// lib/cacheclient.Client, and classify failures:
//
//   - success: the job is done and an uploaded event is emitted
//   - unauthorized or client error: dead-lettered at once
//   - unreachable or server error: retried with exponential backoff
//     and jitter until retry.max_attempts, then dead-lettered
//   - no token: dead-lettered as no_credentials, logged once per cache
//
// Shutdown stops intake first, moves every still-queued job to the
// dead-letter store, then gives in-flight uploads the grace period
// before cancelling them. Cancelled uploads are dead-lettered too, so
// no accepted job disappears without a record.
//
// All waiting goes through lib/clock so tests drive backoff and grace
// periods with a fake clock.
package pushagent
