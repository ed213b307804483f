// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventstream carries job lifecycle events out of the agent.
//
// The queue front end and the upload pool emit an [Event] for every
// transition a job goes through. Sinks decide what to do with them:
// [LogSink] writes structured log lines, [Counters] keeps totals for
// the status endpoint, and [Hub] broadcasts events as JSON to
// WebSocket subscribers of /events. [Multi] fans one event out to
// several sinks.
//
// Emit must not block. Sinks that do I/O buffer internally and drop
// when a consumer falls behind.
package eventstream
