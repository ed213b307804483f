// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deadletter persists upload jobs the agent gave up on.
//
// A job lands here when its retries are exhausted, when the cache
// rejects it terminally, when no token is available, when the queue
// evicts it under the drop_oldest policy, or when the agent shuts down
// before uploading it. Each record keeps the job as it was at that
// moment plus the reason and the last error, so an operator can list
// what was lost and replay it into a running agent.
//
// Records live in a SQLite database (WAL mode, via lib/sqlitepool).
// The job itself is stored as a CBOR blob alongside indexed columns
// for the fields that listing and replay filter on.
package deadletter
