// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue holds upload jobs between the trigger socket and the
// upload workers.
//
// The queue is a bounded FIFO with deduplication. A job is identified
// by its (store path, cache name) [Key]; while a key is either waiting
// in the queue or held by a worker, a second Enqueue of the same key
// reports [Deduplicated] and changes nothing. Workers call [Queue.Done]
// once a job reaches a terminal state, which releases the key.
//
// The number of waiting jobs never exceeds the configured capacity.
// When the queue is full the [Policy] decides what Enqueue does:
//
//   - [BlockUntilSpace] waits for a worker to free a slot, up to the
//     block timeout, then rejects with [ErrQueueFull]
//   - [DropOldest] evicts the head of the queue and reports it through
//     Config.OnDrop
//   - [RejectNew] fails immediately with [ErrQueueFull]
//
// Rejection is never fatal: the build that produced the path has
// already succeeded, and the caller only reports the outcome.
//
// Retries use [Queue.TryRequeue], which returns an in-flight job to
// the tail without waiting and without exceeding capacity. Shutdown
// calls [Queue.Close] to stop intake and dispatch, then [Queue.Drain]
// to take every job that never reached a worker.
//
// Signalling follows a channel-per-condition pattern: "available" and
// "space" are capacity-1 channels that are topped up under the mutex
// and re-signalled by whichever goroutine consumes a signal while the
// condition still holds, so a single wakeup is never lost among
// several waiters.
package queue
