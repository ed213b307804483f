// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that retry
// backoff, queue block timeouts, and replay schedules can be driven
// deterministically in tests.
//
// Components that wait take a Clock field. Production wiring passes
// Real(); tests pass Fake() and move time forward explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	pool := pushagent.NewPool(pushagent.PoolConfig{Clock: fake, ...})
//	// ... start workers, trigger a retryable failure ...
//	fake.WaitForTimers(1)       // a worker is now sleeping in backoff
//	fake.Advance(2 * time.Second)
//
// WaitForTimers removes the race between a goroutine registering a
// wait and the test advancing time past it.
package clock
