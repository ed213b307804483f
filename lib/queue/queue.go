// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/cachepush/lib/clock"
)

var (
	// ErrQueueFull is returned when a job is refused for lack of
	// space.
	ErrQueueFull = errors.New("upload queue is full")

	// ErrClosed is returned by Enqueue and Dequeue after Close.
	ErrClosed = errors.New("upload queue is closed")
)

// Config configures a Queue.
type Config struct {
	// Capacity bounds waiting (not in-flight) jobs. Must be positive.
	Capacity int

	Policy Policy

	// BlockTimeout bounds the wait under BlockUntilSpace.
	BlockTimeout time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// OnDrop is called, outside the queue lock, with each job evicted
	// by DropOldest.
	OnDrop func(Job)
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending  int    `json:"pending"`
	InFlight int    `json:"in_flight"`
	Capacity int    `json:"capacity"`
	Policy   string `json:"policy"`
	Dropped  uint64 `json:"dropped"`
	Rejected uint64 `json:"rejected"`
	Requeued uint64 `json:"requeued"`
}

// Queue is a bounded, deduplicating FIFO of upload jobs. Safe for
// concurrent use.
type Queue struct {
	capacity     int
	policy       Policy
	blockTimeout time.Duration
	clock        clock.Clock
	onDrop       func(Job)

	mu       sync.Mutex
	pending  []Job
	queued   map[Key]struct{}
	inFlight map[Key]struct{}
	closed   bool
	dropped  uint64
	rejected uint64
	requeued uint64

	available chan struct{}
	space     chan struct{}
	done      chan struct{}
}

// New creates a Queue. It panics on a non-positive capacity, which is
// a programming error since configuration validation rejects it.
func New(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		panic(fmt.Sprintf("queue: capacity must be positive, got %d", cfg.Capacity))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Queue{
		capacity:     cfg.Capacity,
		policy:       cfg.Policy,
		blockTimeout: cfg.BlockTimeout,
		clock:        clk,
		onDrop:       cfg.OnDrop,
		queued:       make(map[Key]struct{}),
		inFlight:     make(map[Key]struct{}),
		available:    make(chan struct{}, 1),
		space:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Enqueue adds job to the tail. A zero EnqueueTime is set to now.
// The returned error is non-nil exactly when the outcome is Rejected:
// ErrQueueFull, ErrClosed, or ctx's error if ctx ended while blocked.
// Under BlockUntilSpace it waits at most the configured block timeout.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Outcome, error) {
	return q.EnqueueBy(ctx, job, q.clock.Now().Add(q.blockTimeout))
}

// EnqueueBy is Enqueue with an absolute deadline for BlockUntilSpace,
// so several enqueues can share one wait budget. A deadline already
// passed rejects a full queue without waiting.
func (q *Queue) EnqueueBy(ctx context.Context, job Job, deadline time.Time) (Outcome, error) {
	if job.EnqueueTime.IsZero() {
		job.EnqueueTime = q.clock.Now()
	}

	q.mu.Lock()
	outcome, evicted, full, err := q.tryEnqueueLocked(job)
	if full && !q.clock.Now().Before(deadline) {
		q.rejected++
		q.mu.Unlock()
		return Rejected, ErrQueueFull
	}
	q.mu.Unlock()
	if evicted != nil && q.onDrop != nil {
		q.onDrop(*evicted)
	}
	if !full {
		return outcome, err
	}

	// BlockUntilSpace on a full queue.
	expired := q.clock.After(deadline.Sub(q.clock.Now()))
	for {
		select {
		case <-q.space:
		case <-expired:
			q.mu.Lock()
			q.rejected++
			q.mu.Unlock()
			return Rejected, ErrQueueFull
		case <-q.done:
			return Rejected, ErrClosed
		case <-ctx.Done():
			return Rejected, ctx.Err()
		}

		q.mu.Lock()
		outcome, _, full, err = q.tryEnqueueLocked(job)
		q.mu.Unlock()
		if !full {
			return outcome, err
		}
	}
}

// tryEnqueueLocked applies every rule except blocking. full reports
// that the caller must wait under BlockUntilSpace. evicted is set
// when DropOldest displaced a job.
func (q *Queue) tryEnqueueLocked(job Job) (outcome Outcome, evicted *Job, full bool, err error) {
	if q.closed {
		return Rejected, nil, false, ErrClosed
	}
	key := job.Key()
	if _, exists := q.queued[key]; exists {
		return Deduplicated, nil, false, nil
	}
	if _, exists := q.inFlight[key]; exists {
		return Deduplicated, nil, false, nil
	}

	if len(q.pending) >= q.capacity {
		switch q.policy {
		case DropOldest:
			head := q.popLocked()
			q.dropped++
			evicted = &head
		case RejectNew:
			q.rejected++
			return Rejected, nil, false, ErrQueueFull
		default:
			return Rejected, nil, true, nil
		}
	}

	q.pushLocked(job)
	if len(q.pending) < q.capacity {
		signal(q.space)
	}
	return Accepted, evicted, false, nil
}

// Dequeue removes the head job and marks it in flight. It blocks
// while the queue is empty and returns ErrClosed once the queue is
// closed, even if jobs remain (those belong to Drain).
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Job{}, ErrClosed
		}
		if len(q.pending) > 0 {
			job := q.popLocked()
			q.inFlight[job.Key()] = struct{}{}
			if len(q.pending) > 0 {
				signal(q.available)
			}
			signal(q.space)
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-q.available:
		case <-q.done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
}

// TryRequeue moves an in-flight job back to the tail for another
// attempt. It returns false, leaving the job in flight, when the
// queue is closed or has no free slot; the caller then keeps the job.
func (q *Queue) TryRequeue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) >= q.capacity {
		return false
	}
	key := job.Key()
	delete(q.inFlight, key)
	q.pushLocked(job)
	q.requeued++
	return true
}

// Done releases an in-flight job's key. Call it exactly once per
// dequeued job that reached a terminal state.
func (q *Queue) Done(job Job) {
	q.mu.Lock()
	delete(q.inFlight, job.Key())
	q.mu.Unlock()
}

// Close stops intake and dispatch and wakes every waiter. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Drain removes and returns every waiting job in FIFO order.
func (q *Queue) Drain() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.pending
	q.pending = nil
	clear(q.queued)
	if len(drained) > 0 {
		signal(q.space)
	}
	return drained
}

// Len returns the number of waiting jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns current counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:  len(q.pending),
		InFlight: len(q.inFlight),
		Capacity: q.capacity,
		Policy:   q.policy.String(),
		Dropped:  q.dropped,
		Rejected: q.rejected,
		Requeued: q.requeued,
	}
}

func (q *Queue) pushLocked(job Job) {
	q.pending = append(q.pending, job)
	q.queued[job.Key()] = struct{}{}
	signal(q.available)
}

func (q *Queue) popLocked() Job {
	job := q.pending[0]
	q.pending[0] = Job{}
	q.pending = q.pending[1:]
	delete(q.queued, job.Key())
	return job
}

// signal performs a non-blocking send on a capacity-1 channel.
func signal(channel chan struct{}) {
	select {
	case channel <- struct{}{}:
	default:
	}
}
