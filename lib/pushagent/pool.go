// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pushagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/cachepush/lib/cacheclient"
	"github.com/bureau-foundation/cachepush/lib/clock"
	"github.com/bureau-foundation/cachepush/lib/credential"
	"github.com/bureau-foundation/cachepush/lib/deadletter"
	"github.com/bureau-foundation/cachepush/lib/eventstream"
	"github.com/bureau-foundation/cachepush/lib/nix"
	"github.com/bureau-foundation/cachepush/lib/queue"
)

// RetryPolicy controls backoff between attempts.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Jitter scales each delay by a random factor in
	// [1-Jitter, 1+Jitter].
	Jitter float64
}

// DefaultRetryPolicy is three attempts, 1s doubling to 30s, ±20%.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Jitter:         0.2,
	}
}

// Backoff returns the delay after the given number of failed
// attempts (1 for the first failure), before jitter.
func (r RetryPolicy) Backoff(failures int) time.Duration {
	delay := r.InitialBackoff
	for step := 1; step < failures; step++ {
		delay *= 2
		if delay >= r.MaxBackoff {
			return r.MaxBackoff
		}
	}
	return min(delay, r.MaxBackoff)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Workers defaults to 4.
	Workers int

	Retry RetryPolicy

	// UploadTimeout bounds one push attempt. Zero means no bound
	// beyond shutdown cancellation.
	UploadTimeout time.Duration

	// VerifyStorePaths checks each path with the local store before
	// pushing and dead-letters paths that are no longer valid.
	VerifyStorePaths bool

	Queue       *queue.Queue
	Client      cacheclient.Client
	Credentials credential.Provider

	// DeadLetters may be nil, in which case abandoned jobs are only
	// logged and emitted.
	DeadLetters DeadLetterStore

	Events eventstream.Sink
	Clock  clock.Clock
	Logger *slog.Logger

	// Random returns a value in [0, 1) for jitter. Defaults to
	// math/rand/v2.Float64.
	Random func() float64

	// ValidPath defaults to nix.IsValid.
	ValidPath func(ctx context.Context, storePath string) (bool, error)
}

// Pool uploads jobs from a queue with a fixed number of workers.
type Pool struct {
	workers     int
	retry       RetryPolicy
	timeout     time.Duration
	verify      bool
	queue       *queue.Queue
	client      cacheclient.Client
	credentials credential.Provider
	deadLetters *deadLetterer
	events      eventstream.Sink
	clock       clock.Clock
	logger      *slog.Logger
	random      func() float64
	validPath   func(ctx context.Context, storePath string) (bool, error)

	// uploadContext is cancelled when the shutdown grace period
	// expires. It is independent of the context passed to Start so
	// that in-flight uploads outlive the end of intake.
	uploadContext context.Context
	cancelUploads context.CancelFunc

	// missingTokens holds cache names whose missing token has already
	// been logged.
	missingTokens sync.Map

	active   atomic.Int64
	started  atomic.Bool
	wg       sync.WaitGroup
	finished chan struct{}
}

// NewPool validates cfg and returns an idle pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Queue == nil {
		return nil, errors.New("pushagent: PoolConfig.Queue is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("pushagent: PoolConfig.Client is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("pushagent: PoolConfig.Credentials is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Events == nil {
		cfg.Events = eventstream.Discard
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Random == nil {
		cfg.Random = rand.Float64
	}
	if cfg.ValidPath == nil {
		cfg.ValidPath = nix.IsValid
	}

	uploadContext, cancelUploads := context.WithCancel(context.Background())
	return &Pool{
		workers:     cfg.Workers,
		retry:       cfg.Retry,
		timeout:     cfg.UploadTimeout,
		verify:      cfg.VerifyStorePaths,
		queue:       cfg.Queue,
		client:      cfg.Client,
		credentials: cfg.Credentials,
		deadLetters: &deadLetterer{
			store:  cfg.DeadLetters,
			events: cfg.Events,
			clock:  cfg.Clock,
			logger: cfg.Logger,
		},
		events:        cfg.Events,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		random:        cfg.Random,
		validPath:     cfg.ValidPath,
		uploadContext: uploadContext,
		cancelUploads: cancelUploads,
		finished:      make(chan struct{}),
	}, nil
}

// Start launches the workers. They dequeue until the queue is closed
// or ctx is cancelled. Start may be called once.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		panic("pushagent: Pool.Start called twice")
	}
	p.logger.Info("upload pool starting", "workers", p.workers, "max_attempts", p.retry.MaxAttempts)
	for index := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx, index)
		}()
	}
	go func() {
		p.wg.Wait()
		p.cancelUploads()
		close(p.finished)
	}()
}

// Active returns the number of jobs workers currently hold.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Finished is closed when every worker has exited.
func (p *Pool) Finished() <-chan struct{} {
	return p.finished
}

// Stop waits up to grace for workers to finish their current jobs,
// then cancels the remaining uploads and waits for the workers to
// record them. The queue must already be closed, or workers will keep
// dequeuing.
func (p *Pool) Stop(grace time.Duration) {
	if !p.started.Load() {
		p.cancelUploads()
		return
	}
	select {
	case <-p.finished:
		return
	case <-p.clock.After(grace):
	}
	p.logger.Warn("shutdown grace period expired, cancelling uploads",
		"in_flight", p.active.Load(),
		"grace", grace,
	)
	p.cancelUploads()
	<-p.finished
}

func (p *Pool) work(ctx context.Context, index int) {
	logger := p.logger.With("worker", index)
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && !errors.Is(err, context.Canceled) {
				logger.Error("dequeue failed", "error", err)
			}
			return
		}
		p.active.Add(1)
		p.handle(logger, job)
		p.active.Add(-1)
	}
}

// handle runs attempts for job until it succeeds, is abandoned, or is
// handed back to the queue for a later attempt.
func (p *Pool) handle(logger *slog.Logger, job queue.Job) {
	for {
		started := p.clock.Now()
		ack, err := p.attempt(job)
		if err == nil {
			p.queue.Done(job)
			p.events.Emit(eventstream.Event{
				Kind:         eventstream.KindUploaded,
				Time:         p.clock.Now(),
				StorePath:    job.StorePath,
				CacheName:    job.CacheName,
				DerivationID: job.DerivationID,
				Attempts:     job.Attempts + 1,
				Duration:     p.clock.Now().Sub(started),
				UploadSize:   ack.UploadSize,
			})
			return
		}

		if p.uploadContext.Err() != nil {
			p.abandon(job, deadletter.ReasonShutdown, err)
			return
		}

		var skip *skipError
		if errors.As(err, &skip) {
			p.abandon(job, skip.reason, skip.err)
			return
		}

		job.Attempts++
		class := cacheclient.ClassOf(err)
		if !class.Retryable() {
			p.fail(job, class.String(), err)
			return
		}
		if job.Attempts >= p.retry.MaxAttempts {
			p.fail(job, deadletter.ReasonExhausted, err)
			return
		}

		delay := p.jittered(p.retry.Backoff(job.Attempts))
		logger.Debug("upload failed, will retry",
			"store_path", job.StorePath,
			"cache", job.CacheName,
			"attempts", job.Attempts,
			"backoff", delay,
			"error", err,
		)
		p.events.Emit(eventstream.Event{
			Kind:         eventstream.KindRetrying,
			Time:         p.clock.Now(),
			StorePath:    job.StorePath,
			CacheName:    job.CacheName,
			DerivationID: job.DerivationID,
			Attempts:     job.Attempts,
			Reason:       class.String(),
			Error:        err.Error(),
			Backoff:      delay,
		})

		select {
		case <-p.clock.After(delay):
		case <-p.uploadContext.Done():
			p.abandon(job, deadletter.ReasonShutdown, err)
			return
		}

		if p.queue.TryRequeue(job) {
			return
		}
		// The queue is full or closed: keep the job and retry here.
	}
}

// skipError marks a job that must not be attempted at all.
type skipError struct {
	reason string
	err    error
}

func (e *skipError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *skipError) Unwrap() error { return e.err }

// attempt makes one upload attempt. The token lives only for the
// duration of the call.
func (p *Pool) attempt(job queue.Job) (cacheclient.Ack, error) {
	ctx := p.uploadContext
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if p.verify {
		valid, err := p.validPath(ctx, job.StorePath)
		if err != nil {
			p.logger.Warn("store path validity check failed, pushing anyway",
				"store_path", job.StorePath, "error", err)
		} else if !valid {
			return cacheclient.Ack{}, &skipError{
				reason: deadletter.ReasonInvalidPath,
				err:    fmt.Errorf("%s is not a valid store path", job.StorePath),
			}
		}
	}

	token, err := p.credentials.Token(ctx, job.CacheName)
	if err != nil {
		if ctx.Err() != nil {
			return cacheclient.Ack{}, err
		}
		p.reportMissingToken(job.CacheName, err)
		return cacheclient.Ack{}, &skipError{reason: deadletter.ReasonNoCredentials, err: err}
	}
	p.missingTokens.Delete(job.CacheName)
	defer token.Close()

	return p.client.Push(ctx, job.CacheName, job.StorePath, token.Bytes())
}

// reportMissingToken logs the first failure per cache at warn level
// and the rest at debug.
func (p *Pool) reportMissingToken(cacheName string, err error) {
	if _, logged := p.missingTokens.LoadOrStore(cacheName, struct{}{}); logged {
		p.logger.Debug("no token for cache, skipping upload", "cache", cacheName, "error", err)
		return
	}
	level := slog.LevelWarn
	if !errors.Is(err, credential.ErrNoToken) {
		level = slog.LevelError
	}
	p.logger.Log(context.Background(), level, "no token for cache, skipping uploads until one is available",
		"cache", cacheName, "error", err)
}

// fail abandons a job after a failed attempt.
func (p *Pool) fail(job queue.Job, reason string, err error) {
	p.events.Emit(eventstream.Event{
		Kind:         eventstream.KindFailed,
		Time:         p.clock.Now(),
		StorePath:    job.StorePath,
		CacheName:    job.CacheName,
		DerivationID: job.DerivationID,
		Attempts:     job.Attempts,
		Reason:       reason,
		Error:        err.Error(),
	})
	p.abandon(job, reason, err)
}

func (p *Pool) abandon(job queue.Job, reason string, err error) {
	p.queue.Done(job)
	p.deadLetters.record([]queue.Job{job}, reason, err)
}

func (p *Pool) jittered(delay time.Duration) time.Duration {
	if p.retry.Jitter <= 0 {
		return delay
	}
	factor := 1 + p.retry.Jitter*(2*p.random()-1)
	return time.Duration(float64(delay) * factor)
}
