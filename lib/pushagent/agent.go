// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pushagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bureau-foundation/cachepush/lib/cacheclient"
	"github.com/bureau-foundation/cachepush/lib/clock"
	"github.com/bureau-foundation/cachepush/lib/codec"
	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/credential"
	"github.com/bureau-foundation/cachepush/lib/deadletter"
	"github.com/bureau-foundation/cachepush/lib/eventstream"
	"github.com/bureau-foundation/cachepush/lib/pathfilter"
	"github.com/bureau-foundation/cachepush/lib/queue"
	"github.com/bureau-foundation/cachepush/lib/selfguard"
	"github.com/bureau-foundation/cachepush/lib/trigger"
)

// probeTimeout bounds each startup reachability probe.
const probeTimeout = 15 * time.Second

// Options supplies the agent's collaborators. Client and Credentials
// are required.
type Options struct {
	Client      cacheclient.Client
	Credentials credential.Provider

	// DeadLetters may be nil; abandoned jobs are then only logged.
	DeadLetters DeadLetterStore

	// Hub, when set, receives every event and serves /events on the
	// status listener.
	Hub *eventstream.Hub

	// Events receives every event in addition to the built-in log
	// and counter sinks.
	Events eventstream.Sink

	// ProbeOnStart probes every cache when Run begins and logs the
	// result. Failures are not fatal.
	ProbeOnStart bool

	Clock  clock.Clock
	Logger *slog.Logger

	// Random and ValidPath are passed to the pool.
	Random    func() float64
	ValidPath func(ctx context.Context, storePath string) (bool, error)
}

// Agent is a configured push agent.
type Agent struct {
	cfg          *config.Config
	host         string
	cacheNames   []string
	filter       *pathfilter.Filter
	queue        *queue.Queue
	pool         *Pool
	client       cacheclient.Client
	credentials  credential.Provider
	deadLetters  DeadLetterStore
	deadLetterer *deadLetterer
	events       eventstream.Sink
	counters     *eventstream.Counters
	hub          *eventstream.Hub
	server       *trigger.Server
	probeOnStart bool
	clock        clock.Clock
	logger       *slog.Logger
	started      time.Time

	// replayMu serializes replays so a scheduled run and an operator
	// request cannot enqueue the same record twice.
	replayMu sync.Mutex
}

// New checks that this host may push to the configured caches and
// builds the pipeline. It returns a *selfguard.ConfigurationError
// when the host is itself an excluded cache host.
func New(cfg *config.Config, options Options) (*Agent, error) {
	if options.Client == nil || options.Credentials == nil {
		return nil, errors.New("pushagent: Options.Client and Options.Credentials are required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	host, err := selfguard.HostIdentity(cfg.Hostname)
	if err != nil {
		return nil, err
	}
	if err := selfguard.Check(host, cfg.ExcludedHosts); err != nil {
		return nil, err
	}

	policy, err := queue.ParsePolicy(cfg.Queue.Policy)
	if err != nil {
		return nil, &selfguard.ConfigurationError{Field: "queue.policy", Err: err}
	}

	agent := &Agent{
		cfg:          cfg,
		host:         host,
		filter:       pathfilter.New(cfg.Filter.ExcludePatterns),
		client:       options.Client,
		credentials:  options.Credentials,
		deadLetters:  options.DeadLetters,
		counters:     eventstream.NewCounters(),
		hub:          options.Hub,
		probeOnStart: options.ProbeOnStart,
		clock:        options.Clock,
		logger:       options.Logger,
	}
	for _, target := range cfg.Caches {
		agent.cacheNames = append(agent.cacheNames, target.Name)
	}

	sinks := eventstream.Multi{agent.counters, eventstream.LogSink{Logger: options.Logger}}
	if options.Hub != nil {
		sinks = append(sinks, options.Hub)
	}
	if options.Events != nil {
		sinks = append(sinks, options.Events)
	}
	agent.events = sinks
	agent.deadLetterer = &deadLetterer{
		store:  options.DeadLetters,
		events: sinks,
		clock:  options.Clock,
		logger: options.Logger,
	}

	agent.queue = queue.New(queue.Config{
		Capacity:     cfg.Queue.Capacity,
		Policy:       policy,
		BlockTimeout: cfg.Queue.BlockTimeout,
		Clock:        options.Clock,
		OnDrop:       agent.onDrop,
	})

	agent.pool, err = NewPool(PoolConfig{
		Workers: cfg.Workers.Count,
		Retry: RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Jitter:         cfg.Retry.Jitter,
		},
		UploadTimeout:    cfg.Upload.Timeout,
		VerifyStorePaths: cfg.Upload.VerifyStorePaths,
		Queue:            agent.queue,
		Client:           options.Client,
		Credentials:      options.Credentials,
		DeadLetters:      options.DeadLetters,
		Events:           sinks,
		Clock:            options.Clock,
		Logger:           options.Logger,
		Random:           options.Random,
		ValidPath:        options.ValidPath,
	})
	if err != nil {
		return nil, err
	}

	agent.server = trigger.NewServer(cfg.SocketPath, options.Logger)
	agent.server.Handle(trigger.ActionBuildComplete, agent.handleBuildComplete)
	agent.server.Handle(trigger.ActionStatus, agent.handleStatus)
	agent.server.Handle(trigger.ActionReplay, agent.handleReplay)

	return agent, nil
}

// Host returns the identity the self-upload guard checked.
func (a *Agent) Host() string { return a.host }

// Ready is closed once the trigger socket accepts connections.
func (a *Agent) Ready() <-chan struct{} { return a.server.Ready() }

// Submit enqueues every accepted output once per cache. It never
// waits for uploads. Under the block policy the whole call shares one
// block timeout: once it has passed, jobs that find the queue full are
// rejected without waiting.
func (a *Agent) Submit(ctx context.Context, derivation string, outputs []string) trigger.BuildCompleteResult {
	var result trigger.BuildCompleteResult
	now := a.clock.Now()
	deadline := now.Add(a.cfg.Queue.BlockTimeout)
	for _, output := range outputs {
		if output == "" {
			continue
		}
		if !a.filter.Accept(output, derivation) {
			result.Filtered++
			a.events.Emit(eventstream.Event{
				Kind:         eventstream.KindFiltered,
				Time:         now,
				StorePath:    output,
				DerivationID: derivation,
			})
			continue
		}
		for _, cacheName := range a.cacheNames {
			job := queue.Job{
				StorePath:    output,
				CacheName:    cacheName,
				DerivationID: derivation,
			}
			outcome, err := a.queue.EnqueueBy(ctx, job, deadline)
			event := eventstream.Event{
				Time:         a.clock.Now(),
				StorePath:    output,
				CacheName:    cacheName,
				DerivationID: derivation,
			}
			switch outcome {
			case queue.Accepted:
				result.Accepted++
				event.Kind = eventstream.KindEnqueued
			case queue.Deduplicated:
				result.Deduplicated++
				event.Kind = eventstream.KindDeduplicated
			default:
				result.Rejected++
				event.Kind = eventstream.KindRejected
				if err != nil {
					event.Error = err.Error()
				}
			}
			a.events.Emit(event)
		}
	}
	return result
}

func (a *Agent) onDrop(job queue.Job) {
	a.events.Emit(eventstream.Event{
		Kind:         eventstream.KindDropped,
		Time:         a.clock.Now(),
		StorePath:    job.StorePath,
		CacheName:    job.CacheName,
		DerivationID: job.DerivationID,
		Attempts:     job.Attempts,
	})
	a.deadLetterer.record([]queue.Job{job}, deadletter.ReasonDropped, queue.ErrQueueFull)
}

// Run serves until ctx is cancelled, then shuts down: intake stops,
// queued jobs are dead-lettered, and in-flight uploads get the grace
// period before cancellation. It returns an error only if a listener
// could not be started.
func (a *Agent) Run(ctx context.Context) error {
	a.started = a.clock.Now()
	a.logger.Info("push agent starting",
		"host", a.host,
		"caches", a.cacheNames,
		"socket", a.cfg.SocketPath,
		"workers", a.pool.Workers(),
		"queue_capacity", a.cfg.Queue.Capacity,
		"queue_policy", a.cfg.Queue.Policy,
	)

	if a.probeOnStart {
		go a.probeAll(ctx)
	}

	a.pool.Start(context.Background())

	serverContext, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- a.server.Serve(serverContext)
	}()

	var statusServer *http.Server
	if a.cfg.StatusListen != "" {
		listener, err := net.Listen("tcp", a.cfg.StatusListen)
		if err != nil {
			stopServer()
			<-serverDone
			a.shutdown()
			return fmt.Errorf("status listener: %w", err)
		}
		statusServer = &http.Server{
			Handler:           eventstream.NewMux(func() any { return a.Status(context.Background()) }, a.hub),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := statusServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("status server failed", "error", err)
			}
		}()
		a.logger.Info("status server listening", "address", listener.Addr().String())
	}

	replayContext, stopReplay := context.WithCancel(ctx)
	defer stopReplay()
	replayDone := make(chan struct{})
	go func() {
		defer close(replayDone)
		a.replayLoop(replayContext)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverDone:
		// Serve only returns early when it cannot listen.
		runErr = err
		serverDone = nil
	}

	a.logger.Info("push agent shutting down")
	stopReplay()
	<-replayDone
	stopServer()
	if serverDone != nil {
		if err := <-serverDone; err != nil {
			a.logger.Error("trigger server failed", "error", err)
		}
	}
	a.shutdown()

	if a.hub != nil {
		a.hub.Close()
	}
	if statusServer != nil {
		shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		statusServer.Shutdown(shutdownContext)
		cancel()
	}
	a.logger.Info("push agent stopped")
	return runErr
}

// shutdown closes intake, dead-letters queued jobs, and stops the
// pool within the grace period.
func (a *Agent) shutdown() {
	a.queue.Close()
	drained := a.queue.Drain()
	if len(drained) > 0 {
		a.logger.Info("dead-lettering queued jobs", "count", len(drained))
		a.deadLetterer.record(drained, deadletter.ReasonShutdown, queue.ErrClosed)
	}
	a.pool.Stop(a.cfg.Shutdown.GraceTimeout)
}

func (a *Agent) probeAll(ctx context.Context) {
	for _, cacheName := range a.cacheNames {
		a.probe(ctx, cacheName)
	}
}

// Probe checks one cache with its current token.
func (a *Agent) Probe(ctx context.Context, cacheName string) (cacheclient.ReachabilityInfo, error) {
	token, err := a.credentials.Token(ctx, cacheName)
	if err != nil {
		return cacheclient.ReachabilityInfo{CacheName: cacheName}, err
	}
	defer token.Close()
	return a.client.Probe(ctx, cacheName, token.Bytes())
}

func (a *Agent) probe(ctx context.Context, cacheName string) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	info, err := a.Probe(ctx, cacheName)
	if err != nil {
		a.logger.Warn("cache probe failed", "cache", cacheName, "error", err)
		return
	}
	a.logger.Info("cache reachable",
		"cache", cacheName,
		"endpoint", info.Endpoint,
		"latency", info.Latency,
	)
}

// replayLoop replays dead-lettered jobs on the configured schedule.
func (a *Agent) replayLoop(ctx context.Context) {
	if a.deadLetters == nil || a.cfg.DeadLetter.ReplaySchedule == "" {
		return
	}
	schedule, err := cron.ParseStandard(a.cfg.DeadLetter.ReplaySchedule)
	if err != nil {
		a.logger.Error("invalid replay schedule", "schedule", a.cfg.DeadLetter.ReplaySchedule, "error", err)
		return
	}
	for {
		now := a.clock.Now()
		next := schedule.Next(now)
		select {
		case <-a.clock.After(next.Sub(now)):
		case <-ctx.Done():
			return
		}
		result, err := a.Replay(ctx, trigger.Replay{})
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Error("scheduled replay failed", "error", err)
			}
			continue
		}
		if result.Replayed > 0 || result.Remaining > 0 {
			a.logger.Info("scheduled replay", "replayed", result.Replayed, "remaining", result.Remaining)
		}
	}
}

// ErrNoDeadLetterStore is returned by Replay when the agent runs
// without a dead-letter store.
var ErrNoDeadLetterStore = errors.New("dead-letter store is not configured")

// Replay re-enqueues dead-lettered jobs with their attempt count
// reset, oldest first, up to the queue's free capacity. Records are
// deleted once their job is accepted or already queued. Records for
// caches that are no longer configured are left alone.
func (a *Agent) Replay(ctx context.Context, request trigger.Replay) (trigger.ReplayResult, error) {
	if a.deadLetters == nil {
		return trigger.ReplayResult{}, ErrNoDeadLetterStore
	}
	a.replayMu.Lock()
	defer a.replayMu.Unlock()

	stats := a.queue.Stats()
	free := stats.Capacity - stats.Pending
	limit := request.Limit
	if limit <= 0 || limit > free {
		limit = free
	}

	var result trigger.ReplayResult
	if limit > 0 {
		records, err := a.deadLetters.List(ctx, deadletter.ListOptions{
			Cache:  request.Cache,
			Caches: a.cacheNames,
			Limit:  limit,
		})
		if err != nil {
			return result, err
		}
		var replayed []string
		for _, record := range records {
			job := record.Job
			job.Attempts = 0
			job.EnqueueTime = time.Time{}
			outcome, err := a.queue.Enqueue(ctx, job)
			if outcome == queue.Rejected {
				a.logger.Info("replay stopped, queue refused job", "store_path", job.StorePath, "error", err)
				break
			}
			if outcome == queue.Accepted {
				a.events.Emit(eventstream.Event{
					Kind:         eventstream.KindEnqueued,
					Time:         a.clock.Now(),
					StorePath:    job.StorePath,
					CacheName:    job.CacheName,
					DerivationID: job.DerivationID,
					Reason:       "replay",
				})
			}
			replayed = append(replayed, record.ID)
		}
		if _, err := a.deadLetters.Delete(ctx, replayed...); err != nil {
			return result, err
		}
		result.Replayed = len(replayed)
	}

	remaining, err := a.deadLetters.Count(ctx, request.Cache)
	if err != nil {
		return result, err
	}
	result.Remaining = remaining
	return result, nil
}

// Status is a snapshot of the agent.
type Status struct {
	Host        string                     `json:"host"`
	Uptime      time.Duration              `json:"uptime"`
	Caches      []string                   `json:"caches"`
	Queue       queue.Stats                `json:"queue"`
	Workers     int                        `json:"workers"`
	Active      int                        `json:"active"`
	Events      map[eventstream.Kind]int64 `json:"events"`
	DeadLetters int                        `json:"dead_letters"`
	Subscribers int                        `json:"subscribers,omitempty"`
}

// Status returns current counters. DeadLetters is -1 when the store
// is absent or cannot be read.
func (a *Agent) Status(ctx context.Context) Status {
	status := Status{
		Host:        a.host,
		Caches:      a.cacheNames,
		Queue:       a.queue.Stats(),
		Workers:     a.pool.Workers(),
		Active:      a.pool.Active(),
		Events:      a.counters.Snapshot(),
		DeadLetters: -1,
	}
	if !a.started.IsZero() {
		status.Uptime = a.clock.Now().Sub(a.started)
	}
	if a.deadLetters != nil {
		if count, err := a.deadLetters.Count(ctx, ""); err == nil {
			status.DeadLetters = count
		}
	}
	if a.hub != nil {
		status.Subscribers = a.hub.SubscriberCount()
	}
	return status
}

func (a *Agent) handleBuildComplete(ctx context.Context, raw []byte) (any, error) {
	var request trigger.BuildComplete
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid build-complete request: %w", err)
	}
	if len(request.Outputs) == 0 {
		return nil, errors.New("build-complete request has no outputs")
	}
	result := a.Submit(ctx, request.Derivation, request.Outputs)
	a.logger.Debug("build complete",
		"derivation", request.Derivation,
		"outputs", len(request.Outputs),
		"accepted", result.Accepted,
		"deduplicated", result.Deduplicated,
		"filtered", result.Filtered,
		"rejected", result.Rejected,
	)
	return result, nil
}

func (a *Agent) handleStatus(ctx context.Context, raw []byte) (any, error) {
	return a.Status(ctx), nil
}

func (a *Agent) handleReplay(ctx context.Context, raw []byte) (any, error) {
	var request trigger.Replay
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid replay request: %w", err)
	}
	return a.Replay(ctx, request)
}
