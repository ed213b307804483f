// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind names a job transition.
type Kind string

const (
	KindEnqueued     Kind = "enqueued"
	KindDeduplicated Kind = "deduplicated"
	KindFiltered     Kind = "filtered"
	KindRejected     Kind = "rejected"
	KindUploaded     Kind = "uploaded"
	KindRetrying     Kind = "retrying"
	KindFailed       Kind = "failed"
	KindDropped      Kind = "dropped"
	KindDeadLettered Kind = "dead_lettered"
)

// Event is one transition of one job.
type Event struct {
	Kind         Kind      `json:"kind"`
	Time         time.Time `json:"time"`
	StorePath    string    `json:"store_path"`
	CacheName    string    `json:"cache,omitempty"`
	DerivationID string    `json:"derivation,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`

	// Reason is the dead-letter reason or failure class.
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`

	// Backoff is the delay before the next attempt (retrying).
	Backoff time.Duration `json:"backoff,omitempty"`

	// Duration and UploadSize describe a completed upload.
	Duration   time.Duration `json:"duration,omitempty"`
	UploadSize int64         `json:"upload_size,omitempty"`
}

// Sink receives events. Emit must be safe for concurrent use and must
// not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(event Event) { f(event) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi emits to each sink in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(event Event) {
	for _, sink := range m {
		sink.Emit(event)
	}
}

// LogSink writes events as structured log records. Failures and
// dead-letters log at warn, everything else at debug except uploads,
// which log at info.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(event Event) {
	level := slog.LevelDebug
	switch event.Kind {
	case KindUploaded:
		level = slog.LevelInfo
	case KindFailed, KindDeadLettered, KindDropped, KindRejected:
		level = slog.LevelWarn
	}
	if !s.Logger.Enabled(context.Background(), level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("store_path", event.StorePath),
	}
	if event.CacheName != "" {
		attrs = append(attrs, slog.String("cache", event.CacheName))
	}
	if event.Attempts > 0 {
		attrs = append(attrs, slog.Int("attempts", event.Attempts))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Backoff > 0 {
		attrs = append(attrs, slog.Duration("backoff", event.Backoff))
	}
	if event.Kind == KindUploaded {
		attrs = append(attrs,
			slog.Duration("duration", event.Duration),
			slog.Int64("upload_size", event.UploadSize),
		)
	}
	s.Logger.LogAttrs(context.Background(), level, "job "+string(event.Kind), attrs...)
}

// Counters tallies events by kind.
type Counters struct {
	mu     sync.Mutex
	counts map[Kind]int64
}

// NewCounters returns an empty tally.
func NewCounters() *Counters {
	return &Counters{counts: make(map[Kind]int64)}
}

// Emit implements Sink.
func (c *Counters) Emit(event Event) {
	c.mu.Lock()
	c.counts[event.Kind]++
	c.mu.Unlock()
}

// Snapshot copies the current totals.
func (c *Counters) Snapshot() map[Kind]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[Kind]int64, len(c.counts))
	for kind, count := range c.counts {
		snapshot[kind] = count
	}
	return snapshot
}

// Get returns the total for one kind.
func (c *Counters) Get(kind Kind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}
