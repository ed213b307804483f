// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pushagent

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/cachepush/lib/clock"
	"github.com/bureau-foundation/cachepush/lib/deadletter"
	"github.com/bureau-foundation/cachepush/lib/eventstream"
	"github.com/bureau-foundation/cachepush/lib/queue"
)

// DeadLetterStore persists abandoned jobs. *deadletter.Store
// implements it.
type DeadLetterStore interface {
	AddAll(ctx context.Context, jobs []queue.Job, reason string, cause error) ([]deadletter.Record, error)
	List(ctx context.Context, options deadletter.ListOptions) ([]deadletter.Record, error)
	Delete(ctx context.Context, ids ...string) (int, error)
	Count(ctx context.Context, cache string) (int, error)
}

// deadLetterTimeout bounds one dead-letter write. Writes use their own
// context so they still happen while the agent is shutting down.
const deadLetterTimeout = 10 * time.Second

// deadLetterer records abandoned jobs and emits the matching events.
type deadLetterer struct {
	store  DeadLetterStore
	events eventstream.Sink
	clock  clock.Clock
	logger *slog.Logger
}

func (d *deadLetterer) record(jobs []queue.Job, reason string, cause error) {
	if len(jobs) == 0 {
		return
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	if d.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), deadLetterTimeout)
		_, err := d.store.AddAll(ctx, jobs, reason, cause)
		cancel()
		if err != nil {
			// The jobs are lost. Log each so they can be recovered
			// from the journal.
			for _, job := range jobs {
				d.logger.Error("dead-letter write failed, job lost",
					"store_path", job.StorePath,
					"cache", job.CacheName,
					"reason", reason,
					"error", err,
				)
			}
		}
	}

	now := d.clock.Now()
	for _, job := range jobs {
		d.events.Emit(eventstream.Event{
			Kind:         eventstream.KindDeadLettered,
			Time:         now,
			StorePath:    job.StorePath,
			CacheName:    job.CacheName,
			DerivationID: job.DerivationID,
			Attempts:     job.Attempts,
			Reason:       reason,
			Error:        message,
		})
	}
}
