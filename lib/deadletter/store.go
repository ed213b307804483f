// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/cachepush/lib/clock"
	"github.com/bureau-foundation/cachepush/lib/codec"
	"github.com/bureau-foundation/cachepush/lib/queue"
	"github.com/bureau-foundation/cachepush/lib/sqlitepool"
)

// Reasons recorded with a dead-lettered job.
const (
	ReasonExhausted     = "exhausted"
	ReasonUnauthorized  = "unauthorized"
	ReasonClientError   = "client_error"
	ReasonNoCredentials = "no_credentials"
	ReasonInvalidPath   = "invalid_path"
	ReasonDropped       = "dropped"
	ReasonShutdown      = "shutdown"
)

// Record is one dead-lettered job.
type Record struct {
	ID         string    `json:"id"`
	Job        queue.Job `json:"job"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	store_path  TEXT NOT NULL,
	cache_name  TEXT NOT NULL,
	reason      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	recorded_at INTEGER NOT NULL,
	job         BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS dead_letters_recorded_at ON dead_letters (recorded_at);
CREATE INDEX IF NOT EXISTS dead_letters_cache_name ON dead_letters (cache_name, recorded_at);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. Its parent directory is created if
	// missing by the caller, not here.
	Path string

	// Clock stamps RecordedAt. Defaults to the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Store is the dead-letter database. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Schema: schema,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("dead-letter store: %w", err)
	}
	return &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Add records job with reason. cause may be nil.
func (s *Store) Add(ctx context.Context, job queue.Job, reason string, cause error) (Record, error) {
	records, err := s.AddAll(ctx, []queue.Job{job}, reason, cause)
	if err != nil {
		return Record{}, err
	}
	return records[0], nil
}

// AddAll records every job with the same reason in one transaction.
func (s *Store) AddAll(ctx context.Context, jobs []queue.Job, reason string, cause error) (records []Record, err error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	now := s.clock.Now().UTC()

	records = make([]Record, 0, len(jobs))
	for _, job := range jobs {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("dead-letter store: generating id: %w", err)
		}
		records = append(records, Record{
			ID:         id.String(),
			Job:        job,
			Reason:     reason,
			Error:      message,
			RecordedAt: now,
		})
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead-letter store: add: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("dead-letter store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, record := range records {
		if err = insert(conn, record); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func insert(conn *sqlite.Conn, record Record) error {
	blob, err := codec.Marshal(record.Job)
	if err != nil {
		return fmt.Errorf("dead-letter store: encoding job %s: %w", record.Job.Key(), err)
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO dead_letters (id, store_path, cache_name, reason, error, recorded_at, job)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			record.ID,
			record.Job.StorePath,
			record.Job.CacheName,
			record.Reason,
			record.Error,
			record.RecordedAt.UnixNano(),
			blob,
		},
	})
	if err != nil {
		return fmt.Errorf("dead-letter store: inserting %s: %w", record.Job.Key(), err)
	}
	return nil
}

// ListOptions filters List.
type ListOptions struct {
	// Cache restricts results to one cache name.
	Cache string

	// Caches restricts results to any of the given cache names. Empty
	// means no restriction. It combines with Cache.
	Caches []string

	// Limit caps the number of records. Zero means no limit.
	Limit int
}

// List returns records oldest first.
func (s *Store) List(ctx context.Context, options ListOptions) ([]Record, error) {
	query := `SELECT id, reason, error, recorded_at, job FROM dead_letters`
	var conditions []string
	var args []any
	if options.Cache != "" {
		conditions = append(conditions, `cache_name = ?`)
		args = append(args, options.Cache)
	}
	if len(options.Caches) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(options.Caches)), ",")
		conditions = append(conditions, `cache_name IN (`+placeholders+`)`)
		for _, name := range options.Caches {
			args = append(args, name)
		}
	}
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, ` AND `)
	}
	query += ` ORDER BY recorded_at, id`
	if options.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, options.Limit)
	}

	var records []Record
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("dead-letter store: list: %w", err)
	}
	return records, nil
}

func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	record := Record{
		ID:         stmt.ColumnText(0),
		Reason:     stmt.ColumnText(1),
		Error:      stmt.ColumnText(2),
		RecordedAt: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
	}
	blob := make([]byte, stmt.ColumnLen(4))
	stmt.ColumnBytes(4, blob)
	if err := codec.Unmarshal(blob, &record.Job); err != nil {
		return Record{}, fmt.Errorf("decoding job of record %s: %w", record.ID, err)
	}
	return record, nil
}

// Delete removes the records with the given IDs. Unknown IDs are
// ignored. It returns the number removed.
func (s *Store) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for index, id := range ids {
		args[index] = id
	}

	var removed int
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM dead_letters WHERE id IN (`+placeholders+`)`,
			&sqlitex.ExecOptions{Args: args})
		removed = conn.Changes()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("dead-letter store: delete: %w", err)
	}
	return removed, nil
}

// Purge removes records recorded before cutoff and returns how many.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	var removed int
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM dead_letters WHERE recorded_at < ?`,
			&sqlitex.ExecOptions{Args: []any{cutoff.UnixNano()}})
		removed = conn.Changes()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("dead-letter store: purge: %w", err)
	}
	if removed > 0 {
		s.logger.Info("purged dead-letter records", "count", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Count returns the number of records, optionally for one cache.
func (s *Store) Count(ctx context.Context, cache string) (int, error) {
	query := `SELECT count(*) FROM dead_letters`
	var args []any
	if cache != "" {
		query += ` WHERE cache_name = ?`
		args = append(args, cache)
	}
	count := -1
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("dead-letter store: count: %w", err)
	}
	if count < 0 {
		return 0, errors.New("dead-letter store: count returned no rows")
	}
	return count, nil
}
