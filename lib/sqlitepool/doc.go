// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens a small pool of SQLite connections with the
// pragmas the push agent's on-disk state needs: WAL journaling so the
// operator CLI can read the dead-letter table while the agent writes
// it, NORMAL synchronous mode, and a busy timeout so concurrent writers
// wait rather than fail.
//
// Connections come from zombiezen.com/go/sqlite (a cgo-free binding
// over modernc.org/sqlite). A schema script supplied in Config runs
// once per connection, so every connection sees the tables it needs
// without a separate migration step.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(stateDir, "deadletter.db"),
//	    Schema: schema,
//	    Logger: logger,
//	})
//	err = pool.With(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "DELETE FROM ...", nil)
//	})
package sqlitepool
