// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runlog persists run summaries and their event journals in a
// local SQLite database under the rigup data directory.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rigup-org/rigup/internal/paths"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"

	defaultBusyTimeout       = 5 * time.Second
	defaultWalAutoCheckpoint = 1000
	defaultJournalMode       = "WAL"
	defaultSynchronous       = "FULL"

	defaultGlobalMaxBytes  = 128 << 20 // 128 MiB
	defaultJournalMaxBytes = 32 << 20  // 32 MiB
)

// Options controls how the run log is opened.
type Options struct {
	// DataDir is the base directory where the DB file lives. If empty the
	// platform-default rigup data directory is used.
	DataDir string
	// MaxBytes places an upper bound on total DB size. Zero uses defaults.
	MaxBytes int64
	// JournalMaxBytes places an upper bound on the event journal footprint.
	// Zero uses defaults.
	JournalMaxBytes int64
}

// DB wraps the SQLite connection used by the run log.
type DB struct {
	sql  *sql.DB
	opts Options
}

// Open initialises the run log with required pragmas and schema.
func Open(ctx context.Context, opts Options) (*DB, error) {
	dir := opts.DataDir
	if dir == "" {
		dir = paths.DataDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "rigup.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", filepath.ToSlash(dbPath), int(defaultBusyTimeout/time.Millisecond))

	conn, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	resolvedOpts := opts
	resolvedOpts.DataDir = dir
	if resolvedOpts.MaxBytes <= 0 {
		resolvedOpts.MaxBytes = defaultGlobalMaxBytes
	}
	if resolvedOpts.JournalMaxBytes <= 0 {
		resolvedOpts.JournalMaxBytes = defaultJournalMaxBytes
	}

	if err := configureConnection(ctx, conn, resolvedOpts); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := applyMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{sql: conn, opts: resolvedOpts}, nil
}

// Close shuts down the underlying SQLite connection.
func (db *DB) Close() error {
	if db == nil || db.sql == nil {
		return nil
	}
	return db.sql.Close()
}

// SQL exposes the raw connection for internal packages.
func (db *DB) SQL() *sql.DB {
	if db == nil {
		return nil
	}
	return db.sql
}

func configureConnection(ctx context.Context, conn *sql.DB, opts Options) error {
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	statements := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s;", defaultJournalMode),
		fmt.Sprintf("PRAGMA synchronous=%s;", defaultSynchronous),
		"PRAGMA foreign_keys=ON;",
		fmt.Sprintf("PRAGMA wal_autocheckpoint=%d;", defaultWalAutoCheckpoint),
	}

	var pageSize int64 = 4096
	if err := conn.QueryRowContext(ctx, "PRAGMA page_size;").Scan(&pageSize); err != nil {
		pageSize = 4096
	}
	maxPages := opts.MaxBytes / pageSize
	if maxPages <= 0 {
		maxPages = defaultGlobalMaxBytes / 4096
	}
	statements = append(statements, fmt.Sprintf("PRAGMA max_page_count=%d;", maxPages))

	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute pragma %q: %w", stmt, err)
		}
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA journal_size_limit=%d;", opts.JournalMaxBytes)); err != nil {
		return fmt.Errorf("set journal size: %w", err)
	}

	return nil
}
