// Package storage opens the argent SQLite database and applies its schema.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"argent/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// Opener returns a fresh database handle. Background pipeline units call it
// once per unit so they never share the request-serving handle.
type Opener func(ctx context.Context) (*sql.DB, error)

// DSN builds a modernc sqlite DSN for path with WAL, a 5-second busy timeout
// and immediate write transactions.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database at path, verifies the connection and applies the
// schema. The caller owns the returned handle.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// OpenMemory opens a single-connection in-memory database with the schema
// applied. Every handle is a separate database.
func OpenMemory(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// FileOpener returns an Opener for path. Each handle is capped at one
// connection.
func FileOpener(path string) Opener {
	return func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open("sqlite", DSN(path))
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
		}
		return db, nil
	}
}

// Migrate applies SchemaDDL and the column migrations. Each migration uses
// ALTER TABLE which errors if the column already exists; those errors are
// ignored.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	_, _ = db.ExecContext(ctx, protocol.MigrateMessageHTML)
	_, _ = db.ExecContext(ctx, protocol.MigrateJobEventID)
	return nil
}

// WithTx runs fn inside a transaction on db, committing when fn returns nil
// and rolling back otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
