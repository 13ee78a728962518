// Package relationship stores per-player relationship state: a bounded trust
// score per persona with an append-only audit trail, and the set of facts the
// player has learned.
//
// Stores are built over a protocol.DBTX. When that is a *sql.Tx every write
// joins the caller's transaction; when it is a *sql.DB each multi-statement
// write runs in its own transaction.
package relationship

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"argent/pkg/protocol"
)

// Store is the relationship state store.
type Store struct {
	db       protocol.DBTX
	classify Classifier

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewStore returns a Store over db using KeywordClassifier.
func NewStore(db protocol.DBTX) *Store {
	return &Store{db: db, classify: KeywordClassifier, nowFunc: time.Now}
}

// WithClassifier returns a copy of s that categorizes facts with c.
func (s *Store) WithClassifier(c Classifier) *Store {
	out := *s
	out.classify = c
	return &out
}

// atomically runs fn in a transaction unless s is already bound to one.
func (s *Store) atomically(ctx context.Context, fn func(q protocol.DBTX) error) error {
	db, ok := s.db.(*sql.DB)
	if !ok {
		return fn(s.db)
	}
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

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func scanOptionalID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
