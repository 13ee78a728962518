// Package eventlog reads the runtime event log that the scheduler, job runner
// and reply pipeline append to. It backs `argent logs`.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"argent/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// PlayerID filters events to a single player.
	PlayerID string

	// PersonaID filters events to a single persona.
	PersonaID string

	// Type filters to one event type (e.g. protocol.EventStoryFired).
	Type string

	// After filters events created at or after this time.
	After *time.Time

	// Before filters events created at or before this time.
	Before *time.Time

	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Reader provides read-only access to the event log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the database at dbPath read-only.
// Returns an error if the database doesn't exist or cannot be opened.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Reader{db: db}, nil
}

// ReaderFor wraps an already open database.
func ReaderFor(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Close releases the database connection.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Query retrieves events matching opts, newest first.
// Returns an empty slice if no events match.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]protocol.Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []protocol.Event{}
	for rows.Next() {
		var e protocol.Event
		var player, persona, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &player, &persona, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.PlayerID = player.String
		e.PersonaID = persona.String
		e.Payload = payload.String
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, source, player_id, persona_id, payload, created_at FROM events WHERE 1=1"

	if opts.PlayerID != "" {
		conditions = append(conditions, "player_id = ?")
		args = append(args, opts.PlayerID)
	}
	if opts.PersonaID != "" {
		conditions = append(conditions, "persona_id = ?")
		args = append(args, opts.PersonaID)
	}
	if opts.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, protocol.FormatTime(*opts.After))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, protocol.FormatTime(*opts.Before))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}
