// Package transcript keeps the verbatim conversation history that generation
// and extraction read their context window from. The inbox does not serve here
// because immersive messages are stored without content.
package transcript

import (
	"context"
	"fmt"
	"time"

	"argent/pkg/agent"
	"argent/pkg/protocol"
)

// Entry is one line of a conversation.
type Entry struct {
	PlayerID  string    `bson:"player_id"`
	SessionID string    `bson:"session_id"`
	PersonaID string    `bson:"persona_id"`
	Role      string    `bson:"role"` // protocol.RolePlayer or protocol.RoleAgent
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

// Archive stores and recalls conversation lines.
type Archive interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to n entries of the session, oldest first.
	Recent(ctx context.Context, playerID, sessionID string, n int) ([]Entry, error)
}

// History converts entries to generator history.
func History(entries []Entry) []agent.HistoryEntry {
	out := make([]agent.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, agent.HistoryEntry{Role: e.Role, Content: e.Content})
	}
	return out
}

// SQLArchive stores transcripts in the transcripts table.
type SQLArchive struct {
	db      protocol.DBTX
	nowFunc func() time.Time
}

// NewSQLArchive returns an archive over db.
func NewSQLArchive(db protocol.DBTX) *SQLArchive {
	return &SQLArchive{db: db, nowFunc: time.Now}
}

// Append implements Archive.
func (a *SQLArchive) Append(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.nowFunc()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO transcripts (player_id, session_id, persona_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.PlayerID, e.SessionID, e.PersonaID, e.Role, e.Content, protocol.FormatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Recent implements Archive.
func (a *SQLArchive) Recent(ctx context.Context, playerID, sessionID string, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT player_id, session_id, persona_id, role, content, created_at FROM (
		    SELECT id, player_id, session_id, persona_id, role, content, created_at
		    FROM transcripts WHERE player_id = ? AND session_id = ?
		    ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`,
		playerID, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("recent transcript: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.PlayerID, &e.SessionID, &e.PersonaID, &e.Role, &e.Content, &created); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		if e.CreatedAt, err = protocol.ParseTime(created); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return entries, nil
}
