package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"argent/pkg/protocol"
)

// Entry is one event to append.
type Entry struct {
	Type      string
	Source    string
	PlayerID  string
	PersonaID string
	// Payload is JSON-encoded unless it is already a string.
	Payload any
}

// Log appends events. A nil *Log discards everything, so callers can hold one
// unconditionally.
type Log struct {
	db      protocol.DBTX
	nowFunc func() time.Time
}

// New returns a Log writing through db.
func New(db protocol.DBTX) *Log {
	return &Log{db: db, nowFunc: time.Now}
}

// Append writes e.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if l == nil || l.db == nil {
		return nil
	}
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return fmt.Errorf("log event %s: %w", e.Type, err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO events (type, source, player_id, persona_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Type, e.Source, e.PlayerID, e.PersonaID, payload, protocol.FormatTime(l.nowFunc()))
	if err != nil {
		return fmt.Errorf("log event %s: %w", e.Type, err)
	}
	return nil
}

// WithDB returns a Log that writes through db, e.g. inside a transaction.
func (l *Log) WithDB(db protocol.DBTX) *Log {
	if l == nil {
		return nil
	}
	return &Log{db: db, nowFunc: l.nowFunc}
}

func encodePayload(v any) (string, error) {
	switch p := v.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
