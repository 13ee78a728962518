package relationship

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"argent/pkg/protocol"
)

// TrustUpdate describes one bounded-delta application.
type TrustUpdate struct {
	PlayerID  string
	PersonaID string
	Delta     int
	Reason    string
	MessageID *int64 // optional source message
}

// Clamp bounds a trust score to [TrustMin, TrustMax].
func Clamp(score int) int {
	return max(protocol.TrustMin, min(protocol.TrustMax, score))
}

// UpdateTrust applies u and returns the new score. A zero delta is a no-op
// that returns the current score without touching the record or the audit
// trail. Otherwise the record is created on first use at score 0, the score
// becomes clamp(old+delta), interaction_count is incremented, the interaction
// time is stamped and one TrustEvent is appended.
func (s *Store) UpdateTrust(ctx context.Context, u TrustUpdate) (int, error) {
	if u.Delta == 0 {
		return s.TrustScore(ctx, u.PlayerID, u.PersonaID)
	}

	now := protocol.FormatTime(s.nowFunc())
	var score int

	err := s.atomically(ctx, func(q protocol.DBTX) error {
		err := q.QueryRowContext(ctx,
			`INSERT INTO trust_records (player_id, persona_id, score, interaction_count, last_interaction_at)
			 VALUES (?, ?, MAX(?, MIN(?, ?)), 1, ?)
			 ON CONFLICT(player_id, persona_id) DO UPDATE SET
			     score = MAX(?, MIN(?, trust_records.score + ?)),
			     interaction_count = trust_records.interaction_count + 1,
			     last_interaction_at = excluded.last_interaction_at
			 RETURNING score`,
			u.PlayerID, u.PersonaID, protocol.TrustMin, protocol.TrustMax, u.Delta, now,
			protocol.TrustMin, protocol.TrustMax, u.Delta,
		).Scan(&score)
		if err != nil {
			return fmt.Errorf("apply trust delta: %w", err)
		}

		_, err = q.ExecContext(ctx,
			`INSERT INTO trust_events (player_id, persona_id, delta, reason, message_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			u.PlayerID, u.PersonaID, u.Delta, u.Reason, nullableID(u.MessageID), now)
		if err != nil {
			return fmt.Errorf("append trust event: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update trust %s/%s: %w", u.PlayerID, u.PersonaID, err)
	}
	return score, nil
}

// TrustScore returns the current score, 0 when no record exists.
func (s *Store) TrustScore(ctx context.Context, playerID, personaID string) (int, error) {
	rec, err := s.Trust(ctx, playerID, personaID)
	if err != nil {
		return 0, err
	}
	return rec.Score, nil
}

// Trust returns the full record, a zero-valued record when none exists.
func (s *Store) Trust(ctx context.Context, playerID, personaID string) (protocol.TrustRecord, error) {
	rec := protocol.TrustRecord{PlayerID: playerID, PersonaID: personaID}
	var last sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT score, interaction_count, last_interaction_at
		 FROM trust_records WHERE player_id = ? AND persona_id = ?`, playerID, personaID).
		Scan(&rec.Score, &rec.InteractionCount, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("trust get: %w", err)
	}
	if last.Valid {
		t, err := protocol.ParseTime(last.String)
		if err != nil {
			return rec, fmt.Errorf("trust get: parse last_interaction_at: %w", err)
		}
		rec.LastInteractionAt = &t
	}
	return rec, nil
}

// TrustRecords returns every record for a player ordered by persona.
func (s *Store) TrustRecords(ctx context.Context, playerID string) ([]protocol.TrustRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT persona_id, score, interaction_count, last_interaction_at
		 FROM trust_records WHERE player_id = ? ORDER BY persona_id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("trust list: %w", err)
	}
	defer rows.Close()

	var out []protocol.TrustRecord
	for rows.Next() {
		rec := protocol.TrustRecord{PlayerID: playerID}
		var last sql.NullString
		if err := rows.Scan(&rec.PersonaID, &rec.Score, &rec.InteractionCount, &last); err != nil {
			return nil, fmt.Errorf("trust list scan: %w", err)
		}
		if last.Valid {
			t, err := protocol.ParseTime(last.String)
			if err != nil {
				return nil, fmt.Errorf("trust list: parse last_interaction_at: %w", err)
			}
			rec.LastInteractionAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HistoryOpts filters TrustHistory.
type HistoryOpts struct {
	PersonaID string // optional
	Limit     int    // default 20
}

// TrustHistory returns trust events for a player, most recent first.
func (s *Store) TrustHistory(ctx context.Context, playerID string, opts HistoryOpts) ([]protocol.TrustEvent, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	var b strings.Builder
	args := []any{playerID}
	b.WriteString(`SELECT id, persona_id, delta, reason, message_id, created_at
		FROM trust_events WHERE player_id = ?`)
	if opts.PersonaID != "" {
		b.WriteString(` AND persona_id = ?`)
		args = append(args, opts.PersonaID)
	}
	b.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ?`)
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("trust history: %w", err)
	}
	defer rows.Close()

	var out []protocol.TrustEvent
	for rows.Next() {
		ev := protocol.TrustEvent{PlayerID: playerID}
		var (
			msgID     sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.PersonaID, &ev.Delta, &ev.Reason, &msgID, &createdAt); err != nil {
			return nil, fmt.Errorf("trust history scan: %w", err)
		}
		ev.MessageID = scanOptionalID(msgID)
		if ev.CreatedAt, err = protocol.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("trust history: parse created_at: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
