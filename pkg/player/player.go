// Package player provides read access to player records, the collaborator
// that supplies each player's communication mode.
package player

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"argent/pkg/protocol"

	"github.com/google/uuid"
)

// Store reads and seeds player rows.
type Store struct {
	db protocol.DBTX

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewStore returns a Store backed by db.
func NewStore(db protocol.DBTX) *Store {
	return &Store{db: db, nowFunc: time.Now}
}

// CreateParams holds the fields for a new player.
type CreateParams struct {
	ID        string // optional; a UUID is generated when empty
	Email     string
	Phone     string
	Mode      protocol.Mode
	AccessKey string
}

// Create inserts a player and returns it.
func (s *Store) Create(ctx context.Context, p CreateParams) (protocol.Player, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	mode := p.Mode
	if mode == "" {
		mode = protocol.ModeImmersive
	}
	now := s.nowFunc()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players (id, email, phone, communication_mode, access_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, p.Email, p.Phone, string(mode), p.AccessKey, protocol.FormatTime(now))
	if err != nil {
		return protocol.Player{}, fmt.Errorf("player create: %w", err)
	}

	return protocol.Player{
		ID:        id,
		Email:     p.Email,
		Phone:     p.Phone,
		Mode:      mode,
		AccessKey: p.AccessKey,
		CreatedAt: now.UTC().Truncate(time.Microsecond),
	}, nil
}

// Get returns the player with id or a *protocol.NotFoundError.
func (s *Store) Get(ctx context.Context, id string) (protocol.Player, error) {
	var (
		p         protocol.Player
		mode      string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, phone, communication_mode, access_key, created_at FROM players WHERE id = ?`, id).
		Scan(&p.ID, &p.Email, &p.Phone, &mode, &p.AccessKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Player{}, protocol.NotFound("player", id)
	}
	if err != nil {
		return protocol.Player{}, fmt.Errorf("player get: %w", err)
	}
	p.Mode = protocol.ParseMode(mode)
	if p.CreatedAt, err = protocol.ParseTime(createdAt); err != nil {
		return protocol.Player{}, fmt.Errorf("player get: parse created_at: %w", err)
	}
	return p, nil
}

// Mode returns the player's communication mode. A player without a record is
// treated as web-only so that story triggers for unknown players never wait
// on real-time delays.
func (s *Store) Mode(ctx context.Context, id string) (protocol.Mode, error) {
	p, err := s.Get(ctx, id)
	var nf *protocol.NotFoundError
	if errors.As(err, &nf) {
		return protocol.ModeWebOnly, nil
	}
	if err != nil {
		return "", err
	}
	return p.Mode, nil
}

// SetMode changes a player's communication mode.
func (s *Store) SetMode(ctx context.Context, id string, mode protocol.Mode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET communication_mode = ? WHERE id = ?`, string(mode), id)
	if err != nil {
		return fmt.Errorf("player set mode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return protocol.NotFound("player", id)
	}
	return nil
}
