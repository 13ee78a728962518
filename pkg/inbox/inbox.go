// Package inbox is the internal message store. Web-only players read every
// persona message here; immersive players' messages are recorded here as
// metadata only, with content left to the external channel.
package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"argent/pkg/persona"
	"argent/pkg/protocol"

	"github.com/google/uuid"
)

// Recipient is the pseudo-address used for inbox deliveries.
const Recipient = "web-inbox"

// previewLen is the rune length of conversation previews.
const previewLen = 100

// NewSessionID returns a fresh conversation id for personaID.
func NewSessionID(personaID string) string {
	return personaID + "-" + uuid.NewString()
}

// Store reads and writes the messages table.
type Store struct {
	db protocol.DBTX

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewStore returns a Store over db.
func NewStore(db protocol.DBTX) *Store {
	return &Store{db: db, nowFunc: time.Now}
}

// Delivery is a persona-authored message headed to a player.
type Delivery struct {
	PlayerID    string
	PersonaID   string
	SessionID   string
	Channel     protocol.Channel // display channel: email or sms
	Subject     string
	Content     string
	HTMLContent string
}

// Deliver stores d with its content and returns the stored row. The row's
// external id is "web-<id>".
func (s *Store) Deliver(ctx context.Context, d Delivery) (protocol.Message, error) {
	ch := d.Channel
	if ch == "" {
		ch = protocol.ChannelEmail
	}
	m := protocol.Message{
		PlayerID:    d.PlayerID,
		PersonaID:   d.PersonaID,
		Channel:     ch,
		Direction:   protocol.Outbound,
		SessionID:   d.SessionID,
		SenderName:  persona.SenderName(d.PersonaID),
		Subject:     d.Subject,
		Content:     d.Content,
		HTMLContent: d.HTMLContent,
	}
	m, err := s.insert(ctx, m, nil)
	if err != nil {
		return m, fmt.Errorf("inbox deliver: %w", err)
	}

	m.ExternalID = "web-" + strconv.FormatInt(m.ID, 10)
	if err := s.SetExternalID(ctx, m.ID, m.ExternalID); err != nil {
		return m, fmt.Errorf("inbox deliver: %w", err)
	}
	return m, nil
}

// RecordExternal stores metadata for a message sent over an external channel.
// Content is not kept.
func (s *Store) RecordExternal(ctx context.Context, d Delivery, externalID string) (protocol.Message, error) {
	m := protocol.Message{
		PlayerID:   d.PlayerID,
		PersonaID:  d.PersonaID,
		Channel:    d.Channel,
		Direction:  protocol.Outbound,
		SessionID:  d.SessionID,
		SenderName: persona.SenderName(d.PersonaID),
		Subject:    d.Subject,
		ExternalID: externalID,
	}
	m, err := s.insert(ctx, m, nil)
	if err != nil {
		return m, fmt.Errorf("inbox record external: %w", err)
	}
	return m, nil
}

// PlayerMessage is a message written by the player.
type PlayerMessage struct {
	PlayerID  string
	SessionID string
	Channel   protocol.Channel
	Subject   string
	Content   string
	// KeepContent stores Content. Only web-only players' content is kept.
	KeepContent bool
}

// StorePlayerMessage records an inbound player message. The player's own
// message is born read.
func (s *Store) StorePlayerMessage(ctx context.Context, p PlayerMessage) (protocol.Message, error) {
	ch := p.Channel
	if ch == "" {
		ch = protocol.ChannelWeb
	}
	m := protocol.Message{
		PlayerID:   p.PlayerID,
		Channel:    ch,
		Direction:  protocol.Inbound,
		SessionID:  p.SessionID,
		SenderName: "You",
		Subject:    p.Subject,
	}
	if p.KeepContent {
		m.Content = p.Content
	}
	now := s.nowFunc().UTC()
	m, err := s.insert(ctx, m, &now)
	if err != nil {
		return m, fmt.Errorf("inbox store player message: %w", err)
	}
	return m, nil
}

func (s *Store) insert(ctx context.Context, m protocol.Message, readAt *time.Time) (protocol.Message, error) {
	now := s.nowFunc().UTC().Truncate(time.Microsecond)
	var read any
	if readAt != nil {
		read = protocol.FormatTime(*readAt)
		t := readAt.Truncate(time.Microsecond)
		m.ReadAt = &t
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (player_id, persona_id, channel, direction, session_id, sender_name,
		                       subject, content, html_content, external_id, read_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.PlayerID, m.PersonaID, string(m.Channel), string(m.Direction), m.SessionID, m.SenderName,
		nullString(m.Subject), nullString(m.Content), nullString(m.HTMLContent), m.ExternalID,
		read, protocol.FormatTime(now))
	if err != nil {
		return m, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return m, fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.CreatedAt = now
	return m, nil
}

// SetExternalID records the provider message id for a stored message.
func (s *Store) SetExternalID(ctx context.Context, id int64, externalID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET external_id = ? WHERE id = ?`, externalID, id)
	if err != nil {
		return fmt.Errorf("set external id: %w", err)
	}
	return nil
}

// AttachClassification stores payload as the message's classification and
// stamps the classification time.
func (s *Store) AttachClassification(ctx context.Context, id int64, payload string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET classification = ?, classified_at = ? WHERE id = ?`,
		payload, protocol.FormatTime(s.nowFunc()), id)
	if err != nil {
		return fmt.Errorf("attach classification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return protocol.NotFound("message", strconv.FormatInt(id, 10))
	}
	return nil
}

const messageColumns = `id, player_id, persona_id, channel, direction, session_id, sender_name,
	subject, content, html_content, external_id, classification, classified_at, read_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (protocol.Message, error) {
	var (
		m                                      protocol.Message
		channel, direction, createdAt          string
		subject, content, html, classification sql.NullString
		classifiedAt, readAt                   sql.NullString
	)
	err := r.Scan(&m.ID, &m.PlayerID, &m.PersonaID, &channel, &direction, &m.SessionID, &m.SenderName,
		&subject, &content, &html, &m.ExternalID, &classification, &classifiedAt, &readAt, &createdAt)
	if err != nil {
		return m, err
	}
	m.Channel = protocol.Channel(channel)
	m.Direction = protocol.Direction(direction)
	m.Subject = subject.String
	m.Content = content.String
	m.HTMLContent = html.String
	m.Classification = classification.String

	if m.CreatedAt, err = protocol.ParseTime(createdAt); err != nil {
		return m, fmt.Errorf("parse created_at: %w", err)
	}
	if m.ClassifiedAt, err = optionalTime(classifiedAt); err != nil {
		return m, fmt.Errorf("parse classified_at: %w", err)
	}
	if m.ReadAt, err = optionalTime(readAt); err != nil {
		return m, fmt.Errorf("parse read_at: %w", err)
	}
	return m, nil
}

func optionalTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := protocol.ParseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Message returns one of the player's messages or a *protocol.NotFoundError.
func (s *Store) Message(ctx context.Context, playerID string, id int64) (protocol.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ? AND player_id = ?`, id, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return m, protocol.NotFound("message", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return m, fmt.Errorf("inbox message: %w", err)
	}
	return m, nil
}

// ListOpts filters Messages.
type ListOpts struct {
	Channel protocol.Channel
	Limit   int // default 50
	Offset  int
}

// Messages returns the player's messages, newest first.
func (s *Store) Messages(ctx context.Context, playerID string, opts ListOpts) ([]protocol.Message, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE player_id = ?`
	args := []any{playerID}
	if opts.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(opts.Channel))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	out, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inbox messages: %w", err)
	}
	return out, nil
}

// ConversationMessages returns one session's messages in chronological order.
func (s *Store) ConversationMessages(ctx context.Context, playerID, sessionID string) ([]protocol.Message, error) {
	out, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE player_id = ? AND session_id = ? ORDER BY created_at ASC, id ASC`, playerID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("conversation messages: %w", err)
	}
	return out, nil
}

// Conversation summarizes one session.
type Conversation struct {
	SessionID    string
	Title        string
	Channel      protocol.Channel
	Latest       protocol.Message
	Preview      string
	MessageCount int
	UnreadCount  int
	UpdatedAt    time.Time
}

// ConversationOpts filters Conversations.
type ConversationOpts struct {
	Channel protocol.Channel
	Limit   int // default 20
}

// Conversations groups the player's messages by session, most recently active
// first. Messages without a session form their own "single-<id>" group.
func (s *Store) Conversations(ctx context.Context, playerID string, opts ConversationOpts) ([]Conversation, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	msgs, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE player_id = ? ORDER BY created_at DESC, id DESC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("conversations: %w", err)
	}

	groups := make(map[string][]protocol.Message)
	var order []string
	for _, m := range msgs {
		key := m.SessionID
		if key == "" {
			key = "single-" + strconv.FormatInt(m.ID, 10)
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	var out []Conversation
	for _, key := range order {
		group := groups[key]
		latest := group[0]

		ch := latest.Channel
		if ch == protocol.ChannelWeb {
			ch = protocol.ChannelEmail
		}
		if opts.Channel != "" && ch != opts.Channel {
			continue
		}

		names := make(map[string]bool)
		unread := 0
		for _, m := range group {
			if m.SenderName != "" && m.SenderName != "You" {
				names[m.SenderName] = true
			}
			if m.ReadAt == nil {
				unread++
			}
		}
		title := "Unknown"
		if len(names) > 0 {
			list := make([]string, 0, len(names))
			for n := range names {
				list = append(list, n)
			}
			sort.Strings(list)
			title = strings.Join(list, ", ")
		}

		out = append(out, Conversation{
			SessionID:    key,
			Title:        title,
			Channel:      ch,
			Latest:       latest,
			Preview:      preview(latest.Content),
			MessageCount: len(group),
			UnreadCount:  unread,
			UpdatedAt:    latest.CreatedAt,
		})
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLen {
		return content
	}
	return string(r[:previewLen]) + "..."
}

// MarkRead marks one message read. It reports false when the message does not
// exist or belongs to another player.
func (s *Store) MarkRead(ctx context.Context, playerID string, id int64) (bool, error) {
	if _, err := s.Message(ctx, playerID, id); err != nil {
		var nf *protocol.NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read_at = ? WHERE id = ? AND read_at IS NULL`,
		protocol.FormatTime(s.nowFunc()), id)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	return true, nil
}

// MarkConversationRead marks every unread message in a session read and
// returns how many changed.
func (s *Store) MarkConversationRead(ctx context.Context, playerID, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read_at = ? WHERE player_id = ? AND session_id = ? AND read_at IS NULL`,
		protocol.FormatTime(s.nowFunc()), playerID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UnreadCount counts unread persona messages, optionally for one channel.
func (s *Store) UnreadCount(ctx context.Context, playerID string, channel protocol.Channel) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE player_id = ? AND direction = ? AND read_at IS NULL`
	args := []any{playerID, string(protocol.Outbound)}
	if channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(channel))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// LatestOutbound returns the most recent persona message to the player from
// personaID, or a *protocol.NotFoundError.
func (s *Store) LatestOutbound(ctx context.Context, playerID, personaID string) (protocol.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE player_id = ? AND persona_id = ? AND direction = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		playerID, personaID, string(protocol.Outbound)))
	if errors.Is(err, sql.ErrNoRows) {
		return m, protocol.NotFound("message", "latest outbound from "+personaID)
	}
	if err != nil {
		return m, fmt.Errorf("latest outbound: %w", err)
	}
	return m, nil
}

// SessionPersona returns the persona that last wrote in a session, or "" when
// no persona has.
func (s *Store) SessionPersona(ctx context.Context, playerID, sessionID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT persona_id FROM messages
		 WHERE player_id = ? AND session_id = ? AND direction = ? AND persona_id != ''
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		playerID, sessionID, string(protocol.Outbound)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session persona: %w", err)
	}
	return id, nil
}
