package protocol

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is the subset of *sql.DB and *sql.Tx the stores need. Stores built on
// a *sql.Tx take part in the caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TimeLayout is the fixed-width UTC layout used for every stored timestamp so
// that lexical order in SQLite matches chronological order.
const TimeLayout = "2006-01-02 15:04:05.000000"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp. Empty input yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		// events.created_at defaults come from strftime with millisecond precision
		t, err = time.ParseInLocation("2006-01-02 15:04:05.000", s, time.UTC)
	}
	return t, err
}

// Player represents a row in the players table.
type Player struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Mode      Mode      `json:"communication_mode"`
	AccessKey string    `json:"access_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Message represents a row in the messages table.
type Message struct {
	ID             int64      `json:"id"`
	PlayerID       string     `json:"player_id"`
	PersonaID      string     `json:"persona_id"`
	Channel        Channel    `json:"channel"`
	Direction      Direction  `json:"direction"`
	SessionID      string     `json:"session_id"`
	SenderName     string     `json:"sender_name"`
	Subject        string     `json:"subject,omitempty"`
	Content        string     `json:"content,omitempty"`
	HTMLContent    string     `json:"html_content,omitempty"`
	ExternalID     string     `json:"external_id"`
	Classification string     `json:"classification,omitempty"`
	ClassifiedAt   *time.Time `json:"classified_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TrustRecord represents a row in the trust_records table.
type TrustRecord struct {
	PlayerID          string     `json:"player_id"`
	PersonaID         string     `json:"persona_id"`
	Score             int        `json:"score"`
	InteractionCount  int        `json:"interaction_count"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
}

// TrustEvent represents a row in the append-only trust_events table.
type TrustEvent struct {
	ID        int64     `json:"id"`
	PlayerID  string    `json:"player_id"`
	PersonaID string    `json:"persona_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	MessageID *int64    `json:"message_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// KnowledgeFact represents a row in the knowledge_facts table.
type KnowledgeFact struct {
	ID            int64     `json:"id"`
	PlayerID      string    `json:"player_id"`
	Fact          string    `json:"fact"`
	Category      string    `json:"category"`
	SourcePersona string    `json:"source_persona"`
	MessageID     *int64    `json:"message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Job represents a row in the jobs table.
type Job struct {
	ID        string            `json:"id"`
	Handler   string            `json:"handler"`
	EventID   string            `json:"event_id"`
	PlayerID  string            `json:"player_id"`
	Context   map[string]string `json:"context"`
	RunAt     time.Time         `json:"run_at"`
	Status    string            `json:"status"` // pending, running, done, failed
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Event represents a row in the events table.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	PlayerID  string `json:"player_id"`
	PersonaID string `json:"persona_id"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}
