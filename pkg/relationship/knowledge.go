package relationship

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"argent/pkg/protocol"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Classifier assigns a category to a fact revealed by sourcePersona.
type Classifier func(fact, sourcePersona string) string

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"key", []string{"key", "code", "access", "xxxx"}},
	{"dashboard", []string{"dashboard", "portal", "site", "page"}},
	{"ember", []string{"ember"}},
	{"miro", []string{"miro"}},
}

// KeywordClassifier matches lowercase substrings in priority order and falls
// back to the source persona id.
func KeywordClassifier(fact, sourcePersona string) string {
	lower := strings.ToLower(fact)
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(lower, w) {
				return c.category
			}
		}
	}
	return sourcePersona
}

// NormalizeFact is the dedup key for a fact: Unicode-compatibility normalized,
// case folded, with runs of whitespace collapsed and the ends trimmed.
func NormalizeFact(fact string) string {
	collapsed := strings.Join(strings.Fields(fact), " ")
	return cases.Fold().String(norm.NFKC.String(collapsed))
}

// KnowledgeAdd describes one addKnowledge call.
type KnowledgeAdd struct {
	PlayerID      string
	Facts         []string
	SourcePersona string
	MessageID     *int64 // optional source message
	Category      string // optional override for every fact
}

// AddKnowledge inserts the facts the player does not already know and returns
// the inserted rows. Blank facts and facts equal to an existing or earlier
// fact under NormalizeFact are dropped.
func (s *Store) AddKnowledge(ctx context.Context, k KnowledgeAdd) ([]protocol.KnowledgeFact, error) {
	var inserted []protocol.KnowledgeFact
	now := s.nowFunc()
	stamp := protocol.FormatTime(now)

	err := s.atomically(ctx, func(q protocol.DBTX) error {
		known, err := knownSet(ctx, q, k.PlayerID)
		if err != nil {
			return err
		}

		for _, raw := range k.Facts {
			fact := strings.TrimSpace(raw)
			key := NormalizeFact(fact)
			if key == "" || known[key] {
				continue
			}
			known[key] = true

			category := k.Category
			if category == "" {
				category = s.classify(fact, k.SourcePersona)
			}

			res, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO knowledge_facts
				     (player_id, fact, normalized, category, source_persona, message_id, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				k.PlayerID, fact, key, category, k.SourcePersona, nullableID(k.MessageID), stamp)
			if err != nil {
				return fmt.Errorf("insert fact: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			id, _ := res.LastInsertId()
			inserted = append(inserted, protocol.KnowledgeFact{
				ID:            id,
				PlayerID:      k.PlayerID,
				Fact:          fact,
				Category:      category,
				SourcePersona: k.SourcePersona,
				MessageID:     k.MessageID,
				CreatedAt:     now.UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add knowledge for %s: %w", k.PlayerID, err)
	}
	return inserted, nil
}

func knownSet(ctx context.Context, q protocol.DBTX, playerID string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT normalized FROM knowledge_facts WHERE player_id = ?`, playerID)
	if err != nil {
		return nil, fmt.Errorf("load known facts: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan known fact: %w", err)
		}
		known[key] = true
	}
	return known, rows.Err()
}

// KnowledgeOpts filters Knowledge.
type KnowledgeOpts struct {
	Category      string
	SourcePersona string
	MessageID     *int64
}

// Knowledge returns a player's facts, most recently learned first. An unknown
// player yields an empty list.
func (s *Store) Knowledge(ctx context.Context, playerID string, opts KnowledgeOpts) ([]protocol.KnowledgeFact, error) {
	var b strings.Builder
	args := []any{playerID}
	b.WriteString(`SELECT id, fact, category, source_persona, message_id, created_at
		FROM knowledge_facts WHERE player_id = ?`)
	if opts.Category != "" {
		b.WriteString(` AND category = ?`)
		args = append(args, opts.Category)
	}
	if opts.SourcePersona != "" {
		b.WriteString(` AND source_persona = ?`)
		args = append(args, opts.SourcePersona)
	}
	if opts.MessageID != nil {
		b.WriteString(` AND message_id = ?`)
		args = append(args, *opts.MessageID)
	}
	b.WriteString(` ORDER BY created_at DESC, id DESC`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge list: %w", err)
	}
	defer rows.Close()

	var out []protocol.KnowledgeFact
	for rows.Next() {
		f := protocol.KnowledgeFact{PlayerID: playerID}
		var (
			msgID     sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&f.ID, &f.Fact, &f.Category, &f.SourcePersona, &msgID, &createdAt); err != nil {
			return nil, fmt.Errorf("knowledge scan: %w", err)
		}
		f.MessageID = scanOptionalID(msgID)
		if f.CreatedAt, err = protocol.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("knowledge: parse created_at: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FactTexts flattens facts into their text.
func FactTexts(facts []protocol.KnowledgeFact) []string {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		out = append(out, f.Fact)
	}
	return out
}
