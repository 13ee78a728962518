// Package agent defines the generation and extraction collaborators and their
// Gemini-backed implementation.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"argent/pkg/protocol"
)

// HistoryEntry is one line of recent conversation.
type HistoryEntry struct {
	Role    string // protocol.RolePlayer or protocol.RoleAgent
	Content string
}

// ReplyRequest is the context for a persona's reply to a player message.
type ReplyRequest struct {
	PersonaID     string
	PlayerID      string
	SessionID     string
	Mode          protocol.Mode
	TrustScore    int
	Facts         []string
	History       []HistoryEntry
	PlayerMessage string
}

// FirstContactRequest asks for a persona's opening message of a story beat.
type FirstContactRequest struct {
	PersonaID string
	PlayerID  string
	// Data is persona-keyed template data (e.g. "key").
	Data map[string]string
}

// Reply is generated message content.
type Reply struct {
	Content string
	Subject string
}

// Generator produces persona content.
type Generator interface {
	Reply(ctx context.Context, req ReplyRequest) (Reply, error)
	FirstContact(ctx context.Context, req FirstContactRequest) (Reply, error)
}

// ExtractionRequest is one exchange to analyze.
type ExtractionRequest struct {
	PlayerMessage string
	Reply         string
	PersonaID     string
	History       []HistoryEntry
}

// ExtractionResult is what one exchange did to the relationship.
type ExtractionResult struct {
	TrustDelta  int      `json:"trust_delta"`
	TrustReason string   `json:"trust_reason"`
	Knowledge   []string `json:"knowledge_revealed"`
	Intent      string   `json:"player_intent"`
	Confidence  float64  `json:"confidence"`
}

// Extractor analyzes exchanges.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (ExtractionResult, error)
}

// Neutral is the zero-delta, zero-confidence result.
func Neutral(reason string) ExtractionResult {
	return ExtractionResult{TrustReason: reason, Knowledge: []string{}}
}

// Clamped bounds the delta to [-20,20] and confidence to [0,1], and drops
// blank facts.
func (r ExtractionResult) Clamped() ExtractionResult {
	r.TrustDelta = max(protocol.ExtractionDeltaMin, min(protocol.ExtractionDeltaMax, r.TrustDelta))
	r.Confidence = max(0, min(1, r.Confidence))
	facts := make([]string, 0, len(r.Knowledge))
	for _, f := range r.Knowledge {
		if strings.TrimSpace(f) != "" {
			facts = append(facts, f)
		}
	}
	r.Knowledge = facts
	return r
}

// JSON encodes r for storage as a classification payload.
func (r ExtractionResult) JSON() (string, error) {
	if r.Knowledge == nil {
		r.Knowledge = []string{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode extraction: %w", err)
	}
	return string(b), nil
}

// rawExtraction tolerates models that return numbers as floats.
type rawExtraction struct {
	TrustDelta  *float64 `json:"trust_delta"`
	TrustReason string   `json:"trust_reason"`
	Knowledge   []string `json:"knowledge_revealed"`
	Intent      string   `json:"player_intent"`
	Confidence  *float64 `json:"confidence"`
}

// ParseExtraction decodes model output, stripping Markdown code fences, and
// returns a clamped result. A missing trust_delta counts as 0 and a missing
// confidence as 1. Output that is not a JSON object, or a delta that is not a
// finite number, is an error.
func ParseExtraction(text string) (ExtractionResult, error) {
	body := StripFences(text)

	var raw rawExtraction
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return ExtractionResult{}, fmt.Errorf("parse extraction: %w", err)
	}

	res := ExtractionResult{
		TrustReason: raw.TrustReason,
		Knowledge:   raw.Knowledge,
		Intent:      raw.Intent,
		Confidence:  1,
	}
	if raw.TrustDelta != nil {
		d := *raw.TrustDelta
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return ExtractionResult{}, fmt.Errorf("parse extraction: trust_delta %v is not finite", d)
		}
		// Bound before converting; out-of-range floats do not survive int().
		d = math.Max(protocol.ExtractionDeltaMin, math.Min(protocol.ExtractionDeltaMax, d))
		res.TrustDelta = int(d)
	}
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) {
		res.Confidence = *raw.Confidence
	}
	return res.Clamped(), nil
}

// StripFences removes a surrounding ``` or ```json fence.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// SplitSubject peels a leading "Subject: ..." line off generated content.
func SplitSubject(text string) Reply {
	s := strings.TrimSpace(text)
	first, rest, _ := strings.Cut(s, "\n")
	if len(first) >= len("subject:") && strings.EqualFold(first[:len("subject:")], "subject:") {
		return Reply{
			Subject: strings.TrimSpace(first[len("subject:"):]),
			Content: strings.TrimSpace(rest),
		}
	}
	return Reply{Content: s}
}
