package agent

import (
	"fmt"
	"strings"

	"argent/pkg/persona"
	"argent/pkg/protocol"
)

const (
	historyWindow   = 6
	historyTruncate = 200
)

// FormatHistory renders the last six entries, each cut to 200 characters, as
// PLAYER:/AGENT: lines.
func FormatHistory(history []HistoryEntry) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) == 0 {
		return "(No prior context)"
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		role := "AGENT"
		if h.Role == protocol.RolePlayer {
			role = "PLAYER"
		}
		content := h.Content
		if r := []rune(content); len(r) > historyTruncate {
			content = string(r[:historyTruncate])
		}
		lines = append(lines, role+": "+content)
	}
	return strings.Join(lines, "\n")
}

func extractionPrompt(req ExtractionRequest, goal string) string {
	if goal == "" {
		goal = "Unknown agent goal"
	}
	return fmt.Sprintf(`You are analyzing a conversation exchange in an alternate reality game.

AGENT: %s
AGENT'S GOAL: %s

RECENT CONTEXT:
%s

CURRENT EXCHANGE:
PLAYER: %s
AGENT: %s

Analyze this exchange and determine:
1. How did the player's message affect their trust with this agent? (scale: -20 to +20)
2. What new information did the AGENT reveal to the player? (list specific facts)
3. What was the player trying to accomplish?

Trust scoring guide:
- Player agrees, cooperates, shares info openly: +5 to +15
- Player asks neutral or clarifying questions: 0 to +5
- Player points out contradictions with reasoning: +5 to +10
- Player politely pushes for truth: +2 to +5
- Player reveals they trust another agent more: -5 to -10
- Player aggressively demands answers with hostile tone: -5 to -10
- Player makes threats, insults, or attacks: -15 to -20

Curiosity is not hostility. Only penalize rudeness, threats or insults.

Return ONLY valid JSON in this exact format:
{
  "trust_delta": <integer from -20 to 20>,
  "trust_reason": "<one sentence explaining the trust change>",
  "knowledge_revealed": ["<fact 1>", "<fact 2>"],
  "player_intent": "<what the player was trying to accomplish>",
  "confidence": <float from 0.0 to 1.0>
}

If the agent revealed no new information, use an empty list for knowledge_revealed.
If you're unsure about the trust delta, use a smaller magnitude and lower confidence.`,
		req.PersonaID, goal, FormatHistory(req.History), req.PlayerMessage, req.Reply)
}

func replyPrompt(req ReplyRequest, p persona.Persona) string {
	facts := "(none)"
	if len(req.Facts) > 0 {
		facts = "- " + strings.Join(req.Facts, "\n- ")
	}
	subjectRule := ""
	if p.Channel == protocol.ChannelEmail {
		subjectRule = "\nStart with a single line \"Subject: ...\" followed by the body."
	}
	return fmt.Sprintf(`You are %s, writing over %s.
Your goal: %s

The player's trust in you: %d (from -100 to 100).
What the player already knows:
%s

Recent conversation:
%s

The player just wrote:
%s

Reply in character. Keep it short.%s`,
		p.DisplayName, p.Channel, p.Goal, req.TrustScore, facts, FormatHistory(req.History), req.PlayerMessage, subjectRule)
}

func firstContactPrompt(req FirstContactRequest, p persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, reaching out to the player for the first time over %s.\n", p.DisplayName, p.Channel)
	fmt.Fprintf(&b, "Your goal: %s\n", p.Goal)
	if key := req.Data["key"]; key != "" {
		fmt.Fprintf(&b, "You must include this key verbatim on its own line: %s\n", key)
	}
	b.WriteString("Write the opening message in character. Keep it short.")
	if p.Channel == protocol.ChannelEmail {
		b.WriteString("\nStart with a single line \"Subject: ...\" followed by the body.")
	}
	return b.String()
}
