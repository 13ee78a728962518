package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"argent/pkg/protocol"

	"google.golang.org/genai"
)

type fakeModels struct {
	text   string
	err    error
	prompt string
	cfg    *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.cfg = cfg
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantDelta int
		wantConf  float64
		wantFacts int
		wantErr   bool
	}{
		{"plain", `{"trust_delta": 5, "trust_reason": "kind", "knowledge_revealed": ["a"], "player_intent": "x", "confidence": 0.8}`, 5, 0.8, 1, false},
		{"fenced json", "```json\n{\"trust_delta\": -3, \"confidence\": 0.5}\n```", -3, 0.5, 0, false},
		{"bare fence", "```\n{\"trust_delta\": 2}\n```", 2, 1, 0, false},
		{"clamped high", `{"trust_delta": 50, "confidence": 3}`, 20, 1, 0, false},
		{"clamped low", `{"trust_delta": -99, "confidence": -1}`, -20, 0, 0, false},
		{"float delta", `{"trust_delta": 7.0}`, 7, 1, 0, false},
		{"blank facts dropped", `{"trust_delta": 0, "knowledge_revealed": ["", "  ", "real"]}`, 0, 1, 1, false},
		{"missing delta keeps facts", `{"trust_reason": "?", "knowledge_revealed": ["has the key"], "confidence": 0.7}`, 0, 0.7, 1, false},
		{"missing delta and confidence", `{"knowledge_revealed": ["a", "b"]}`, 0, 1, 2, false},
		{"huge positive delta", `{"trust_delta": 1e300, "confidence": 0.5}`, 20, 0.5, 0, false},
		{"past int64 delta", `{"trust_delta": 9.3e18}`, 20, 1, 0, false},
		{"huge negative delta", `{"trust_delta": -1e300}`, -20, 1, 0, false},
		{"fractional delta truncates", `{"trust_delta": 19.9}`, 19, 1, 0, false},
		{"delta out of float range", `{"trust_delta": 1e400}`, 0, 0, 0, true},
		{"not json", `I think trust went up.`, 0, 0, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseExtraction(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExtraction: %v", err)
			}
			if got.TrustDelta != tc.wantDelta {
				t.Errorf("delta = %d, want %d", got.TrustDelta, tc.wantDelta)
			}
			if got.Confidence != tc.wantConf {
				t.Errorf("confidence = %v, want %v", got.Confidence, tc.wantConf)
			}
			if len(got.Knowledge) != tc.wantFacts {
				t.Errorf("facts = %v, want %d", got.Knowledge, tc.wantFacts)
			}
		})
	}
}

func TestSplitSubject(t *testing.T) {
	r := SplitSubject("Subject: It's done\n\nHere's the access.")
	if r.Subject != "It's done" || r.Content != "Here's the access." {
		t.Errorf("got %+v", r)
	}
	r = SplitSubject("hey.\nno subject here")
	if r.Subject != "" || r.Content != "hey.\nno subject here" {
		t.Errorf("got %+v", r)
	}
}

func TestFormatHistory(t *testing.T) {
	if got := FormatHistory(nil); got != "(No prior context)" {
		t.Errorf("empty history = %q", got)
	}

	var h []HistoryEntry
	for i := range 8 {
		role := protocol.RoleAgent
		if i%2 == 0 {
			role = protocol.RolePlayer
		}
		h = append(h, HistoryEntry{Role: role, Content: strings.Repeat("x", 300)})
	}
	got := FormatHistory(h)
	lines := strings.Split(got, "\n")
	if len(lines) != 6 {
		t.Fatalf("lines = %d, want 6", len(lines))
	}
	if !strings.HasPrefix(lines[0], "PLAYER: ") || !strings.HasPrefix(lines[1], "AGENT: ") {
		t.Errorf("roles = %q / %q", lines[0][:8], lines[1][:7])
	}
	if n := len(strings.TrimPrefix(lines[0], "PLAYER: ")); n != 200 {
		t.Errorf("entry length = %d, want 200", n)
	}
}

func TestGeminiExtract(t *testing.T) {
	ctx := context.Background()

	t.Run("parses model output", func(t *testing.T) {
		f := &fakeModels{text: "```json\n{\"trust_delta\": 8, \"trust_reason\": \"cooperative\", \"knowledge_revealed\": [\"Ember works at Lumina\"], \"confidence\": 0.9}\n```"}
		g := NewGeminiWith(f, "", nil, quiet())
		res, err := g.Extract(ctx, ExtractionRequest{PersonaID: "ember", PlayerMessage: "ok", Reply: "thanks"})
		if err != nil {
			t.Fatal(err)
		}
		if res.TrustDelta != 8 || len(res.Knowledge) != 1 {
			t.Errorf("got %+v", res)
		}
		if f.cfg == nil || f.cfg.ResponseMIMEType != "application/json" || f.cfg.MaxOutputTokens != 500 {
			t.Errorf("config = %+v", f.cfg)
		}
		if !strings.Contains(f.prompt, "delete the cryptic key") {
			t.Errorf("prompt missing persona goal")
		}
	})

	t.Run("call failure is neutral", func(t *testing.T) {
		g := NewGeminiWith(&fakeModels{err: errors.New("quota")}, "", nil, quiet())
		res, err := g.Extract(ctx, ExtractionRequest{PersonaID: "ember"})
		if err != nil {
			t.Fatal(err)
		}
		if res.TrustDelta != 0 || res.Confidence != 0 || len(res.Knowledge) != 0 {
			t.Errorf("got %+v, want neutral", res)
		}
	})

	t.Run("garbage is neutral", func(t *testing.T) {
		g := NewGeminiWith(&fakeModels{text: "no json here"}, "", nil, quiet())
		res, _ := g.Extract(ctx, ExtractionRequest{PersonaID: "miro"})
		if res.TrustDelta != 0 || res.TrustReason != "Failed to parse extraction" {
			t.Errorf("got %+v", res)
		}
	})
}

func TestGeminiReply(t *testing.T) {
	ctx := context.Background()
	f := &fakeModels{text: "Subject: Re: the key\n\nDon't use it yet."}
	g := NewGeminiWith(f, "", nil, quiet())

	r, err := g.Reply(ctx, ReplyRequest{PersonaID: "ember", PlayerMessage: "what is this?", TrustScore: 12})
	if err != nil {
		t.Fatal(err)
	}
	if r.Subject != "Re: the key" || r.Content != "Don't use it yet." {
		t.Errorf("got %+v", r)
	}
	if !strings.Contains(f.prompt, "what is this?") {
		t.Errorf("prompt missing player message")
	}

	if _, err := g.Reply(ctx, ReplyRequest{PersonaID: "nobody"}); err == nil {
		t.Error("expected error for unknown persona")
	}

	g = NewGeminiWith(&fakeModels{err: errors.New("down")}, "", nil, quiet())
	if _, err := g.Reply(ctx, ReplyRequest{PersonaID: "miro"}); err == nil {
		t.Error("expected error when model call fails")
	}
}

func TestGeminiFirstContactIncludesKey(t *testing.T) {
	f := &fakeModels{text: "Subject: It's done\n\nKEY-123"}
	g := NewGeminiWith(f, "", nil, quiet())
	r, err := g.FirstContact(context.Background(), FirstContactRequest{PersonaID: "ember", Data: map[string]string{"key": "KEY-123"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.prompt, "KEY-123") {
		t.Error("prompt missing key")
	}
	if r.Subject != "It's done" {
		t.Errorf("subject = %q", r.Subject)
	}
}

func TestDisabledExtractor(t *testing.T) {
	res, err := Disabled{}.Extract(context.Background(), ExtractionRequest{})
	if err != nil || res.TrustDelta != 0 || res.Knowledge == nil {
		t.Errorf("got %+v, %v", res, err)
	}
}
