package handlers

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"argent/pkg/agent"
	"argent/pkg/dispatcher"
	"argent/pkg/inbox"
	"argent/pkg/player"
	"argent/pkg/protocol"
	"argent/pkg/scheduler"
	"argent/pkg/storage"
	"argent/pkg/story"
)

type fakeGenerator struct {
	reply agent.Reply
	err   error
	reqs  []agent.FirstContactRequest
}

func (f *fakeGenerator) Reply(context.Context, agent.ReplyRequest) (agent.Reply, error) {
	return f.reply, f.err
}

func (f *fakeGenerator) FirstContact(_ context.Context, req agent.FirstContactRequest) (agent.Reply, error) {
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

type env struct {
	db      *sql.DB
	players *player.Store
	inbox   *inbox.Store
	deps    Deps
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEnv(t *testing.T, gen agent.Generator) *env {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	in := inbox.NewStore(db)
	disp := dispatcher.New(in, quiet(),
		dispatcher.NewLogSender(protocol.ChannelEmail, true, quiet()),
		dispatcher.NewLogSender(protocol.ChannelSMS, true, quiet()))
	e := &env{db: db, players: player.NewStore(db), inbox: in}
	e.deps = Deps{Players: e.players, Dispatcher: disp, Generator: gen, Logger: quiet()}
	return e
}

func (e *env) player(t *testing.T, mode protocol.Mode, key string) protocol.Player {
	t.Helper()
	p, err := e.players.Create(context.Background(), player.CreateParams{Email: "p@example.com", Phone: "+15550100", Mode: mode, AccessKey: key})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (e *env) messages(t *testing.T, playerID string) []protocol.Message {
	t.Helper()
	msgs, err := e.inbox.Messages(context.Background(), playerID, inbox.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func request(t *testing.T, eventID, playerID string, data map[string]string) scheduler.Request {
	t.Helper()
	for _, ev := range story.DefaultCatalog() {
		if ev.ID == eventID {
			return scheduler.Request{Event: ev, PlayerID: playerID, Data: data}
		}
	}
	t.Fatalf("no event %s", eventID)
	return scheduler.Request{}
}

func TestGameStart_WebOnlyFreshPlayer(t *testing.T) {
	e := newEnv(t, nil)
	p := e.player(t, protocol.ModeWebOnly, "ARG-7F3K")

	reg, err := story.NewRegistry(story.DefaultCatalog()...)
	if err != nil {
		t.Fatal(err)
	}
	sched, err := scheduler.New(scheduler.Config{
		Registry: reg,
		Players:  e.players,
		Handlers: Register(nil, e.deps),
		Logger:   quiet(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := sched.TriggerGameStart(context.Background(), p.ID, nil); err != nil {
		t.Fatalf("TriggerGameStart: %v", err)
	}

	msgs := e.messages(t, p.ID)
	if len(msgs) != 2 {
		t.Fatalf("inbox messages = %d, want 2", len(msgs))
	}
	if msgs[0].SessionID == msgs[1].SessionID {
		t.Errorf("messages share session %s", msgs[0].SessionID)
	}
	byPersona := map[string]protocol.Message{}
	for _, m := range msgs {
		byPersona[m.PersonaID] = m
		if m.Direction != protocol.Outbound || m.Content == "" {
			t.Errorf("message %+v", m)
		}
	}
	if !strings.Contains(byPersona["ember"].Content, "ARG-7F3K") {
		t.Errorf("ember content missing key: %q", byPersona["ember"].Content)
	}
	if byPersona["miro"].Channel != protocol.ChannelSMS {
		t.Errorf("miro channel = %s", byPersona["miro"].Channel)
	}

	var n int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM trust_records`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("trust records = %d, want 0", n)
	}
}

func TestEmber_KeyFromContextWins(t *testing.T) {
	e := newEnv(t, nil)
	p := e.player(t, protocol.ModeWebOnly, "STORED")

	h := EmberFirstContact(e.deps)
	if err := h(context.Background(), request(t, story.EmberFirstContact, p.ID, map[string]string{"key": "FROM-CTX"})); err != nil {
		t.Fatal(err)
	}
	msgs := e.messages(t, p.ID)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "FROM-CTX") || msgs[0].Subject != "It's done" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestEmber_NoKeySendsNothing(t *testing.T) {
	e := newEnv(t, nil)
	p := e.player(t, protocol.ModeWebOnly, "")

	if err := EmberFirstContact(e.deps)(context.Background(), request(t, story.EmberFirstContact, p.ID, nil)); err != nil {
		t.Fatalf("handler = %v, want nil", err)
	}
	if msgs := e.messages(t, p.ID); len(msgs) != 0 {
		t.Errorf("messages = %d, want 0", len(msgs))
	}
}

func TestMissingPlayerAborts(t *testing.T) {
	e := newEnv(t, nil)
	var nf *protocol.NotFoundError
	err := MiroFirstContact(e.deps)(context.Background(), request(t, story.MiroFirstContact, "ghost", nil))
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if msgs := e.messages(t, "ghost"); len(msgs) != 0 {
		t.Errorf("messages = %d, want 0", len(msgs))
	}
}

func TestEmber_Generation(t *testing.T) {
	tests := []struct {
		name        string
		gen         *fakeGenerator
		wantSubject string
		wantContent string
	}{
		{"generated", &fakeGenerator{reply: agent.Reply{Subject: "Keep this", Content: "Take it: KEY-1"}}, "Keep this", "Take it: KEY-1"},
		{"no subject", &fakeGenerator{reply: agent.Reply{Content: "KEY-1. Go."}}, "It's done", "KEY-1. Go."},
		{"error", &fakeGenerator{err: errors.New("quota")}, "It's done", "Here's the access.\n\nKEY-1\n\n"},
		{"key dropped", &fakeGenerator{reply: agent.Reply{Subject: "Hi", Content: "no key here"}}, "It's done", "Here's the access."},
		{"empty", &fakeGenerator{reply: agent.Reply{}}, "It's done", "Use before Thursday."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, tc.gen)
			p := e.player(t, protocol.ModeWebOnly, "KEY-1")
			if err := EmberFirstContact(e.deps)(context.Background(), request(t, story.EmberFirstContact, p.ID, nil)); err != nil {
				t.Fatal(err)
			}
			msgs := e.messages(t, p.ID)
			if len(msgs) != 1 {
				t.Fatalf("messages = %d", len(msgs))
			}
			if msgs[0].Subject != tc.wantSubject || !strings.Contains(msgs[0].Content, tc.wantContent) {
				t.Errorf("got subject %q content %q", msgs[0].Subject, msgs[0].Content)
			}
			if len(tc.gen.reqs) != 1 || tc.gen.reqs[0].Data["key"] != "KEY-1" || tc.gen.reqs[0].PersonaID != "ember" {
				t.Errorf("generator requests = %+v", tc.gen.reqs)
			}
		})
	}
}

func TestMiro_FallbackOnError(t *testing.T) {
	e := newEnv(t, &fakeGenerator{err: errors.New("timeout")})
	p := e.player(t, protocol.ModeWebOnly, "")
	if err := MiroFirstContact(e.deps)(context.Background(), request(t, story.MiroFirstContact, p.ID, nil)); err != nil {
		t.Fatal(err)
	}
	msgs := e.messages(t, p.ID)
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Content, "hey.") || !strings.HasPrefix(msgs[0].SessionID, "miro-") {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestImmersive_RecordsMetadataOnly(t *testing.T) {
	e := newEnv(t, nil)
	p := e.player(t, protocol.ModeImmersive, "KEY-1")
	if err := EmberFirstContact(e.deps)(context.Background(), request(t, story.EmberFirstContact, p.ID, nil)); err != nil {
		t.Fatal(err)
	}
	msgs := e.messages(t, p.ID)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[0].Content != "" || !strings.HasPrefix(msgs[0].ExternalID, "email-") {
		t.Errorf("message = %+v", msgs[0])
	}
}
