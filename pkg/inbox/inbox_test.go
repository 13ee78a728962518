package inbox

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"argent/pkg/protocol"
	"argent/pkg/storage"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := NewStore(db)
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestDeliver_StoresContentAndWebExternalID(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	m, err := s.Deliver(ctx, Delivery{
		PlayerID: "p1", PersonaID: "ember", SessionID: "ember-1",
		Channel: protocol.ChannelEmail, Subject: "It's done", Content: "Here's the access.",
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !strings.HasPrefix(m.ExternalID, "web-") {
		t.Errorf("external id = %q", m.ExternalID)
	}

	got, err := s.Message(ctx, "p1", m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "Here's the access." || got.SenderName != "Ember" || got.Direction != protocol.Outbound {
		t.Errorf("unexpected message: %+v", got)
	}
	if got.ExternalID != m.ExternalID || got.ReadAt != nil {
		t.Errorf("external id %q read_at %v", got.ExternalID, got.ReadAt)
	}

	if _, err := s.Message(ctx, "someone-else", m.ID); err == nil {
		t.Error("expected other player's lookup to fail")
	}
}

func TestStorePlayerMessage_ContentOnlyWhenKept(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	kept, err := s.StorePlayerMessage(ctx, PlayerMessage{PlayerID: "p1", SessionID: "miro-1", Content: "who are you?", KeepContent: true})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	dropped, err := s.StorePlayerMessage(ctx, PlayerMessage{PlayerID: "p1", SessionID: "miro-1", Channel: protocol.ChannelSMS, Content: "who are you?"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	a, _ := s.Message(ctx, "p1", kept.ID)
	b, _ := s.Message(ctx, "p1", dropped.ID)
	if a.Content != "who are you?" || a.Channel != protocol.ChannelWeb || a.ReadAt == nil {
		t.Errorf("kept message: %+v", a)
	}
	if b.Content != "" {
		t.Errorf("immersive content stored: %q", b.Content)
	}
	if a.Direction != protocol.Inbound || a.SenderName != "You" {
		t.Errorf("player message direction/sender: %s %s", a.Direction, a.SenderName)
	}
}

func TestConversations_GroupingAndUnread(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	mustDeliver := func(d Delivery) protocol.Message {
		t.Helper()
		m, err := s.Deliver(ctx, d)
		if err != nil {
			t.Fatalf("deliver: %v", err)
		}
		return m
	}

	mustDeliver(Delivery{PlayerID: "p1", PersonaID: "ember", SessionID: "ember-1", Channel: protocol.ChannelEmail, Content: "first"})
	if _, err := s.StorePlayerMessage(ctx, PlayerMessage{PlayerID: "p1", SessionID: "ember-1", Content: "reply", KeepContent: true}); err != nil {
		t.Fatalf("player message: %v", err)
	}
	mustDeliver(Delivery{PlayerID: "p1", PersonaID: "miro", SessionID: "miro-1", Channel: protocol.ChannelSMS, Content: strings.Repeat("m", 150)})
	loose := mustDeliver(Delivery{PlayerID: "p1", PersonaID: "system", Channel: protocol.ChannelEmail, Content: "welcome"})
	mustDeliver(Delivery{PlayerID: "p2", PersonaID: "ember", SessionID: "ember-9", Content: "other player"})

	convs, err := s.Conversations(ctx, "p1", ConversationOpts{})
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 3 {
		t.Fatalf("conversations = %d, want 3", len(convs))
	}

	if convs[0].SessionID != "single-"+itoa(loose.ID) || convs[0].Title != "System" {
		t.Errorf("newest conversation = %+v", convs[0])
	}
	if convs[1].SessionID != "miro-1" || convs[1].Channel != protocol.ChannelSMS {
		t.Errorf("second conversation = %+v", convs[1])
	}
	if got := []rune(convs[1].Preview); len(got) != previewLen+3 {
		t.Errorf("preview length = %d", len(got))
	}
	ember := convs[2]
	if ember.SessionID != "ember-1" || ember.MessageCount != 2 || ember.UnreadCount != 1 || ember.Title != "Ember" {
		t.Errorf("ember conversation = %+v", ember)
	}
	if ember.Latest.Direction != protocol.Inbound {
		t.Errorf("latest in ember-1 should be the player's reply, got %+v", ember.Latest)
	}

	smsOnly, err := s.Conversations(ctx, "p1", ConversationOpts{Channel: protocol.ChannelSMS})
	if err != nil {
		t.Fatalf("filtered: %v", err)
	}
	if len(smsOnly) != 1 || smsOnly[0].SessionID != "miro-1" {
		t.Errorf("sms conversations = %+v", smsOnly)
	}

	limited, _ := s.Conversations(ctx, "p1", ConversationOpts{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limited = %d", len(limited))
	}
}

func TestReadTracking(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a, _ := s.Deliver(ctx, Delivery{PlayerID: "p1", PersonaID: "ember", SessionID: "ember-1", Content: "one"})
	_, _ = s.Deliver(ctx, Delivery{PlayerID: "p1", PersonaID: "ember", SessionID: "ember-1", Content: "two"})
	_, _ = s.Deliver(ctx, Delivery{PlayerID: "p1", PersonaID: "miro", SessionID: "miro-1", Channel: protocol.ChannelSMS, Content: "three"})
	_, _ = s.StorePlayerMessage(ctx, PlayerMessage{PlayerID: "p1", SessionID: "ember-1", Content: "mine", KeepContent: true})

	if n, _ := s.UnreadCount(ctx, "p1", ""); n != 3 {
		t.Errorf("unread = %d, want 3", n)
	}
	if n, _ := s.UnreadCount(ctx, "p1", protocol.ChannelSMS); n != 1 {
		t.Errorf("unread sms = %d, want 1", n)
	}

	ok, err := s.MarkRead(ctx, "p1", a.ID)
	if err != nil || !ok {
		t.Fatalf("mark read: %v %v", ok, err)
	}
	if ok, _ := s.MarkRead(ctx, "p2", a.ID); ok {
		t.Error("mark read must not touch another player's message")
	}
	if ok, _ := s.MarkRead(ctx, "p1", 9999); ok {
		t.Error("mark read of missing message reported true")
	}

	n, err := s.MarkConversationRead(ctx, "p1", "ember-1")
	if err != nil {
		t.Fatalf("mark conversation: %v", err)
	}
	if n != 1 {
		t.Errorf("marked %d, want 1", n)
	}
	if n, _ := s.UnreadCount(ctx, "p1", ""); n != 1 {
		t.Errorf("unread after = %d, want 1", n)
	}
}

func TestLatestOutboundAndClassification(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.LatestOutbound(ctx, "p1", "miro"); err == nil {
		t.Fatal("expected not found with no messages")
	}

	_, _ = s.Deliver(ctx, Delivery{PlayerID: "p1", PersonaID: "miro", SessionID: "miro-1", Content: "old"})
	_, _ = s.Deliver(ctx, Delivery{PlayerID: "p1", PersonaID: "ember", SessionID: "ember-1", Content: "ember"})
	newest, _ := s.RecordExternal(ctx, Delivery{PlayerID: "p1", PersonaID: "miro", SessionID: "miro-1", Channel: protocol.ChannelSMS}, "SM123")

	got, err := s.LatestOutbound(ctx, "p1", "miro")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.ID != newest.ID || got.ExternalID != "SM123" || got.Content != "" {
		t.Errorf("latest = %+v", got)
	}

	if err := s.AttachClassification(ctx, got.ID, `{"trust_delta":3}`); err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, _ = s.Message(ctx, "p1", got.ID)
	if got.Classification != `{"trust_delta":3}` || got.ClassifiedAt == nil {
		t.Errorf("classification = %q at %v", got.Classification, got.ClassifiedAt)
	}

	err = s.AttachClassification(ctx, 9999, `{}`)
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("attach to missing message: %v", err)
	}
}

func TestSessionPersona(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if id, err := s.SessionPersona(ctx, "p1", "x-1"); err != nil || id != "" {
		t.Errorf("empty session = %q, %v", id, err)
	}
	_, _ = s.Deliver(ctx, Delivery{PlayerID: "p1", PersonaID: "miro", SessionID: "shared", Content: "hi"})
	_, _ = s.StorePlayerMessage(ctx, PlayerMessage{PlayerID: "p1", SessionID: "shared", Content: "yo"})
	if id, _ := s.SessionPersona(ctx, "p1", "shared"); id != "miro" {
		t.Errorf("session persona = %q", id)
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID("ember"), NewSessionID("ember")
	if !strings.HasPrefix(a, "ember-") || a == b {
		t.Errorf("session ids %q %q", a, b)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
