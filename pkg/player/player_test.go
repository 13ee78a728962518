package player

import (
	"context"
	"errors"
	"testing"

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
	return NewStore(db)
}

func TestStore_CreateAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, CreateParams{Email: "p@example.com", Mode: protocol.ModeWebOnly, AccessKey: "XXXX-1234"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Email != "p@example.com" || got.Mode != protocol.ModeWebOnly || got.AccessKey != "XXXX-1234" {
		t.Errorf("unexpected player: %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created.CreatedAt)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := setupStore(t)
	_, err := s.Get(context.Background(), "ghost")
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "player" {
		t.Fatalf("expected player NotFoundError, got %v", err)
	}
}

func TestStore_Mode(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	p, err := s.Create(ctx, CreateParams{ID: "p1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if mode, err := s.Mode(ctx, p.ID); err != nil || mode != protocol.ModeImmersive {
		t.Errorf("default mode = %q, %v", mode, err)
	}

	if err := s.SetMode(ctx, p.ID, protocol.ModeWebOnly); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if mode, _ := s.Mode(ctx, p.ID); mode != protocol.ModeWebOnly {
		t.Errorf("mode after set = %q", mode)
	}

	if mode, err := s.Mode(ctx, "ghost"); err != nil || mode != protocol.ModeWebOnly {
		t.Errorf("unknown player mode = %q, %v", mode, err)
	}

	if err := s.SetMode(ctx, "ghost", protocol.ModeImmersive); err == nil {
		t.Error("expected error setting mode on unknown player")
	}
}
