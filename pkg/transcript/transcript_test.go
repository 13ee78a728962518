package transcript

import (
	"context"
	"fmt"
	"testing"

	"argent/pkg/protocol"
	"argent/pkg/storage"
)

func TestSQLArchiveRecent(t *testing.T) {
	db, err := storage.OpenMemory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	a := NewSQLArchive(db)
	ctx := context.Background()

	for i := range 8 {
		role := protocol.RolePlayer
		if i%2 == 1 {
			role = protocol.RoleAgent
		}
		if err := a.Append(ctx, Entry{PlayerID: "p1", SessionID: "s1", PersonaID: "ember", Role: role, Content: fmt.Sprintf("line %d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Append(ctx, Entry{PlayerID: "p1", SessionID: "other", PersonaID: "miro", Role: protocol.RolePlayer, Content: "elsewhere"}); err != nil {
		t.Fatal(err)
	}

	got, err := a.Recent(ctx, "p1", "s1", 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 6 {
		t.Fatalf("entries = %d, want 6", len(got))
	}
	if got[0].Content != "line 2" || got[5].Content != "line 7" {
		t.Errorf("window = %q .. %q", got[0].Content, got[5].Content)
	}

	h := History(got)
	if h[0].Role != protocol.RolePlayer || h[1].Role != protocol.RoleAgent {
		t.Errorf("history roles = %s, %s", h[0].Role, h[1].Role)
	}

	none, err := a.Recent(ctx, "p2", "s1", 6)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown session = %v, %v", none, err)
	}
	if zero, _ := a.Recent(ctx, "p1", "s1", 0); len(zero) != 0 {
		t.Errorf("n=0 returned %d", len(zero))
	}
}
