package story

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"

	"argent/pkg/protocol"
)

func fixture() []Event {
	return []Event{
		{ID: "root", Handler: "h", Trigger: Trigger{Kind: GameStart}},
		{ID: "b", Handler: "h", Trigger: Trigger{Kind: TimeAfterEvent, After: "root"}, Delay: DelayRange{60, 120}},
		{ID: "a", Handler: "h", Trigger: Trigger{Kind: TimeAfterEvent, After: "root"}},
		{ID: "grandchild", Handler: "h", Trigger: Trigger{Kind: TimeAfterEvent, After: "a"}},
		{ID: "on_reply", Handler: "h", Trigger: Trigger{Kind: PlayerAction}},
	}
}

func ids(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

func TestRegistry_EventsAfterIndependentOfOrder(t *testing.T) {
	forward, err := NewRegistry(fixture()...)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	reversed := fixture()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	backward, err := NewRegistry(reversed...)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}

	for _, r := range []*Registry{forward, backward} {
		if got := ids(r.EventsAfter("root")); !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Errorf("EventsAfter(root) = %v", got)
		}
		if got := ids(r.EventsAfter("a")); !reflect.DeepEqual(got, []string{"grandchild"}) {
			t.Errorf("EventsAfter(a) = %v", got)
		}
		if got := r.EventsAfter("grandchild"); len(got) != 0 {
			t.Errorf("EventsAfter(grandchild) = %v, want none", ids(got))
		}
	}
}

func TestRegistry_EventsTriggeredBy(t *testing.T) {
	r, err := NewRegistry(fixture()...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tests := []struct {
		kind TriggerKind
		want []string
	}{
		{GameStart, []string{"root"}},
		{PlayerAction, []string{"on_reply"}},
		{TimeAfterEvent, []string{"a", "b", "grandchild"}},
	}
	for _, tt := range tests {
		if got := ids(r.EventsTriggeredBy(tt.kind)); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("EventsTriggeredBy(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r, err := NewRegistry(fixture()...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = r.Get("nope")
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "event" {
		t.Fatalf("expected event NotFoundError, got %v", err)
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
	}{
		{"duplicate", []Event{{ID: "x", Handler: "h", Trigger: Trigger{Kind: GameStart}}, {ID: "x", Handler: "h", Trigger: Trigger{Kind: GameStart}}}},
		{"no handler", []Event{{ID: "x", Trigger: Trigger{Kind: GameStart}}}},
		{"orphan time trigger", []Event{{ID: "x", Handler: "h", Trigger: Trigger{Kind: TimeAfterEvent}}}},
		{"inverted delay", []Event{{ID: "x", Handler: "h", Trigger: Trigger{Kind: GameStart}, Delay: DelayRange{10, 5}}}},
		{"unknown kind", []Event{{ID: "x", Handler: "h", Trigger: Trigger{Kind: "moon_phase"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.events...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDelayRange_Sample(t *testing.T) {
	fixed := DelayRange{3600, 3600}
	src := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		if got := fixed.Sample(src); got != 3600 {
			t.Fatalf("fixed sample = %d", got)
		}
	}

	spread := DelayRange{3600, 7200}
	seenLow, seenHigh := false, false
	for i := 0; i < 5000; i++ {
		got := spread.Sample(src)
		if got < 3600 || got > 7200 {
			t.Fatalf("sample %d outside [3600,7200]", got)
		}
		if got < 4000 {
			seenLow = true
		}
		if got > 6800 {
			seenHigh = true
		}
	}
	if !seenLow || !seenHigh {
		t.Errorf("samples did not spread across the range (low=%v high=%v)", seenLow, seenHigh)
	}

	if got := (DelayRange{}).Sample(nil); got != 0 {
		t.Errorf("zero range sample = %d", got)
	}
}

func TestParseCatalog(t *testing.T) {
	data := []byte(`
events:
  - id: ember_first_contact
    trigger: {kind: game_start}
    persona: ember
    channel: email
    requires: [key]
  - id: miro_first_contact
    handler: miro_first_contact
    trigger: {kind: time_after_event, after: ember_first_contact}
    delay: {min: 4h, max: "21600"}
    persona: miro
    channel: sms
`)
	events, err := ParseCatalog(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r, err := NewRegistry(events...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	ember, err := r.Get(EmberFirstContact)
	if err != nil {
		t.Fatalf("get ember: %v", err)
	}
	if ember.Handler != EmberFirstContact || !ember.Delay.Immediate() || ember.Channel != protocol.ChannelEmail {
		t.Errorf("unexpected ember event: %+v", ember)
	}

	miro, err := r.Get(MiroFirstContact)
	if err != nil {
		t.Fatalf("get miro: %v", err)
	}
	if miro.Delay != (DelayRange{4 * 3600, 6 * 3600}) {
		t.Errorf("miro delay = %+v", miro.Delay)
	}
	if got := ids(r.EventsAfter(EmberFirstContact)); !reflect.DeepEqual(got, []string{MiroFirstContact}) {
		t.Errorf("EventsAfter(ember) = %v", got)
	}
}

func TestParseCatalog_BadDelay(t *testing.T) {
	_, err := ParseCatalog([]byte("events:\n  - id: x\n    trigger: {kind: game_start}\n    delay: {min: soon}\n"))
	if err == nil {
		t.Fatal("expected error for non-numeric delay")
	}
}

func TestLoadRegistry_MissingFileUsesDefault(t *testing.T) {
	r, err := LoadRegistry(t.TempDir() + "/story.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Len() != len(DefaultCatalog()) {
		t.Errorf("Len = %d, want %d", r.Len(), len(DefaultCatalog()))
	}
	miro, err := r.Get(MiroFirstContact)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if miro.Delay.Min != 4*3600 || miro.Delay.Max != 6*3600 {
		t.Errorf("miro delay = %+v", miro.Delay)
	}
}
