// Package story holds the immutable catalog of story beats and the trigger
// graph that links them.
//
// A Registry is built once at startup from a fixed set of events and passed
// by reference to the scheduler. It is safe for concurrent use because it is
// never mutated after construction.
package story

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"argent/pkg/protocol"
)

// TriggerKind says what causes a story event to fire.
type TriggerKind string

const (
	GameStart      TriggerKind = "game_start"
	TimeAfterEvent TriggerKind = "time_after_event"
	PlayerAction   TriggerKind = "player_action"
)

// Trigger is an event's trigger. After names the parent event for
// TimeAfterEvent triggers and is empty otherwise.
type Trigger struct {
	Kind  TriggerKind
	After string
}

// DelayRange is an inclusive range of seconds. (0,0) means immediate.
type DelayRange struct {
	Min int
	Max int
}

// Intn is satisfied by *rand.Rand.
type Intn interface {
	IntN(n int) int
}

// Sample returns Min when Min == Max, otherwise a uniformly random integer in
// [Min, Max]. A nil source uses the global generator.
func (d DelayRange) Sample(src Intn) int {
	if d.Min >= d.Max {
		return d.Min
	}
	span := d.Max - d.Min + 1
	if src == nil {
		return d.Min + rand.IntN(span) //nolint:gosec // pacing doesn't need crypto rand
	}
	return d.Min + src.IntN(span)
}

// Immediate reports whether the range always yields zero.
func (d DelayRange) Immediate() bool {
	return d.Min == 0 && d.Max == 0
}

// Seconds is a convenience constructor from durations.
func Seconds(lo, hi time.Duration) DelayRange {
	return DelayRange{Min: int(lo / time.Second), Max: int(hi / time.Second)}
}

// Event is one story beat.
type Event struct {
	ID        string
	Handler   string
	Trigger   Trigger
	Delay     DelayRange
	PersonaID string
	Channel   protocol.Channel
	// Requires lists context keys the handler expects.
	Requires []string
}

// Registry is the immutable id → Event catalog.
type Registry struct {
	events   map[string]Event
	children map[string][]string
	ids      []string
}

// NewRegistry validates events and builds a Registry. Ids must be unique,
// TimeAfterEvent triggers must name a parent, and delay ranges must satisfy
// 0 <= Min <= Max. Cycles are not checked.
func NewRegistry(events ...Event) (*Registry, error) {
	r := &Registry{
		events:   make(map[string]Event, len(events)),
		children: make(map[string][]string),
	}

	for _, ev := range events {
		if ev.ID == "" {
			return nil, fmt.Errorf("story event with empty id")
		}
		if _, dup := r.events[ev.ID]; dup {
			return nil, fmt.Errorf("duplicate story event %q", ev.ID)
		}
		if ev.Handler == "" {
			return nil, fmt.Errorf("story event %q has no handler", ev.ID)
		}
		if ev.Delay.Min < 0 || ev.Delay.Min > ev.Delay.Max {
			return nil, fmt.Errorf("story event %q: invalid delay range [%d,%d]", ev.ID, ev.Delay.Min, ev.Delay.Max)
		}
		switch ev.Trigger.Kind {
		case GameStart, PlayerAction:
		case TimeAfterEvent:
			if ev.Trigger.After == "" {
				return nil, fmt.Errorf("story event %q: time_after_event trigger without parent", ev.ID)
			}
			r.children[ev.Trigger.After] = append(r.children[ev.Trigger.After], ev.ID)
		default:
			return nil, fmt.Errorf("story event %q: unknown trigger kind %q", ev.ID, ev.Trigger.Kind)
		}

		ev.Requires = append([]string(nil), ev.Requires...)
		r.events[ev.ID] = ev
		r.ids = append(r.ids, ev.ID)
	}

	sort.Strings(r.ids)
	for parent := range r.children {
		sort.Strings(r.children[parent])
	}

	return r, nil
}

// Get returns the event with the given id or a *protocol.NotFoundError.
func (r *Registry) Get(id string) (Event, error) {
	ev, ok := r.events[id]
	if !ok {
		return Event{}, protocol.NotFound("event", id)
	}
	return ev, nil
}

// EventsTriggeredBy returns the events whose trigger kind is kind, ordered by id.
func (r *Registry) EventsTriggeredBy(kind TriggerKind) []Event {
	var out []Event
	for _, id := range r.ids {
		if ev := r.events[id]; ev.Trigger.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// EventsAfter returns the TimeAfterEvent children of id, ordered by id.
func (r *Registry) EventsAfter(id string) []Event {
	ids := r.children[id]
	out := make([]Event, 0, len(ids))
	for _, child := range ids {
		out = append(out, r.events[child])
	}
	return out
}

// All returns every event ordered by id.
func (r *Registry) All() []Event {
	out := make([]Event, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.events[id])
	}
	return out
}

// Len returns the number of registered events.
func (r *Registry) Len() int { return len(r.ids) }
