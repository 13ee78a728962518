package story

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"argent/pkg/protocol"

	"gopkg.in/yaml.v3"
)

// Built-in story beat ids and handler refs.
const (
	EmberFirstContact = "ember_first_contact"
	MiroFirstContact  = "miro_first_contact"
)

// DefaultCatalog returns the built-in story: Ember's key drop at game start,
// followed four to six hours later by Miro's approach.
func DefaultCatalog() []Event {
	return []Event{
		{
			ID:        EmberFirstContact,
			Handler:   EmberFirstContact,
			Trigger:   Trigger{Kind: GameStart},
			PersonaID: "ember",
			Channel:   protocol.ChannelEmail,
			Requires:  []string{"key"},
		},
		{
			ID:        MiroFirstContact,
			Handler:   MiroFirstContact,
			Trigger:   Trigger{Kind: TimeAfterEvent, After: EmberFirstContact},
			Delay:     Seconds(4*time.Hour, 6*time.Hour),
			PersonaID: "miro",
			Channel:   protocol.ChannelSMS,
		},
	}
}

// catalogFile is the YAML shape of a story catalog.
//
//	events:
//	  - id: miro_first_contact
//	    handler: miro_first_contact
//	    trigger: {kind: time_after_event, after: ember_first_contact}
//	    delay: {min: 4h, max: 6h}
//	    persona: miro
//	    channel: sms
type catalogFile struct {
	Events []struct {
		ID      string `yaml:"id"`
		Handler string `yaml:"handler"`
		Trigger struct {
			Kind  string `yaml:"kind"`
			After string `yaml:"after"`
		} `yaml:"trigger"`
		Delay struct {
			Min string `yaml:"min"`
			Max string `yaml:"max"`
		} `yaml:"delay"`
		Persona  string   `yaml:"persona"`
		Channel  string   `yaml:"channel"`
		Requires []string `yaml:"requires"`
	} `yaml:"events"`
}

// ParseCatalog decodes a YAML catalog. Delays accept Go durations ("4h",
// "90s") or bare seconds. A missing handler defaults to the event id.
func ParseCatalog(data []byte) ([]Event, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse story catalog: %w", err)
	}

	events := make([]Event, 0, len(f.Events))
	for _, e := range f.Events {
		lo, err := parseDelay(e.Delay.Min)
		if err != nil {
			return nil, fmt.Errorf("story event %q delay.min: %w", e.ID, err)
		}
		hi, err := parseDelay(e.Delay.Max)
		if err != nil {
			return nil, fmt.Errorf("story event %q delay.max: %w", e.ID, err)
		}
		if e.Delay.Max == "" {
			hi = lo
		}
		handler := e.Handler
		if handler == "" {
			handler = e.ID
		}
		events = append(events, Event{
			ID:        e.ID,
			Handler:   handler,
			Trigger:   Trigger{Kind: TriggerKind(e.Trigger.Kind), After: e.Trigger.After},
			Delay:     DelayRange{Min: lo, Max: hi},
			PersonaID: e.Persona,
			Channel:   protocol.Channel(e.Channel),
			Requires:  e.Requires,
		})
	}
	return events, nil
}

func parseDelay(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return int(d / time.Second), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", s)
	}
	return n, nil
}

// LoadRegistry builds a Registry from the catalog at path, falling back to
// DefaultCatalog when the file does not exist.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultCatalog()...)
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if errors.Is(err, fs.ErrNotExist) {
		return NewRegistry(DefaultCatalog()...)
	}
	if err != nil {
		return nil, fmt.Errorf("read story catalog: %w", err)
	}
	events, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(events...)
}
