// Package persona is the read-only directory of conversational characters.
// Persona content is opaque here; only routing metadata is exposed.
package persona

import (
	"sort"
	"strings"

	"argent/pkg/protocol"
)

// Persona is the routing metadata for one character.
type Persona struct {
	ID          string
	DisplayName string
	Channel     protocol.Channel
	// Goal is a one-line summary handed to the extraction collaborator.
	Goal string
}

// Directory is an immutable id → Persona lookup.
type Directory struct {
	byID map[string]Persona
}

// NewDirectory builds a Directory. Later entries replace earlier ones with the
// same id.
func NewDirectory(personas ...Persona) *Directory {
	d := &Directory{byID: make(map[string]Persona, len(personas))}
	for _, p := range personas {
		d.byID[p.ID] = p
	}
	return d
}

// Default returns the built-in cast.
func Default() *Directory {
	return NewDirectory(
		Persona{
			ID:          "ember",
			DisplayName: "Ember",
			Channel:     protocol.ChannelEmail,
			Goal:        "Wants the player to delete the cryptic key and forget it exists. Anxious about exposure.",
		},
		Persona{
			ID:          "miro",
			DisplayName: "Miro",
			Channel:     protocol.ChannelSMS,
			Goal:        "Wants the player to trust them and share information about the key. Opportunistic information broker.",
		},
	)
}

// Get returns the persona with id or a *protocol.NotFoundError.
func (d *Directory) Get(id string) (Persona, error) {
	p, ok := d.byID[id]
	if !ok {
		return Persona{}, protocol.NotFound("persona", id)
	}
	return p, nil
}

// IDs returns every persona id, sorted.
func (d *Directory) IDs() []string {
	out := make([]string, 0, len(d.byID))
	for id := range d.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SenderName maps a persona id onto the name shown in the inbox.
func SenderName(id string) string {
	switch id {
	case "ember":
		return "Ember"
	case "miro":
		return "Miro"
	case "system":
		return "System"
	case "":
		return "Unknown"
	default:
		return strings.ToUpper(id[:1]) + strings.ToLower(id[1:])
	}
}
