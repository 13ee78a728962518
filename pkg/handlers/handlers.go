// Package handlers implements the story beats: each produces a persona message
// through the generator, falls back to hand-written text, and hands it to the
// dispatcher.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"argent/pkg/agent"
	"argent/pkg/dispatcher"
	"argent/pkg/inbox"
	"argent/pkg/persona"
	"argent/pkg/protocol"
	"argent/pkg/scheduler"
	"argent/pkg/story"
)

// PlayerGetter is a strict player lookup.
type PlayerGetter interface {
	Get(ctx context.Context, id string) (protocol.Player, error)
}

// Sender is the dispatcher as seen by handlers.
type Sender interface {
	Send(ctx context.Context, p protocol.Player, msg dispatcher.OutboundMessage, ch protocol.Channel) (dispatcher.SendResult, error)
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Players    PlayerGetter
	Dispatcher Sender
	// Generator is optional; without one every beat uses its fallback text.
	Generator agent.Generator
	Personas  *persona.Directory
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) personas() *persona.Directory {
	if d.Personas != nil {
		return d.Personas
	}
	return persona.Default()
}

// Register adds the built-in handlers to h.
func Register(h scheduler.Handlers, d Deps) scheduler.Handlers {
	if h == nil {
		h = scheduler.Handlers{}
	}
	h[story.EmberFirstContact] = EmberFirstContact(d)
	h[story.MiroFirstContact] = MiroFirstContact(d)
	return h
}

const (
	emberFallbackSubject = "It's done"
	emberFallbackBody    = "Here's the access.\n\n%s\n\nUse before Thursday. You know what to do.\n\nBe careful.\n\n- E\n"

	miroFallbackBody = "hey.\n\nheard you received something interesting recently. not sure if you know what you're holding, but I might be able to help you figure that out.\n\nno pressure. just thought you should know you have options."
)

// EmberFirstContact delivers the access key. The key comes from the request
// context, else from the player record; with neither nothing is sent.
func EmberFirstContact(d Deps) scheduler.Handler {
	return func(ctx context.Context, req scheduler.Request) error {
		p, err := d.Players.Get(ctx, req.PlayerID)
		if err != nil {
			return fmt.Errorf("ember first contact: %w", err)
		}

		key := req.Data["key"]
		if key == "" {
			key = p.AccessKey
		}
		if key == "" {
			d.logger().ErrorContext(ctx, "no access key for player, skipping ember first contact", "player_id", p.ID)
			return nil
		}

		data := withKey(req.Data, key)
		reply, ok := d.generate(ctx, req, p, data)
		// Generated text must carry the key verbatim.
		if !ok || !strings.Contains(reply.Content, key) {
			reply = agent.Reply{Subject: emberFallbackSubject, Content: fmt.Sprintf(emberFallbackBody, key)}
		}
		if reply.Subject == "" {
			reply.Subject = emberFallbackSubject
		}
		return d.send(ctx, req, p, reply)
	}
}

// MiroFirstContact is Miro's unsolicited approach.
func MiroFirstContact(d Deps) scheduler.Handler {
	return func(ctx context.Context, req scheduler.Request) error {
		p, err := d.Players.Get(ctx, req.PlayerID)
		if err != nil {
			return fmt.Errorf("miro first contact: %w", err)
		}

		reply, ok := d.generate(ctx, req, p, req.Data)
		if !ok {
			reply = agent.Reply{Content: miroFallbackBody}
		}
		return d.send(ctx, req, p, reply)
	}
}

// generate asks the generator for the beat's content. Any failure is logged
// and reported as !ok so the caller falls back.
func (d Deps) generate(ctx context.Context, req scheduler.Request, p protocol.Player, data map[string]string) (agent.Reply, bool) {
	if d.Generator == nil {
		return agent.Reply{}, false
	}
	reply, err := d.Generator.FirstContact(ctx, agent.FirstContactRequest{
		PersonaID: personaOf(req),
		PlayerID:  p.ID,
		Data:      data,
	})
	if err != nil {
		d.logger().WarnContext(ctx, "generation failed, using fallback",
			"event_id", req.Event.ID, "player_id", p.ID, "persona_id", personaOf(req), "error", err)
		return agent.Reply{}, false
	}
	if strings.TrimSpace(reply.Content) == "" {
		return agent.Reply{}, false
	}
	return reply, true
}

func (d Deps) send(ctx context.Context, req scheduler.Request, p protocol.Player, reply agent.Reply) error {
	personaID := personaOf(req)
	ch := req.Event.Channel
	if ch == "" {
		if pp, err := d.personas().Get(personaID); err == nil {
			ch = pp.Channel
		}
	}

	res, err := d.Dispatcher.Send(ctx, p, dispatcher.OutboundMessage{
		PlayerID:  p.ID,
		PersonaID: personaID,
		SessionID: inbox.NewSessionID(personaID),
		Subject:   reply.Subject,
		Content:   reply.Content,
	}, ch)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Event.ID, err)
	}
	if !res.Success {
		d.logger().WarnContext(ctx, "story message not delivered",
			"event_id", req.Event.ID, "player_id", p.ID, "persona_id", personaID, "error", res.Error)
		return nil
	}
	d.logger().InfoContext(ctx, "story message sent",
		"event_id", req.Event.ID, "player_id", p.ID, "persona_id", personaID, "channel", string(ch), "external_id", res.ExternalID)
	return nil
}

func personaOf(req scheduler.Request) string {
	if req.Event.PersonaID != "" {
		return req.Event.PersonaID
	}
	switch req.Event.Handler {
	case story.EmberFirstContact:
		return "ember"
	case story.MiroFirstContact:
		return "miro"
	}
	return ""
}

func withKey(data map[string]string, key string) map[string]string {
	out := make(map[string]string, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["key"] = key
	return out
}
