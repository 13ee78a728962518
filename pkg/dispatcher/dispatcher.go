// Package dispatcher routes persona messages to a player. Web-only players and
// unrecognized channels go to the internal inbox; everything else goes to the
// channel's external sender.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"argent/pkg/inbox"
	"argent/pkg/protocol"
)

// OutboundMessage is the channel-independent payload of a persona message.
type OutboundMessage struct {
	PlayerID    string
	PersonaID   string
	SessionID   string
	Recipient   string // filled from the player record when empty
	Subject     string
	Content     string
	HTMLContent string
	ReplyTo     string // optional provider thread reference
}

// SendResult is a channel sender's verdict.
type SendResult struct {
	Success    bool
	ExternalID string
	Error      string
	Retryable  bool
}

// Sender delivers over one external channel.
type Sender interface {
	Channel() protocol.Channel
	Send(ctx context.Context, msg OutboundMessage) (SendResult, error)
}

// Inbox is the internal store used for web-only delivery and for recording
// external sends.
type Inbox interface {
	Deliver(ctx context.Context, d inbox.Delivery) (protocol.Message, error)
	RecordExternal(ctx context.Context, d inbox.Delivery, externalID string) (protocol.Message, error)
}

// Route is where Send would put a message.
type Route int

const (
	RouteInbox Route = iota
	RouteExternal
)

// Dispatcher routes outbound persona messages.
type Dispatcher struct {
	senders map[protocol.Channel]Sender
	inbox   Inbox
	logger  *slog.Logger
}

// New creates a Dispatcher. A nil logger uses slog.Default().
func New(in Inbox, logger *slog.Logger, senders ...Sender) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		senders: make(map[protocol.Channel]Sender, len(senders)),
		inbox:   in,
		logger:  logger,
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	return d
}

// WithInbox returns a copy of d that stores inbox deliveries in in, typically
// an inbox bound to a transaction.
func (d *Dispatcher) WithInbox(in Inbox) *Dispatcher {
	out := *d
	out.inbox = in
	return &out
}

// Route reports how a message to p over ch would be routed.
func (d *Dispatcher) Route(p protocol.Player, ch protocol.Channel) Route {
	if p.Mode == protocol.ModeWebOnly {
		return RouteInbox
	}
	if _, ok := d.senders[ch]; !ok {
		return RouteInbox
	}
	return RouteExternal
}

// Send delivers msg to p. Web-only players always get an inbox delivery. For
// immersive players the channel's sender is used and the send is recorded as
// metadata; an unrecognized channel falls back to the inbox with a warning.
func (d *Dispatcher) Send(ctx context.Context, p protocol.Player, msg OutboundMessage, ch protocol.Channel) (SendResult, error) {
	if d.Route(p, ch) == RouteInbox {
		if p.Mode != protocol.ModeWebOnly {
			d.logger.WarnContext(ctx, "unknown channel, falling back to inbox",
				"channel", string(ch), "player_id", p.ID, "persona_id", msg.PersonaID)
		}
		return d.deliverInbox(ctx, msg, ch)
	}

	res, err := d.SendExternal(ctx, p, msg, ch)
	if err != nil || !res.Success {
		return res, err
	}

	if _, err := d.inbox.RecordExternal(ctx, delivery(msg, ch), res.ExternalID); err != nil {
		return res, fmt.Errorf("record %s send: %w", ch, err)
	}
	return res, nil
}

// SendExternal delivers msg through the channel sender only, without touching
// the inbox. The caller records the send.
func (d *Dispatcher) SendExternal(ctx context.Context, p protocol.Player, msg OutboundMessage, ch protocol.Channel) (SendResult, error) {
	sender, ok := d.senders[ch]
	if !ok {
		return SendResult{}, fmt.Errorf("no sender for channel %q", ch)
	}

	if msg.Recipient == "" {
		msg.Recipient = recipient(p, ch)
	}
	if msg.Recipient == "" {
		d.logger.WarnContext(ctx, "no recipient address, skipping send",
			"channel", string(ch), "player_id", p.ID, "persona_id", msg.PersonaID)
		return SendResult{Error: "no recipient address"}, nil
	}

	res, err := sender.Send(ctx, msg)
	if err != nil {
		return res, fmt.Errorf("send %s to player %s: %w", ch, p.ID, err)
	}
	if !res.Success {
		d.logger.WarnContext(ctx, "channel send failed",
			"channel", string(ch), "player_id", p.ID, "persona_id", msg.PersonaID,
			"error", res.Error, "retryable", res.Retryable)
	}
	return res, nil
}

func (d *Dispatcher) deliverInbox(ctx context.Context, msg OutboundMessage, ch protocol.Channel) (SendResult, error) {
	m, err := d.inbox.Deliver(ctx, delivery(msg, DisplayChannel(ch)))
	if err != nil {
		return SendResult{Error: err.Error()}, fmt.Errorf("inbox delivery: %w", err)
	}
	d.logger.InfoContext(ctx, "stored inbox message",
		"message_id", m.ID, "player_id", msg.PlayerID, "persona_id", msg.PersonaID, "session_id", msg.SessionID)
	return SendResult{Success: true, ExternalID: m.ExternalID}, nil
}

func delivery(msg OutboundMessage, ch protocol.Channel) inbox.Delivery {
	return inbox.Delivery{
		PlayerID:    msg.PlayerID,
		PersonaID:   msg.PersonaID,
		SessionID:   msg.SessionID,
		Channel:     ch,
		Subject:     msg.Subject,
		Content:     msg.Content,
		HTMLContent: msg.HTMLContent,
	}
}

// DisplayChannel keeps email/sms for inbox display and maps anything else to email.
func DisplayChannel(ch protocol.Channel) protocol.Channel {
	if ch == protocol.ChannelSMS {
		return protocol.ChannelSMS
	}
	return protocol.ChannelEmail
}

func recipient(p protocol.Player, ch protocol.Channel) string {
	switch ch {
	case protocol.ChannelEmail:
		return p.Email
	case protocol.ChannelSMS:
		return p.Phone
	default:
		return ""
	}
}
