package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"argent/pkg/inbox"
	"argent/pkg/persona"
	"argent/pkg/player"
	"argent/pkg/protocol"
)

// Submitter accepts tasks for background processing.
type Submitter interface {
	Submit(t Task) error
}

// Service is the request-side entry point for player messages.
type Service struct {
	players  *player.Store
	inbox    *inbox.Store
	personas *persona.Directory
	pool     Submitter
	logger   *slog.Logger
}

// NewService builds a Service over the request-serving handle db. A nil pool
// stores player messages without answering them.
func NewService(db protocol.DBTX, pool Submitter, personas *persona.Directory, logger *slog.Logger) *Service {
	if personas == nil {
		personas = persona.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		players:  player.NewStore(db),
		inbox:    inbox.NewStore(db),
		personas: personas,
		pool:     pool,
		logger:   logger.With("component", "pipeline"),
	}
}

// Inbound is a player message as received.
type Inbound struct {
	PlayerID  string
	SessionID string
	// PersonaID is optional when the session already identifies one.
	PersonaID string
	Channel   protocol.Channel
	Subject   string
	Content   string
}

// Receipt reports what Receive did.
type Receipt struct {
	Message   protocol.Message
	PersonaID string
	// Queued is false when no reply will be generated.
	Queued bool
}

// Receive stores the player's message and hands it off for a reply. Once the
// message is stored Receive does not fail: a full or closed pool only means
// no reply.
func (s *Service) Receive(ctx context.Context, in Inbound) (Receipt, error) {
	if strings.TrimSpace(in.Content) == "" {
		return Receipt{}, errors.New("receive: empty message")
	}
	pl, err := s.players.Get(ctx, in.PlayerID)
	if err != nil {
		return Receipt{}, fmt.Errorf("receive: %w", err)
	}

	personaID, err := s.resolvePersona(ctx, in)
	if err != nil {
		return Receipt{}, fmt.Errorf("receive: %w", err)
	}
	session := in.SessionID
	if session == "" {
		session = inbox.NewSessionID(personaID)
	}

	msg, err := s.inbox.StorePlayerMessage(ctx, inbox.PlayerMessage{
		PlayerID:    pl.ID,
		SessionID:   session,
		Channel:     in.Channel,
		Subject:     in.Subject,
		Content:     in.Content,
		KeepContent: pl.Mode == protocol.ModeWebOnly,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("receive: %w", err)
	}
	receipt := Receipt{Message: msg, PersonaID: personaID}

	if s.pool == nil {
		return receipt, nil
	}
	err = s.pool.Submit(Task{
		PlayerID:  pl.ID,
		SessionID: session,
		PersonaID: personaID,
		InboundID: msg.ID,
		Content:   in.Content,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "reply not queued", "player_id", pl.ID, "persona_id", personaID,
			"session_id", session, "message_id", msg.ID, "error", err)
		return receipt, nil
	}
	receipt.Queued = true
	return receipt, nil
}

// resolvePersona picks who answers: the explicit persona, else whoever last
// wrote in the session, else the "<persona>-" prefix of the session id.
func (s *Service) resolvePersona(ctx context.Context, in Inbound) (string, error) {
	if in.PersonaID != "" {
		if _, err := s.personas.Get(in.PersonaID); err != nil {
			return "", err
		}
		return in.PersonaID, nil
	}
	if in.SessionID == "" {
		return "", errors.New("session id or persona id is required")
	}
	id, err := s.inbox.SessionPersona(ctx, in.PlayerID, in.SessionID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	if prefix, _, ok := strings.Cut(in.SessionID, "-"); ok {
		if _, err := s.personas.Get(prefix); err == nil {
			return prefix, nil
		}
	}
	return "", protocol.NotFound("persona", "for session "+in.SessionID)
}
