package dispatcher

import (
	"context"
	"log/slog"

	"argent/pkg/protocol"

	"github.com/google/uuid"
)

// LogSender stands in for a real provider: it logs each message and reports
// success. Disabled senders log that they skipped the send.
type LogSender struct {
	channel protocol.Channel
	enabled bool
	logger  *slog.Logger
}

// NewLogSender returns a LogSender for ch.
func NewLogSender(ch protocol.Channel, enabled bool, logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{channel: ch, enabled: enabled, logger: logger}
}

// Channel implements Sender.
func (s *LogSender) Channel() protocol.Channel { return s.channel }

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	if !s.enabled {
		s.logger.InfoContext(ctx, "channel disabled, skipping send",
			"channel", string(s.channel), "player_id", msg.PlayerID, "persona_id", msg.PersonaID)
		return SendResult{Success: true}, nil
	}
	id := string(s.channel) + "-" + uuid.NewString()
	s.logger.InfoContext(ctx, "sent message",
		"channel", string(s.channel), "external_id", id, "recipient", msg.Recipient,
		"player_id", msg.PlayerID, "persona_id", msg.PersonaID, "subject", msg.Subject)
	return SendResult{Success: true, ExternalID: id}, nil
}
