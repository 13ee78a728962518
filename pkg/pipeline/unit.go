package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"argent/pkg/agent"
	"argent/pkg/dispatcher"
	"argent/pkg/eventlog"
	"argent/pkg/inbox"
	"argent/pkg/player"
	"argent/pkg/protocol"
	"argent/pkg/relationship"
	"argent/pkg/storage"
	"argent/pkg/transcript"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// process answers one player message. Generation and extraction run before
// the write transaction; everything they produce is committed together.
func (p *Pool) process(ctx context.Context, t Task, log *slog.Logger) (err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.unit", trace.WithAttributes(
		attribute.String("player.id", t.PlayerID),
		attribute.String("persona.id", t.PersonaID),
		attribute.String("session.id", t.SessionID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	db, err := p.cfg.Open(ctx)
	if err != nil {
		return fmt.Errorf("open unit database: %w", err)
	}
	defer db.Close()

	events := eventlog.New(db)
	defer func() {
		if err != nil {
			_ = events.Append(ctx, eventlog.Entry{
				Type: protocol.EventPipelineFailed, Source: "pipeline", PlayerID: t.PlayerID, PersonaID: t.PersonaID,
				Payload: map[string]any{"inbound_id": t.InboundID, "error": err.Error()},
			})
		}
	}()

	pl, err := player.NewStore(db).Get(ctx, t.PlayerID)
	if err != nil {
		return err
	}
	pers, err := p.cfg.Personas.Get(t.PersonaID)
	if err != nil {
		return err
	}

	rel := relationship.NewStore(db)
	score, err := rel.TrustScore(ctx, t.PlayerID, t.PersonaID)
	if err != nil {
		return err
	}
	known, err := rel.Knowledge(ctx, t.PlayerID, relationship.KnowledgeOpts{})
	if err != nil {
		return err
	}

	archive := p.cfg.Archive
	if archive == nil {
		archive = transcript.NewSQLArchive(db)
	}
	recent, err := archive.Recent(ctx, t.PlayerID, t.SessionID, p.cfg.HistoryWindow)
	if err != nil {
		return err
	}
	history := transcript.History(recent)
	p.appendTranscript(ctx, archive, t, protocol.RolePlayer, t.Content, log)

	reply, err := p.cfg.Generator.Reply(ctx, agent.ReplyRequest{
		PersonaID:     t.PersonaID,
		PlayerID:      t.PlayerID,
		SessionID:     t.SessionID,
		Mode:          pl.Mode,
		TrustScore:    score,
		Facts:         relationship.FactTexts(known),
		History:       history,
		PlayerMessage: t.Content,
	})
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}

	extraction, err := p.cfg.Extractor.Extract(ctx, agent.ExtractionRequest{
		PlayerMessage: t.Content,
		Reply:         reply.Content,
		PersonaID:     t.PersonaID,
		History:       history,
	})
	if err != nil {
		log.Warn("extraction failed, treating exchange as neutral", "error", err)
		extraction = agent.Neutral(fmt.Sprintf("Extraction error: %v", err))
	}
	classification, err := extraction.JSON()
	if err != nil {
		return err
	}

	external := p.cfg.Sender != nil && p.cfg.Sender.Route(pl, pers.Channel) == dispatcher.RouteExternal
	delivery := inbox.Delivery{
		PlayerID:  t.PlayerID,
		PersonaID: t.PersonaID,
		SessionID: t.SessionID,
		Channel:   pers.Channel,
		Subject:   reply.Subject,
		Content:   reply.Content,
	}
	if !external {
		delivery.Channel = dispatcher.DisplayChannel(pers.Channel)
	}

	var stored protocol.Message
	var newScore int
	var facts []protocol.KnowledgeFact
	err = storage.WithTx(ctx, db, func(tx *sql.Tx) error {
		in := inbox.NewStore(tx)
		var err error
		if external {
			stored, err = in.RecordExternal(ctx, delivery, "")
		} else {
			stored, err = in.Deliver(ctx, delivery)
		}
		if err != nil {
			return err
		}

		txRel := relationship.NewStore(tx)
		inboundID := t.InboundID
		newScore, err = txRel.UpdateTrust(ctx, relationship.TrustUpdate{
			PlayerID:  t.PlayerID,
			PersonaID: t.PersonaID,
			Delta:     extraction.TrustDelta,
			Reason:    extraction.TrustReason,
			MessageID: &inboundID,
		})
		if err != nil {
			return err
		}

		replyID := stored.ID
		facts, err = txRel.AddKnowledge(ctx, relationship.KnowledgeAdd{
			PlayerID:      t.PlayerID,
			Facts:         extraction.Knowledge,
			SourcePersona: t.PersonaID,
			MessageID:     &replyID,
		})
		if err != nil {
			return err
		}

		latest, err := in.LatestOutbound(ctx, t.PlayerID, t.PersonaID)
		if err != nil {
			return err
		}
		if err := in.AttachClassification(ctx, latest.ID, classification); err != nil {
			return err
		}

		txEvents := events.WithDB(tx)
		if extraction.TrustDelta != 0 {
			if err := txEvents.Append(ctx, eventlog.Entry{
				Type: protocol.EventTrustUpdated, Source: "pipeline", PlayerID: t.PlayerID, PersonaID: t.PersonaID,
				Payload: map[string]any{"delta": extraction.TrustDelta, "score": newScore, "reason": extraction.TrustReason},
			}); err != nil {
				return err
			}
		}
		return txEvents.Append(ctx, eventlog.Entry{
			Type: protocol.EventPipelineReply, Source: "pipeline", PlayerID: t.PlayerID, PersonaID: t.PersonaID,
			Payload: map[string]any{"inbound_id": t.InboundID, "reply_id": stored.ID, "facts": len(facts)},
		})
	})
	if err != nil {
		return fmt.Errorf("commit exchange: %w", err)
	}

	log.Info("reply committed", "reply_id", stored.ID, "trust_delta", extraction.TrustDelta,
		"trust_score", newScore, "facts_added", len(facts))
	p.appendTranscript(ctx, archive, t, protocol.RoleAgent, reply.Content, log)

	if external {
		p.deliverExternal(ctx, db, pl, pers.Channel, stored, delivery, log)
	}
	return nil
}

// deliverExternal sends a committed reply over the persona's channel and
// stores the provider id. Failures are logged only.
func (p *Pool) deliverExternal(ctx context.Context, db *sql.DB, pl protocol.Player, ch protocol.Channel,
	stored protocol.Message, d inbox.Delivery, log *slog.Logger) {
	res, err := p.cfg.Sender.SendExternal(ctx, pl, dispatcher.OutboundMessage{
		PlayerID:  d.PlayerID,
		PersonaID: d.PersonaID,
		SessionID: d.SessionID,
		Subject:   d.Subject,
		Content:   d.Content,
	}, ch)
	if err != nil {
		log.Error("external reply send failed", "reply_id", stored.ID, "error", err)
		return
	}
	if !res.Success || res.ExternalID == "" {
		return
	}
	if err := inbox.NewStore(db).SetExternalID(ctx, stored.ID, res.ExternalID); err != nil {
		log.Error("store external id", "reply_id", stored.ID, "error", err)
	}
}

func (p *Pool) appendTranscript(ctx context.Context, a transcript.Archive, t Task, role, content string, log *slog.Logger) {
	err := a.Append(ctx, transcript.Entry{
		PlayerID:  t.PlayerID,
		SessionID: t.SessionID,
		PersonaID: t.PersonaID,
		Role:      role,
		Content:   content,
	})
	if err != nil {
		log.Warn("append transcript", "role", role, "error", err)
	}
}
