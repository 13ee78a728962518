package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"argent/pkg/eventlog"
	"argent/pkg/protocol"
	"argent/pkg/story"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ModeLookup resolves a player's communication mode. Unknown players are
// expected to resolve to web-only.
type ModeLookup interface {
	Mode(ctx context.Context, playerID string) (protocol.Mode, error)
}

// Config wires a Scheduler.
type Config struct {
	Registry       *story.Registry
	Players        ModeLookup
	Handlers       Handlers
	Deferred       *Deferred
	ForceImmediate bool
	Events         *eventlog.Log
	Logger         *slog.Logger
}

// Scheduler is the mode router.
type Scheduler struct {
	registry       *story.Registry
	players        ModeLookup
	handlers       Handlers
	immediate      *Immediate
	deferred       *Deferred
	forceImmediate bool
	events         *eventlog.Log
	logger         *slog.Logger
	tracer         trace.Tracer
}

// New validates that every registered event has a handler and returns a
// Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("scheduler: registry is required")
	}
	if cfg.Players == nil {
		return nil, errors.New("scheduler: player lookup is required")
	}
	for _, ev := range cfg.Registry.All() {
		if _, err := cfg.Handlers.Resolve(ev.Handler); err != nil {
			return nil, fmt.Errorf("scheduler: event %s: %w", ev.ID, err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry:       cfg.Registry,
		players:        cfg.Players,
		handlers:       cfg.Handlers,
		immediate:      NewImmediate(cfg.Handlers, cfg.Events),
		deferred:       cfg.Deferred,
		forceImmediate: cfg.ForceImmediate,
		events:         cfg.Events,
		logger:         logger.With("component", "scheduler"),
		tracer:         otel.Tracer("argent/scheduler"),
	}, nil
}

// executorFor resolves the player's mode once and returns the executor every
// beat of this call goes through.
func (s *Scheduler) executorFor(ctx context.Context, playerID string) (Executor, error) {
	mode, err := s.players.Mode(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("resolve mode for player %s: %w", playerID, err)
	}
	if SelectStrategy(s.forceImmediate, mode) == StrategyImmediate {
		return s.immediate, nil
	}
	if s.deferred == nil {
		return nil, errors.New("scheduler: no deferred executor configured")
	}
	return s.deferred, nil
}

// TriggerGameStart runs every GameStart beat, then their follow-ups, for
// playerID.
func (s *Scheduler) TriggerGameStart(ctx context.Context, playerID string, data map[string]string) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.trigger_game_start",
		trace.WithAttributes(attribute.String("player.id", playerID)))
	defer span.End()

	ex, err := s.executorFor(ctx, playerID)
	if err != nil {
		return spanError(span, err)
	}
	span.SetAttributes(attribute.String("scheduler.strategy", ex.Strategy().String()))

	roots := s.registry.EventsTriggeredBy(story.GameStart)
	s.logger.InfoContext(ctx, "game start", "player_id", playerID, "events", len(roots), "strategy", ex.Strategy().String())
	for _, ev := range roots {
		if err := s.cascade(ctx, ex, Request{Event: ev, PlayerID: playerID, Data: data}); err != nil {
			return spanError(span, err)
		}
	}
	return nil
}

// ScheduleEvent runs one beat and its follow-ups for playerID.
func (s *Scheduler) ScheduleEvent(ctx context.Context, eventID, playerID string, data map[string]string) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.schedule_event", trace.WithAttributes(
		attribute.String("player.id", playerID),
		attribute.String("story.event_id", eventID),
	))
	defer span.End()

	ev, err := s.registry.Get(eventID)
	if err != nil {
		return spanError(span, err)
	}
	ex, err := s.executorFor(ctx, playerID)
	if err != nil {
		return spanError(span, err)
	}
	span.SetAttributes(attribute.String("scheduler.strategy", ex.Strategy().String()))
	if err := s.cascade(ctx, ex, Request{Event: ev, PlayerID: playerID, Data: data}); err != nil {
		return spanError(span, err)
	}
	return nil
}

// cascade executes req, then every TimeAfterEvent child of it through the
// same executor. Children are committed before this returns.
func (s *Scheduler) cascade(ctx context.Context, ex Executor, req Request) error {
	if err := ex.Execute(ctx, req); err != nil {
		return err
	}
	for _, child := range s.registry.EventsAfter(req.Event.ID) {
		if err := s.cascade(ctx, ex, Request{Event: child, PlayerID: req.PlayerID, Data: req.Data}); err != nil {
			return err
		}
	}
	return nil
}

// RunJob is the job runner's entry point for deferred beats. Follow-ups were
// already enqueued when the root was scheduled, so nothing cascades here.
func (s *Scheduler) RunJob(ctx context.Context, job protocol.Job) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.run_job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("player.id", job.PlayerID),
		attribute.String("story.event_id", job.EventID),
	))
	defer span.End()

	fn, err := s.handlers.Resolve(job.Handler)
	if err != nil {
		return spanError(span, err)
	}

	ev, err := s.registry.Get(job.EventID)
	if err != nil {
		// Jobs outlive catalog edits; run with what the job recorded.
		ev = story.Event{ID: job.EventID, Handler: job.Handler}
	}

	if err := fn(ctx, Request{Event: ev, PlayerID: job.PlayerID, Data: job.Context}); err != nil {
		return spanError(span, fmt.Errorf("run %s for player %s: %w", job.Handler, job.PlayerID, err))
	}
	_ = s.events.Append(ctx, eventlog.Entry{
		Type: protocol.EventStoryFired, Source: "scheduler", PlayerID: job.PlayerID, PersonaID: ev.PersonaID,
		Payload: map[string]string{"event_id": ev.ID, "job_id": job.ID, "strategy": StrategyDeferred.String()},
	})
	return nil
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
