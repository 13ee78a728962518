package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"time"

	"argent/pkg/eventlog"
	"argent/pkg/jobs"
	"argent/pkg/protocol"
	"argent/pkg/story"
)

// Request is one story beat for one player.
type Request struct {
	Event    story.Event
	PlayerID string
	// Data is the caller's context (e.g. "key"), passed through to the handler.
	Data map[string]string
}

// Handler runs a story beat.
type Handler func(ctx context.Context, req Request) error

// Handlers maps handler refs to implementations.
type Handlers map[string]Handler

// Resolve returns the handler registered under ref.
func (h Handlers) Resolve(ref string) (Handler, error) {
	fn, ok := h[ref]
	if !ok || fn == nil {
		return nil, protocol.NotFound("handler", ref)
	}
	return fn, nil
}

// Refs returns the registered refs, sorted.
func (h Handlers) Refs() []string {
	refs := make([]string, 0, len(h))
	for ref := range h {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Executor decides when a beat's handler runs.
type Executor interface {
	Execute(ctx context.Context, req Request) error
	Strategy() Strategy
}

// Immediate runs the handler in the calling goroutine. Handler errors propagate.
type Immediate struct {
	handlers Handlers
	events   *eventlog.Log
}

// NewImmediate returns an Immediate executor.
func NewImmediate(handlers Handlers, events *eventlog.Log) *Immediate {
	return &Immediate{handlers: handlers, events: events}
}

// Strategy implements Executor.
func (*Immediate) Strategy() Strategy { return StrategyImmediate }

// Execute implements Executor.
func (e *Immediate) Execute(ctx context.Context, req Request) error {
	fn, err := e.handlers.Resolve(req.Event.Handler)
	if err != nil {
		return fmt.Errorf("execute %s: %w", req.Event.ID, err)
	}
	if err := fn(ctx, req); err != nil {
		return fmt.Errorf("execute %s for player %s: %w", req.Event.ID, req.PlayerID, err)
	}
	_ = e.events.Append(ctx, eventlog.Entry{
		Type: protocol.EventStoryFired, Source: "scheduler", PlayerID: req.PlayerID, PersonaID: req.Event.PersonaID,
		Payload: map[string]string{"event_id": req.Event.ID, "strategy": StrategyImmediate.String()},
	})
	return nil
}

// Enqueuer is the job queue as seen by Deferred.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec jobs.Spec, runAt time.Time) (protocol.Job, error)
}

// Deferred enqueues the beat on the job queue after a delay sampled from the
// event's DelayRange.
type Deferred struct {
	handlers Handlers
	queue    Enqueuer
	rand     story.Intn
	wake     func()
	events   *eventlog.Log
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// DeferredConfig configures NewDeferred.
type DeferredConfig struct {
	Handlers Handlers
	Queue    Enqueuer
	// Rand samples delays; nil uses math/rand/v2.
	Rand story.Intn
	// Wake nudges the job runner after a zero-delay enqueue.
	Wake   func()
	Events *eventlog.Log
	Logger *slog.Logger
}

// NewDeferred returns a Deferred executor.
func NewDeferred(cfg DeferredConfig) *Deferred {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Deferred{
		handlers: cfg.Handlers,
		queue:    cfg.Queue,
		rand:     cfg.Rand,
		wake:     cfg.Wake,
		events:   cfg.Events,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Strategy implements Executor.
func (*Deferred) Strategy() Strategy { return StrategyDeferred }

// Execute implements Executor. The handler ref is checked now so a bad
// catalog fails the caller instead of the job.
func (e *Deferred) Execute(ctx context.Context, req Request) error {
	if _, err := e.handlers.Resolve(req.Event.Handler); err != nil {
		return fmt.Errorf("schedule %s: %w", req.Event.ID, err)
	}

	delay := time.Duration(req.Event.Delay.Sample(e.rand)) * time.Second
	runAt := e.nowFunc().Add(delay)

	data := map[string]string{}
	maps.Copy(data, req.Data)
	job, err := e.queue.Enqueue(ctx, jobs.Spec{
		Handler:  req.Event.Handler,
		EventID:  req.Event.ID,
		PlayerID: req.PlayerID,
		Context:  data,
	}, runAt)
	if err != nil {
		return fmt.Errorf("schedule %s for player %s: %w", req.Event.ID, req.PlayerID, err)
	}

	e.logger.InfoContext(ctx, "scheduled story event",
		"event_id", req.Event.ID, "player_id", req.PlayerID, "job_id", job.ID, "delay", delay)
	_ = e.events.Append(ctx, eventlog.Entry{
		Type: protocol.EventStoryScheduled, Source: "scheduler", PlayerID: req.PlayerID, PersonaID: req.Event.PersonaID,
		Payload: map[string]string{"event_id": req.Event.ID, "job_id": job.ID, "run_at": protocol.FormatTime(runAt)},
	})
	if delay == 0 && e.wake != nil {
		e.wake()
	}
	return nil
}
