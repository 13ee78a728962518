// Package pipeline answers player messages in the background. Service.Receive
// persists the player's message and hands it to a Pool; each pool unit opens
// its own database handle, generates the persona's reply, extracts what the
// exchange did to the relationship, and commits reply, trust, knowledge and
// classification in one transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"argent/pkg/agent"
	"argent/pkg/dispatcher"
	"argent/pkg/persona"
	"argent/pkg/protocol"
	"argent/pkg/storage"
	"argent/pkg/transcript"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrQueueFull is returned by Submit when every slot is taken.
	ErrQueueFull = errors.New("pipeline queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("pipeline closed")
)

// Task is one player message awaiting a reply.
type Task struct {
	PlayerID  string
	SessionID string
	PersonaID string
	InboundID int64
	Content   string
}

func (t Task) key() string { return t.PlayerID + "\x00" + t.PersonaID }

// ExternalSender delivers replies to immersive players after commit. Route
// decides whether a reply leaves the system at all; anything else lands in
// the internal inbox.
type ExternalSender interface {
	Route(p protocol.Player, ch protocol.Channel) dispatcher.Route
	SendExternal(ctx context.Context, p protocol.Player, msg dispatcher.OutboundMessage, ch protocol.Channel) (dispatcher.SendResult, error)
}

// Config wires a Pool.
type Config struct {
	// Open returns a fresh database handle for each unit. Required.
	Open      storage.Opener
	Generator agent.Generator
	// Extractor defaults to agent.Disabled.
	Extractor agent.Extractor
	// Sender routes and delivers replies; without one every reply goes to the
	// internal inbox.
	Sender   ExternalSender
	Personas *persona.Directory
	// Archive overrides the SQL transcript archive on the unit's handle.
	Archive transcript.Archive
	// Workers defaults to 4, QueueSize to 64, HistoryWindow to 10.
	Workers       int
	QueueSize     int
	HistoryWindow int
	Logger        *slog.Logger
}

// Pool runs units on a fixed set of workers. Units for the same (player,
// persona) never overlap.
type Pool struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	tasks  chan Task
	locks  *keyedMutex

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool validates cfg and starts the workers.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Open == nil {
		return nil, errors.New("pipeline: opener is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = agent.Disabled{}
	}
	if cfg.Personas == nil {
		cfg.Personas = persona.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger.With("component", "pipeline"),
		tracer: otel.Tracer("argent/pipeline"),
		tasks:  make(chan Task, cfg.QueueSize),
		locks:  newKeyedMutex(),
	}
	for range cfg.Workers {
		p.wg.Add(1)
		go p.worker()
	}
	return p, nil
}

// Submit queues t without blocking.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued units to finish or ctx to
// end. Units already running are never cancelled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline drain: %w", ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.runUnit(t)
	}
}

// runUnit runs one task detached from any request context.
func (p *Pool) runUnit(t Task) {
	log := p.logger.With("player_id", t.PlayerID, "persona_id", t.PersonaID, "session_id", t.SessionID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline unit panicked", "panic", fmt.Sprint(r))
		}
	}()

	unlock := p.locks.Lock(t.key())
	defer unlock()

	if err := p.process(context.Background(), t, log); err != nil {
		log.Error("pipeline unit failed", "inbound_id", t.InboundID, "error", err)
	}
}
