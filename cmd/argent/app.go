package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"argent/internal/config"
	"argent/pkg/agent"
	"argent/pkg/dispatcher"
	"argent/pkg/eventlog"
	"argent/pkg/handlers"
	"argent/pkg/inbox"
	"argent/pkg/jobs"
	"argent/pkg/persona"
	"argent/pkg/pipeline"
	"argent/pkg/player"
	"argent/pkg/protocol"
	"argent/pkg/scheduler"
	"argent/pkg/storage"
	"argent/pkg/story"
	"argent/pkg/transcript"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// app is the process wiring shared by every command: configuration, the
// request-serving database handle and the logger.
type app struct {
	cfg      config.Config
	db       *sql.DB
	logger   *slog.Logger
	personas *persona.Directory

	// gen overrides the configured generator; tests set it.
	gen agent.Generator
	ext agent.Extractor

	closers []func()
}

// appLoader builds an app for one command invocation.
type appLoader func(ctx context.Context) (*app, error)

// defaultLoader loads configuration from *configPath (resolved at call time so
// the persistent flag is parsed first) and opens the configured database.
func defaultLoader(configPath *string) appLoader {
	return func(ctx context.Context) (*app, error) {
		cfg, _, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		logger, err := newLogger(os.Stderr, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(logger)

		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o750); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		db, err := storage.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a := &app{cfg: cfg, db: db, logger: logger, personas: persona.Default()}
		a.onClose(func() { _ = db.Close() })
		return a, nil
	}
}

// newLogger returns a text handler on a terminal and JSON otherwise.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// Close releases everything the app opened, last first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// agents returns the generation and extraction collaborators. Without an API
// key there is no generator and extraction is neutral.
func (a *app) agents(ctx context.Context) (agent.Generator, agent.Extractor, error) {
	if a.gen != nil {
		ext := a.ext
		if ext == nil {
			ext = agent.Disabled{}
		}
		return a.gen, ext, nil
	}
	if a.cfg.GeminiAPIKey == "" {
		return nil, agent.Disabled{}, nil
	}
	g, err := agent.NewGemini(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiModel, a.personas, a.logger)
	if err != nil {
		return nil, nil, err
	}
	a.gen = g
	a.ext = g
	return g, g, nil
}

// dispatcher routes through the inbox on db and log-backed channel senders.
func (a *app) dispatcher() *dispatcher.Dispatcher {
	return dispatcher.New(inbox.NewStore(a.db), a.logger,
		dispatcher.NewLogSender(protocol.ChannelEmail, a.cfg.EmailEnabled, a.logger),
		dispatcher.NewLogSender(protocol.ChannelSMS, a.cfg.SMSEnabled, a.logger),
	)
}

// queue returns the job queue with audit events attached.
func (a *app) queue() *jobs.Queue {
	return jobs.NewQueue(a.db).WithEvents(eventlog.New(a.db))
}

// scheduler wires the registry, handlers and both executors. wake may be nil
// when no runner lives in this process.
func (a *app) scheduler(ctx context.Context, q *jobs.Queue, wake func()) (*scheduler.Scheduler, error) {
	registry, err := story.LoadRegistry(a.cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	gen, _, err := a.agents(ctx)
	if err != nil {
		return nil, err
	}

	players := player.NewStore(a.db)
	events := eventlog.New(a.db)
	h := handlers.Register(nil, handlers.Deps{
		Players:    players,
		Dispatcher: a.dispatcher(),
		Generator:  gen,
		Personas:   a.personas,
		Logger:     a.logger,
	})

	return scheduler.New(scheduler.Config{
		Registry: registry,
		Players:  players,
		Handlers: h,
		Deferred: scheduler.NewDeferred(scheduler.DeferredConfig{
			Handlers: h,
			Queue:    q,
			Wake:     wake,
			Events:   events,
			Logger:   a.logger,
		}),
		ForceImmediate: a.cfg.ForceImmediate,
		Events:         events,
		Logger:         a.logger,
	})
}

// archive returns the MongoDB transcript archive when one is configured.
// Nil means units use the SQL archive on their own handle.
func (a *app) archive(ctx context.Context) (transcript.Archive, error) {
	if a.cfg.MongoURI == "" {
		return nil, nil
	}
	m, err := transcript.ConnectMongo(ctx, a.cfg.MongoURI, a.cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = m.Close(context.Background()) })
	return m, nil
}

// pool starts the reply pipeline, or returns nil when replies are disabled.
func (a *app) pool(ctx context.Context) (*pipeline.Pool, error) {
	if !a.cfg.AgentResponses {
		return nil, nil
	}
	gen, ext, err := a.agents(ctx)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		a.logger.InfoContext(ctx, "no generator configured, player messages will not be answered")
		return nil, nil
	}
	arch, err := a.archive(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.NewPool(pipeline.Config{
		Open:          storage.FileOpener(a.cfg.DBPath),
		Generator:     gen,
		Extractor:     ext,
		Sender:        a.dispatcher(),
		Personas:      a.personas,
		Archive:       arch,
		Workers:       a.cfg.PipelineWorkers,
		QueueSize:     a.cfg.PipelineQueue,
		HistoryWindow: a.cfg.HistoryWindow,
		Logger:        a.logger,
	})
}

// withApp loads the app for cmd, runs fn and closes the app.
func withApp(cmd *cobra.Command, load appLoader, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := load(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
