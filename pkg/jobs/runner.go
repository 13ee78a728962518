package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"argent/pkg/eventlog"
	"argent/pkg/protocol"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunFunc executes one claimed job.
type RunFunc func(ctx context.Context, job protocol.Job) error

// Config holds runner tuning.
type Config struct {
	// DBPath is the database file; its directory is watched for writes from
	// other processes. Empty disables watching.
	DBPath string
	// PollInterval is the fallback tick (default 5s).
	PollInterval time.Duration
	// BatchSize bounds jobs taken per pass (default 32).
	BatchSize int
	Logger    *slog.Logger
	Events    *eventlog.Log
}

// Runner executes due jobs.
type Runner struct {
	queue  *Queue
	run    RunFunc
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	wake   chan struct{}
}

// NewRunner builds a Runner over q.
func NewRunner(q *Queue, run RunFunc, cfg Config) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		queue:  q,
		run:    run,
		cfg:    cfg,
		logger: logger.With("component", "jobs"),
		tracer: otel.Tracer("argent/jobs"),
		wake:   make(chan struct{}, 1),
	}
}

// Wake asks the loop for an immediate pass. It never blocks.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run processes due jobs until ctx is cancelled. It wakes on writes to the
// database directory, on Wake, and on the fallback ticker.
func (r *Runner) Run(ctx context.Context) error {
	r.pass(ctx)

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if r.cfg.DBPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err == nil {
			defer func() { _ = watcher.Close() }()
			if err := watcher.Add(filepath.Dir(r.cfg.DBPath)); err == nil {
				events, watchErrs = watcher.Events, watcher.Errors
			} else {
				r.logger.Warn("watch database directory", "error", err)
			}
		} else {
			r.logger.Warn("create watcher, polling only", "error", err)
		}
	}
	base := filepath.Base(r.cfg.DBPath)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if strings.HasPrefix(filepath.Base(ev.Name), base) && ev.Has(fsnotify.Write) {
				r.pass(ctx)
			}
		case err := <-watchErrs:
			if err != nil {
				r.logger.Warn("watcher error", "error", err)
			}
		case <-r.wake:
			r.pass(ctx)
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Runner) pass(ctx context.Context) {
	if _, err := r.RunDue(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("run due jobs", "error", err)
	}
}

// RunDue executes every job due now and returns how many it ran. A job claimed
// elsewhere is skipped. Handler failures mark the job failed and do not stop
// the pass.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	ran := 0
	for {
		due, err := r.queue.Due(ctx, r.cfg.BatchSize)
		if err != nil {
			return ran, err
		}
		if len(due) == 0 {
			return ran, nil
		}
		progressed := false
		for _, job := range due {
			if ctx.Err() != nil {
				return ran, nil
			}
			if err := r.queue.Claim(ctx, job.ID); err != nil {
				if errors.Is(err, ErrAlreadyClaimed) {
					continue
				}
				return ran, err
			}
			progressed = true
			r.execute(ctx, job)
			ran++
		}
		if !progressed {
			return ran, nil
		}
	}
}

func (r *Runner) execute(ctx context.Context, job protocol.Job) {
	ctx, span := r.tracer.Start(ctx, "jobs.run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.handler", job.Handler),
		attribute.String("player.id", job.PlayerID),
	))
	defer span.End()

	log := r.logger.With("job_id", job.ID, "handler", job.Handler, "player_id", job.PlayerID)
	err := r.runSafely(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("job failed", "error", err)
		if ferr := r.queue.Fail(ctx, job.ID, err); ferr != nil {
			log.Error("record job failure", "error", ferr)
		}
		_ = r.cfg.Events.Append(ctx, eventlog.Entry{
			Type: protocol.EventJobFailed, Source: "jobs", PlayerID: job.PlayerID,
			Payload: map[string]string{"job_id": job.ID, "handler": job.Handler, "error": err.Error()},
		})
		return
	}

	if err := r.queue.Complete(ctx, job.ID); err != nil {
		log.Error("record job completion", "error", err)
	}
	_ = r.cfg.Events.Append(ctx, eventlog.Entry{
		Type: protocol.EventJobDone, Source: "jobs", PlayerID: job.PlayerID,
		Payload: map[string]string{"job_id": job.ID, "handler": job.Handler},
	})
	log.Info("job done")
}

func (r *Runner) runSafely(ctx context.Context, job protocol.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return r.run(ctx, job)
}
