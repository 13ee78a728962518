package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"argent/pkg/eventlog"
	"argent/pkg/jobs"
	"argent/pkg/telemetry"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the span flush on exit.
const shutdownTimeout = 30 * time.Second

// newServeCmd creates the "argent serve" subcommand: the long-running process
// that executes deferred story beats as they come due.
func newServeCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job runner until interrupted",
		Long:  "Runs deferred story beats when they come due. Jobs enqueued by other\nargent processes are picked up as soon as the database changes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

// serve runs the job runner until ctx ends, then flushes pending spans.
func serve(ctx context.Context, a *app) error {
	shutdownTracing, err := telemetry.Setup(ctx, "argent", a.cfg.OTelEndpoint)
	if err != nil {
		return err
	}

	queue := a.queue()
	var runner *jobs.Runner
	sched, err := a.scheduler(ctx, queue, func() { runner.Wake() })
	if err != nil {
		return err
	}
	runner = jobs.NewRunner(queue, sched.RunJob, jobs.Config{
		DBPath:       a.cfg.DBPath,
		PollInterval: a.cfg.JobPoll.Duration,
		Logger:       a.logger,
		Events:       eventlog.New(a.db),
	})

	a.logger.InfoContext(ctx, "argent serving", "db", a.cfg.DBPath,
		"force_immediate", a.cfg.ForceImmediate, "poll", a.cfg.JobPoll.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return shutdownTracing(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("argent stopped")
	return err
}
