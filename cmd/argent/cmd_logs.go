package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"argent/pkg/eventlog"
	"argent/pkg/protocol"

	"github.com/spf13/cobra"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	player  string
	persona string
	kind    string
	tail    int
	follow  bool
}

// newLogsCmd creates the "argent logs" subcommand.
func newLogsCmd(load appLoader) *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query and tail the runtime event log",
		Long:  "Displays scheduler, job and pipeline events, oldest first.\nOptionally filter by player, persona or type and follow new events.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				r := eventlog.ReaderFor(a.db)
				w := cmd.OutOrStdout()
				if cfg.follow {
					return followLogs(ctx, r, w, cfg, time.Second)
				}
				_, err := printLogs(ctx, r, w, cfg)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&cfg.player, "player", "", "only this player")
	cmd.Flags().StringVar(&cfg.persona, "persona", "", "only this persona")
	cmd.Flags().StringVar(&cfg.kind, "type", "", "only this event type (e.g. pipeline.failed)")
	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")
	return cmd
}

func (c logsConfig) opts() eventlog.QueryOpts {
	return eventlog.QueryOpts{PlayerID: c.player, PersonaID: c.persona, Type: c.kind, Limit: c.tail}
}

// printLogs shows the last cfg.tail events and returns the newest id shown.
func printLogs(ctx context.Context, r *eventlog.Reader, w io.Writer, cfg logsConfig) (int64, error) {
	events, err := r.Query(ctx, cfg.opts())
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return 0, nil
	}
	slices.Reverse(events)
	for _, e := range events {
		formatEvent(w, e)
	}
	return events[len(events)-1].ID, nil
}

// followLogs prints the tail, then polls for newer events until ctx ends.
func followLogs(ctx context.Context, r *eventlog.Reader, w io.Writer, cfg logsConfig, every time.Duration) error {
	last, err := printLogs(ctx, r, w, cfg)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			opts := cfg.opts()
			opts.Limit = 100
			events, err := r.Query(ctx, opts)
			if err != nil {
				return err
			}
			slices.Reverse(events)
			for _, e := range events {
				if e.ID <= last {
					continue
				}
				formatEvent(w, e)
				last = e.ID
			}
		}
	}
}

// formatEvent writes a single event line.
func formatEvent(w io.Writer, e protocol.Event) {
	theme := DefaultTheme()
	when := e.CreatedAt
	if t, err := protocol.ParseTime(e.CreatedAt); err == nil {
		when = formatTime(t)
	}
	fmt.Fprintf(w, "%s %-16s %-10s %s", theme.muted(when), e.Type, e.Source, orDash(e.PlayerID))
	if e.PersonaID != "" {
		fmt.Fprintf(w, "/%s", e.PersonaID)
	}
	if e.Payload != "" {
		fmt.Fprintf(w, " %s", e.Payload)
	}
	fmt.Fprintln(w)
}
