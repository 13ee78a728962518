package main

import (
	"context"
	"fmt"
	"strings"

	"argent/pkg/eventlog"
	"argent/pkg/jobs"
	"argent/pkg/protocol"

	"github.com/spf13/cobra"
)

// newJobsCmd creates the "argent jobs" parent command.
func newJobsCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run deferred story beats",
	}
	cmd.AddCommand(newJobsListCmd(load), newJobsRunCmd(load))
	return cmd
}

func newJobsListCmd(load appLoader) *cobra.Command {
	var opts jobs.ListOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, soonest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				list, err := jobs.NewQueue(a.db).List(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), formatJobsTable(list))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "only this status (pending|running|done|failed)")
	cmd.Flags().StringVar(&opts.PlayerID, "player", "", "only this player")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of jobs")
	return cmd
}

func newJobsRunCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every due job once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				queue := a.queue()
				sched, err := a.scheduler(ctx, queue, nil)
				if err != nil {
					return err
				}
				runner := jobs.NewRunner(queue, sched.RunJob, jobs.Config{Logger: a.logger, Events: eventlog.New(a.db)})
				n, err := runner.RunDue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ran %d due jobs\n", n)
				return nil
			})
		},
	}
}

// formatJobsTable formats jobs as a table.
func formatJobsTable(list []protocol.Job) string {
	if len(list) == 0 {
		return "No jobs found.\n"
	}

	theme := DefaultTheme()
	var b strings.Builder
	b.WriteString(theme.header(fmt.Sprintf("%-36s %-20s %-8s %-19s %-8s %s", "ID", "EVENT", "STATUS", "RUN AT", "PLAYER", "ERROR")))
	b.WriteByte('\n')
	for _, j := range list {
		fmt.Fprintf(&b, "%-36s %-20s %-8s %-19s %-8s %s\n",
			j.ID, j.EventID, j.Status, formatTime(j.RunAt), truncateContent(j.PlayerID, 8), truncateContent(j.LastError, 50))
	}
	return b.String()
}
