package main

import (
	"context"
	"fmt"

	"argent/pkg/eventlog"
	"argent/pkg/jobs"
	"argent/pkg/player"
	"argent/pkg/scheduler"

	"github.com/spf13/cobra"
)

// newStartCmd creates the "argent start" subcommand, which fires the game-start
// beats for a player.
func newStartCmd(load appLoader) *cobra.Command {
	var key string
	var data map[string]string

	cmd := &cobra.Command{
		Use:   "start <player-id>",
		Short: "Fire the game-start beats for a player",
		Long:  "Fires every game-start story beat for the player. Web-only players get\nthe whole chain now. Immersive players get every beat queued at human\npace; beats already due are delivered before the command returns and\nthe rest are left for `argent serve`.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				return fireStory(ctx, cmd, a, args[0], "game start", func(s *scheduler.Scheduler) error {
					return s.TriggerGameStart(ctx, args[0], storyData(data, key))
				})
			})
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "access key to deliver (default: the player's stored key)")
	cmd.Flags().StringToStringVar(&data, "data", nil, "extra context passed to handlers (k=v,...)")
	return cmd
}

// newScheduleCmd creates the "argent schedule" subcommand, which fires one
// beat and its follow-ups by id.
func newScheduleCmd(load appLoader) *cobra.Command {
	var key string
	var data map[string]string

	cmd := &cobra.Command{
		Use:   "schedule <event-id> <player-id>",
		Short: "Fire one story beat and its follow-ups",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				return fireStory(ctx, cmd, a, args[1], args[0], func(s *scheduler.Scheduler) error {
					return s.ScheduleEvent(ctx, args[0], args[1], storyData(data, key))
				})
			})
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "access key to deliver")
	cmd.Flags().StringToStringVar(&data, "data", nil, "extra context passed to handlers (k=v,...)")
	return cmd
}

func storyData(data map[string]string, key string) map[string]string {
	out := make(map[string]string, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	if key != "" {
		out["key"] = key
	}
	return out
}

// fireStory runs fire against a fresh scheduler, then delivers any queued
// beats that are already due so zero-delay beats do not wait for the runner.
func fireStory(ctx context.Context, cmd *cobra.Command, a *app, playerID, what string, fire func(*scheduler.Scheduler) error) error {
	queue := a.queue()
	sched, err := a.scheduler(ctx, queue, nil)
	if err != nil {
		return err
	}
	if err := fire(sched); err != nil {
		return err
	}

	mode, err := player.NewStore(a.db).Mode(ctx, playerID)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if scheduler.SelectStrategy(a.cfg.ForceImmediate, mode) == scheduler.StrategyImmediate {
		fmt.Fprintf(w, "%s fired for %s\n", what, playerID)
		return nil
	}

	runner := jobs.NewRunner(queue, sched.RunJob, jobs.Config{Logger: a.logger, Events: eventlog.New(a.db)})
	n, err := runner.RunDue(ctx)
	if err != nil {
		return err
	}
	pending, err := queue.List(ctx, jobs.ListOpts{Status: jobs.StatusPending, PlayerID: playerID})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s scheduled for %s: %d due jobs run, %d pending\n", what, playerID, n, len(pending))
	return nil
}
