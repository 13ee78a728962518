package main

import (
	"fmt"

	"argent/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root argent command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var configPath string
	return newRootCmdWithLoader(defaultLoader(&configPath), &configPath)
}

// newRootCmdWithLoader builds the command tree over load. configPath, when
// non-nil, is bound to the persistent --config flag.
func newRootCmdWithLoader(load appLoader, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "argent",
		Short:         "Narrative event engine for an alternate reality game",
		Long:          "argent schedules story beats for players, delivers persona messages\nand answers player replies in the background.",
		Version:       fmt.Sprintf("argent %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	if configPath != nil {
		cmd.PersistentFlags().StringVar(configPath, "config", "", "config file (default $ARGENT_HOME/argent.toml)")
	}

	cmd.AddCommand(
		newServeCmd(load),
		newPlayerCmd(load),
		newStartCmd(load),
		newScheduleCmd(load),
		newSayCmd(load),
		newInboxCmd(load),
		newTrustCmd(load),
		newKnowledgeCmd(load),
		newJobsCmd(load),
		newLogsCmd(load),
	)

	return cmd
}
