package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"argent/pkg/protocol"
	"argent/pkg/relationship"

	"github.com/spf13/cobra"
)

// newTrustCmd creates the "argent trust" subcommand.
func newTrustCmd(load appLoader) *cobra.Command {
	var history bool
	var personaID string
	var limit int

	cmd := &cobra.Command{
		Use:   "trust <player-id>",
		Short: "Show a player's trust with each persona",
		Long:  "Shows the current trust score per persona. With --history, lists the\ntrust changes that produced it, most recent first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				store := relationship.NewStore(a.db)
				if history {
					events, err := store.TrustHistory(ctx, args[0], relationship.HistoryOpts{PersonaID: personaID, Limit: limit})
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), formatTrustHistory(events))
					return nil
				}
				records, err := store.TrustRecords(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), formatTrustTable(records, personaID))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "list trust changes instead of scores")
	cmd.Flags().StringVar(&personaID, "persona", "", "only this persona")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of history entries")
	return cmd
}

// newKnowledgeCmd creates the "argent knowledge" subcommand.
func newKnowledgeCmd(load appLoader) *cobra.Command {
	var opts relationship.KnowledgeOpts

	cmd := &cobra.Command{
		Use:   "knowledge <player-id>",
		Short: "List facts a player has revealed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				facts, err := relationship.NewStore(a.db).Knowledge(ctx, args[0], opts)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), formatKnowledgeTable(facts))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Category, "category", "", "only this category (key|dashboard|ember|miro|...)")
	cmd.Flags().StringVar(&opts.SourcePersona, "persona", "", "only facts revealed to this persona")
	return cmd
}

// formatTrustTable formats trust records, optionally for one persona.
func formatTrustTable(records []protocol.TrustRecord, personaID string) string {
	theme := DefaultTheme()
	var b strings.Builder
	rows := 0
	for _, r := range records {
		if personaID != "" && r.PersonaID != personaID {
			continue
		}
		if rows == 0 {
			b.WriteString(theme.header(fmt.Sprintf("%-12s %-6s %-13s %s", "PERSONA", "SCORE", "INTERACTIONS", "LAST")))
			b.WriteByte('\n')
		}
		rows++
		fmt.Fprintf(&b, "%-12s %s %-13d %s\n",
			r.PersonaID, theme.score(fmt.Sprintf("%-6s", strconv.Itoa(r.Score)), r.Score),
			r.InteractionCount, theme.muted(formatOptionalTime(r.LastInteractionAt)))
	}
	if rows == 0 {
		return "No trust records.\n"
	}
	return b.String()
}

// formatTrustHistory formats trust events, most recent first.
func formatTrustHistory(events []protocol.TrustEvent) string {
	if len(events) == 0 {
		return "No trust changes.\n"
	}

	theme := DefaultTheme()
	var b strings.Builder
	b.WriteString(theme.header(fmt.Sprintf("%-19s %-12s %-6s %-8s %s", "WHEN", "PERSONA", "DELTA", "MESSAGE", "REASON")))
	b.WriteByte('\n')
	for _, e := range events {
		msg := "-"
		if e.MessageID != nil {
			msg = strconv.FormatInt(*e.MessageID, 10)
		}
		fmt.Fprintf(&b, "%-19s %-12s %s %-8s %s\n",
			formatTime(e.CreatedAt), e.PersonaID, theme.score(fmt.Sprintf("%-6s", formatDelta(e.Delta)), e.Delta),
			msg, truncateContent(e.Reason, 60))
	}
	return b.String()
}

// formatKnowledgeTable formats revealed facts.
func formatKnowledgeTable(facts []protocol.KnowledgeFact) string {
	if len(facts) == 0 {
		return "No known facts.\n"
	}

	theme := DefaultTheme()
	var b strings.Builder
	b.WriteString(theme.header(fmt.Sprintf("%-6s %-12s %-10s %-62s %s", "ID", "CATEGORY", "PERSONA", "FACT", "LEARNED")))
	b.WriteByte('\n')
	for _, f := range facts {
		fmt.Fprintf(&b, "%-6d %-12s %-10s %-62s %s\n",
			f.ID, f.Category, f.SourcePersona, truncateContent(f.Fact, 59), theme.muted(formatTime(f.CreatedAt)))
	}
	return b.String()
}
