package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"argent/pkg/inbox"
	"argent/pkg/pipeline"
	"argent/pkg/protocol"

	"github.com/spf13/cobra"
)

// sayConfig holds flags for the say command.
type sayConfig struct {
	session string
	persona string
	channel string
	subject string
}

// newSayCmd creates the "argent say" subcommand: a player message entering
// the reply pipeline.
func newSayCmd(load appLoader) *cobra.Command {
	var cfg sayConfig

	cmd := &cobra.Command{
		Use:   "say <player-id> <message>...",
		Short: "Send a message as a player and wait for the reply",
		Long:  "Stores a player message and runs the background reply for it. The\nresponding persona comes from --persona, else from the session.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				return say(ctx, cmd.OutOrStdout(), a, args[0], strings.Join(args[1:], " "), cfg)
			})
		},
	}

	cmd.Flags().StringVar(&cfg.session, "session", "", "conversation session id")
	cmd.Flags().StringVar(&cfg.persona, "persona", "", "persona to address")
	cmd.Flags().StringVar(&cfg.channel, "channel", string(protocol.ChannelEmail), "channel the message arrived on (email|sms)")
	cmd.Flags().StringVar(&cfg.subject, "subject", "", "email subject")
	return cmd
}

func say(ctx context.Context, w io.Writer, a *app, playerID, content string, cfg sayConfig) error {
	pool, err := a.pool(ctx)
	if err != nil {
		return err
	}
	var sub pipeline.Submitter
	if pool != nil {
		sub = pool
	}

	svc := pipeline.NewService(a.db, sub, a.personas, a.logger)
	receipt, err := svc.Receive(ctx, pipeline.Inbound{
		PlayerID:  playerID,
		SessionID: cfg.session,
		PersonaID: cfg.persona,
		Channel:   protocol.Channel(cfg.channel),
		Subject:   cfg.subject,
		Content:   content,
	})
	if pool != nil {
		// Drain so the reply is committed before this process exits.
		if closeErr := pool.Close(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "stored message %d in session %s for %s\n",
		receipt.Message.ID, receipt.Message.SessionID, receipt.PersonaID)
	if !receipt.Queued {
		fmt.Fprintln(w, "no reply will be generated")
		return nil
	}
	return printReply(ctx, w, a, receipt)
}

// printReply shows the persona's answer that followed the stored message.
func printReply(ctx context.Context, w io.Writer, a *app, r pipeline.Receipt) error {
	msgs, err := inbox.NewStore(a.db).ConversationMessages(ctx, r.Message.PlayerID, r.Message.SessionID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.Direction != protocol.Outbound || m.ID < r.Message.ID {
			continue
		}
		theme := DefaultTheme()
		fmt.Fprintln(w, theme.header(m.SenderName+" ("+string(m.Channel)+")"))
		if m.Content == "" {
			fmt.Fprintf(w, "  sent externally, id %s\n", orDash(m.ExternalID))
			return nil
		}
		if m.Subject != "" {
			fmt.Fprintf(w, "  Subject: %s\n", m.Subject)
		}
		fmt.Fprintln(w, indent(m.Content, "  "))
		return nil
	}
	fmt.Fprintln(w, "no reply was stored; see `argent logs --type pipeline.failed`")
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
