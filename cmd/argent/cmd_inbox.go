package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"argent/pkg/inbox"
	"argent/pkg/protocol"

	"github.com/spf13/cobra"
)

// newInboxCmd creates the "argent inbox" parent command.
func newInboxCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Browse a player's internal inbox",
	}
	cmd.AddCommand(
		newInboxListCmd(load),
		newInboxShowCmd(load),
		newInboxReadCmd(load),
	)
	return cmd
}

func newInboxListCmd(load appLoader) *cobra.Command {
	var channel string
	var limit int

	cmd := &cobra.Command{
		Use:   "list <player-id>",
		Short: "List conversations, most recently active first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				store := inbox.NewStore(a.db)
				convs, err := store.Conversations(ctx, args[0], inbox.ConversationOpts{
					Channel: protocol.Channel(channel),
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				unread, err := store.UnreadCount(ctx, args[0], protocol.Channel(channel))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), formatConversationsTable(convs, unread))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "only this channel (email|sms)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of conversations")
	return cmd
}

func newInboxShowCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "show <player-id> <session-id>",
		Short: "Show one conversation in order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				msgs, err := inbox.NewStore(a.db).ConversationMessages(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					return protocol.NotFound("conversation", args[1])
				}
				writeConversation(cmd.OutOrStdout(), msgs)
				return nil
			})
		},
	}
}

func newInboxReadCmd(load appLoader) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "read <player-id> [message-id]",
		Short: "Mark a message, or a whole session with --session, read",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 2) == (session != "") {
				return fmt.Errorf("give either a message id or --session")
			}
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				store := inbox.NewStore(a.db)
				w := cmd.OutOrStdout()
				if session != "" {
					n, err := store.MarkConversationRead(ctx, args[0], session)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "marked %d messages read\n", n)
					return nil
				}

				id, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid message id %q", args[1])
				}
				found, err := store.MarkRead(ctx, args[0], id)
				if err != nil {
					return err
				}
				if !found {
					return protocol.NotFound("message", args[1])
				}
				fmt.Fprintf(w, "message %d marked read\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "mark every message in this session read")
	return cmd
}

// formatConversationsTable formats conversation summaries as a table.
func formatConversationsTable(convs []inbox.Conversation, unread int) string {
	if len(convs) == 0 {
		return "No conversations.\n"
	}

	theme := DefaultTheme()
	var b strings.Builder
	fmt.Fprintf(&b, "%d unread\n", unread)
	b.WriteString(theme.header(fmt.Sprintf("%-44s %-8s %-6s %-7s %-42s %s", "SESSION", "CHANNEL", "MSGS", "UNREAD", "PREVIEW", "UPDATED")))
	b.WriteByte('\n')
	for _, c := range convs {
		unreadCol := fmt.Sprintf("%-7d", c.UnreadCount)
		if c.UnreadCount > 0 {
			unreadCol = theme.unread(unreadCol)
		}
		fmt.Fprintf(&b, "%-44s %-8s %-6d %s %-42s %s\n",
			c.SessionID, c.Channel, c.MessageCount, unreadCol,
			truncateContent(c.Preview, 39), theme.muted(formatTime(c.UpdatedAt)))
	}
	return b.String()
}

func writeConversation(w io.Writer, msgs []protocol.Message) {
	theme := DefaultTheme()
	for _, m := range msgs {
		marker := " "
		if m.Direction == protocol.Outbound && m.ReadAt == nil {
			marker = theme.unread("*")
		}
		fmt.Fprintf(w, "%s %s %s %s\n", marker,
			theme.header(fmt.Sprintf("#%d %s", m.ID, m.SenderName)),
			m.Channel, theme.muted(formatTime(m.CreatedAt)))
		if m.Subject != "" {
			fmt.Fprintf(w, "  Subject: %s\n", m.Subject)
		}
		switch {
		case m.Content != "":
			fmt.Fprintln(w, indent(m.Content, "  "))
		case m.ExternalID != "":
			fmt.Fprintf(w, "  (sent externally, id %s)\n", m.ExternalID)
		default:
			fmt.Fprintln(w, "  (no content stored)")
		}
	}
}
