package main

import (
	"context"
	"fmt"
	"io"

	"argent/pkg/player"
	"argent/pkg/protocol"

	"github.com/spf13/cobra"
)

// newPlayerCmd creates the "argent player" parent command.
func newPlayerCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Create and inspect players",
	}
	cmd.AddCommand(
		newPlayerCreateCmd(load),
		newPlayerShowCmd(load),
		newPlayerModeCmd(load),
	)
	return cmd
}

func newPlayerCreateCmd(load appLoader) *cobra.Command {
	var p player.CreateParams
	var mode string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a player",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := parseModeFlag(mode)
			if err != nil {
				return err
			}
			p.Mode = m
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				created, err := player.NewStore(a.db).Create(ctx, p)
				if err != nil {
					return err
				}
				printPlayer(cmd.OutOrStdout(), created)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&p.ID, "id", "", "player id (default: random UUID)")
	cmd.Flags().StringVar(&p.Email, "email", "", "email address")
	cmd.Flags().StringVar(&p.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&p.AccessKey, "key", "", "access key delivered by the first beat")
	cmd.Flags().StringVar(&mode, "mode", string(protocol.ModeImmersive), "communication mode (immersive|web_only)")
	return cmd
}

func newPlayerShowCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "show <player-id>",
		Short: "Show a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				p, err := player.NewStore(a.db).Get(ctx, args[0])
				if err != nil {
					return err
				}
				printPlayer(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
}

func newPlayerModeCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "mode <player-id> <immersive|web_only>",
		Short: "Change a player's communication mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseModeFlag(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				if err := player.NewStore(a.db).SetMode(ctx, args[0], m); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "player %s is now %s\n", args[0], m)
				return nil
			})
		},
	}
}

// parseModeFlag accepts only the two known modes. Stored values are lenient;
// user input is not.
func parseModeFlag(s string) (protocol.Mode, error) {
	switch protocol.Mode(s) {
	case protocol.ModeImmersive, protocol.ModeWebOnly:
		return protocol.Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want immersive or web_only)", s)
	}
}

func printPlayer(w io.Writer, p protocol.Player) {
	theme := DefaultTheme()
	fmt.Fprintln(w, theme.header("player "+p.ID))
	fmt.Fprintf(w, "  mode:    %s\n", p.Mode)
	fmt.Fprintf(w, "  email:   %s\n", orDash(p.Email))
	fmt.Fprintf(w, "  phone:   %s\n", orDash(p.Phone))
	fmt.Fprintf(w, "  key:     %s\n", orDash(p.AccessKey))
	fmt.Fprintf(w, "  created: %s\n", theme.muted(formatTime(p.CreatedAt)))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
