package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/latticehq/minionrt/internal/agentsession"
	"github.com/latticehq/minionrt/internal/minion"
)

func newSendCommand(flags *cliFlags) *cobra.Command {
	var minionID string

	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send a message through a minion's session and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}
			deps := buildRuntimeDeps(cfg)

			if minionID == "" {
				minionID = "cli-minion"
			}
			session := deps.newSession(minionID)

			text := strings.Join(args, " ")
			if err := session.SendMessage(cmd.Context(), text, agentsession.SendOptions{}); err != nil {
				return fmt.Errorf("send message: %w", err)
			}

			messages, err := deps.history.GetHistoryFromLatestBoundary(minionID)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), lastAssistantText(messages))
			return nil
		},
	}

	cmd.Flags().StringVar(&minionID, "minion", "", "minion id to send through (default: cli-minion)")
	return cmd
}

func lastAssistantText(messages []minion.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != minion.RoleAssistant {
			continue
		}
		var b strings.Builder
		for _, part := range messages[i].Parts {
			if part.Kind == minion.PartText {
				b.WriteString(part.Text)
			}
		}
		return b.String()
	}
	return ""
}
