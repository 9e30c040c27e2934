package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikeydub/go-collab/client"
	"github.com/mikeydub/go-collab/env"
	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/mikeydub/go-collab/service/poll"
	"github.com/spf13/cobra"
)

func init() {
	watchCmd.AddCommand(watchInvitationsCmd, watchChatCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll for new activity until interrupted",
}

var watchInvitationsCmd = &cobra.Command{
	Use:   "invitations",
	Short: "Report changes to the number of pending invitations",
	Args:  cobra.NoArgs,
	RunE: requireSession(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		out := cmd.OutOrStdout()
		invitations := c.Invitations(func(count int) {
			fmt.Fprintf(out, "%d pending invitation(s)\n", count)
		})

		if last, err := invitations.Count(ctx); err == nil && last > 0 {
			fmt.Fprintf(out, "%d pending invitation(s) last time\n", last)
		}

		return watch(ctx, cmd, invitations.Task(env.GetDuration(ctx, "POLL_INVITATIONS_INTERVAL")))
	}),
}

var watchChatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Print new messages of a conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: requireSession(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		conversationID, ok := env.GetIfExists[string](ctx, "CHAT_CONVERSATION_ID")
		if len(args) == 1 {
			conversationID, ok = args[0], true
		}
		if !ok || conversationID == "" {
			return errors.New("no conversation given and CHAT_CONVERSATION_ID is not set")
		}

		out := cmd.OutOrStdout()
		chat := c.Chat(persist.DBID(conversationID), func(m poll.Message) {
			sender := m.SenderName
			if sender == "" {
				sender = m.SenderID.String()
			}
			fmt.Fprintf(out, "%s %s: %s\n", m.SentAt.Local().Format("15:04"), sender, m.Body)
		})

		return watch(ctx, cmd, chat.Task(env.GetDuration(ctx, "POLL_CHAT_INTERVAL")))
	}),
}

// watch runs tasks until the process is interrupted or the session ends.
func watch(ctx context.Context, cmd *cobra.Command, tasks ...poll.Task) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := poll.Run(ctx, tasks...)
	if errors.Is(err, gql.ErrSessionExpired) {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}
	return err
}
