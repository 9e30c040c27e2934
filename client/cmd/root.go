package cmd

import (
	"context"
	"os"

	"github.com/mikeydub/go-collab/client"
	"github.com/mikeydub/go-collab/service/logger"
	sentryutil "github.com/mikeydub/go-collab/service/sentry"
	"github.com/spf13/cobra"
)

var (
	quietLogs bool
	manualEnv string
)

func init() {
	cobra.OnInitialize(client.SetDefaults)

	rootCmd.PersistentFlags().BoolVarP(&quietLogs, "quiet", "q", false, "hide debug logs")
	rootCmd.PersistentFlags().StringVarP(&manualEnv, "env", "e", "", "env to run with")

	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, commentsCmd, watchCmd, searchCmd)
}

var rootCmd = &cobra.Command{
	Use:   "collab",
	Short: "Read and write comments, invitations and chat from the terminal",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client.LoadConfigFile("collab", manualEnv)
		client.ValidateEnv()
	},
	SilenceUsage: true,
}

// runWithClient builds a client for a command's RunE and closes it afterwards.
func runWithClient(fn func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := client.Init(cmd.Context(), quietLogs)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := c.Context(cmd.Context())
		defer sentryutil.RecoverAndRaise(ctx)

		return fn(ctx, cmd, c, args)
	}
}

// requireSession wraps fn so it only runs when a user is signed in.
func requireSession(fn func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error) func(*cobra.Command, []string) error {
	return runWithClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		if err := c.RequireSession(); err != nil {
			return err
		}
		return fn(ctx, cmd, c, args)
	})
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.For(nil).Debug(err)
		os.Exit(1)
	}
}
