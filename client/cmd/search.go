package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikeydub/go-collab/client"
	"github.com/spf13/cobra"
)

var searchLimit int

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find users; with no query the last search is repeated",
	RunE: requireSession(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		users, err := c.Searcher().Users(ctx, strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(users) == 0 {
			fmt.Fprintln(out, "No users found")
			return nil
		}
		for _, u := range users {
			fmt.Fprintf(out, "%s\t%s\t%s\n", u.ID, u.Username, u.Bio)
		}
		return nil
	}),
}
