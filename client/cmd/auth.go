package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mikeydub/go-collab/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginEmail string

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and save the session",
	Args:  cobra.NoArgs,
	RunE: runWithClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		in := bufio.NewReader(cmd.InOrStdin())

		email := strings.TrimSpace(loginEmail)
		if email == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "Email: ")
			line, err := in.ReadString('\n')
			if err != nil {
				return err
			}
			email = strings.TrimSpace(line)
		}

		password, err := readPassword(cmd, in)
		if err != nil {
			return err
		}

		userID, err := c.Auth.Login(ctx, email, password)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", userID)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the saved session",
	Args:  cobra.NoArgs,
	RunE: runWithClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		if !c.Session.Active() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
			return nil
		}
		// the local session is gone even when the server call fails
		if err := c.Auth.Logout(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Server logout failed: %s\n", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who is signed in",
	Args:  cobra.NoArgs,
	RunE: runWithClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		out := cmd.OutOrStdout()
		if !c.Session.Active() {
			fmt.Fprintln(out, "Not logged in")
			return nil
		}

		fmt.Fprintf(out, "Logged in as %s\n", c.Session.UserID())
		if exp := c.Session.ExpiresAt(); !exp.IsZero() {
			fmt.Fprintf(out, "Access token expires %s\n", exp.Local().Format("Jan 2 15:04"))
		}
		return nil
	}),
}

func readPassword(cmd *cobra.Command, in *bufio.Reader) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	defer fmt.Fprintln(cmd.ErrOrStderr())

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}

	line, err := in.ReadString('\n')
	if errors.Is(err, io.EOF) && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}
