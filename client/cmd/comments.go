package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mikeydub/go-collab/client"
	"github.com/mikeydub/go-collab/service/comment"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/spf13/cobra"
)

var expandAll bool

func init() {
	commentsListCmd.Flags().BoolVarP(&expandAll, "expand", "x", false, "show replies of collapsed comments")

	commentsCmd.AddCommand(
		commentsListCmd,
		commentsAddCmd,
		commentsReplyCmd,
		commentsDeleteCmd,
		commentsLikeCmd,
		commentsUnlikeCmd,
	)
}

var commentsCmd = &cobra.Command{
	Use:   "comments",
	Short: "Work with a post's comment thread",
}

var commentsListCmd = &cobra.Command{
	Use:   "list <post-id>",
	Short: "Print a post's comments",
	Args:  cobra.ExactArgs(1),
	RunE: runWithClient(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		thread, err := loadThread(ctx, c, args[0])
		if err != nil {
			return err
		}
		printTree(cmd.OutOrStdout(), thread.Tree(), c.Session.UserID(), expandAll)
		return nil
	}),
}

var commentsAddCmd = &cobra.Command{
	Use:   "add <post-id> <text>",
	Short: "Comment on a post",
	Args:  cobra.MinimumNArgs(2),
	RunE: requireSession(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		return createComment(ctx, cmd, c, args[0], "", strings.Join(args[1:], " "))
	}),
}

var commentsReplyCmd = &cobra.Command{
	Use:   "reply <post-id> <comment-id> <text>",
	Short: "Reply to a comment",
	Args:  cobra.MinimumNArgs(3),
	RunE: requireSession(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		return createComment(ctx, cmd, c, args[0], persist.DBID(args[1]), strings.Join(args[2:], " "))
	}),
}

var commentsDeleteCmd = &cobra.Command{
	Use:   "delete <post-id> <comment-id>",
	Short: "Delete a comment and its replies",
	Args:  cobra.ExactArgs(2),
	RunE: requireSession(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		thread, err := loadThread(ctx, c, args[0])
		if err != nil {
			return err
		}

		commentID := persist.DBID(args[1])
		removed := 0
		if target, ok := thread.Tree().Find(commentID); ok {
			removed = target.Count()
		}

		if err := thread.Delete(ctx, commentID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d comment(s), %d left\n", removed, thread.Count())
		return nil
	}),
}

var commentsLikeCmd = &cobra.Command{
	Use:   "like <post-id> <comment-id>",
	Short: "Like a comment",
	Args:  cobra.ExactArgs(2),
	RunE: requireSession(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		return toggleLike(ctx, cmd, c, args[0], persist.DBID(args[1]), true)
	}),
}

var commentsUnlikeCmd = &cobra.Command{
	Use:   "unlike <post-id> <comment-id>",
	Short: "Remove your like from a comment",
	Args:  cobra.ExactArgs(2),
	RunE: requireSession(func(ctx context.Context, cmd *cobra.Command, c *client.Client, args []string) error {
		return toggleLike(ctx, cmd, c, args[0], persist.DBID(args[1]), false)
	}),
}

func loadThread(ctx context.Context, c *client.Client, postID string) (*comment.Thread, error) {
	thread := c.Thread(persist.DBID(postID))
	if err := thread.Load(ctx); err != nil {
		return nil, err
	}
	return thread, nil
}

func createComment(ctx context.Context, cmd *cobra.Command, c *client.Client, postID string, parentID persist.DBID, text string) error {
	thread, err := loadThread(ctx, c, postID)
	if err != nil {
		return err
	}

	created, err := thread.Create(ctx, text, parentID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Posted comment %s (%d in thread)\n", created.ID, thread.Count())
	return nil
}

func toggleLike(ctx context.Context, cmd *cobra.Command, c *client.Client, postID string, commentID persist.DBID, liked bool) error {
	thread, err := loadThread(ctx, c, postID)
	if err != nil {
		return err
	}

	if liked {
		err = thread.Like(ctx, commentID)
	} else {
		err = thread.Unlike(ctx, commentID)
	}
	if err != nil {
		return err
	}

	if updated, ok := thread.Tree().Find(commentID); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s has %d like(s)\n", commentID, updated.Likes.Len())
	}
	return nil
}

// printTree writes the thread indented by depth. Replies of collapsed comments are
// summarized unless expand is set.
func printTree(w io.Writer, tree comment.Tree, viewerID persist.DBID, expand bool) {
	if len(tree) == 0 {
		fmt.Fprintln(w, "No comments yet")
		return
	}

	tree.Walk(func(c comment.Comment, depth int) bool {
		indent := strings.Repeat("  ", comment.IndentLevel(depth))

		liked := ""
		if viewerID != "" && c.Likes.Has(viewerID) {
			liked = " (liked)"
		}
		fmt.Fprintf(w, "%s[%s] %s - %s - %d like(s)%s\n", indent, c.ID, c.AuthorDisplayName, c.CreatedAtDisplay, c.Likes.Len(), liked)
		fmt.Fprintf(w, "%s  %s\n", indent, c.Text)

		if !expand && comment.CollapsedByDefault(c) {
			fmt.Fprintf(w, "%s  +%d more\n", indent, c.Count()-1)
			return false
		}
		return true
	})
}
