package cmd

import (
	"bytes"
	"testing"

	"github.com/mikeydub/go-collab/service/comment"
	"github.com/stretchr/testify/assert"
)

func TestPrintTree(t *testing.T) {
	tree := comment.Tree{
		{
			ID: "1", AuthorDisplayName: "alice", CreatedAtDisplay: "3h", Text: "top",
			Likes: comment.NewLikeSet("me"),
			Replies: []comment.Comment{
				{ID: "2", AuthorDisplayName: "bob", CreatedAtDisplay: "2h", Text: "first"},
				{ID: "3", AuthorDisplayName: "carol", CreatedAtDisplay: "1h", Text: "second",
					Replies: []comment.Comment{{ID: "4", AuthorDisplayName: "dan", CreatedAtDisplay: "just now", Text: "deep"}}},
			},
		},
	}

	t.Run("collapsed", func(t *testing.T) {
		var out bytes.Buffer
		printTree(&out, tree, "me", false)
		assert.Equal(t, "[1] alice - 3h - 1 like(s) (liked)\n  top\n  +3 more\n", out.String())
	})

	t.Run("expanded", func(t *testing.T) {
		var out bytes.Buffer
		printTree(&out, tree, "me", true)
		assert.Equal(t, ""+
			"[1] alice - 3h - 1 like(s) (liked)\n  top\n"+
			"  [2] bob - 2h - 0 like(s)\n    first\n"+
			"  [3] carol - 1h - 0 like(s)\n    second\n"+
			"    [4] dan - just now - 0 like(s)\n      deep\n",
			out.String())
	})

	t.Run("empty", func(t *testing.T) {
		var out bytes.Buffer
		printTree(&out, nil, "", false)
		assert.Equal(t, "No comments yet\n", out.String())
	})
}
