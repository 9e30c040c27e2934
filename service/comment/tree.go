package comment

import (
	"github.com/mikeydub/go-collab/service/persist"
)

// MaxIndent is the deepest level replies are indented to. Deeper replies are drawn at
// this level.
const MaxIndent = 4

// Comment is one node of a post's comment thread. An empty ID means the comment has not
// been persisted yet; such a comment cannot be liked, deleted or replied to.
type Comment struct {
	ID                persist.DBID `json:"id"`
	AuthorID          persist.DBID `json:"authorId"`
	AuthorDisplayName string       `json:"authorDisplayName"`
	AuthorAvatarURL   string       `json:"authorAvatarUrl,omitempty"`
	CreatedAtDisplay  string       `json:"createdAt"`
	Text              string       `json:"text"`
	Likes             LikeSet      `json:"likes"`
	Replies           []Comment    `json:"replies"`
}

// Tree is the ordered list of top-level comments on a post.
//
// Every operation is pure: it returns a new Tree and never modifies the receiver or any
// Comment reachable from it. Subtrees an operation does not touch are shared between
// the input and the output. Operations that find nothing to do return the receiver.
type Tree []Comment

// AppendComment adds c as the last reply of the comment with id parentID, or as the last
// top-level comment when parentID is empty. Nothing happens if the parent does not exist
// or if c has not been persisted.
func (t Tree) AppendComment(parentID persist.DBID, c Comment) Tree {
	if !c.ID.Persisted() {
		return t
	}

	if parentID == "" {
		return Tree(appendCopy(t, c))
	}

	out, found := updateComment(t, parentID, func(parent Comment) Comment {
		parent.Replies = appendCopy(parent.Replies, c)
		return parent
	})
	if !found {
		return t
	}
	return Tree(out)
}

// ToggleLike adds userID to the likes of commentID when liked is true and removes it
// otherwise.
func (t Tree) ToggleLike(commentID, userID persist.DBID, liked bool) Tree {
	if !commentID.Persisted() || !userID.Persisted() {
		return t
	}

	changed := false
	out, found := updateComment(t, commentID, func(c Comment) Comment {
		var likes LikeSet
		if liked {
			likes = c.Likes.With(userID)
		} else {
			likes = c.Likes.Without(userID)
		}
		changed = likes.Len() != c.Likes.Len()
		c.Likes = likes
		return c
	})
	if !found || !changed {
		return t
	}
	return Tree(out)
}

// DeleteCascade removes commentID and all of its replies. Replies are never moved up to
// the parent.
func (t Tree) DeleteCascade(commentID persist.DBID) Tree {
	if !commentID.Persisted() {
		return t
	}

	out, found := deleteSubtree(t, commentID)
	if !found {
		return t
	}
	return Tree(out)
}

// CountAll counts every comment in the tree, replies included.
func (t Tree) CountAll() int {
	return countAll(t)
}

func countAll(comments []Comment) int {
	n := 0
	for _, c := range comments {
		n += 1 + countAll(c.Replies)
	}
	return n
}

// Count is the number of comments in the subtree rooted at c, c included.
func (c Comment) Count() int {
	return 1 + countAll(c.Replies)
}

// Find returns the first comment with the given id in depth-first order.
func (t Tree) Find(commentID persist.DBID) (Comment, bool) {
	var found Comment
	ok := false
	t.Walk(func(c Comment, depth int) bool {
		if ok {
			return false
		}
		if c.ID == commentID && commentID.Persisted() {
			found, ok = c, true
			return false
		}
		return true
	})
	return found, ok
}

// Walk visits comments depth-first, parents before their replies, starting at depth 0
// for top-level comments. Returning false from fn skips that comment's replies.
func (t Tree) Walk(fn func(c Comment, depth int) bool) {
	walk(t, 0, fn)
}

func walk(comments []Comment, depth int, fn func(Comment, int) bool) {
	for _, c := range comments {
		if fn(c, depth) {
			walk(c.Replies, depth+1, fn)
		}
	}
}

// IndentLevel is the indentation used to draw a comment at depth.
func IndentLevel(depth int) int {
	if depth < 0 {
		return 0
	}
	return min(depth, MaxIndent)
}

// CollapsedByDefault reports whether c's replies start out hidden.
func CollapsedByDefault(c Comment) bool {
	return len(c.Replies) >= 2
}

// updateComment applies fn to the first comment with the given id and returns a copy of
// comments with the changed path rebuilt.
func updateComment(comments []Comment, id persist.DBID, fn func(Comment) Comment) ([]Comment, bool) {
	for i := range comments {
		if comments[i].ID == id {
			out := cloneComments(comments)
			out[i] = fn(comments[i])
			return out, true
		}
		if replies, ok := updateComment(comments[i].Replies, id, fn); ok {
			out := cloneComments(comments)
			out[i].Replies = replies
			return out, true
		}
	}
	return comments, false
}

func deleteSubtree(comments []Comment, id persist.DBID) ([]Comment, bool) {
	for i := range comments {
		if comments[i].ID == id {
			out := make([]Comment, 0, len(comments)-1)
			out = append(out, comments[:i]...)
			out = append(out, comments[i+1:]...)
			return out, true
		}
		if replies, ok := deleteSubtree(comments[i].Replies, id); ok {
			out := cloneComments(comments)
			out[i].Replies = replies
			return out, true
		}
	}
	return comments, false
}

func cloneComments(comments []Comment) []Comment {
	out := make([]Comment, len(comments))
	copy(out, comments)
	return out
}

// appendCopy never writes into the backing array of comments.
func appendCopy(comments []Comment, c Comment) []Comment {
	out := make([]Comment, len(comments), len(comments)+1)
	copy(out, comments)
	return append(out, c)
}

// Entry is a comment as the server lists it: flat, with a pointer to the comment it
// replies to.
type Entry struct {
	Comment Comment
	ReplyTo persist.DBID
}

// BuildTree assembles a flat listing into a Tree. Entries keep their relative order
// among siblings. Replies whose parent is not in the listing are dropped together with
// their own replies.
func BuildTree(entries []Entry) Tree {
	children := make(map[persist.DBID][]int, len(entries))
	for i, e := range entries {
		if !e.Comment.ID.Persisted() {
			continue
		}
		children[e.ReplyTo] = append(children[e.ReplyTo], i)
	}

	visited := make([]bool, len(entries))
	var build func(parentID persist.DBID) []Comment
	build = func(parentID persist.DBID) []Comment {
		var out []Comment
		for _, i := range children[parentID] {
			if visited[i] {
				continue
			}
			visited[i] = true

			c := entries[i].Comment
			c.Replies = build(c.ID)
			out = append(out, c)
		}
		return out
	}

	return Tree(build(""))
}
