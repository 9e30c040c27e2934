package comment

import (
	"context"
	"strconv"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/mikeydub/go-collab/util"
)

const commentFields = `
	dbid
	replyTo { dbid }
	comment
	creationTime
	commenter { dbid username profileImageUrl }
	admires { dbid admirer { dbid } }
`

const commentsByPostOperation = `
query commentsByPost($postId: DBID!) {
	commentsByPost(postId: $postId) {` + commentFields + `}
}
`

const commentOnPostOperation = `
mutation commentOnPost($postId: DBID!, $comment: String!, $replyToID: DBID) {
	commentOnPost(postId: $postId, comment: $comment, replyToID: $replyToID) {
		comment {` + commentFields + `}
	}
}
`

const removeCommentOperation = `
mutation removeComment($commentId: DBID!) {
	removeComment(commentId: $commentId) { success }
}
`

const admireCommentOperation = `
mutation admireComment($commentId: DBID!) {
	admireComment(commentId: $commentId) { admire { dbid } }
}
`

const removeAdmireOperation = `
mutation removeAdmire($commentId: DBID!) {
	removeAdmire(commentId: $commentId) { success }
}
`

type dbidRef struct {
	Dbid persist.DBID `json:"dbid"`
}

type commentNode struct {
	Dbid         persist.DBID `json:"dbid"`
	ReplyTo      *dbidRef     `json:"replyTo"`
	Comment      string       `json:"comment"`
	CreationTime *time.Time   `json:"creationTime"`
	Commenter    *struct {
		Dbid            persist.DBID `json:"dbid"`
		Username        *string      `json:"username"`
		ProfileImageUrl *string      `json:"profileImageUrl"`
	} `json:"commenter"`
	Admires []struct {
		Dbid    persist.DBID `json:"dbid"`
		Admirer *dbidRef     `json:"admirer"`
	} `json:"admires"`
}

type commentsByPostResponse struct {
	CommentsByPost []commentNode `json:"commentsByPost"`
}

type commentOnPostResponse struct {
	CommentOnPost *struct {
		Comment *commentNode `json:"comment"`
	} `json:"commentOnPost"`
}

type removeCommentResponse struct {
	RemoveComment *struct {
		Success bool `json:"success"`
	} `json:"removeComment"`
}

type admireCommentResponse struct {
	AdmireComment *struct {
		Admire *dbidRef `json:"admire"`
	} `json:"admireComment"`
}

type removeAdmireResponse struct {
	RemoveAdmire *struct {
		Success bool `json:"success"`
	} `json:"removeAdmire"`
}

func commentsByPost(ctx context.Context, client graphql.Client, postID persist.DBID) (*commentsByPostResponse, error) {
	req := &graphql.Request{
		OpName: "commentsByPost",
		Query:  commentsByPostOperation,
		Variables: &struct {
			PostID persist.DBID `json:"postId"`
		}{PostID: postID},
	}
	var data commentsByPostResponse
	err := client.MakeRequest(ctx, req, &graphql.Response{Data: &data})
	return &data, err
}

func commentOnPost(ctx context.Context, client graphql.Client, postID persist.DBID, comment string, replyToID persist.DBID) (*commentOnPostResponse, error) {
	req := &graphql.Request{
		OpName: "commentOnPost",
		Query:  commentOnPostOperation,
		Variables: &struct {
			PostID    persist.DBID  `json:"postId"`
			Comment   string        `json:"comment"`
			ReplyToID *persist.DBID `json:"replyToID"`
		}{PostID: postID, Comment: comment, ReplyToID: replyToID.ToPointer()},
	}
	var data commentOnPostResponse
	err := client.MakeRequest(ctx, req, &graphql.Response{Data: &data})
	return &data, err
}

func removeComment(ctx context.Context, client graphql.Client, commentID persist.DBID) (*removeCommentResponse, error) {
	return commentMutation[removeCommentResponse](ctx, client, "removeComment", removeCommentOperation, commentID)
}

func admireComment(ctx context.Context, client graphql.Client, commentID persist.DBID) (*admireCommentResponse, error) {
	return commentMutation[admireCommentResponse](ctx, client, "admireComment", admireCommentOperation, commentID)
}

func removeAdmire(ctx context.Context, client graphql.Client, commentID persist.DBID) (*removeAdmireResponse, error) {
	return commentMutation[removeAdmireResponse](ctx, client, "removeAdmire", removeAdmireOperation, commentID)
}

func commentMutation[T any](ctx context.Context, client graphql.Client, opName, query string, commentID persist.DBID) (*T, error) {
	req := &graphql.Request{
		OpName: opName,
		Query:  query,
		Variables: &struct {
			CommentID persist.DBID `json:"commentId"`
		}{CommentID: commentID},
	}
	var data T
	err := client.MakeRequest(ctx, req, &graphql.Response{Data: &data})
	return &data, err
}

func (n commentNode) toEntry(now time.Time) Entry {
	c := Comment{
		ID:   n.Dbid,
		Text: n.Comment,
	}
	if n.CreationTime != nil {
		c.CreatedAtDisplay = DisplayTime(*n.CreationTime, now)
	}
	if n.Commenter != nil {
		c.AuthorID = n.Commenter.Dbid
		c.AuthorDisplayName = util.FromPointer(n.Commenter.Username)
		c.AuthorAvatarURL = util.FromPointer(n.Commenter.ProfileImageUrl)
	}

	likers := make([]persist.DBID, 0, len(n.Admires))
	for _, a := range n.Admires {
		if a.Admirer != nil {
			likers = append(likers, a.Admirer.Dbid)
		}
	}
	c.Likes = NewLikeSet(likers...)

	var replyTo persist.DBID
	if n.ReplyTo != nil {
		replyTo = n.ReplyTo.Dbid
	}
	return Entry{Comment: c, ReplyTo: replyTo}
}

// DisplayTime renders a timestamp the way comment headers show it: relative for the
// last week, a date after that.
func DisplayTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return formatUnit(int(d/time.Minute), "m")
	case d < 24*time.Hour:
		return formatUnit(int(d/time.Hour), "h")
	case d < 7*24*time.Hour:
		return formatUnit(int(d/(24*time.Hour)), "d")
	case t.Year() == now.Year():
		return t.Format("Jan 2")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func formatUnit(n int, unit string) string {
	return strconv.Itoa(n) + unit
}
