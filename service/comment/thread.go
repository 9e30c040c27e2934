package comment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/go-playground/validator/v10"
	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/logger"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/mikeydub/go-collab/validate"
	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ErrRemote is a comment operation the server refused. Auth failures are handled by
// the pipeline and never show up here unless the replay failed too.
type ErrRemote struct {
	Op     string
	Errors gqlerror.List
}

func (e ErrRemote) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Errors.Error())
}

func (e ErrRemote) Unwrap() error { return e.Errors }

// ErrEmptyResponse is returned when a mutation came back without errors but without
// confirming the change either.
var ErrEmptyResponse = errors.New("server returned an empty response")

// Viewer identifies the signed-in user.
type Viewer interface {
	UserID() persist.DBID
}

// Thread is the comment thread of one post as seen by the viewer. The tree only
// changes after the server has confirmed a mutation, so a failed call leaves it as it
// was. A Thread is safe for concurrent use.
type Thread struct {
	postID    persist.DBID
	client    graphql.Client
	viewer    Viewer
	validator *validator.Validate
	now       func() time.Time

	mu     sync.Mutex
	tree   Tree
	closed bool
}

func NewThread(executor gql.Executor, postID persist.DBID, viewer Viewer) *Thread {
	return &Thread{
		postID:    postID,
		client:    gql.NewClient(executor),
		viewer:    viewer,
		validator: validate.WithCustomValidators(),
		now:       time.Now,
	}
}

func (t *Thread) PostID() persist.DBID { return t.postID }

// Tree returns the current tree. The returned value is never modified by the Thread.
func (t *Thread) Tree() Tree {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree
}

func (t *Thread) Count() int {
	return t.Tree().CountAll()
}

// Close detaches the thread. Results of calls still in flight are dropped.
func (t *Thread) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// apply swaps in fn's result unless the thread was closed.
func (t *Thread) apply(ctx context.Context, fn func(Tree) Tree) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		logger.For(ctx).WithField("postId", t.postID).Debug("thread closed, discarding result")
		return
	}
	t.tree = fn(t.tree)
}

// Load replaces the tree with the server's listing.
func (t *Thread) Load(ctx context.Context) error {
	resp, err := commentsByPost(ctx, t.client, t.postID)
	if err != nil {
		return remoteError("commentsByPost", err)
	}

	now := t.now()
	entries := make([]Entry, len(resp.CommentsByPost))
	for i, n := range resp.CommentsByPost {
		entries[i] = n.toEntry(now)
	}
	tree := BuildTree(entries)

	logger.For(ctx).WithFields(logrus.Fields{
		"postId":   t.postID,
		"comments": tree.CountAll(),
		"dropped":  len(entries) - tree.CountAll(),
	}).Debug("loaded comments")

	t.apply(ctx, func(Tree) Tree { return tree })
	return nil
}

// Create posts a comment, as a reply to parentID when it is set. The returned comment
// is the server's copy. If the parent is no longer in the tree the comment is still
// returned but the tree is left unchanged.
func (t *Thread) Create(ctx context.Context, text string, parentID persist.DBID) (Comment, error) {
	text = validate.SanitizeComment(text)
	if err := validate.ValidateFields(t.validator, validate.ValidationMap{
		"comment":   {text, "required,comment"},
		"replyToID": {parentID, "dbid"},
	}); err != nil {
		return Comment{}, err
	}

	resp, err := commentOnPost(ctx, t.client, t.postID, text, parentID)
	if err != nil {
		return Comment{}, remoteError("commentOnPost", err)
	}
	if resp.CommentOnPost == nil || resp.CommentOnPost.Comment == nil {
		return Comment{}, unconfirmed("commentOnPost")
	}

	created := resp.CommentOnPost.Comment.toEntry(t.now()).Comment
	if created.AuthorID == "" && t.viewer != nil {
		created.AuthorID = t.viewer.UserID()
	}

	t.apply(ctx, func(tree Tree) Tree { return tree.AppendComment(parentID, created) })
	return created, nil
}

// Delete removes a comment and its replies.
func (t *Thread) Delete(ctx context.Context, commentID persist.DBID) error {
	if err := t.validateID(commentID); err != nil {
		return err
	}

	resp, err := removeComment(ctx, t.client, commentID)
	if err != nil {
		return remoteError("removeComment", err)
	}
	if resp.RemoveComment == nil || !resp.RemoveComment.Success {
		return unconfirmed("removeComment")
	}

	t.apply(ctx, func(tree Tree) Tree { return tree.DeleteCascade(commentID) })
	return nil
}

// Like adds the viewer's like to a comment.
func (t *Thread) Like(ctx context.Context, commentID persist.DBID) error {
	if err := t.validateID(commentID); err != nil {
		return err
	}

	resp, err := admireComment(ctx, t.client, commentID)
	if err != nil {
		return remoteError("admireComment", err)
	}
	if resp.AdmireComment == nil {
		return unconfirmed("admireComment")
	}

	t.apply(ctx, func(tree Tree) Tree { return tree.ToggleLike(commentID, t.viewerID(), true) })
	return nil
}

// Unlike removes the viewer's like from a comment.
func (t *Thread) Unlike(ctx context.Context, commentID persist.DBID) error {
	if err := t.validateID(commentID); err != nil {
		return err
	}

	resp, err := removeAdmire(ctx, t.client, commentID)
	if err != nil {
		return remoteError("removeAdmire", err)
	}
	if resp.RemoveAdmire == nil || !resp.RemoveAdmire.Success {
		return unconfirmed("removeAdmire")
	}

	t.apply(ctx, func(tree Tree) Tree { return tree.ToggleLike(commentID, t.viewerID(), false) })
	return nil
}

func (t *Thread) viewerID() persist.DBID {
	if t.viewer == nil {
		return ""
	}
	return t.viewer.UserID()
}

func (t *Thread) validateID(commentID persist.DBID) error {
	return validate.ValidateFields(t.validator, validate.ValidationMap{
		"commentId": {commentID, "required,dbid"},
	})
}

// unconfirmed is returned when a mutation came back without errors but also without
// the server confirming the change.
func unconfirmed(op string) error {
	return ErrRemote{Op: op, Errors: gqlerror.List{gqlerror.Errorf("%s", ErrEmptyResponse)}}
}

// remoteError turns GraphQL errors into ErrRemote. Anything else, such as a transport
// failure or an expired session, is returned unchanged.
func remoteError(op string, err error) error {
	var list gqlerror.List
	if errors.As(err, &list) {
		return ErrRemote{Op: op, Errors: list}
	}
	return err
}
