package comment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/mikeydub/go-collab/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

type stubViewer persist.DBID

func (v stubViewer) UserID() persist.DBID { return persist.DBID(v) }

// stubExecutor answers by operation name.
type stubExecutor struct {
	mu       sync.Mutex
	handlers map[string]func(op gql.Operation) (*gql.Result, error)
	calls    []gql.Operation
	before   func(op gql.Operation)
}

func (s *stubExecutor) Execute(ctx context.Context, op gql.Operation, opts ...gql.Option) (*gql.Result, error) {
	if s.before != nil {
		s.before(op)
	}
	s.mu.Lock()
	s.calls = append(s.calls, op)
	h, ok := s.handlers[op.Name()]
	s.mu.Unlock()
	if !ok {
		return &gql.Result{Errors: gqlerror.List{{Message: "unknown operation " + op.Name()}}}, nil
	}
	return h(op)
}

func data(v string) func(gql.Operation) (*gql.Result, error) {
	return func(gql.Operation) (*gql.Result, error) {
		return &gql.Result{Data: json.RawMessage(v)}, nil
	}
}

func gqlErrors(msg, code string) func(gql.Operation) (*gql.Result, error) {
	return func(gql.Operation) (*gql.Result, error) {
		return &gql.Result{Errors: gqlerror.List{{Message: msg, Extensions: map[string]any{"code": code}}}}, nil
	}
}

const listing = `{"commentsByPost":[
	{"dbid":"1","comment":"top","creationTime":"2024-01-01T00:00:00Z","commenter":{"dbid":"u1","username":"alice"},"admires":[{"dbid":"a1","admirer":{"dbid":"u2"}}]},
	{"dbid":"2","replyTo":{"dbid":"1"},"comment":"first reply","commenter":{"dbid":"u2","username":"bob"},"admires":[]},
	{"dbid":"3","replyTo":{"dbid":"1"},"comment":"second reply","commenter":{"dbid":"u1","username":"alice"},"admires":[]},
	{"dbid":"4","replyTo":{"dbid":"3"},"comment":"nested","commenter":{"dbid":"u3"},"admires":[]},
	{"dbid":"5","replyTo":{"dbid":"gone"},"comment":"orphan","admires":[]}
]}`

func newLoadedThread(t *testing.T, exec *stubExecutor) *Thread {
	t.Helper()
	if exec.handlers == nil {
		exec.handlers = map[string]func(gql.Operation) (*gql.Result, error){}
	}
	exec.handlers["commentsByPost"] = data(listing)

	thread := NewThread(exec, "post1", stubViewer("me"))
	thread.now = func() time.Time { return time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC) }
	require.NoError(t, thread.Load(context.Background()))
	return thread
}

func TestThreadLoad(t *testing.T) {
	exec := &stubExecutor{}
	thread := newLoadedThread(t, exec)

	assert.Equal(t, 4, thread.Count())
	assert.Equal(t, []persist.DBID{"1", "2", "3", "4"}, ids(thread.Tree()))

	top, ok := thread.Tree().Find("1")
	require.True(t, ok)
	assert.Equal(t, "alice", top.AuthorDisplayName)
	assert.Equal(t, persist.DBID("u1"), top.AuthorID)
	assert.Equal(t, "3h", top.CreatedAtDisplay)
	assert.True(t, top.Likes.Has("u2"))
	assert.True(t, CollapsedByDefault(top))

	require.Len(t, exec.calls, 1)
	assert.Equal(t, map[string]any{"postId": "post1"}, exec.calls[0].Variables())
}

func TestThreadCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("reply is added under its parent after the server confirms", func(t *testing.T) {
		exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
			"commentOnPost": data(`{"commentOnPost":{"comment":{"dbid":"6","replyTo":{"dbid":"3"},"comment":"hello","commenter":{"dbid":"me","username":"me"},"admires":[]}}}`),
		}}
		thread := newLoadedThread(t, exec)

		created, err := thread.Create(ctx, "  <b>hello</b> ", "3")
		require.NoError(t, err)
		assert.Equal(t, persist.DBID("6"), created.ID)

		parent, ok := thread.Tree().Find("3")
		require.True(t, ok)
		require.Len(t, parent.Replies, 2)
		assert.Equal(t, persist.DBID("6"), parent.Replies[1].ID)
		assert.Equal(t, 5, thread.Count())

		sent := exec.calls[len(exec.calls)-1].Variables()
		assert.Equal(t, "hello", sent["comment"])
		assert.Equal(t, "3", sent["replyToID"])
	})

	t.Run("top level comment sends a null reply id", func(t *testing.T) {
		exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
			"commentOnPost": data(`{"commentOnPost":{"comment":{"dbid":"7","comment":"new","admires":[]}}}`),
		}}
		thread := newLoadedThread(t, exec)

		created, err := thread.Create(ctx, "new", "")
		require.NoError(t, err)
		assert.Equal(t, persist.DBID("me"), created.AuthorID)

		tree := thread.Tree()
		assert.Equal(t, persist.DBID("7"), tree[len(tree)-1].ID)

		sent := exec.calls[len(exec.calls)-1].Variables()
		assert.Contains(t, sent, "replyToID")
		assert.Nil(t, sent["replyToID"])
	})

	t.Run("invalid text never reaches the server", func(t *testing.T) {
		exec := &stubExecutor{}
		thread := newLoadedThread(t, exec)

		for _, text := range []string{"", "   ", "<script></script>", strings.Repeat("a", validate.MaxCommentLength+1)} {
			_, err := thread.Create(ctx, text, "")
			var invalid validate.ErrInvalidInput
			assert.ErrorAs(t, err, &invalid)
		}
		assert.Len(t, exec.calls, 1)
		assert.Equal(t, 4, thread.Count())
	})

	t.Run("server rejection leaves the tree alone", func(t *testing.T) {
		exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
			"commentOnPost": gqlErrors("post not found", "ErrPostNotFound"),
		}}
		thread := newLoadedThread(t, exec)
		before := thread.Tree()

		_, err := thread.Create(ctx, "hello", "")
		var remote ErrRemote
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "commentOnPost", remote.Op)
		assert.Equal(t, before, thread.Tree())
	})

	t.Run("empty mutation payload is an error", func(t *testing.T) {
		exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
			"commentOnPost": data(`{"commentOnPost":null}`),
		}}
		thread := newLoadedThread(t, exec)

		_, err := thread.Create(ctx, "hello", "")
		assert.Error(t, err)
		assert.Equal(t, 4, thread.Count())
	})
}

func TestThreadDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the subtree", func(t *testing.T) {
		exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
			"removeComment": data(`{"removeComment":{"success":true}}`),
		}}
		thread := newLoadedThread(t, exec)

		require.NoError(t, thread.Delete(ctx, "3"))
		assert.Equal(t, []persist.DBID{"1", "2"}, ids(thread.Tree()))
	})

	t.Run("unpersisted id is rejected locally", func(t *testing.T) {
		exec := &stubExecutor{}
		thread := newLoadedThread(t, exec)

		assert.Error(t, thread.Delete(ctx, ""))
		assert.Len(t, exec.calls, 1)
	})

	t.Run("expired session passes through", func(t *testing.T) {
		exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
			"removeComment": func(gql.Operation) (*gql.Result, error) {
				return nil, gql.SessionExpiredError{Operation: "removeComment"}
			},
		}}
		thread := newLoadedThread(t, exec)

		err := thread.Delete(ctx, "3")
		assert.ErrorIs(t, err, gql.ErrSessionExpired)
		assert.Equal(t, 4, thread.Count())
	})

	t.Run("success=false leaves the tree alone", func(t *testing.T) {
		exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
			"removeComment": data(`{"removeComment":{"success":false}}`),
		}}
		thread := newLoadedThread(t, exec)

		err := thread.Delete(ctx, "3")
		var remote ErrRemote
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "removeComment", remote.Op)
		assert.Equal(t, 4, thread.Count())
	})

	t.Run("missing payload leaves the tree alone", func(t *testing.T) {
		exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
			"removeComment": data(`{"removeComment":null}`),
		}}
		thread := newLoadedThread(t, exec)

		assert.Error(t, thread.Delete(ctx, "3"))
		assert.Equal(t, 4, thread.Count())
	})

	t.Run("missing comment is not an error", func(t *testing.T) {
		exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
			"removeComment": data(`{"removeComment":{"success":true}}`),
		}}
		thread := newLoadedThread(t, exec)

		require.NoError(t, thread.Delete(ctx, "99"))
		assert.Equal(t, 4, thread.Count())
	})
}

func TestThreadLikes(t *testing.T) {
	ctx := context.Background()
	exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
		"admireComment": data(`{"admireComment":{"admire":{"dbid":"a9"}}}`),
		"removeAdmire":  data(`{"removeAdmire":{"success":true}}`),
	}}
	thread := newLoadedThread(t, exec)

	require.NoError(t, thread.Like(ctx, "4"))
	require.NoError(t, thread.Like(ctx, "4"))
	c, _ := thread.Tree().Find("4")
	assert.Equal(t, []persist.DBID{"me"}, c.Likes.UserIDs())

	require.NoError(t, thread.Unlike(ctx, "4"))
	c, _ = thread.Tree().Find("4")
	assert.Equal(t, 0, c.Likes.Len())

	t.Run("failed like changes nothing", func(t *testing.T) {
		exec.handlers["admireComment"] = gqlErrors("already admired", "ErrAdmireAlreadyExists")
		err := thread.Like(ctx, "4")
		assert.Error(t, err)
		c, _ := thread.Tree().Find("4")
		assert.Equal(t, 0, c.Likes.Len())
	})

	t.Run("like without a payload changes nothing", func(t *testing.T) {
		exec.handlers["admireComment"] = data(`{"admireComment":null}`)
		assert.Error(t, thread.Like(ctx, "4"))
		c, _ := thread.Tree().Find("4")
		assert.Equal(t, 0, c.Likes.Len())
	})

	t.Run("success=false unlike leaves the like in place", func(t *testing.T) {
		exec.handlers["removeAdmire"] = data(`{"removeAdmire":{"success":false}}`)
		thread := NewThread(exec, "post1", stubViewer("u2"))
		require.NoError(t, thread.Load(ctx))

		err := thread.Unlike(ctx, "1")
		var remote ErrRemote
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "removeAdmire", remote.Op)

		c, _ := thread.Tree().Find("1")
		assert.Equal(t, []persist.DBID{"u2"}, c.Likes.UserIDs())
	})
}

func TestThreadClose(t *testing.T) {
	ctx := context.Background()

	exec := &stubExecutor{handlers: map[string]func(gql.Operation) (*gql.Result, error){
		"removeComment": data(`{"removeComment":{"success":true}}`),
	}}
	thread := newLoadedThread(t, exec)

	exec.before = func(op gql.Operation) {
		if op.Name() == "removeComment" {
			thread.Close()
		}
	}

	require.NoError(t, thread.Delete(ctx, "1"))
	assert.Equal(t, 4, thread.Count())
}

func TestRemoteError(t *testing.T) {
	cause := errors.New("connection reset")
	assert.Equal(t, cause, remoteError("x", cause))

	err := remoteError("x", gqlerror.List{{Message: "nope"}})
	var remote ErrRemote
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, err.Error(), "nope")
}

func TestDisplayTime(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at       time.Time
		expected string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m"},
		{now.Add(-3 * time.Hour), "3h"},
		{now.Add(-50 * time.Hour), "2d"},
		{time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), "Feb 3"},
		{time.Date(2022, 2, 3, 0, 0, 0, 0, time.UTC), "Feb 3, 2022"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, DisplayTime(tc.at, now))
	}
}
