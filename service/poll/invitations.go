package poll

import (
	"context"
	"errors"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/kvstore"
	"github.com/mikeydub/go-collab/service/logger"
)

const pendingInvitationsOperation = `
query pendingInvitations {
	pendingInvitations { count }
}
`

const pendingCountKey = "pending_count"

type pendingInvitationsResponse struct {
	PendingInvitations *struct {
		Count int `json:"count"`
	} `json:"pendingInvitations"`
}

func pendingInvitations(ctx context.Context, client graphql.Client) (*pendingInvitationsResponse, error) {
	var data pendingInvitationsResponse
	err := client.MakeRequest(ctx, &graphql.Request{
		OpName: "pendingInvitations",
		Query:  pendingInvitationsOperation,
	}, &graphql.Response{Data: &data})
	return &data, err
}

// Invitations tracks the number of pending invitations. The last count is kept in the
// cache so a change is reported once even across runs.
type Invitations struct {
	client   graphql.Client
	cache    *kvstore.Cache
	onChange func(count int)
}

func NewInvitations(executor gql.Executor, cache *kvstore.Cache, onChange func(count int)) *Invitations {
	return &Invitations{client: gql.NewClient(executor), cache: cache, onChange: onChange}
}

// Count returns the last count seen, or 0 if none was.
func (i *Invitations) Count(ctx context.Context) (int, error) {
	count, err := i.cache.GetInt(ctx, pendingCountKey)
	if errors.As(err, &kvstore.ErrKeyNotFound{}) {
		return 0, nil
	}
	return count, err
}

// Poll fetches the current count and reports it if it changed.
func (i *Invitations) Poll(ctx context.Context) error {
	resp, err := pendingInvitations(ctx, i.client)
	if err != nil {
		return err
	}

	count := 0
	if resp.PendingInvitations != nil {
		count = resp.PendingInvitations.Count
	}

	previous, err := i.cache.GetInt(ctx, pendingCountKey)
	notFound := errors.As(err, &kvstore.ErrKeyNotFound{})
	if err != nil && !notFound {
		return err
	}
	if !notFound && previous == count {
		return nil
	}

	if err := i.cache.SetInt(ctx, pendingCountKey, count, 0); err != nil {
		return err
	}

	logger.For(ctx).WithField("count", count).Debug("pending invitations changed")
	if i.onChange != nil {
		i.onChange(count)
	}
	return nil
}

func (i *Invitations) Task(interval time.Duration) Task {
	return Task{Name: "invitations", Interval: interval, Poll: i.Poll}
}
