package poll

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/kvstore"
	"github.com/mikeydub/go-collab/service/logger"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/mikeydub/go-collab/util"
	"github.com/sirupsen/logrus"
)

const chatMessagesOperation = `
query chatMessages($conversationId: DBID!, $since: Time) {
	chatMessages(conversationId: $conversationId, since: $since) {
		dbid
		body
		creationTime
		sender { dbid username }
	}
}
`

// Message is one chat message.
type Message struct {
	ID         persist.DBID
	SenderID   persist.DBID
	SenderName string
	Body       string
	SentAt     time.Time
}

type chatMessagesResponse struct {
	ChatMessages []struct {
		Dbid         persist.DBID `json:"dbid"`
		Body         string       `json:"body"`
		CreationTime time.Time    `json:"creationTime"`
		Sender       *struct {
			Dbid     persist.DBID `json:"dbid"`
			Username *string      `json:"username"`
		} `json:"sender"`
	} `json:"chatMessages"`
}

func chatMessages(ctx context.Context, client graphql.Client, conversationID persist.DBID, since *time.Time) (*chatMessagesResponse, error) {
	var data chatMessagesResponse
	err := client.MakeRequest(ctx, &graphql.Request{
		OpName: "chatMessages",
		Query:  chatMessagesOperation,
		Variables: &struct {
			ConversationID persist.DBID `json:"conversationId"`
			Since          *time.Time   `json:"since"`
		}{ConversationID: conversationID, Since: since},
	}, &graphql.Response{Data: &data})
	return &data, err
}

// Chat delivers new messages of one conversation. The time of the newest delivered
// message, and the ids delivered at that time, are kept in the cache so a restarted
// watcher picks up where it left off.
type Chat struct {
	client         graphql.Client
	conversationID persist.DBID
	cache          *kvstore.Cache
	onMessage      func(Message)
}

func NewChat(executor gql.Executor, conversationID persist.DBID, cache *kvstore.Cache, onMessage func(Message)) *Chat {
	return &Chat{
		client:         gql.NewClient(executor),
		conversationID: conversationID,
		cache:          cache,
		onMessage:      onMessage,
	}
}

func (c *Chat) Poll(ctx context.Context) error {
	var since *time.Time
	last, err := c.cache.GetTime(ctx, c.sinceKey())
	switch {
	case err == nil:
		since = &last
	case !errors.As(err, &kvstore.ErrKeyNotFound{}):
		return err
	}

	var seen []persist.DBID
	if since != nil {
		if seen, err = c.seenAtSince(ctx); err != nil {
			return err
		}
	}

	resp, err := chatMessages(ctx, c.client, c.conversationID, since)
	if err != nil {
		return err
	}

	var newest time.Time
	atNewest := []persist.DBID{}
	if since != nil {
		newest = *since
		atNewest = append(atNewest, seen...)
	}

	delivered := 0
	for _, m := range resp.ChatMessages {
		// since is inclusive, so messages sharing its time may already have been delivered
		if since != nil {
			if m.CreationTime.Before(*since) {
				continue
			}
			if m.CreationTime.Equal(*since) && util.Contains(seen, m.Dbid) {
				continue
			}
		}

		msg := Message{ID: m.Dbid, Body: m.Body, SentAt: m.CreationTime}
		if m.Sender != nil {
			msg.SenderID = m.Sender.Dbid
			msg.SenderName = util.FromPointer(m.Sender.Username)
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
		delivered++

		switch {
		case m.CreationTime.After(newest):
			newest = m.CreationTime
			atNewest = []persist.DBID{m.Dbid}
		case m.CreationTime.Equal(newest):
			atNewest = append(atNewest, m.Dbid)
		}
	}

	if delivered == 0 {
		return nil
	}

	logger.For(ctx).WithFields(logrus.Fields{
		"conversationId": c.conversationID,
		"messages":       delivered,
	}).Debug("delivered chat messages")

	ids, err := json.Marshal(atNewest)
	if err != nil {
		return err
	}
	if err := c.cache.Set(ctx, c.seenKey(), ids, 0); err != nil {
		return err
	}
	return c.cache.SetTime(ctx, c.sinceKey(), newest, 0)
}

func (c *Chat) seenAtSince(ctx context.Context) ([]persist.DBID, error) {
	b, err := c.cache.Get(ctx, c.seenKey())
	if errors.As(err, &kvstore.ErrKeyNotFound{}) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []persist.DBID
	if err := json.Unmarshal(b, &ids); err != nil {
		logger.For(ctx).WithError(err).Warn("discarding unreadable chat state")
		return nil, nil
	}
	return ids, nil
}

func (c *Chat) sinceKey() string { return c.conversationID.String() }

func (c *Chat) seenKey() string { return c.conversationID.String() + ":seen" }

func (c *Chat) Task(interval time.Duration) Task {
	return Task{Name: "chat", Interval: interval, Poll: c.Poll}
}
