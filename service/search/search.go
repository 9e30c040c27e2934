package search

import (
	"context"
	"errors"

	"github.com/Khan/genqlient/graphql"
	"github.com/go-playground/validator/v10"
	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/kvstore"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/mikeydub/go-collab/util"
	"github.com/mikeydub/go-collab/validate"
)

const lastQueryKey = "last_query"

const searchUsersOperation = `
query searchUsers($query: String!, $limit: Int) {
	searchUsers(query: $query, limit: $limit) {
		dbid
		username
		bio
	}
}
`

// User is a search hit.
type User struct {
	ID       persist.DBID
	Username string
	Bio      string
}

type searchUsersResponse struct {
	SearchUsers []struct {
		Dbid     persist.DBID `json:"dbid"`
		Username *string      `json:"username"`
		Bio      *string      `json:"bio"`
	} `json:"searchUsers"`
}

func searchUsers(ctx context.Context, client graphql.Client, query string, limit int) (*searchUsersResponse, error) {
	var data searchUsersResponse
	err := client.MakeRequest(ctx, &graphql.Request{
		OpName: "searchUsers",
		Query:  searchUsersOperation,
		Variables: &struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}{Query: query, Limit: limit},
	}, &graphql.Response{Data: &data})
	return &data, err
}

// Searcher runs user searches and remembers the last query.
type Searcher struct {
	client    graphql.Client
	cache     *kvstore.Cache
	validator *validator.Validate
}

func NewSearcher(executor gql.Executor, cache *kvstore.Cache) *Searcher {
	return &Searcher{
		client:    gql.NewClient(executor),
		cache:     cache,
		validator: validate.WithCustomValidators(),
	}
}

// Users searches for users matching query. An empty query repeats the last one.
func (s *Searcher) Users(ctx context.Context, query string, limit int) ([]User, error) {
	query = validate.SanitizeText(query)
	if query == "" {
		last, err := s.LastQuery(ctx)
		if err != nil {
			return nil, err
		}
		query = last
	}

	if err := validate.ValidateFields(s.validator, validate.ValidationMap{
		"query": {query, "required,search_query"},
		"limit": {limit, "gte=0,lte=100"},
	}); err != nil {
		return nil, err
	}

	resp, err := searchUsers(ctx, s.client, query, limit)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, lastQueryKey, []byte(query), 0); err != nil {
		return nil, err
	}

	users := make([]User, 0, len(resp.SearchUsers))
	for _, u := range resp.SearchUsers {
		users = append(users, User{
			ID:       u.Dbid,
			Username: util.FromPointer(u.Username),
			Bio:      util.TruncateWithEllipsis(util.FromPointer(u.Bio), 80),
		})
	}
	return users, nil
}

// LastQuery returns the last query that was searched, or "" if there is none.
func (s *Searcher) LastQuery(ctx context.Context) (string, error) {
	b, err := s.cache.Get(ctx, lastQueryKey)
	if errors.As(err, &kvstore.ErrKeyNotFound{}) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}
