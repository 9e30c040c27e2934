package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/getsentry/sentry-go"
	"github.com/mikeydub/go-collab/env"
	"github.com/mikeydub/go-collab/service/auth"
	"github.com/mikeydub/go-collab/service/comment"
	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/kvstore"
	"github.com/mikeydub/go-collab/service/logger"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/mikeydub/go-collab/service/poll"
	"github.com/mikeydub/go-collab/service/search"
	sentryutil "github.com/mikeydub/go-collab/service/sentry"
	"github.com/mikeydub/go-collab/util"
	"github.com/mikeydub/go-collab/util/retry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Client is everything a command needs to talk to the server as the signed-in user.
type Client struct {
	Pipeline *gql.Pipeline
	Auth     *auth.Authenticator
	Session  *auth.Session

	db *kvstore.DB
}

func SetDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	viper.SetDefault("ENV", "local")
	viper.SetDefault("GRAPHQL_ENDPOINT", "http://localhost:4000/glry/graphql/query")
	viper.SetDefault("HTTP_TIMEOUT", "30s")
	viper.SetDefault("RATE_LIMIT_RETRIES", 3)
	viper.SetDefault("POLL_CHAT_INTERVAL", "3s")
	viper.SetDefault("POLL_INVITATIONS_INTERVAL", "15s")
	viper.SetDefault("KVSTORE_PATH", filepath.Join(home, ".collab", "state.db"))
	viper.SetDefault("SENTRY_DSN", "")
	viper.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.2)
	viper.SetDefault("RELEASE", "")
	viper.SetDefault("LOG_DEBUG", false)
	viper.AutomaticEnv()
}

// LoadConfigFile merges the optional config file for the given environment.
func LoadConfigFile(service string, manualEnv string) {
	if manualEnv == "" {
		manualEnv = viper.GetString("ENV")
	}
	if err := util.LoadEnvFile(util.ResolveEnvFile(service, manualEnv)); err != nil {
		logger.For(nil).Fatal(err)
	}
}

func ValidateEnv() {
	env.RegisterValidation("GRAPHQL_ENDPOINT", "required", "url")
	env.RegisterValidation("KVSTORE_PATH", "required")
	env.RegisterValidation("RATE_LIMIT_RETRIES", "gte=0")
	if viper.GetString("ENV") != "local" {
		env.RegisterValidation("SENTRY_DSN", "required")
	}

	if failed := env.Validate(context.Background()); len(failed) > 0 {
		logger.For(nil).Fatalf("invalid environment: %v", failed)
	}
}

// Init sets up logging and error reporting, opens local state, and restores any saved
// session.
func Init(ctx context.Context, quietLogs bool) (*Client, error) {
	logger.InitWithDefaults(env.GetBool(ctx, "LOG_DEBUG") && !quietLogs)
	if quietLogs {
		logger.SetLoggerOptions(func(l *logrus.Logger) { l.SetLevel(logrus.WarnLevel) })
	}

	initSentry(ctx)

	db, err := kvstore.Open(ctx, env.GetString(ctx, "KVSTORE_PATH"))
	if err != nil {
		return nil, err
	}

	c, err := newClient(ctx, db, env.GetString(ctx, "GRAPHQL_ENDPOINT"))
	if err != nil {
		db.Close()
		return nil, err
	}

	restored, err := c.Session.Restore(ctx)
	if err != nil {
		logger.For(ctx).WithError(err).Warn("could not restore saved session")
	}
	logger.For(ctx).WithField("restored", restored).Debug("client ready")

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		auth.SetAuthContext(scope, c.Session)
	})

	return c, nil
}

func newClient(ctx context.Context, db *kvstore.DB, endpoint string) (*Client, error) {
	httpClient, err := gql.NewHTTPClient(env.GetDuration(ctx, "HTTP_TIMEOUT"))
	if err != nil {
		return nil, err
	}

	session, err := auth.NewSession(httpClient.Jar, endpoint, db.Cache(kvstore.SessionCache))
	if err != nil {
		return nil, err
	}

	rateLimit := retry.DefaultRetry
	rateLimit.Tries = env.GetInt(ctx, "RATE_LIMIT_RETRIES") + 1
	transport := gql.NewHTTPTransport(endpoint, httpClient, gql.WithRateLimitRetry(rateLimit))

	var authenticator *auth.Authenticator
	pipeline := gql.NewPipeline(transport, session, func(ctx context.Context) (bool, error) {
		return authenticator.Refresh(ctx)
	})
	authenticator = auth.NewAuthenticator(pipeline, session)

	return &Client{Pipeline: pipeline, Auth: authenticator, Session: session, db: db}, nil
}

func initSentry(ctx context.Context) {
	err := sentryutil.InitSentry(sentryutil.Options{
		DSN:              env.GetString(ctx, "SENTRY_DSN"),
		Environment:      env.GetString(ctx, "ENV"),
		Release:          env.GetString(ctx, "RELEASE"),
		TracesSampleRate: env.GetFloat64(ctx, "SENTRY_TRACES_SAMPLE_RATE"),
		ScrubCookies:     auth.CookieKeys,
	})
	if err != nil {
		logger.For(ctx).Fatalf("failed to start sentry: %s", err)
	}
}

// Context returns ctx with a Sentry hub and the user id attached to its logger.
func (c *Client) Context(ctx context.Context) context.Context {
	ctx = sentryutil.NewSentryHubContext(ctx, sentry.CurrentHub().Clone())
	if c.Session.Active() {
		ctx = logger.NewContextWithFields(ctx, logrus.Fields{"userId": c.Session.UserID()})
	}
	return ctx
}

func (c *Client) Thread(postID persist.DBID) *comment.Thread {
	return comment.NewThread(c.Pipeline, postID, c.Session)
}

func (c *Client) Searcher() *search.Searcher {
	return search.NewSearcher(c.Pipeline, c.db.Cache(kvstore.SearchCache))
}

func (c *Client) Invitations(onChange func(count int)) *poll.Invitations {
	return poll.NewInvitations(c.Pipeline, c.db.Cache(kvstore.InvitationsCache), onChange)
}

func (c *Client) Chat(conversationID persist.DBID, onMessage func(poll.Message)) *poll.Chat {
	return poll.NewChat(c.Pipeline, conversationID, c.db.Cache(kvstore.ChatCache), onMessage)
}

// RequireSession fails unless a user is signed in.
func (c *Client) RequireSession() error {
	if !c.Session.Active() {
		return fmt.Errorf("%w: run `collab login` first", auth.ErrNotLoggedIn)
	}
	return nil
}

func (c *Client) Close() error {
	sentryutil.Flush()
	return c.db.Close()
}
