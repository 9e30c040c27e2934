package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/Khan/genqlient/graphql"
	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/logger"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// JWTCookieKey is the key used to store the JWT token in the cookie
const JWTCookieKey = "GLRY_JWT"

// RefreshCookieKey is the key used to store the refresh token in the cookie
const RefreshCookieKey = "GLRY_REFRESH_JWT"

// CookieKeys are the cookies that carry credentials. They are scrubbed from error reports.
var CookieKeys = []string{JWTCookieKey, RefreshCookieKey}

// ErrInvalidJWT is returned when the JWT is invalid
var ErrInvalidJWT = errors.New("invalid or expired auth token")

// ErrNoCookie is returned when there is no JWT in the cookie jar
var ErrNoCookie = errors.New("no jwt stored as cookie")

// ErrNotLoggedIn is returned by commands that need a session when there is none
var ErrNotLoggedIn = errors.New("not logged in")

type ErrAuthenticationFailed struct {
	WrappedErr error
}

func (e ErrAuthenticationFailed) Unwrap() error {
	return e.WrappedErr
}

func (e ErrAuthenticationFailed) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.WrappedErr.Error())
}

const loginOperation = `
mutation login($email: Email!, $password: String!) {
	login(email: $email, password: $password) {
		viewer { user { dbid } }
	}
}
`

const logoutOperation = `
mutation logout {
	logout {
		viewer { user { dbid } }
	}
}
`

const refreshAccessTokenOperation = `
mutation refreshAccessToken {
	refreshAccessToken {
		viewer { user { dbid } }
	}
}
`

type viewerPayload struct {
	Viewer *struct {
		User *struct {
			Dbid persist.DBID `json:"dbid"`
		} `json:"user"`
	} `json:"viewer"`
}

func (v *viewerPayload) userID() persist.DBID {
	if v == nil || v.Viewer == nil || v.Viewer.User == nil {
		return ""
	}
	return v.Viewer.User.Dbid
}

// Authenticator runs the session mutations. Its client never refreshes on auth
// failures: a failed login or refresh is an answer, not something to recover from.
type Authenticator struct {
	client  graphql.Client
	session *Session
}

func NewAuthenticator(executor gql.Executor, session *Session) *Authenticator {
	return &Authenticator{
		client:  gql.NewClient(executor, gql.SkipRetry()),
		session: session,
	}
}

// Login exchanges credentials for a session. The server sets the auth and refresh
// cookies on success.
func (a *Authenticator) Login(ctx context.Context, email, password string) (persist.DBID, error) {
	var data struct {
		Login *viewerPayload `json:"login"`
	}
	err := a.client.MakeRequest(ctx, &graphql.Request{
		OpName: "login",
		Query:  loginOperation,
		Variables: &struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}{Email: email, Password: password},
	}, &graphql.Response{Data: &data})
	if err != nil {
		return "", ErrAuthenticationFailed{WrappedErr: err}
	}

	userID := data.Login.userID()
	if userID == "" {
		return "", ErrAuthenticationFailed{WrappedErr: errors.New("no user returned")}
	}

	if err := a.session.Start(ctx, userID); err != nil {
		return "", err
	}

	logger.For(ctx).WithField("userId", userID).Info("logged in")
	return userID, nil
}

// Logout ends the session locally even if the server could not be told.
func (a *Authenticator) Logout(ctx context.Context) error {
	defer a.session.Terminate(ctx)

	var data struct {
		Logout *viewerPayload `json:"logout"`
	}
	err := a.client.MakeRequest(ctx, &graphql.Request{
		OpName: "logout",
		Query:  logoutOperation,
	}, &graphql.Response{Data: &data})
	if err != nil {
		logger.For(ctx).WithError(err).Warn("server logout failed")
		return err
	}
	return nil
}

// Refresh asks the server for a new access token using the refresh cookie. It reports
// false without an error when the server refused, and returns an error only when the
// server could not be asked.
func (a *Authenticator) Refresh(ctx context.Context) (bool, error) {
	var data struct {
		RefreshAccessToken *viewerPayload `json:"refreshAccessToken"`
	}
	err := a.client.MakeRequest(ctx, &graphql.Request{
		OpName: "refreshAccessToken",
		Query:  refreshAccessTokenOperation,
	}, &graphql.Response{Data: &data})

	var rejected gqlerror.List
	if errors.As(err, &rejected) {
		logger.For(ctx).WithField("reason", rejected.Error()).Info("refresh token rejected")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	userID := data.RefreshAccessToken.userID()
	if userID == "" {
		return false, nil
	}

	if err := a.session.Start(ctx, userID); err != nil {
		return false, err
	}
	return true, nil
}
