package auth

import (
	"github.com/getsentry/sentry-go"
)

const authContextName = "auth context"

// SetAuthContext tags events with the signed-in user.
func SetAuthContext(scope *sentry.Scope, s *Session) {
	var authCtx sentry.Context
	var userCtx sentry.User

	if s != nil && s.Active() {
		userID := s.UserID().String()
		authCtx = sentry.Context{
			"Authenticated": true,
			"UserID":        userID,
			"ExpiresAt":     s.ExpiresAt(),
		}
		userCtx = sentry.User{ID: userID}
	} else {
		authCtx = sentry.Context{
			"Authenticated": false,
		}
		userCtx = sentry.User{}
	}

	scope.SetContext(authContextName, authCtx)
	scope.SetUser(userCtx)
}
