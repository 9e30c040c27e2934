package gql

import (
	"github.com/mikeydub/go-collab/util"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// authErrorCodes are the extensions.code values the server uses for missing or
// invalid credentials.
var authErrorCodes = []string{
	"UNAUTHENTICATED",
	"UNAUTHORIZED",
	"TOKEN_EXPIRED",
	"ErrNotAuthorized",
	"ErrInvalidToken",
}

// authErrorMessages are matched case-insensitively against the message when the server
// did not attach a code. The server reports a missing auth cookie on some resolvers as
// a generic "Unexpected execution error", so that phrase has to stay in the list.
var authErrorMessages = []string{
	"unauthorized",
	"expired",
	"not authenticated",
	"unexpected execution error",
}

// IsAuthError reports whether a GraphQL error means the session's credentials are
// missing, invalid or expired.
func IsAuthError(err *gqlerror.Error) bool {
	if err == nil {
		return false
	}
	if util.Contains(authErrorCodes, ErrorCode(err)) {
		return true
	}
	return util.ContainsAnyStringFold(err.Message, authErrorMessages...)
}

// authError returns the result's first error if it is an auth error. Only the first
// error is considered.
func (r *Result) authError() *gqlerror.Error {
	if first := r.FirstError(); IsAuthError(first) {
		return first
	}
	return nil
}
