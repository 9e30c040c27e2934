package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mikeydub/go-collab/service/persist"
)

type authClaims struct {
	UserID persist.DBID `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenExpiry reads the expiry of an access token. The signature is not checked: the
// client cannot verify it and only uses the expiry for display and scheduling.
func TokenExpiry(token string) (time.Time, error) {
	claims, err := parseUnverified(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// TokenUserID reads the user id an access token was issued for.
func TokenUserID(token string) (persist.DBID, error) {
	claims, err := parseUnverified(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func parseUnverified(token string) (*authClaims, error) {
	claims := authClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, ErrInvalidJWT
	}
	return &claims, nil
}
