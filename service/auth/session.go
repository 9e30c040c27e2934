package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mikeydub/go-collab/service/kvstore"
	"github.com/mikeydub/go-collab/service/logger"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/sirupsen/logrus"
)

const (
	userIDStoreKey    = "auth.user_id"
	cookieStorePrefix = "auth.cookie."
)

// Store keeps session state between runs of the client. Get reports a missing key with
// kvstore.ErrKeyNotFound.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Session is the client's view of whether a user is signed in. Credentials live in the
// HTTP client's cookie jar; the Session only mirrors who they belong to and when the
// access token expires. Safe for concurrent use.
type Session struct {
	jar      http.CookieJar
	endpoint *url.URL
	store    Store

	mu        sync.RWMutex
	active    bool
	userID    persist.DBID
	expiresAt time.Time
}

// NewSession creates an inactive session over jar. Cookies are read and written for
// endpoint. store may be nil, in which case nothing survives the process.
func NewSession(jar http.CookieJar, endpoint string, store Store) (*Session, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if jar == nil {
		return nil, errors.New("session needs a cookie jar")
	}
	return &Session{jar: jar, endpoint: u, store: store}, nil
}

func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) UserID() persist.DBID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// ExpiresAt is when the current access token expires, or the zero time if unknown.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Start marks the session as signed in as userID, using whatever access token is now in
// the cookie jar, and saves the credentials to the store.
func (s *Session) Start(ctx context.Context, userID persist.DBID) error {
	if !userID.Persisted() {
		return ErrInvalidJWT
	}

	var expiresAt time.Time
	if token := s.cookie(JWTCookieKey); token != "" {
		if exp, err := TokenExpiry(token); err == nil {
			expiresAt = exp
		} else {
			logger.For(ctx).WithError(err).Debug("could not read access token expiry")
		}
	}

	s.mu.Lock()
	s.active = true
	s.userID = userID
	s.expiresAt = expiresAt
	s.mu.Unlock()

	if err := s.save(ctx, userID); err != nil {
		logger.For(ctx).WithError(err).Warn("failed to save session")
	}
	return nil
}

// Terminate signs the session out: state is cleared, the credential cookies are
// expired and the saved copy is removed.
func (s *Session) Terminate(ctx context.Context) {
	s.mu.Lock()
	wasActive := s.active
	userID := s.userID
	s.active = false
	s.userID = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	expired := make([]*http.Cookie, 0, len(CookieKeys))
	for _, name := range CookieKeys {
		expired = append(expired, &http.Cookie{Name: name, Path: "/", MaxAge: -1})
	}
	s.jar.SetCookies(s.endpoint, expired)

	if s.store != nil {
		keys := []string{userIDStoreKey}
		for _, name := range CookieKeys {
			keys = append(keys, cookieStorePrefix+name)
		}
		for _, key := range keys {
			if err := s.store.Delete(ctx, key); err != nil {
				logger.For(ctx).WithError(err).WithField("key", key).Warn("failed to clear saved session")
			}
		}
	}

	if wasActive {
		logger.For(ctx).WithField("userId", userID).Info("session terminated")
	}
}

// Restore loads credentials saved by an earlier run into the cookie jar. It reports
// whether a session was found. An expired access token still restores the session so
// the refresh token can be used.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}

	userID, err := s.store.Get(ctx, userIDStoreKey)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var cookies []*http.Cookie
	for _, name := range CookieKeys {
		value, err := s.store.Get(ctx, cookieStorePrefix+name)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return false, err
		}
		if len(value) > 0 {
			cookies = append(cookies, &http.Cookie{Name: name, Value: string(value), Path: "/"})
		}
	}
	if len(cookies) == 0 {
		return false, nil
	}
	s.jar.SetCookies(s.endpoint, cookies)

	var expiresAt time.Time
	if token := s.cookie(JWTCookieKey); token != "" {
		expiresAt, _ = TokenExpiry(token)
	}

	s.mu.Lock()
	s.active = true
	s.userID = persist.DBID(userID)
	s.expiresAt = expiresAt
	s.mu.Unlock()

	logger.For(ctx).WithFields(logrus.Fields{
		"userId":    string(userID),
		"expiresAt": expiresAt,
	}).Debug("restored session")
	return true, nil
}

func (s *Session) save(ctx context.Context, userID persist.DBID) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Set(ctx, userIDStoreKey, []byte(userID), 0); err != nil {
		return err
	}
	for _, name := range CookieKeys {
		if value := s.cookie(name); value != "" {
			if err := s.store.Set(ctx, cookieStorePrefix+name, []byte(value), 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound kvstore.ErrKeyNotFound
	return errors.As(err, &notFound)
}

func (s *Session) cookie(name string) string {
	for _, c := range s.jar.Cookies(s.endpoint) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
