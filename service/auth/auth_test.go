package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/kvstore"
	"github.com/mikeydub/go-collab/service/persist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemStore() *memStore { return &memStore{values: map[string][]byte{}} }

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, kvstore.ErrKeyNotFound{Key: key}
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func signedToken(t *testing.T, userID persist.DBID, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, authClaims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(expiresAt)},
	})
	s, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestTokenClaims(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, "u1", expiresAt)

	exp, err := TokenExpiry(token)
	require.NoError(t, err)
	assert.True(t, expiresAt.Equal(exp))

	userID, err := TokenUserID(token)
	require.NoError(t, err)
	assert.Equal(t, persist.DBID("u1"), userID)

	t.Run("expired tokens can still be read", func(t *testing.T) {
		exp, err := TokenExpiry(signedToken(t, "u1", time.Now().Add(-time.Hour)))
		require.NoError(t, err)
		assert.True(t, exp.Before(time.Now()))
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := TokenExpiry("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidJWT)
	})
}

// fakeServer plays the auth side of the API: login and refresh set cookies, every
// other operation needs a valid GLRY_JWT.
type fakeServer struct {
	t            *testing.T
	refreshOK    atomic.Bool
	validToken   atomic.Value
	refreshCalls atomic.Int32
	queryCalls   atomic.Int32
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OperationName string `json:"operationName"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	issue := func() {
		token := signedToken(f.t, "u1", time.Now().Add(time.Hour))
		f.validToken.Store(token)
		http.SetCookie(w, &http.Cookie{Name: JWTCookieKey, Value: token, Path: "/"})
	}
	viewer := func(field string) {
		w.Write([]byte(`{"data":{"` + field + `":{"viewer":{"user":{"dbid":"u1"}}}}}`))
	}

	switch body.OperationName {
	case "login":
		issue()
		http.SetCookie(w, &http.Cookie{Name: RefreshCookieKey, Value: "refresh", Path: "/"})
		viewer("login")
	case "logout":
		viewer("logout")
	case "refreshAccessToken":
		f.refreshCalls.Add(1)
		if c, err := r.Cookie(RefreshCookieKey); err != nil || c.Value != "refresh" || !f.refreshOK.Load() {
			w.Write([]byte(`{"errors":[{"message":"refresh token expired","extensions":{"code":"ErrInvalidToken"}}]}`))
			return
		}
		issue()
		viewer("refreshAccessToken")
	default:
		f.queryCalls.Add(1)
		c, err := r.Cookie(JWTCookieKey)
		if valid, _ := f.validToken.Load().(string); err != nil || c.Value != valid {
			w.Write([]byte(`{"errors":[{"message":"Unexpected execution error"}]}`))
			return
		}
		w.Write([]byte(`{"data":{"viewer":{"id":"u1"}}}`))
	}
}

// expireAccessToken makes the server reject the current access token.
func (f *fakeServer) expireAccessToken() { f.validToken.Store("revoked") }

type harness struct {
	server        *fakeServer
	srv           *httptest.Server
	session       *Session
	authenticator *Authenticator
	pipeline      *gql.Pipeline
	store         *memStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	server := &fakeServer{t: t}
	server.refreshOK.Store(true)
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	client, err := gql.NewHTTPClient(5 * time.Second)
	require.NoError(t, err)

	store := newMemStore()
	session, err := NewSession(client.Jar, srv.URL, store)
	require.NoError(t, err)

	var authenticator *Authenticator
	pipeline := gql.NewPipeline(gql.NewHTTPTransport(srv.URL, client), session, func(ctx context.Context) (bool, error) {
		return authenticator.Refresh(ctx)
	})
	authenticator = NewAuthenticator(pipeline, session)

	return &harness{server: server, srv: srv, session: session, authenticator: authenticator, pipeline: pipeline, store: store}
}

const viewerQuery = `query viewer { viewer { id } }`

func TestAuthenticator(t *testing.T) {
	ctx := context.Background()

	t.Run("login starts a session and saves it", func(t *testing.T) {
		h := newHarness(t)

		userID, err := h.authenticator.Login(ctx, "a@example.com", "hunter2")
		require.NoError(t, err)
		assert.Equal(t, persist.DBID("u1"), userID)
		assert.True(t, h.session.Active())
		assert.Equal(t, persist.DBID("u1"), h.session.UserID())
		assert.True(t, h.session.ExpiresAt().After(time.Now()))

		refresh, err := h.store.Get(ctx, cookieStorePrefix+RefreshCookieKey)
		require.NoError(t, err)
		assert.Equal(t, "refresh", string(refresh))
	})

	t.Run("expired access token is refreshed transparently", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.authenticator.Login(ctx, "a@example.com", "hunter2")
		require.NoError(t, err)
		h.server.expireAccessToken()

		result, err := h.pipeline.Execute(ctx, gql.NewOperation(viewerQuery, nil))
		require.NoError(t, err)
		assert.True(t, result.HasData())
		assert.Equal(t, int32(1), h.server.refreshCalls.Load())
		assert.Equal(t, int32(2), h.server.queryCalls.Load())
		assert.True(t, h.session.Active())
	})

	t.Run("rejected refresh signs the user out", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.authenticator.Login(ctx, "a@example.com", "hunter2")
		require.NoError(t, err)
		h.server.expireAccessToken()
		h.server.refreshOK.Store(false)

		_, err = h.pipeline.Execute(ctx, gql.NewOperation(viewerQuery, nil))
		assert.ErrorIs(t, err, gql.ErrSessionExpired)
		assert.False(t, h.session.Active())
		assert.Equal(t, int32(1), h.server.refreshCalls.Load())

		u, _ := url.Parse(h.srv.URL)
		for _, c := range h.session.jar.Cookies(u) {
			assert.NotContains(t, CookieKeys, c.Name)
		}
		assert.Empty(t, h.store.values)
	})

	t.Run("refresh itself is never refreshed", func(t *testing.T) {
		h := newHarness(t)
		h.server.refreshOK.Store(false)

		ok, err := h.authenticator.Refresh(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int32(1), h.server.refreshCalls.Load())
	})

	t.Run("logout clears the session", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.authenticator.Login(ctx, "a@example.com", "hunter2")
		require.NoError(t, err)

		require.NoError(t, h.authenticator.Logout(ctx))
		assert.False(t, h.session.Active())
		assert.Equal(t, persist.DBID(""), h.session.UserID())
	})
}

func TestSessionRestore(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	_, err := h.authenticator.Login(ctx, "a@example.com", "hunter2")
	require.NoError(t, err)

	client, err := gql.NewHTTPClient(time.Second)
	require.NoError(t, err)
	restored, err := NewSession(client.Jar, h.srv.URL, h.store)
	require.NoError(t, err)

	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, restored.Active())
	assert.Equal(t, persist.DBID("u1"), restored.UserID())
	assert.False(t, restored.ExpiresAt().IsZero())

	t.Run("nothing saved", func(t *testing.T) {
		client, err := gql.NewHTTPClient(time.Second)
		require.NoError(t, err)
		empty, err := NewSession(client.Jar, h.srv.URL, newMemStore())
		require.NoError(t, err)

		ok, err := empty.Restore(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, empty.Active())
	})
}
