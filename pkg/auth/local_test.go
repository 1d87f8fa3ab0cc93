package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observastack/observastack/pkg/apiclient"
	"github.com/observastack/observastack/pkg/apierrors"
	"github.com/observastack/observastack/pkg/tokenstore"
)

type fakeAPI struct {
	server *httptest.Server
	hits   map[string]*atomic.Int32
}

func newFakeAPI(t *testing.T, handlers map[string]http.HandlerFunc) *fakeAPI {
	t.Helper()
	api := &fakeAPI{hits: map[string]*atomic.Int32{}}
	mux := http.NewServeMux()
	for path, handler := range handlers {
		counter := &atomic.Int32{}
		api.hits[path] = counter
		h := handler
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			counter.Add(1)
			h(w, r)
		})
	}
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) client(t *testing.T) *apiclient.Client {
	t.Helper()
	c, err := apiclient.New(apiclient.WithBaseURL(a.server.URL+"/api/v1"), apiclient.WithNetworkRetry(0, 0))
	require.NoError(t, err)
	return c
}

func (a *fakeAPI) count(path string) int32 {
	if c, ok := a.hits[path]; ok {
		return c.Load()
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bundleResponse(access string, expiresIn int64) map[string]any {
	return map[string]any{
		"access_token":       access,
		"refresh_token":      "refresh-" + access,
		"expires_in":         expiresIn,
		"refresh_expires_in": 86400,
		"token_type":         "Bearer",
	}
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestStore() (*tokenstore.Store, *testClock) {
	clock := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return tokenstore.New(tokenstore.NewMemoryStorage(), tokenstore.WithClock(clock.Now)), clock
}

const (
	loginRoute   = "/api/v1/auth/login"
	logoutRoute  = "/api/v1/auth/logout"
	meRoute      = "/api/v1/auth/me"
	refreshRoute = "/api/v1/auth/refresh"
)

func TestLocalLoginRequiresCredentials(t *testing.T) {
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		loginRoute: func(w http.ResponseWriter, r *http.Request) { writeJSON(w, 200, bundleResponse("a", 3600)) },
	})
	store, _ := newTestStore()
	backend := NewLocalBackend(api.client(t), store, nil)

	for _, creds := range []*Credentials{nil, {}, {Username: "jdoe"}, {Password: "secret"}} {
		_, err := backend.Login(context.Background(), creds)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apierrors.ErrValidation))
		assert.Contains(t, err.Error(), "Credentials required for local authentication")
	}
	assert.Equal(t, int32(0), api.count(loginRoute))
}

func TestLocalLoginStoresBundle(t *testing.T) {
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		loginRoute: func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]string{"email": "jdoe@example.com", "password": "secret"}, body)
			writeJSON(w, 200, bundleResponse("first", 3600))
		},
	})
	store, clock := newTestStore()
	backend := NewLocalBackend(api.client(t), store, nil)

	result, err := backend.Login(context.Background(), &Credentials{Email: "jdoe@example.com", Password: "secret"})
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)
	assert.False(t, result.Redirected)
	assert.Equal(t, "first", result.Tokens.AccessToken)
	assert.Equal(t, clock.Now().UnixMilli(), result.Tokens.StoredAt)

	stored, ok := store.GetTokens()
	require.True(t, ok)
	assert.Equal(t, clock.Now().UnixMilli(), stored.StoredAt)
	assert.Equal(t, stored, *result.Tokens)
	token, ok := backend.Token()
	assert.True(t, ok)
	assert.Equal(t, "first", token)
}

func TestLocalLoginRejected(t *testing.T) {
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		loginRoute: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 401, map[string]string{"detail": "Incorrect username or password"})
		},
	})
	store, _ := newTestStore()
	backend := NewLocalBackend(api.client(t), store, nil)

	_, err := backend.Login(context.Background(), &Credentials{Username: "jdoe", Password: "wrong"})
	assert.True(t, errors.Is(err, apierrors.ErrAuthentication))
	assert.False(t, store.HasValidTokens())
}

func TestLocalLogoutAlwaysClears(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusInternalServerError} {
		api := newFakeAPI(t, map[string]http.HandlerFunc{
			logoutRoute: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer live", r.Header.Get("Authorization"))
				writeJSON(w, status, map[string]string{"message": "Logged out"})
			},
		})
		store, _ := newTestStore()
		store.SetTokens(tokenstore.Bundle{AccessToken: "live", ExpiresIn: 3600})
		client := api.client(t)
		backend := NewLocalBackend(client, store, nil)
		client.SetTokenSource(backend.Token)

		require.NoError(t, backend.Logout(context.Background()))
		_, ok := store.GetTokens()
		assert.False(t, ok, "status %d", status)
		assert.Equal(t, int32(1), api.count(logoutRoute))
	}
}

func TestLocalCurrentUserNormalizesPayload(t *testing.T) {
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		meRoute: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":42,"username":"jdoe","email":"jdoe@example.com","tenant_id":7,` +
				`"roles":["viewer",{"name":"admin"},"viewer",""],"created_at":"2026-01-01T00:00:00Z"}`))
		},
	})
	store, _ := newTestStore()
	backend := NewLocalBackend(api.client(t), store, nil)

	user, err := backend.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SessionUser{
		ID:       "42",
		Username: "jdoe",
		Email:    "jdoe@example.com",
		Roles:    []string{"viewer", "admin"},
	}, user)
}

func TestLocalIsAuthenticatedFollowsServer(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		meRoute: func(w http.ResponseWriter, r *http.Request) {
			if status.Load() != http.StatusOK {
				writeJSON(w, int(status.Load()), map[string]string{"detail": "Not authenticated"})
				return
			}
			writeJSON(w, 200, map[string]any{"id": "u1", "username": "jdoe", "email": "j@example.com", "roles": []string{}})
		},
	})
	store, _ := newTestStore()
	backend := NewLocalBackend(api.client(t), store, nil)
	ctx := context.Background()

	assert.True(t, backend.IsAuthenticated(ctx))

	status.Store(http.StatusUnauthorized)
	assert.False(t, backend.IsAuthenticated(ctx))
	_, err := backend.CurrentUser(ctx)
	assert.True(t, errors.Is(err, apierrors.ErrAuthentication))

	status.Store(http.StatusOK)
	assert.True(t, backend.IsAuthenticated(ctx))
	assert.Equal(t, int32(4), api.count(meRoute))
}

func TestLocalRefresh(t *testing.T) {
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		refreshRoute: func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "refresh-old", body["refresh_token"])
			writeJSON(w, 200, map[string]any{"access_token": "new", "expires_in": 3600})
		},
	})
	store, _ := newTestStore()
	backend := NewLocalBackend(api.client(t), store, nil)
	ctx := context.Background()

	store.SetTokens(tokenstore.Bundle{AccessToken: "old", RefreshToken: "refresh-old", ExpiresIn: 3600})
	assert.False(t, backend.Refresh(ctx))
	assert.Equal(t, int32(0), api.count(refreshRoute))

	store.SetTokens(tokenstore.Bundle{AccessToken: "old", RefreshToken: "refresh-old", ExpiresIn: 20})
	assert.True(t, backend.Refresh(ctx))
	assert.Equal(t, int32(1), api.count(refreshRoute))

	stored, ok := store.GetTokens()
	require.True(t, ok)
	assert.Equal(t, "new", stored.AccessToken)
	assert.Equal(t, "refresh-old", stored.RefreshToken)
	assert.True(t, store.HasValidTokens())
}

func TestLocalRefreshFailureReturnsFalse(t *testing.T) {
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		refreshRoute: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 401, map[string]any{"error": map[string]string{"code": "TOKEN_EXPIRED", "message": "refresh token expired"}})
		},
	})
	store, _ := newTestStore()
	backend := NewLocalBackend(api.client(t), store, nil)

	store.SetTokens(tokenstore.Bundle{AccessToken: "old", RefreshToken: "r", ExpiresIn: 10})
	assert.False(t, backend.Refresh(context.Background()))

	store.SetTokens(tokenstore.Bundle{AccessToken: "old", ExpiresIn: 10})
	assert.False(t, backend.Refresh(context.Background()))
	assert.Equal(t, int32(1), api.count(refreshRoute))
}

func TestLocalInitReadsStore(t *testing.T) {
	store, clock := newTestStore()
	backend := NewLocalBackend(nil, store, nil)

	authenticated, err := backend.Init(context.Background())
	require.NoError(t, err)
	assert.False(t, authenticated)

	store.SetTokens(tokenstore.Bundle{AccessToken: "a", ExpiresIn: 60})
	authenticated, _ = backend.Init(context.Background())
	assert.True(t, authenticated)

	clock.now = clock.now.Add(2 * time.Minute)
	authenticated, _ = backend.Init(context.Background())
	assert.False(t, authenticated)
}
