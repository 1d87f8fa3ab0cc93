package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observastack/observastack/pkg/apiclient"
	"github.com/observastack/observastack/pkg/apierrors"
	"github.com/observastack/observastack/pkg/tokenstore"
)

func TestNewFacade(t *testing.T) {
	_, err := NewFacade(MethodLocal)
	assert.True(t, errors.Is(err, apierrors.ErrConfiguration))

	_, err = NewFacade(Method("saml"))
	assert.True(t, errors.Is(err, apierrors.ErrConfiguration))

	f, err := NewFacade(MethodFederated)
	require.NoError(t, err)
	assert.Equal(t, MethodFederated, f.GetAuthMethod())
	_, err = f.Init(context.Background())
	assert.True(t, errors.Is(err, apierrors.ErrConfiguration))
}

func TestLocalFacadeLoginWithoutCredentials(t *testing.T) {
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		loginRoute: func(w http.ResponseWriter, r *http.Request) { writeJSON(w, 200, bundleResponse("a", 3600)) },
	})
	store, _ := newTestStore()
	f, err := NewFacade(MethodLocal, WithAPIClient(api.client(t)), WithTokenStore(store))
	require.NoError(t, err)
	assert.Equal(t, MethodLocal, f.GetAuthMethod())

	_, err = f.Login(context.Background(), nil)
	require.Error(t, err)
	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindValidation, apiErr.Kind)
	assert.Equal(t, "Credentials required for local authentication", apiErr.Message)
	assert.Equal(t, int32(0), api.count(loginRoute))
}

func TestFederatedFacadeForwardsLoginLogout(t *testing.T) {
	client := &fakeIdentityClient{}
	f, err := NewFacade(MethodFederated,
		WithFederatedConfig(FederatedConfig{Identity: testIdentity}),
		WithIdentityClientFactory(factoryFor(client, nil)),
	)
	require.NoError(t, err)
	ctx := context.Background()

	authenticated, err := f.Init(ctx)
	require.NoError(t, err)
	assert.False(t, authenticated)

	result, err := f.Login(ctx, nil)
	require.NoError(t, err)
	assert.True(t, result.Redirected)
	assert.Equal(t, int32(1), client.loginCalls.Load())
	assert.True(t, f.IsAuthenticated(ctx))

	require.NoError(t, f.Logout(ctx))
	assert.Equal(t, int32(1), client.logoutCalls.Load())
	assert.False(t, f.IsAuthenticated(ctx))
}

func TestFacadeNormalizesBackendFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apierrors.Kind
	}{
		{"typed passes through", apierrors.New(apierrors.KindState, "not ready"), apierrors.KindState},
		{"deadline", context.DeadlineExceeded, apierrors.KindTimeout},
		{"canceled", context.Canceled, apierrors.KindNetwork},
		{"untyped", errors.New("popup closed"), apierrors.KindAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeIdentityClient{loginErr: tt.err}
			f, err := NewFacade(MethodFederated,
				WithFederatedConfig(FederatedConfig{Identity: testIdentity}),
				WithIdentityClientFactory(factoryFor(client, nil)),
			)
			require.NoError(t, err)
			_, err = f.Init(context.Background())
			require.NoError(t, err)

			_, err = f.Login(context.Background(), nil)
			assert.Equal(t, tt.want, apierrors.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, normalize(nil))
}

func TestFacadeAttachesTokenSource(t *testing.T) {
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		meRoute: func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer access-token" {
				writeJSON(w, 401, map[string]string{"detail": "Not authenticated"})
				return
			}
			writeJSON(w, 200, map[string]any{"id": "u1", "username": "jdoe", "email": "j@example.com"})
		},
	})
	store, _ := newTestStore()
	f, err := NewFacade(MethodLocal, WithAPIClient(api.client(t)), WithTokenStore(store))
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, f.IsAuthenticated(ctx))

	store.SetTokens(tokenstore.Bundle{AccessToken: "access-token", ExpiresIn: 3600})
	user, err := f.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", user.Username)
	assert.Equal(t, []string{}, user.Roles)
	token, ok := f.GetToken()
	assert.True(t, ok)
	assert.Equal(t, "access-token", token)
}

func TestConcurrentUpdateTokenIsSingleFlight(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	api := newFakeAPI(t, map[string]http.HandlerFunc{
		refreshRoute: func(w http.ResponseWriter, r *http.Request) {
			entered <- struct{}{}
			<-release
			writeJSON(w, 200, bundleResponse("fresh", 3600))
		},
	})
	store, _ := newTestStore()
	store.SetTokens(tokenstore.Bundle{AccessToken: "stale", RefreshToken: "r", ExpiresIn: 10})

	client, err := apiclient.New(apiclient.WithBaseURL(api.server.URL+"/api/v1"), apiclient.WithNetworkRetry(0, 0))
	require.NoError(t, err)
	f, err := NewFacade(MethodLocal, WithAPIClient(client), WithTokenStore(store))
	require.NoError(t, err)

	results := make([]bool, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = f.UpdateToken(context.Background())
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = f.UpdateToken(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), api.count(refreshRoute))
	assert.Equal(t, []bool{true, true}, results)
	token, ok := f.GetToken()
	assert.True(t, ok)
	assert.Equal(t, "fresh", token)
}

func TestUpdateTokenSurvivesLeaderCancellation(t *testing.T) {
	backend := &countingBackend{result: true, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	f, err := NewFacade(MethodLocal, WithBackend(backend))
	require.NoError(t, err)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()
	leader := make(chan bool, 1)
	go func() { leader <- f.UpdateToken(leaderCtx) }()
	<-backend.entered

	follower := make(chan bool, 1)
	go func() { follower <- f.UpdateToken(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	select {
	case got := <-leader:
		assert.False(t, got)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(backend.gate)
	select {
	case got := <-follower:
		assert.True(t, got)
	case <-time.After(time.Second):
		t.Fatal("follower did not receive the shared result")
	}
	assert.Equal(t, int32(1), backend.refreshes.Load())
}

func TestUpdateTokenIsBoundedByRefreshTimeout(t *testing.T) {
	backend := &countingBackend{result: true, gate: make(chan struct{})}
	f, err := NewFacade(MethodLocal, WithBackend(backend), WithRefreshTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	assert.False(t, f.UpdateToken(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRefreshLoop(t *testing.T) {
	backend := &countingBackend{result: true}
	f, err := NewFacade(MethodLocal, WithBackend(backend))
	require.NoError(t, err)

	stop := f.StartRefreshLoop(context.Background(), 5*time.Millisecond)
	assert.True(t, f.RefreshLoopRunning())
	again := f.StartRefreshLoop(context.Background(), time.Hour)

	require.Eventually(t, func() bool { return backend.refreshes.Load() >= 3 }, time.Second, 5*time.Millisecond)

	again()
	assert.False(t, f.RefreshLoopRunning())
	stop()
	count := backend.refreshes.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, backend.refreshes.Load())

	restarted := f.StartRefreshLoop(context.Background(), time.Hour)
	assert.True(t, f.RefreshLoopRunning())
	restarted()
}

func TestRefreshLoopStopsWithContext(t *testing.T) {
	f, err := NewFacade(MethodLocal, WithBackend(&countingBackend{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f.StartRefreshLoop(ctx, time.Hour)
	cancel()
	require.Eventually(t, func() bool { return !f.RefreshLoopRunning() }, time.Second, 5*time.Millisecond)
}
