package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type fakeIdentityClient struct {
	mu sync.Mutex

	initAuthenticated bool
	initErr           error
	initOpts          InitOptions

	loginErr    error
	logoutErr   error
	loginOpts   LoginOptions
	logoutOpts  LogoutOptions
	loginCalls  atomic.Int32
	logoutCalls atomic.Int32

	profile     *Profile
	profileErr  error
	idClaims    Claims
	tokenClaims Claims
	token       string

	authenticated bool

	refreshed   bool
	refreshErr  error
	minValidity time.Duration
}

func (c *fakeIdentityClient) Init(_ context.Context, opts InitOptions) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initOpts = opts
	if c.initErr != nil {
		return false, c.initErr
	}
	c.authenticated = c.initAuthenticated
	return c.initAuthenticated, nil
}

func (c *fakeIdentityClient) Login(_ context.Context, opts LoginOptions) error {
	c.loginCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loginOpts = opts
	if c.loginErr != nil {
		return c.loginErr
	}
	c.authenticated = true
	return nil
}

func (c *fakeIdentityClient) Logout(_ context.Context, opts LogoutOptions) error {
	c.logoutCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logoutOpts = opts
	c.authenticated = false
	return c.logoutErr
}

func (c *fakeIdentityClient) LoadUserProfile(context.Context) (*Profile, error) {
	return c.profile, c.profileErr
}

func (c *fakeIdentityClient) IDTokenClaims() Claims { return c.idClaims }

func (c *fakeIdentityClient) TokenClaims() Claims { return c.tokenClaims }

func (c *fakeIdentityClient) Token() string { return c.token }

func (c *fakeIdentityClient) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *fakeIdentityClient) UpdateToken(_ context.Context, minValidity time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minValidity = minValidity
	return c.refreshed, c.refreshErr
}

// factoryFor returns a factory handing out client and counting invocations.
func factoryFor(client IdentityClient, calls *atomic.Int32) IdentityClientFactory {
	return func(IdentityConfig) (IdentityClient, error) {
		if calls != nil {
			calls.Add(1)
		}
		return client, nil
	}
}

var testIdentity = IdentityConfig{URL: "https://sso.example", Realm: "observastack", ClientID: "observastack-ui"}

// countingBackend is a Backend whose Refresh can be gated. A gated refresh
// returns false when its context ends first.
type countingBackend struct {
	refreshes atomic.Int32
	gate      chan struct{}
	entered   chan struct{}
	result    bool
}

func (b *countingBackend) Init(context.Context) (bool, error) { return true, nil }

func (b *countingBackend) Login(context.Context, *Credentials) (*LoginResult, error) {
	return &LoginResult{}, nil
}

func (b *countingBackend) Logout(context.Context) error { return nil }

func (b *countingBackend) CurrentUser(context.Context) (*SessionUser, error) {
	return &SessionUser{ID: "1"}, nil
}

func (b *countingBackend) IsAuthenticated(context.Context) bool { return true }

func (b *countingBackend) Token() (string, bool) { return "token", true }

func (b *countingBackend) Refresh(ctx context.Context) bool {
	b.refreshes.Add(1)
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return false
		}
	}
	return b.result
}
