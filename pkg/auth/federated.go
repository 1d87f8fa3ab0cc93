package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/observastack/observastack/pkg/apierrors"
	"github.com/observastack/observastack/pkg/metrics"
)

// RefreshMinValidity is the remaining token lifetime under which the
// federated backend asks its identity client for a refresh.
const RefreshMinValidity = 30 * time.Second

// Init modes of an identity client.
const (
	OnLoadCheckSSO       = "check-sso"
	OnLoadLoginRequired  = "login-required"
	PKCEMethodS256       = "S256"
	DefaultRedirectURI   = "http://127.0.0.1:8250/callback"
	DefaultSilentURI     = "http://127.0.0.1:8250/silent-check-sso"
	DefaultPostLogoutURI = "http://127.0.0.1:8250/logged-out"
)

// IdentityConfig locates the identity provider.
type IdentityConfig struct {
	URL      string
	Realm    string
	ClientID string
}

func (c IdentityConfig) complete() bool {
	return c.URL != "" && c.Realm != "" && c.ClientID != ""
}

type InitOptions struct {
	OnLoad                 string
	RedirectURI            string
	SilentCheckRedirectURI string
	PKCEMethod             string
	CheckLoginIframe       bool
}

type LoginOptions struct {
	RedirectURI string
}

type LogoutOptions struct {
	RedirectURI string
}

// Profile is the identity provider's account profile.
type Profile struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// IdentityClient is the external identity provider client driven by
// FederatedBackend. It owns its tokens.
type IdentityClient interface {
	Init(ctx context.Context, opts InitOptions) (bool, error)
	Login(ctx context.Context, opts LoginOptions) error
	Logout(ctx context.Context, opts LogoutOptions) error
	LoadUserProfile(ctx context.Context) (*Profile, error)
	IDTokenClaims() Claims
	TokenClaims() Claims
	Token() string
	Authenticated() bool
	// UpdateToken refreshes when the token expires within minValidity and
	// reports whether it did.
	UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error)
}

// IdentityClientFactory builds the identity client on first Init.
type IdentityClientFactory func(cfg IdentityConfig) (IdentityClient, error)

// FederatedConfig configures the redirect based flow.
type FederatedConfig struct {
	Identity              IdentityConfig
	OnLoad                string
	RedirectURI           string
	SilentCheckURI        string
	PostLogoutRedirectURI string
}

func (c FederatedConfig) withDefaults() FederatedConfig {
	if c.OnLoad == "" {
		c.OnLoad = OnLoadCheckSSO
	}
	if c.RedirectURI == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	if c.SilentCheckURI == "" {
		c.SilentCheckURI = DefaultSilentURI
	}
	if c.PostLogoutRedirectURI == "" {
		c.PostLogoutRedirectURI = DefaultPostLogoutURI
	}
	return c
}

// FederatedBackend delegates the session to an IdentityClient.
type FederatedBackend struct {
	cfg     FederatedConfig
	factory IdentityClientFactory
	log     *zap.SugaredLogger

	initMu sync.Mutex

	mu            sync.RWMutex
	client        IdentityClient
	initialized   bool
	authenticated bool
}

func NewFederatedBackend(cfg FederatedConfig, factory IdentityClientFactory, log *zap.SugaredLogger) *FederatedBackend {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FederatedBackend{
		cfg:     cfg.withDefaults(),
		factory: factory,
		log:     log.With("authMethod", string(MethodFederated)),
	}
}

// Init builds the identity client and runs a silent session check. Once it
// succeeds later calls return the cached result. A failed check leaves the
// backend uninitialized and is returned to the caller.
func (b *FederatedBackend) Init(ctx context.Context) (bool, error) {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.mu.RLock()
	if b.initialized {
		authenticated := b.authenticated
		b.mu.RUnlock()
		return authenticated, nil
	}
	b.mu.RUnlock()

	if !b.cfg.Identity.complete() {
		return false, apierrors.New(apierrors.KindConfiguration, "Identity provider configuration missing (url, realm and client id are required)")
	}
	if b.factory == nil {
		return false, apierrors.New(apierrors.KindConfiguration, "No identity client available for federated authentication")
	}
	client, err := b.factory(b.cfg.Identity)
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindConfiguration, err, "failed to create identity client")
	}

	authenticated, err := client.Init(ctx, InitOptions{
		OnLoad:                 b.cfg.OnLoad,
		RedirectURI:            b.cfg.RedirectURI,
		SilentCheckRedirectURI: b.cfg.SilentCheckURI,
		PKCEMethod:             PKCEMethodS256,
		CheckLoginIframe:       false,
	})
	if err != nil {
		b.log.Warnw("Identity session check failed", "realm", b.cfg.Identity.Realm, "error", err)
		return false, err
	}

	b.mu.Lock()
	b.client = client
	b.initialized = true
	b.authenticated = authenticated
	b.mu.Unlock()
	b.log.Debugw("Identity client initialized", "realm", b.cfg.Identity.Realm, "authenticated", authenticated)
	return authenticated, nil
}

func (b *FederatedBackend) initializedClient() (IdentityClient, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client, b.initialized
}

func (b *FederatedBackend) Login(ctx context.Context, _ *Credentials) (*LoginResult, error) {
	client, ok := b.initializedClient()
	if !ok {
		return nil, apierrors.New(apierrors.KindState, "Federated backend not initialized")
	}
	if err := client.Login(ctx, LoginOptions{RedirectURI: b.cfg.RedirectURI}); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.authenticated = client.Authenticated()
	b.mu.Unlock()
	return &LoginResult{Redirected: true}, nil
}

func (b *FederatedBackend) Logout(ctx context.Context) error {
	client, ok := b.initializedClient()
	if !ok {
		return apierrors.New(apierrors.KindState, "Federated backend not initialized")
	}
	err := client.Logout(ctx, LogoutOptions{RedirectURI: b.cfg.PostLogoutRedirectURI})
	b.mu.Lock()
	b.authenticated = false
	b.mu.Unlock()
	return err
}

// CurrentUser merges the provider profile with the ID token claims. Profile
// fields win; roles come from both the ID token and the access token.
func (b *FederatedBackend) CurrentUser(ctx context.Context) (*SessionUser, error) {
	client, ok := b.initializedClient()
	if !ok || !client.Authenticated() {
		return nil, apierrors.New(apierrors.KindAuthentication, "Not authenticated")
	}
	profile, err := client.LoadUserProfile(ctx)
	if err != nil {
		if apierrors.KindOf(err) == apierrors.KindAuthentication {
			return nil, err
		}
		return nil, apierrors.Wrap(apierrors.KindAuthentication, err, "Failed to load user profile")
	}
	if profile == nil {
		profile = &Profile{}
	}
	idClaims := client.IDTokenClaims()
	return &SessionUser{
		ID:        firstNonEmpty(profile.ID, idClaims.String("sub")),
		Username:  firstNonEmpty(profile.Username, idClaims.String("preferred_username")),
		Email:     firstNonEmpty(profile.Email, idClaims.String("email")),
		FirstName: firstNonEmpty(profile.FirstName, idClaims.String("given_name")),
		LastName:  firstNonEmpty(profile.LastName, idClaims.String("family_name")),
		Roles:     ExtractRoles(idClaims, client.TokenClaims()),
	}, nil
}

func (b *FederatedBackend) IsAuthenticated(_ context.Context) bool {
	client, ok := b.initializedClient()
	return ok && client.Authenticated()
}

func (b *FederatedBackend) Token() (string, bool) {
	client, ok := b.initializedClient()
	if !ok {
		return "", false
	}
	token := client.Token()
	return token, token != ""
}

func (b *FederatedBackend) Refresh(ctx context.Context) bool {
	client, ok := b.initializedClient()
	if !ok {
		return false
	}
	refreshed, err := client.UpdateToken(ctx, RefreshMinValidity)
	if err != nil {
		b.log.Warnw("Token refresh failed", "error", err)
		metrics.TokenRefresh.WithLabelValues(string(MethodFederated), "failed").Inc()
		return false
	}
	result := "skipped"
	if refreshed {
		result = "refreshed"
	}
	metrics.TokenRefresh.WithLabelValues(string(MethodFederated), result).Inc()
	return refreshed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
