package keycloak

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/observastack/observastack/pkg/apiclient"
	"github.com/observastack/observastack/pkg/apierrors"
	"github.com/observastack/observastack/pkg/auth"
	"github.com/observastack/observastack/pkg/tokenstore"
)

// Options configure clients built by NewFactory. Realm, URL and client id
// come from the auth.IdentityConfig handed to the factory.
type Options struct {
	ClientSecret          string
	Scopes                []string
	CAFile                string
	InsecureSkipTLSVerify bool
	Timeout               time.Duration

	// Storage keeps the session between processes. Defaults to memory.
	Storage    tokenstore.Storage
	StorageKey string

	// OpenBrowser opens authorization and logout URLs. Defaults to the
	// platform browser.
	OpenBrowser func(url string) error
	// Out receives the URLs for manual opening. Defaults to stderr.
	Out io.Writer

	Logger *zap.SugaredLogger
	Now    func() time.Time
}

// NewFactory returns an auth.IdentityClientFactory producing Keycloak clients.
func NewFactory(opts Options) auth.IdentityClientFactory {
	return func(cfg auth.IdentityConfig) (auth.IdentityClient, error) {
		return New(cfg, opts)
	}
}

// Client is a Keycloak identity client. It is safe for concurrent use.
type Client struct {
	identity auth.IdentityConfig
	opts     Options
	issuer   string
	http     *http.Client
	gocloak  *gocloak.GoCloak
	log      *zap.SugaredLogger

	mu       sync.RWMutex
	provider *oidc.Provider
	oauth    oauth2.Config
	current  *session
}

func New(identity auth.IdentityConfig, opts Options) (*Client, error) {
	if identity.URL == "" || identity.Realm == "" || identity.ClientID == "" {
		return nil, apierrors.New(apierrors.KindConfiguration, "keycloak url, realm and client id are required")
	}
	if opts.Storage == nil {
		opts.Storage = tokenstore.NewMemoryStorage()
	}
	if opts.StorageKey == "" {
		opts.StorageKey = DefaultStorageKey
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = openBrowser
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	tlsConfig, err := apiclient.LoadTLSConfig(opts.CAFile, opts.InsecureSkipTLSVerify)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment, TLSClientConfig: tlsConfig},
		Timeout:   opts.Timeout,
	}

	baseURL := strings.TrimSuffix(identity.URL, "/")
	kc := gocloak.NewClient(baseURL)
	kc.RestyClient().SetTLSClientConfig(tlsConfig)
	kc.RestyClient().SetTimeout(opts.Timeout)

	return &Client{
		identity: identity,
		opts:     opts,
		issuer:   baseURL + "/realms/" + url.PathEscape(identity.Realm),
		http:     httpClient,
		gocloak:  kc,
		log:      log.With("realm", identity.Realm, "clientID", identity.ClientID),
	}, nil
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.http)
}

// Init discovers the realm and restores a persisted session. A stale access
// token is refreshed; a rejected refresh token means "not authenticated"
// while transport failures are returned. With OnLoad login-required an
// unauthenticated client starts the login flow.
func (c *Client) Init(ctx context.Context, opts auth.InitOptions) (bool, error) {
	provider, err := oidc.NewProvider(c.clientContext(ctx), c.issuer)
	if err != nil {
		return false, mapError(err, "failed to discover identity provider")
	}

	redirect := opts.RedirectURI
	if redirect == "" {
		redirect = auth.DefaultRedirectURI
	}
	c.mu.Lock()
	c.provider = provider
	c.oauth = oauth2.Config{
		ClientID:     c.identity.ClientID,
		ClientSecret: c.opts.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  redirect,
		Scopes:       c.opts.Scopes,
	}
	c.mu.Unlock()

	authenticated, err := c.restore(ctx)
	if err != nil {
		return false, err
	}
	if !authenticated && opts.OnLoad == auth.OnLoadLoginRequired {
		if err := c.Login(ctx, auth.LoginOptions{RedirectURI: redirect}); err != nil {
			return false, err
		}
		return c.Authenticated(), nil
	}
	return authenticated, nil
}

func (c *Client) restore(ctx context.Context) (bool, error) {
	stored, err := loadSession(c.opts.Storage, c.opts.StorageKey)
	if err != nil {
		c.log.Warnw("Failed to read stored session", "error", err)
		return false, nil
	}
	if stored == nil {
		return false, nil
	}
	now := c.opts.Now()
	if stored.validFor(now, auth.RefreshMinValidity) {
		c.setSession(stored)
		c.log.Debugw("Restored identity session", "expiry", stored.Expiry)
		return true, nil
	}
	if !stored.canRefresh(now) {
		c.clearSession()
		return false, nil
	}
	if err := c.refresh(ctx, stored); err != nil {
		if apierrors.IsAuthentication(err) {
			c.log.Debugw("Stored refresh token rejected", "error", err)
			c.clearSession()
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Login runs the authorization code flow with PKCE. A callback listener is
// bound to the redirect URI's host and port; port 0 binds an ephemeral port.
func (c *Client) Login(ctx context.Context, opts auth.LoginOptions) error {
	c.mu.RLock()
	oauthCfg := c.oauth
	provider := c.provider
	c.mu.RUnlock()
	if provider == nil {
		return apierrors.New(apierrors.KindState, "identity client not initialized")
	}
	if opts.RedirectURI != "" {
		oauthCfg.RedirectURL = opts.RedirectURI
	}
	redirect, err := url.Parse(oauthCfg.RedirectURL)
	if err != nil || redirect.Host == "" {
		return apierrors.Newf(apierrors.KindConfiguration, "invalid redirect URI %q", oauthCfg.RedirectURL)
	}
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return apierrors.Wrap(apierrors.KindConfiguration, err, "failed to start callback listener")
	}
	defer func() {
		_ = listener.Close()
	}()
	if redirect.Port() == "0" {
		redirect.Host = listener.Addr().String()
		oauthCfg.RedirectURL = redirect.String()
	}

	verifier := oauth2.GenerateVerifier()
	state, err := randomToken(24)
	if err != nil {
		return err
	}
	authURL := oauthCfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	resultCh := make(chan *oauth2.Token, 1)
	errCh := make(chan error, 1)
	exchangeCtx := c.clientContext(ctx)
	fail := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != callbackPath {
				http.NotFound(w, r)
				return
			}
			query := r.URL.Query()
			if errCode := query.Get("error"); errCode != "" {
				fail(apierrors.Newf(apierrors.KindAuthentication, "authorization failed: %s %s", errCode, query.Get("error_description")))
				http.Error(w, "authorization failed", http.StatusBadRequest)
				return
			}
			if query.Get("state") != state {
				fail(apierrors.New(apierrors.KindAuthentication, "invalid state in callback"))
				http.Error(w, "invalid state", http.StatusBadRequest)
				return
			}
			code := query.Get("code")
			if code == "" {
				fail(apierrors.New(apierrors.KindAuthentication, "missing code in callback"))
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			token, err := oauthCfg.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
			if err != nil {
				fail(mapError(err, "token exchange failed"))
				http.Error(w, "token exchange failed", http.StatusInternalServerError)
				return
			}
			_, _ = fmt.Fprintln(w, "Authentication complete. You can close this window.")
			select {
			case resultCh <- token:
			default:
			}
		}),
	}
	go func() {
		_ = server.Serve(listener)
	}()
	defer func() {
		_ = server.Close()
	}()

	_, _ = fmt.Fprintf(c.opts.Out, "Open the following URL in your browser:\n%s\n", authURL)
	if err := c.opts.OpenBrowser(authURL); err != nil {
		c.log.Debugw("Failed to open browser", "error", err)
	}

	var token *oauth2.Token
	select {
	case <-ctx.Done():
		return mapError(ctx.Err(), "login aborted")
	case err := <-errCh:
		return err
	case token = <-resultCh:
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken != "" {
		idVerifier := provider.Verifier(&oidc.Config{ClientID: c.identity.ClientID})
		if _, err := idVerifier.Verify(exchangeCtx, idToken); err != nil {
			return apierrors.Wrap(apierrors.KindAuthentication, err, "failed to verify ID token")
		}
	}
	s := &session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      idToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if seconds := extraSeconds(token.Extra("refresh_expires_in")); seconds > 0 {
		s.RefreshExpiry = c.opts.Now().Add(time.Duration(seconds) * time.Second)
	}
	c.setSession(s)
	c.persist(s)
	c.log.Infow("Logged in", "username", parseClaims(s.AccessToken).String("preferred_username"))
	return nil
}

// Logout ends the session at Keycloak over the back channel and opens the
// end-session endpoint with post_logout_redirect_uri. Local state is always
// cleared; provider failures are logged.
func (c *Client) Logout(ctx context.Context, opts auth.LogoutOptions) error {
	c.mu.RLock()
	current := c.current
	provider := c.provider
	c.mu.RUnlock()
	c.clearSession()

	if current == nil {
		return nil
	}
	if current.RefreshToken != "" {
		if err := c.gocloak.Logout(ctx, c.identity.ClientID, c.opts.ClientSecret, c.identity.Realm, current.RefreshToken); err != nil {
			c.log.Warnw("Back-channel logout failed", "error", mapError(err, "logout failed"))
		}
	}
	if provider == nil || opts.RedirectURI == "" {
		return nil
	}
	logoutURL := c.endSessionURL(provider, current.IDToken, opts.RedirectURI)
	_, _ = fmt.Fprintf(c.opts.Out, "Signed out. To end the browser session open:\n%s\n", logoutURL)
	if err := c.opts.OpenBrowser(logoutURL); err != nil {
		c.log.Debugw("Failed to open browser", "error", err)
	}
	return nil
}

func (c *Client) endSessionURL(provider *oidc.Provider, idToken, redirect string) string {
	var metadata struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	endpoint := c.issuer + "/protocol/openid-connect/logout"
	if err := provider.Claims(&metadata); err == nil && metadata.EndSessionEndpoint != "" {
		endpoint = metadata.EndSessionEndpoint
	}
	params := url.Values{}
	params.Set("client_id", c.identity.ClientID)
	params.Set("post_logout_redirect_uri", redirect)
	if idToken != "" {
		params.Set("id_token_hint", idToken)
	}
	return endpoint + "?" + params.Encode()
}

func (c *Client) LoadUserProfile(ctx context.Context) (*auth.Profile, error) {
	token := c.Token()
	if token == "" {
		return nil, apierrors.New(apierrors.KindAuthentication, "Not authenticated")
	}
	info, err := c.gocloak.GetUserInfo(ctx, token, c.identity.Realm)
	if err != nil {
		return nil, mapError(err, "failed to load user profile")
	}
	return &auth.Profile{
		ID:        gocloak.PString(info.Sub),
		Username:  gocloak.PString(info.PreferredUsername),
		Email:     gocloak.PString(info.Email),
		FirstName: gocloak.PString(info.GivenName),
		LastName:  gocloak.PString(info.FamilyName),
	}, nil
}

func (c *Client) IDTokenClaims() auth.Claims {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return auth.Claims{}
	}
	return parseClaims(c.current.IDToken)
}

func (c *Client) TokenClaims() auth.Claims {
	return parseClaims(c.Token())
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return ""
	}
	return c.current.AccessToken
}

func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil && c.current.AccessToken != ""
}

// UpdateToken refreshes through gocloak when the access token expires within
// minValidity. A rejected refresh token ends the session.
func (c *Client) UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error) {
	c.mu.RLock()
	current := c.current
	c.mu.RUnlock()
	if current == nil {
		return false, apierrors.New(apierrors.KindAuthentication, "Not authenticated")
	}
	now := c.opts.Now()
	if current.validFor(now, minValidity) {
		return false, nil
	}
	if !current.canRefresh(now) {
		c.clearSession()
		return false, apierrors.New(apierrors.KindAuthentication, "Session expired")
	}
	if err := c.refresh(ctx, current); err != nil {
		if apierrors.IsAuthentication(err) {
			c.clearSession()
		}
		return false, err
	}
	return true, nil
}

func (c *Client) refresh(ctx context.Context, current *session) error {
	token, err := c.gocloak.RefreshToken(ctx, current.RefreshToken, c.identity.ClientID, c.opts.ClientSecret, c.identity.Realm)
	if err != nil {
		return mapError(err, "failed to refresh token")
	}
	now := c.opts.Now()
	next := &session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      token.IDToken,
		TokenType:    token.TokenType,
		Expiry:       now.Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
		next.RefreshExpiry = current.RefreshExpiry
	} else if token.RefreshExpiresIn > 0 {
		next.RefreshExpiry = now.Add(time.Duration(token.RefreshExpiresIn) * time.Second)
	}
	if next.IDToken == "" {
		next.IDToken = current.IDToken
	}
	c.setSession(next)
	c.persist(next)
	c.log.Debugw("Refreshed identity session", "expiresIn", token.ExpiresIn)
	return nil
}

func (c *Client) setSession(s *session) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	if err := c.opts.Storage.Delete(c.opts.StorageKey); err != nil {
		c.log.Warnw("Failed to clear stored session", "error", err)
	}
}

func (c *Client) persist(s *session) {
	if err := saveSession(c.opts.Storage, c.opts.StorageKey, s); err != nil {
		c.log.Warnw("Failed to persist identity session", "error", err)
	}
}

// parseClaims decodes a JWT without verifying it. Tokens reaching this point
// were verified at login or issued to us by the token endpoint.
func parseClaims(token string) auth.Claims {
	if token == "" {
		return auth.Claims{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return auth.Claims{}
	}
	return auth.Claims(claims)
}

func extraSeconds(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		var parsed int64
		if _, err := fmt.Sscanf(n, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

var _ auth.IdentityClient = (*Client)(nil)

var errNoBrowser = errors.New("no browser available")

// NoBrowser is an OpenBrowser func that only prints the URL.
func NoBrowser(string) error {
	return errNoBrowser
}
