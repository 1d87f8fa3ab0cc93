package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/observastack/observastack/pkg/apiclient"
	"github.com/observastack/observastack/pkg/apierrors"
	"github.com/observastack/observastack/pkg/metrics"
	"github.com/observastack/observastack/pkg/tokenstore"
)

// Local backend endpoints, relative to the API base URL.
const (
	LoginPath   = "/auth/login"
	LogoutPath  = "/auth/logout"
	MePath      = "/auth/me"
	RefreshPath = "/auth/refresh"
)

// LocalBackend authenticates against the API's own /auth endpoints and keeps
// the credential bundle in a tokenstore.Store.
type LocalBackend struct {
	api   *apiclient.Client
	store *tokenstore.Store
	log   *zap.SugaredLogger
}

func NewLocalBackend(api *apiclient.Client, store *tokenstore.Store, log *zap.SugaredLogger) *LocalBackend {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LocalBackend{api: api, store: store, log: log.With("authMethod", string(MethodLocal))}
}

// Init reports whether the stored bundle is still usable. It makes no
// network call; liveness is checked by IsAuthenticated.
func (b *LocalBackend) Init(_ context.Context) (bool, error) {
	return b.store.HasValidTokens() || b.store.NeedsRefresh(), nil
}

func (b *LocalBackend) Login(ctx context.Context, creds *Credentials) (*LoginResult, error) {
	if !creds.complete() {
		return nil, apierrors.New(apierrors.KindValidation, "Credentials required for local authentication")
	}
	var bundle tokenstore.Bundle
	if err := b.api.Post(ctx, LoginPath, creds, &bundle); err != nil {
		return nil, err
	}
	if bundle.AccessToken == "" {
		return nil, apierrors.New(apierrors.KindAuthentication, "Login response did not contain an access token")
	}
	stored := b.store.SetTokens(bundle)
	b.log.Infow("Logged in", "username", firstNonEmpty(creds.Username, creds.Email))
	return &LoginResult{Tokens: &stored}, nil
}

// Logout notifies the server and always clears the stored bundle. A failed
// server call is logged and does not fail the logout.
func (b *LocalBackend) Logout(ctx context.Context) error {
	var resp struct {
		Message string `json:"message"`
	}
	if err := b.api.Post(ctx, LogoutPath, nil, &resp); err != nil {
		b.log.Warnw("Server logout failed, clearing local session anyway", "error", err)
	}
	b.store.ClearTokens()
	return nil
}

// meResponse is the /auth/me payload. tenant_id and created_at are accepted
// and not exposed.
type meResponse struct {
	ID        flexibleString    `json:"id"`
	Username  string            `json:"username"`
	Email     string            `json:"email"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	TenantID  flexibleString    `json:"tenant_id"`
	Roles     []json.RawMessage `json:"roles"`
	CreatedAt string            `json:"created_at"`
}

func (b *LocalBackend) CurrentUser(ctx context.Context) (*SessionUser, error) {
	var me meResponse
	if err := b.api.Get(ctx, MePath, &me); err != nil {
		return nil, err
	}
	return &SessionUser{
		ID:        string(me.ID),
		Username:  me.Username,
		Email:     me.Email,
		FirstName: me.FirstName,
		LastName:  me.LastName,
		Roles:     roleNames(me.Roles),
	}, nil
}

// IsAuthenticated is true iff the server accepts the current session.
func (b *LocalBackend) IsAuthenticated(ctx context.Context) bool {
	_, err := b.CurrentUser(ctx)
	return err == nil
}

func (b *LocalBackend) Token() (string, bool) {
	return b.store.AccessToken()
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh renews the bundle when the store reports it inside the refresh margin.
func (b *LocalBackend) Refresh(ctx context.Context) bool {
	if !b.store.NeedsRefresh() {
		metrics.TokenRefresh.WithLabelValues(string(MethodLocal), "skipped").Inc()
		return false
	}
	refreshToken, ok := b.store.RefreshToken()
	if !ok {
		metrics.TokenRefresh.WithLabelValues(string(MethodLocal), "failed").Inc()
		return false
	}
	var bundle tokenstore.Bundle
	if err := b.api.Post(ctx, RefreshPath, refreshRequest{RefreshToken: refreshToken}, &bundle); err != nil {
		b.log.Warnw("Token refresh failed", "error", err)
		metrics.TokenRefresh.WithLabelValues(string(MethodLocal), "failed").Inc()
		return false
	}
	if bundle.AccessToken == "" {
		b.log.Warnw("Token refresh returned no access token")
		metrics.TokenRefresh.WithLabelValues(string(MethodLocal), "failed").Inc()
		return false
	}
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = refreshToken
	}
	b.store.SetTokens(bundle)
	metrics.TokenRefresh.WithLabelValues(string(MethodLocal), "refreshed").Inc()
	b.log.Debugw("Token refreshed", "expiresIn", bundle.ExpiresIn)
	return true
}

// flexibleString accepts JSON strings and numbers.
type flexibleString string

func (s *flexibleString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexibleString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*s = flexibleString(num.String())
	return nil
}

// roleNames accepts roles given as names or as {name} objects.
func roleNames(raw []json.RawMessage) []string {
	names := []string{}
	seen := map[string]struct{}{}
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err != nil {
			var role struct {
				Name string `json:"name"`
			}
			if json.Unmarshal(item, &role) != nil {
				continue
			}
			name = role.Name
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
