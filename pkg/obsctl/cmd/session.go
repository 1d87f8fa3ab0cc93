package cmd

import (
	"context"
	"errors"

	"github.com/observastack/observastack/pkg/apiclient"
	"github.com/observastack/observastack/pkg/auth"
	"github.com/observastack/observastack/pkg/auth/keycloak"
	"github.com/observastack/observastack/pkg/tokenstore"
	"github.com/observastack/observastack/pkg/version"
)

// session bundles the collaborators of one command invocation.
type session struct {
	api    *apiclient.Client
	store  *tokenstore.Store
	facade *auth.Facade
}

// openSession builds the transport, token store and auth facade from the
// resolved config and runs the facade's Init exactly once.
func (rt *runtimeState) openSession(ctx context.Context) (*session, error) {
	if rt.sessions != nil {
		return rt.sessions, nil
	}
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	cfg := rt.cfg
	log := rt.Logger()

	storage := rt.storage
	if storage == nil {
		var err error
		storage, err = cfg.TokenStorage()
		if err != nil {
			return nil, err
		}
	}

	api, err := apiclient.New(
		apiclient.WithConfig(cfg.APIConfig()),
		apiclient.WithNetworkRetry(cfg.API.RetryAttempts, cfg.API.RetryDelay),
		apiclient.WithUserAgent(version.UserAgent("obsctl")),
		apiclient.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	store := tokenstore.New(storage, tokenstore.WithLogger(log))

	factory := rt.factory
	if factory == nil {
		factory = keycloak.NewFactory(keycloak.Options{
			ClientSecret:          cfg.Keycloak.ClientSecret,
			Scopes:                cfg.Keycloak.Scopes,
			CAFile:                cfg.Keycloak.CAFile,
			InsecureSkipTLSVerify: cfg.Keycloak.InsecureSkipTLSVerify,
			Storage:               storage,
			Out:                   rt.Writer(),
			Logger:                log,
		})
	}

	facade, err := auth.NewFacade(cfg.Method(),
		auth.WithAPIClient(api),
		auth.WithTokenStore(store),
		auth.WithFederatedConfig(cfg.FederatedConfig()),
		auth.WithIdentityClientFactory(factory),
		auth.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	if _, err := facade.Init(ctx); err != nil {
		return nil, err
	}

	rt.sessions = &session{api: api, store: store, facade: facade}
	return rt.sessions, nil
}
