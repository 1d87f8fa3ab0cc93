package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/observastack/observastack/pkg/apierrors"
)

// overrides holds the OBSERVASTACK_* variables. It is pre-filled from the
// file so unset variables leave the file values alone.
type overrides struct {
	AuthMethod       string        `env:"OBSERVASTACK_AUTH_METHOD"`
	APIURL           string        `env:"OBSERVASTACK_API_URL"`
	APITimeout       time.Duration `env:"OBSERVASTACK_API_TIMEOUT"`
	APIRetryAttempts int           `env:"OBSERVASTACK_API_RETRY_ATTEMPTS"`
	APIRetryDelay    time.Duration `env:"OBSERVASTACK_API_RETRY_DELAY"`
	KeycloakURL      string        `env:"OBSERVASTACK_KEYCLOAK_URL"`
	KeycloakRealm    string        `env:"OBSERVASTACK_KEYCLOAK_REALM"`
	KeycloakClientID string        `env:"OBSERVASTACK_KEYCLOAK_CLIENT_ID"`
	TokenStorage     string        `env:"OBSERVASTACK_TOKEN_STORAGE"`
}

// ApplyEnv overrides file values with the OBSERVASTACK_* environment.
func (c *Config) ApplyEnv() error {
	o := overrides{
		AuthMethod:       c.AuthMethod,
		APIURL:           c.API.BaseURL,
		APITimeout:       c.API.Timeout,
		APIRetryAttempts: c.API.RetryAttempts,
		APIRetryDelay:    c.API.RetryDelay,
		KeycloakURL:      c.Keycloak.URL,
		KeycloakRealm:    c.Keycloak.Realm,
		KeycloakClientID: c.Keycloak.ClientID,
		TokenStorage:     c.Storage.Backend,
	}
	if err := env.Parse(&o); err != nil {
		return apierrors.Wrap(apierrors.KindConfiguration, err, "parse env")
	}
	c.AuthMethod = o.AuthMethod
	c.API.BaseURL = o.APIURL
	c.API.Timeout = o.APITimeout
	c.API.RetryAttempts = o.APIRetryAttempts
	c.API.RetryDelay = o.APIRetryDelay
	c.Keycloak.URL = o.KeycloakURL
	c.Keycloak.Realm = o.KeycloakRealm
	c.Keycloak.ClientID = o.KeycloakClientID
	c.Storage.Backend = o.TokenStorage
	return nil
}
