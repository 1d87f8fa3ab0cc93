package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/observastack/observastack/pkg/apiclient"
	"github.com/observastack/observastack/pkg/apierrors"
	"github.com/observastack/observastack/pkg/auth"
	"github.com/observastack/observastack/pkg/tokenstore"
)

const (
	VersionV1 = "v1"
)

// OutputFormats lists the accepted settings.output-format values.
var OutputFormats = []string{"table", "json", "yaml"}

type Config struct {
	Version    string   `yaml:"version"`
	AuthMethod string   `yaml:"auth-method,omitempty"`
	API        API      `yaml:"api"`
	Keycloak   Keycloak `yaml:"keycloak,omitempty"`
	Storage    Storage  `yaml:"storage,omitempty"`
	Settings   Settings `yaml:"settings,omitempty"`
}

type API struct {
	BaseURL       string        `yaml:"base-url"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry-attempts"`
	RetryDelay    time.Duration `yaml:"retry-delay"`
}

type Keycloak struct {
	URL                   string   `yaml:"url,omitempty"`
	Realm                 string   `yaml:"realm,omitempty"`
	ClientID              string   `yaml:"client-id,omitempty"`
	ClientSecret          string   `yaml:"client-secret,omitempty"`
	RedirectURL           string   `yaml:"redirect-url,omitempty"`
	PostLogoutRedirectURL string   `yaml:"post-logout-redirect-url,omitempty"`
	OnLoad                string   `yaml:"on-load,omitempty"`
	Scopes                []string `yaml:"scopes,omitempty"`
	CAFile                string   `yaml:"ca-file,omitempty"`
	InsecureSkipTLSVerify bool     `yaml:"insecure-skip-tls-verify,omitempty"`
}

// Configured reports whether the identity provider is located.
func (k Keycloak) Configured() bool {
	return k.URL != "" && k.Realm != "" && k.ClientID != ""
}

type Storage struct {
	Backend        string `yaml:"backend,omitempty"`
	Path           string `yaml:"path,omitempty"`
	KeyringService string `yaml:"keyring-service,omitempty"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
	Debug        bool   `yaml:"debug,omitempty"`
}

func DefaultConfig() Config {
	defaults := apiclient.DefaultConfig()
	return Config{
		Version:    VersionV1,
		AuthMethod: string(auth.MethodFederated),
		API: API{
			BaseURL:       defaults.BaseURL,
			Timeout:       defaults.Timeout,
			RetryAttempts: defaults.RetryAttempts,
			RetryDelay:    defaults.RetryDelay,
		},
		Storage: Storage{
			Backend:        tokenstore.BackendFile,
			KeyringService: tokenstore.DefaultKeyringService,
		},
		Settings: Settings{
			OutputFormat: "table",
		},
	}
}

// Load reads the file at path over the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		defaults := DefaultConfig()
		return &defaults, nil
	}
	return cfg, err
}

// Resolve loads the file at path, applies the environment overrides and
// validates the result. It is meant to run once per process.
func Resolve(path string) (*Config, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

// Validate reports the first setting that cannot produce a working session.
// Failures are ConfigurationErrors.
func (c *Config) Validate() error {
	if c.Version == "" {
		return invalid("config version missing")
	}
	if c.Version != VersionV1 {
		return invalid("unsupported config version %q", c.Version)
	}
	method, err := auth.ParseMethod(c.AuthMethod)
	if err != nil {
		return invalid("unknown auth-method %q (expected federated or local)", c.AuthMethod)
	}

	base := strings.TrimSpace(c.API.BaseURL)
	if base == "" {
		return invalid("api.base-url is required")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("api.base-url %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.Timeout < 0 {
		return invalid("api.timeout cannot be negative")
	}
	if c.API.RetryAttempts < 0 {
		return invalid("api.retry-attempts cannot be negative")
	}
	if c.API.RetryDelay < 0 {
		return invalid("api.retry-delay cannot be negative")
	}

	if method == auth.MethodFederated && !c.Keycloak.Configured() {
		return invalid("federated auth requires keycloak.url, keycloak.realm and keycloak.client-id")
	}
	if c.Keycloak.URL != "" {
		if u, err := url.Parse(c.Keycloak.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("keycloak.url %q is not an absolute URL", c.Keycloak.URL)
		}
	}
	switch c.Keycloak.OnLoad {
	case "", auth.OnLoadCheckSSO, auth.OnLoadLoginRequired:
	default:
		return invalid("unknown keycloak.on-load %q", c.Keycloak.OnLoad)
	}

	switch c.Storage.Backend {
	case "", tokenstore.BackendFile, tokenstore.BackendKeyring, tokenstore.BackendMemory:
	default:
		return invalid("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Settings.OutputFormat != "" && !slices.Contains(OutputFormats, c.Settings.OutputFormat) {
		return invalid("unknown settings.output-format %q", c.Settings.OutputFormat)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return apierrors.Newf(apierrors.KindConfiguration, format, args...)
}

// Method returns the configured auth method. Call Validate first.
func (c *Config) Method() auth.Method {
	method, err := auth.ParseMethod(c.AuthMethod)
	if err != nil {
		return auth.MethodFederated
	}
	return method
}

func (c *Config) APIConfig() apiclient.Config {
	return apiclient.Config{
		BaseURL:       c.API.BaseURL,
		Timeout:       c.API.Timeout,
		RetryAttempts: c.API.RetryAttempts,
		RetryDelay:    c.API.RetryDelay,
	}
}

func (c *Config) FederatedConfig() auth.FederatedConfig {
	return auth.FederatedConfig{
		Identity: auth.IdentityConfig{
			URL:      c.Keycloak.URL,
			Realm:    c.Keycloak.Realm,
			ClientID: c.Keycloak.ClientID,
		},
		OnLoad:                c.Keycloak.OnLoad,
		RedirectURI:           c.Keycloak.RedirectURL,
		PostLogoutRedirectURI: c.Keycloak.PostLogoutRedirectURL,
	}
}

// TokenStorage opens the configured storage backend.
func (c *Config) TokenStorage() (tokenstore.Storage, error) {
	storage, err := tokenstore.NewStorage(c.Storage.Backend, c.Storage.Path, c.Storage.KeyringService)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfiguration, err, "invalid token storage")
	}
	return storage, nil
}
