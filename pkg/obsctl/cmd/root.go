package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/observastack/observastack/pkg/auth"
	"github.com/observastack/observastack/pkg/config"
	"github.com/observastack/observastack/pkg/obsctl/output"
	"github.com/observastack/observastack/pkg/system"
	"github.com/observastack/observastack/pkg/tokenstore"
)

// Config wires the command tree. The zero values of the optional fields
// select the production implementations.
type Config struct {
	ConfigPath   string
	OutputWriter io.Writer

	// Logger replaces the logger built from --verbose.
	Logger *zap.SugaredLogger
	// TokenStorage replaces the configured storage backend.
	TokenStorage tokenstore.Storage
	// IdentityClientFactory replaces the Keycloak client.
	IdentityClientFactory auth.IdentityClientFactory
}

type runtimeState struct {
	configPath           string
	cfg                  *config.Config
	authMethodOverride   string
	serverOverride       string
	outputFormat         string
	tokenStorageOverride string
	verbose              bool
	writer               io.Writer

	log      *zap.SugaredLogger
	storage  tokenstore.Storage
	factory  auth.IdentityClientFactory
	sessions *session
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		log:        cfg.Logger,
		storage:    cfg.TokenStorage,
		factory:    cfg.IdentityClientFactory,
	}

	root := &cobra.Command{
		Use:           "obsctl",
		Short:         "observastack CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("OBSERVASTACK_OUTPUT")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("OBSERVASTACK_VERBOSE"), "true")
			}

			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.loadConfig()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVar(&rt.authMethodOverride, "auth-method", "", "Auth method override: federated or local")
	root.PersistentFlags().StringVar(&rt.serverOverride, "server", "", "API base URL override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: file, keyring or memory")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewConfigCommand(),
		NewAuthCommand(),
		NewAPICommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// loadConfig resolves file, environment and flags, in increasing precedence.
func (rt *runtimeState) loadConfig() error {
	cfg, err := config.LoadOrDefault(rt.configPathValue())
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if rt.authMethodOverride != "" {
		cfg.AuthMethod = rt.authMethodOverride
	}
	if rt.serverOverride != "" {
		cfg.API.BaseURL = rt.serverOverride
	}
	if rt.tokenStorageOverride != "" {
		cfg.Storage.Backend = rt.tokenStorageOverride
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg

	if rt.log == nil {
		log, err := system.NewLogger(rt.verbose || cfg.Settings.Debug)
		if err != nil {
			return err
		}
		rt.log = log
	}
	return nil
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	format := rt.outputFormat
	if format == "" && rt.cfg != nil {
		format = rt.cfg.Settings.OutputFormat
	}
	return output.ParseFormat(format)
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	return system.OrNop(rt.log)
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}
