package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/observastack/observastack/pkg/config"
	"github.com/observastack/observastack/pkg/obsctl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage obsctl configuration",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
	)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		authMethod   string
		server       string
		keycloakURL  string
		realm        string
		clientID     string
		tokenStorage string
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an obsctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			cfg := config.DefaultConfig()
			cfg.AuthMethod = authMethod
			if server != "" {
				cfg.API.BaseURL = server
			}
			cfg.Keycloak.URL = keycloakURL
			cfg.Keycloak.Realm = realm
			cfg.Keycloak.ClientID = clientID
			if tokenStorage != "" {
				cfg.Storage.Backend = tokenStorage
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&authMethod, "method", "federated", "Auth method: federated or local")
	cmd.Flags().StringVar(&server, "api-url", "", "API base URL")
	cmd.Flags().StringVar(&keycloakURL, "keycloak-url", "", "Keycloak base URL")
	cmd.Flags().StringVar(&realm, "realm", "", "Keycloak realm")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Keycloak client ID")
	cmd.Flags().StringVar(&tokenStorage, "storage", "", "Token storage backend: file, keyring or memory")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				format = output.FormatYAML
			}
			view := *rt.cfg
			if view.Keycloak.ClientSecret != "" {
				view.Keycloak.ClientSecret = "REDACTED"
			}
			return output.WriteObject(rt.Writer(), format, view)
		},
	}
}
