package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/observastack/observastack/pkg/apierrors"
	"github.com/observastack/observastack/pkg/auth"
	"github.com/observastack/observastack/pkg/metrics"
	"github.com/observastack/observastack/pkg/obsctl/output"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with observastack",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthLogoutCommand(),
		newAuthStatusCommand(),
		newAuthWhoamiCommand(),
		newAuthTokenCommand(),
		newAuthRefreshCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var (
		username      string
		email         string
		password      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login with the configured auth method",
		Long: `Login with the configured auth method.

Federated login opens the identity provider in a browser and waits for the
redirect. Local login posts the given credentials to the API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := rt.openSession(ctx)
			if err != nil {
				return err
			}

			var creds *auth.Credentials
			if s.facade.GetAuthMethod() == auth.MethodLocal {
				if passwordStdin {
					password, err = readPassword(cmd)
					if err != nil {
						return err
					}
				}
				if password == "" {
					password = os.Getenv("OBSERVASTACK_PASSWORD")
				}
				creds = &auth.Credentials{Username: username, Email: email, Password: password}
			}

			result, err := s.facade.Login(ctx, creds)
			if err != nil {
				return err
			}
			w := rt.Writer()
			if user, err := s.facade.GetCurrentUser(ctx); err == nil {
				_, _ = fmt.Fprintf(w, "Logged in as %s\n", displayName(user))
			} else {
				rt.Logger().Debugw("Failed to load user after login", "error", err)
				_, _ = fmt.Fprintln(w, "Authenticated")
			}
			if result.Tokens != nil {
				_, _ = fmt.Fprintf(w, "Token expires at %s\n", time.Now().Add(s.store.TimeUntilExpiry()).UTC().Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (local auth)")
	cmd.Flags().StringVar(&email, "email", "", "Email, instead of username (local auth)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (local auth, prefer --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove stored tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			s, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.facade.Logout(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := rt.openSession(ctx)
			if err != nil {
				return err
			}

			status := output.Status{AuthMethod: string(s.facade.GetAuthMethod()), Roles: []string{}}
			user, err := s.facade.GetCurrentUser(ctx)
			switch {
			case err == nil:
				status.Authenticated = true
				status.Username = user.Username
				status.Roles = user.Roles
				if s.facade.GetAuthMethod() == auth.MethodLocal {
					if remaining := s.store.TimeUntilExpiry(); remaining > 0 {
						status.ExpiresAt = time.Now().Add(remaining).UTC().Truncate(time.Second)
					}
				}
			case apierrors.IsAuthentication(err):
			default:
				return err
			}

			if format == output.FormatTable {
				output.WriteStatusTable(rt.Writer(), status)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, status)
		},
	}
}

func newAuthWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and roles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			s, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			user, err := s.facade.GetCurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				output.WriteUserTable(rt.Writer(), user)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, user)
		},
	}
}

func newAuthTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the current access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			s, err := rt.openSession(cmd.Context())
			if err != nil {
				return err
			}
			token, ok := s.facade.GetToken()
			if !ok {
				return apierrors.New(apierrors.KindAuthentication, "Not authenticated, run 'obsctl auth login'")
			}
			_, _ = fmt.Fprintln(rt.Writer(), token)
			return nil
		},
	}
}

func newAuthRefreshCommand() *cobra.Command {
	var (
		watch       bool
		interval    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the session if it is about to expire",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := rt.openSession(ctx)
			if err != nil {
				return err
			}
			// A session inside the refresh margin withholds its access token,
			// so only ask the server once a refresh did not happen.
			refreshed := s.facade.UpdateToken(ctx)
			if !refreshed && !s.facade.IsAuthenticated(ctx) {
				return apierrors.New(apierrors.KindAuthentication, "Not authenticated, run 'obsctl auth login'")
			}

			if watch {
				return watchRefresh(ctx, rt, s.facade, interval, metricsAddr)
			}
			if refreshed {
				_, _ = fmt.Fprintln(rt.Writer(), "Token refreshed")
			} else {
				_, _ = fmt.Fprintln(rt.Writer(), "Token not refreshed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep refreshing until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", auth.DefaultRefreshInterval, "Check interval with --watch")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching")
	return cmd
}

func watchRefresh(ctx context.Context, rt *runtimeState, facade *auth.Facade, interval time.Duration, metricsAddr string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	if metricsAddr != "" {
		srv, err := metrics.Listen(metricsAddr)
		if err != nil {
			return apierrors.Wrap(apierrors.KindConfiguration, err, "metrics listener")
		}
		go func() {
			if err := srv.Serve(); err != nil {
				rt.Logger().Warnw("Metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		rt.Logger().Infow("Serving metrics", "addr", srv.Addr())
	}

	stop := facade.StartRefreshLoop(ctx, interval)
	defer stop()
	_, _ = fmt.Fprintf(rt.Writer(), "Refreshing every %s, press Ctrl+C to stop\n", interval)
	<-ctx.Done()
	return nil
}

func displayName(user *auth.SessionUser) string {
	switch {
	case user.Username != "":
		return user.Username
	case user.Email != "":
		return user.Email
	default:
		return user.ID
	}
}
