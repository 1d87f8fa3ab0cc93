package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/observastack/observastack/pkg/apiclient"
	"github.com/observastack/observastack/pkg/obsctl/output"
)

func NewAPICommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Call the observastack API with the current session",
	}
	cmd.AddCommand(newAPIGetCommand())
	return cmd
}

func newAPIGetCommand() *cobra.Command {
	retry := apiclient.DefaultRetryConfig()
	var raw bool

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "GET a path relative to the API base URL",
		Example: `  obsctl api get /auth/me
  obsctl api get /health --max-retries 5 -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			s.facade.UpdateToken(ctx)

			retry.Logger = rt.Logger()
			resp, err := apiclient.WithRetry(ctx, retry, func(ctx context.Context) (*apiclient.Response, error) {
				return s.api.Do(ctx, http.MethodGet, args[0], nil, nil)
			})
			if err != nil {
				return err
			}
			rt.Logger().Debugw("API call completed", "path", args[0], "status", resp.StatusCode, "requestID", resp.RequestID)

			if raw || !resp.IsJSON() || len(resp.Body) == 0 {
				_, err = rt.Writer().Write(resp.Body)
				return err
			}
			var body any
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			if format == output.FormatTable {
				format = output.FormatJSON
			}
			return output.WriteObject(rt.Writer(), format, body)
		},
	}

	cmd.Flags().IntVar(&retry.MaxRetries, "max-retries", retry.MaxRetries, "Retries of transient failures")
	cmd.Flags().DurationVar(&retry.InitialBackoff, "backoff", retry.InitialBackoff, "Initial backoff between retries")
	cmd.Flags().DurationVar(&retry.MaxBackoff, "max-backoff", retry.MaxBackoff, "Upper bound of the backoff")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the response body unmodified")
	return cmd
}
