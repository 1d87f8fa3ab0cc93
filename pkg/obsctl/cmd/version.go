package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/observastack/observastack/pkg/obsctl/output"
	"github.com/observastack/observastack/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show obsctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := output.FormatTable
			if rt != nil {
				writer = rt.Writer()
				var err error
				if format, err = rt.OutputFormat(); err != nil {
					return err
				}
			}

			if format == output.FormatTable {
				_, _ = fmt.Fprintln(writer, info.Banner("obsctl"))
				return nil
			}
			return output.WriteObject(writer, format, info)
		},
	}
}
