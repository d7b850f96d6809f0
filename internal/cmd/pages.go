package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagegate/pagegate/internal/output"
)

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "List the pages reachable with the configured credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		gw, err := openGateway(ctx, cfg)
		if err != nil {
			return err
		}
		defer gw.Close() // nolint:errcheck // best-effort cleanup

		found, err := gw.pages.ListPages(ctx)
		if err != nil {
			return err
		}
		return writeRendered(cmd, func(format output.Format) (string, error) {
			return output.Pages(format, found)
		})
	},
}

func init() {
	rootCmd.AddCommand(pagesCmd)
	addOutputFlags(pagesCmd)
}
