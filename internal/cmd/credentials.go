package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pagegate/pagegate/internal/core/store"
	"github.com/pagegate/pagegate/internal/output"
)

var (
	credentialsAll    bool
	credentialsPage   string
	credentialsPrefix string
	credentialsReveal bool
	forgetYes         bool
	forgetDryRun      bool
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Inspect and manage page credentials",
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials held by the credential store",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := credentialQuery()
		if !query.All && query.ResourceID == "" && query.Prefix == "" {
			query.All = true
		}

		st, err := openCredentialStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() // nolint:errcheck // best-effort cleanup

		found, err := st.QueryCredentials(cmd.Context(), query)
		if err != nil {
			return err
		}

		rows := output.CredentialRows(found, credentialsReveal)
		for i := range rows {
			rows[i].Strategy = "store"
		}
		return writeRendered(cmd, func(format output.Format) (string, error) {
			return output.Credentials(format, rows)
		})
	},
}

var credentialsResolveCmd = &cobra.Command{
	Use:   "resolve <page-id>",
	Short: "Resolve the credential for a page through the full strategy chain",
	Long: `Resolve runs the same chain the gateway uses: configured map, credential
store, account discovery with the master credential, then identification of
loose credentials. Discovered credentials are persisted.`,
	Args: cobra.ExactArgs(1),
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

		result, err := gw.resolver.Resolve(ctx, args[0], cfg.Credentials.MasterToken)
		if err != nil {
			return err
		}

		rows := output.CredentialRows(map[string]string{result.ResourceID: result.Credential}, credentialsReveal)
		rows[0].Strategy = result.Strategy
		return writeRendered(cmd, func(format output.Format) (string, error) {
			return output.Credentials(format, rows)
		})
	},
}

var credentialsForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := credentialQuery()
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !forgetYes && !forgetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		st, err := openCredentialStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() // nolint:errcheck // best-effort cleanup

		matched, err := st.QueryCredentials(cmd.Context(), query)
		if err != nil {
			return err
		}

		var deleted int64
		if !forgetDryRun {
			deleted, err = st.ForgetCredentials(cmd.Context(), query)
			if err != nil {
				return err
			}
		}

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatJSON {
			payload, err := json.MarshalIndent(map[string]any{
				"matched": len(matched),
				"deleted": deleted,
				"dry_run": forgetDryRun,
			}, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return err
		}
		if forgetDryRun {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Would delete %d credential(s)\n", len(matched))
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d/%d credential(s)\n", deleted, len(matched))
		return err
	},
}

func credentialQuery() store.CredentialQuery {
	return store.CredentialQuery{
		All:        credentialsAll,
		ResourceID: strings.TrimSpace(credentialsPage),
		Prefix:     strings.TrimSpace(credentialsPrefix),
	}
}

func init() {
	for _, c := range []*cobra.Command{credentialsListCmd, credentialsForgetCmd} {
		c.Flags().BoolVar(&credentialsAll, "all", false, "Select every stored credential")
		c.Flags().StringVar(&credentialsPage, "page", "", "Select a single page (exact match)")
		c.Flags().StringVar(&credentialsPrefix, "prefix", "", "Select pages with matching id prefix")
	}
	credentialsListCmd.Flags().BoolVar(&credentialsReveal, "reveal", false, "Print credentials unmasked")
	credentialsResolveCmd.Flags().BoolVar(&credentialsReveal, "reveal", false, "Print the credential unmasked")
	addOutputFlags(credentialsListCmd)
	addOutputFlags(credentialsResolveCmd)

	credentialsForgetCmd.Flags().BoolVar(&forgetYes, "yes", false, "Confirm removing every credential")
	credentialsForgetCmd.Flags().BoolVar(&forgetDryRun, "dry-run", false, "Show what would be deleted")
	credentialsForgetCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")

	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsResolveCmd)
	credentialsCmd.AddCommand(credentialsForgetCmd)
	rootCmd.AddCommand(credentialsCmd)
}
