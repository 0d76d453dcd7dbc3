package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/property-import/internal/model"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage platform provider credentials",
}

// -- credentials add --

var credentialsAddCmd = &cobra.Command{
	Use:   "add <provider> <api-key>",
	Short: "Register a platform credential",
	Long:  "Registers a provider API key used by accounts that are not in personal credential mode. Higher priority wins within a provider.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		provider := model.Provider(args[0])
		if !provider.Known() {
			return eris.Errorf("unknown provider %q (anthropic, gemini)", args[0])
		}
		if args[1] == "" {
			return eris.New("api key must not be empty")
		}

		modelName, _ := cmd.Flags().GetString("model")
		priority, _ := cmd.Flags().GetInt("priority")
		inactive, _ := cmd.Flags().GetBool("inactive")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cred := &model.PlatformCredential{
			Provider: provider,
			APIKey:   args[1],
			Model:    modelName,
			Priority: priority,
			Active:   !inactive,
		}
		if err := st.AddPlatformCredential(ctx, cred); err != nil {
			return eris.Wrap(err, "credentials add")
		}
		fmt.Fprintf(os.Stderr, "Added %s credential %s.\n", provider, cred.ID)
		return nil
	},
}

// -- credentials list --

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List platform credentials without their keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		activeOnly, _ := cmd.Flags().GetBool("active")
		creds, err := st.ListPlatformCredentials(ctx, activeOnly)
		if err != nil {
			return eris.Wrap(err, "credentials list")
		}
		if len(creds) == 0 {
			fmt.Fprintln(os.Stderr, "No credentials found.")
			return nil
		}
		formatCredentialsList(os.Stdout, creds)
		return nil
	},
}

func init() {
	credentialsAddCmd.Flags().String("model", "", "model override for this credential")
	credentialsAddCmd.Flags().Int("priority", 0, "priority within the provider (higher first)")
	credentialsAddCmd.Flags().Bool("inactive", false, "register the credential disabled")

	credentialsListCmd.Flags().Bool("active", false, "only active credentials")

	credentialsCmd.AddCommand(credentialsAddCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	rootCmd.AddCommand(credentialsCmd)
}

// formatCredentialsList writes credentials to w, never their keys.
func formatCredentialsList(out io.Writer, creds []model.PlatformCredential) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROVIDER\tMODEL\tPRIORITY\tACTIVE\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t-----\t--------\t------\t-------")

	for _, c := range creds {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			truncateID(c.ID),
			c.Provider,
			c.Model,
			c.Priority,
			c.Active,
			c.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
