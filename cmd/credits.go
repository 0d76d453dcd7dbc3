package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/property-import/internal/ledger"
	"github.com/sells-group/property-import/internal/model"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and administer account credits",
}

// -- credits show --

var creditsShowCmd = &cobra.Command{
	Use:   "show <account-id>",
	Short: "Show an account's quota and usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		acct, err := ledger.New(st, cfg.Ledger.ResetPeriod()).Balance(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "credits show")
		}
		formatAccount(os.Stdout, acct)
		return nil
	},
}

// -- credits usage --

var creditsUsageCmd = &cobra.Command{
	Use:   "usage <account-id>",
	Short: "List an account's usage records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		filter := model.UsageFilter{AccountID: args[0], Limit: limit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		recs, err := ledger.New(st, cfg.Ledger.ResetPeriod()).Usage(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "credits usage")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No usage found.")
			return nil
		}
		formatUsageList(os.Stdout, recs)
		return nil
	},
}

// -- credits set-quota --

var creditsSetQuotaCmd = &cobra.Command{
	Use:   "set-quota <account-id> <credits|unlimited>",
	Short: "Replace an account's credit quota",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		quota, err := parseQuota(args[1])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := ledger.New(st, cfg.Ledger.ResetPeriod()).SetQuota(ctx, args[0], quota); err != nil {
			return eris.Wrap(err, "credits set-quota")
		}
		fmt.Fprintf(os.Stderr, "Quota for %s set to %s.\n", args[0], args[1])
		return nil
	},
}

// -- credits personal-mode --

var creditsPersonalModeCmd = &cobra.Command{
	Use:   "personal-mode <account-id> <on|off>",
	Short: "Require the account to supply its own provider key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		enabled, err := parseOnOff(args[1])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := ledger.New(st, cfg.Ledger.ResetPeriod()).Balance(ctx, args[0]); err != nil {
			return eris.Wrap(err, "credits personal-mode")
		}
		if err := st.SetPersonalCredentialMode(ctx, args[0], enabled); err != nil {
			return eris.Wrap(err, "credits personal-mode")
		}
		fmt.Fprintf(os.Stderr, "Personal credential mode for %s is %s.\n", args[0], args[1])
		return nil
	},
}

func init() {
	creditsUsageCmd.Flags().Duration("since", 0, "only records newer than this (e.g. 24h, 720h)")
	creditsUsageCmd.Flags().Int("limit", 50, "max number of records to display")

	creditsCmd.AddCommand(creditsShowCmd)
	creditsCmd.AddCommand(creditsUsageCmd)
	creditsCmd.AddCommand(creditsSetQuotaCmd)
	creditsCmd.AddCommand(creditsPersonalModeCmd)
	rootCmd.AddCommand(creditsCmd)
}

// parseQuota reads a non-negative credit count, or "unlimited" for nil.
func parseQuota(s string) (*int, error) {
	if s == "unlimited" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil, eris.Errorf("quota must be a non-negative integer or \"unlimited\", got %q", s)
	}
	return &n, nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, eris.Errorf("expected on or off, got %q", s)
	}
}

// formatAccount writes an account's balance to w.
func formatAccount(out io.Writer, acct *model.CreditAccount) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Account:\t%s\n", acct.AccountID)
	if acct.Unlimited() {
		_, _ = fmt.Fprintf(w, "Quota:\tunlimited\n")
	} else {
		_, _ = fmt.Fprintf(w, "Quota:\t%d\n", *acct.Quota)
		_, _ = fmt.Fprintf(w, "Remaining:\t%d\n", acct.Remaining())
	}
	_, _ = fmt.Fprintf(w, "Used:\t%d\n", acct.Used)
	if acct.ResetAt != nil {
		_, _ = fmt.Fprintf(w, "Resets:\t%s\n", acct.ResetAt.Format("2006-01-02 15:04"))
	}
	_, _ = fmt.Fprintf(w, "Personal credentials:\t%t\n", acct.PersonalCredentialMode)
	_ = w.Flush()
}

// formatUsageList writes a tabular list of usage records to w.
func formatUsageList(out io.Writer, recs []model.UsageRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tBATCH\tFILE\tTYPE\tPROVIDER\tCREDITS\tOK\tMS")
	_, _ = fmt.Fprintln(w, "-------\t-----\t----\t----\t--------\t-------\t--\t--")

	for _, r := range recs {
		file := r.FileName
		if len(file) > 30 {
			file = file[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%t\t%d\n",
			r.CreatedAt.Format("2006-01-02 15:04"),
			truncateID(r.BatchID),
			file,
			r.DocumentType,
			r.ProviderUsed,
			r.CreditsUsed,
			r.Success,
			r.ProcessingTimeMs,
		)
	}
	_ = w.Flush()
}
