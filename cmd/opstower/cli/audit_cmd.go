package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit log",
	}

	cmd.AddCommand(newAuditListCmd())

	return cmd
}

func newAuditListCmd() *cobra.Command {
	var (
		userID     string
		kind       string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			entries, err := store.ListAudit(context.Background(), config.AuditQuery{UserID: userID, Kind: kind, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No audit entries.")
				return nil
			}
			fmt.Fprintf(out, "%-20s %-9s %-16s %-28s %s\n", "TIME", "KIND", "USER", "ACTION", "SEVERITY")
			for _, e := range entries {
				fmt.Fprintf(out, "%-20s %-9s %-16s %-28s %s\n", e.Timestamp.Format(time.RFC3339), e.Kind, e.UserID, e.Action, e.Severity)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Only entries about this user")
	cmd.Flags().StringVar(&kind, "kind", "", "access, security or masking")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
