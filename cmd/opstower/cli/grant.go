package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/grant"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

func newGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Manage temporary access grants",
		Long: `Inspect and revoke temporary grants, and declare emergency overrides.

Grants created by approval workflows appear here too. An emergency override is
bound to an incident case and may reach regions outside the user's base scope.`,
	}

	cmd.AddCommand(newGrantEmergencyCmd())
	cmd.AddCommand(newGrantListCmd())
	cmd.AddCommand(newGrantRevokeCmd())

	return cmd
}

// ---------- grant emergency ----------

func newGrantEmergencyCmd() *cobra.Command {
	var (
		userID        string
		caseID        string
		justification string
		declaredBy    string
		permissions   []string
		regions       []string
		piiScope      string
		ttl           time.Duration
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Declare an emergency override for an incident",
		Example: `  opstower grant emergency --user risk-01 --case INC-2291 --regions davao \
      --justification "flood response" --by rm-ncr-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			perms, err := parsePermissions(permissions)
			if err != nil {
				return err
			}
			tier, err := parseTier(piiScope)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx = actorContext(ctx, declaredBy)
			g, err := a.grants.DeclareEmergency(ctx, grant.EmergencyDeclaration{
				UserID:        userID,
				CaseID:        caseID,
				Justification: justification,
				DeclaredBy:    declaredBy,
				Permissions:   perms,
				Regions:       model.RegionSet(regions).Normalize(),
				PIIScope:      tier,
				TTL:           ttl,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), g)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Emergency grant %s issued to %s\n", g.ID, g.UserID)
			fmt.Fprintf(cmd.OutOrStdout(), "  case:    %s\n", g.CaseID)
			fmt.Fprintf(cmd.OutOrStdout(), "  regions: %s\n", strings.Join(g.GrantedRegions, ", "))
			fmt.Fprintf(cmd.OutOrStdout(), "  expires: %s\n", g.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User receiving the override (required)")
	cmd.Flags().StringVar(&caseID, "case", "", "Incident case id (required)")
	cmd.Flags().StringVar(&justification, "justification", "", "Why the override is needed (required)")
	cmd.Flags().StringVar(&declaredBy, "by", "", "Operator declaring the emergency (required)")
	cmd.Flags().StringSliceVar(&permissions, "permissions", nil, "Extra permissions for the incident")
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "Regions the override reaches")
	cmd.Flags().StringVar(&piiScope, "pii-scope", "", "PII scope override: none, masked or full")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Override lifetime, capped by policy.max_emergency_ttl")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("case")
	cmd.MarkFlagRequired("justification")
	cmd.MarkFlagRequired("by")

	return cmd
}

// ---------- grant list ----------

func newGrantListCmd() *cobra.Command {
	var (
		userID     string
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var grants []model.TemporaryAccessGrant
			if all {
				grants, err = a.grants.List(ctx, userID)
			} else {
				grants, err = a.grants.ListEffective(ctx, userID)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), grants)
			}

			out := cmd.OutOrStdout()
			if len(grants) == 0 {
				fmt.Fprintf(out, "No grants for %s.\n", userID)
				return nil
			}
			now := time.Now()
			fmt.Fprintf(out, "%-38s %-10s %-9s %-20s %-16s %s\n", "ID", "TYPE", "STATE", "EXPIRES", "REGIONS", "PERMISSIONS")
			for _, g := range grants {
				state := "active"
				switch {
				case g.RevokedAt != nil:
					state = "revoked"
				case !g.Effective(now):
					state = "expired"
				}
				fmt.Fprintf(out, "%-38s %-10s %-9s %-20s %-16s %s\n",
					g.ID, g.EscalationType, state, g.ExpiresAt.Format(time.RFC3339),
					strings.Join(g.GrantedRegions, ","), formatPermissions(g.GrantedPermissions))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	cmd.Flags().BoolVar(&all, "all", false, "Include expired and revoked grants")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")

	return cmd
}

// ---------- grant revoke ----------

func newGrantRevokeCmd() *cobra.Command {
	var (
		by     string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "revoke <grant-id>",
		Short: "Revoke a grant before it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx = actorContext(ctx, by)
			if err := a.grants.Revoke(ctx, args[0], by, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked grant %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "Operator revoking the grant (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the grant is revoked")
	cmd.MarkFlagRequired("by")

	return cmd
}
