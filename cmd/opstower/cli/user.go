package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/policy"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operators",
		Long:  "Create, inspect and deactivate the operators whose access the engine decides.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserShowCmd())
	cmd.AddCommand(newUserDeactivateCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		id       string
		email    string
		name     string
		regions  []string
		piiScope string
		mfa      bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operator",
		Example: `  opstower user create --id ops-davao-01 --email ops@xpress.example --regions davao
  opstower user create --id risk-02 --regions ncr,cebu --pii-scope full --mfa`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email != "" && !strings.Contains(email, "@") {
				return fmt.Errorf("invalid email address: %q", email)
			}
			tier := model.PIINone
			if piiScope != "" {
				t, err := model.ParsePIITier(piiScope)
				if err != nil {
					return err
				}
				tier = t
			}

			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			u := &model.User{
				ID:             id,
				Email:          email,
				Name:           name,
				Status:         model.UserActive,
				AllowedRegions: model.RegionSet(regions).Normalize(),
				PIIScope:       tier,
				MFAEnabled:     mfa,
			}
			if err := store.CreateUser(context.Background(), u); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %q\n", u.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "  regions:   %s\n", strings.Join(u.AllowedRegions, ", "))
			fmt.Fprintf(cmd.OutOrStdout(), "  pii scope: %s\n", u.PIIScope)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "User id (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "Base regions, or * for all")
	cmd.Flags().StringVar(&piiScope, "pii-scope", "none", "PII clearance: none, masked or full")
	cmd.Flags().BoolVar(&mfa, "mfa", false, "User has MFA enrolled")
	cmd.MarkFlagRequired("id")

	return cmd
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			users, err := store.ListUsers(context.Background())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), users)
			}

			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "No users. Use 'opstower seed' or 'opstower user create'.")
				return nil
			}
			fmt.Fprintf(out, "%-18s %-8s %-7s %-4s %-20s %s\n", "ID", "STATUS", "PII", "MFA", "REGIONS", "ROLES")
			fmt.Fprintf(out, "%-18s %-8s %-7s %-4s %-20s %s\n", "--", "------", "---", "---", "-------", "-----")
			for _, u := range users {
				roles := make([]string, 0, len(u.Assignments))
				for _, a := range u.Assignments {
					if a.IsActive {
						roles = append(roles, a.RoleID)
					}
				}
				fmt.Fprintf(out, "%-18s %-8s %-7s %-4s %-20s %s\n",
					u.ID, u.Status, u.PIIScope, yesNo(u.MFAEnabled), strings.Join(u.AllowedRegions, ","), strings.Join(roles, ","))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- user show ----------

func newUserShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show an operator and their effective scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.store.GetUser(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get user: %w", err)
			}
			sc, err := a.engine.EffectiveScope(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				User      *model.User  `json:"user"`
				Effective policy.Scope `json:"effective"`
			}{u, sc})
		},
	}
}

// ---------- user deactivate ----------

func newUserDeactivateCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "deactivate <user-id>",
		Short: "Deactivate an operator; every later decision for them is deny",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx = actorContext(ctx, "")
			if err := a.store.SetUserStatus(ctx, args[0], model.UserInactive); err != nil {
				return fmt.Errorf("deactivate user: %w", err)
			}
			a.engine.Invalidate()
			a.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventUserDeactivated, audit.SeverityMedium, args[0], map[string]any{
				"reason": reason,
			}))
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated user %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the user is being deactivated")

	return cmd
}
