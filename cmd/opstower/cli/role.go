package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/rbac"
)

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage RBAC roles",
		Long:  "Create and list roles, and assign them to operators for a validity window.",
	}

	cmd.AddCommand(newRoleListCmd())
	cmd.AddCommand(newRoleCreateCmd())
	cmd.AddCommand(newRoleAssignCmd())

	return cmd
}

// ---------- role list ----------

func newRoleListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			roles, err := store.ListRoles(context.Background())
			if err != nil {
				return fmt.Errorf("list roles: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), roles)
			}

			out := cmd.OutOrStdout()
			if len(roles) == 0 {
				fmt.Fprintln(out, "No roles configured. Use 'opstower seed' or 'opstower role create'.")
				return nil
			}
			fmt.Fprintf(out, "%-20s %-6s %-24s %s\n", "ID", "LEVEL", "INHERITS", "PERMISSIONS")
			fmt.Fprintf(out, "%-20s %-6s %-24s %s\n", "--", "-----", "--------", "-----------")
			for _, r := range roles {
				fmt.Fprintf(out, "%-20s %-6d %-24s %s\n", r.ID, r.Level, strings.Join(r.InheritsFrom, ","), formatPermissions(r.Permissions))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// formatPermissions returns a short summary for table output.
func formatPermissions(perms []model.Permission) string {
	if len(perms) == 0 {
		return "none"
	}
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	s := strings.Join(parts, ",")
	if len(s) > 60 {
		return fmt.Sprintf("%s... (%d)", s[:57], len(perms))
	}
	return s
}

// ---------- role create ----------

func newRoleCreateCmd() *cobra.Command {
	var (
		id          string
		name        string
		description string
		level       int
		permissions []string
		inherits    []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create or replace a role",
		Example: `  opstower role create --id night_dispatch --level 25 --permissions manage_bookings --inherits ground_ops
  opstower role create --id auditor --level 30 --permissions view_audit_log,export_reports`,
		RunE: func(cmd *cobra.Command, args []string) error {
			perms, err := parsePermissions(permissions)
			if err != nil {
				return err
			}

			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()
			ctx := context.Background()

			role := model.Role{
				ID:           id,
				Name:         name,
				Description:  description,
				Level:        level,
				Permissions:  perms,
				InheritsFrom: inherits,
			}

			// Build the graph the engine would load, so cycles and dangling
			// parents are rejected before anything is written.
			existing, err := store.ListRoles(ctx)
			if err != nil {
				return fmt.Errorf("list roles: %w", err)
			}
			next := []model.Role{role}
			for _, r := range existing {
				if r.ID != id {
					next = append(next, r)
				}
			}
			if _, err := rbac.NewGraph(next); err != nil {
				return err
			}

			if err := store.SaveRole(ctx, &role); err != nil {
				return fmt.Errorf("save role: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved role %q (level %d)\n", role.ID, role.Level)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Role id (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&description, "description", "", "Role description")
	cmd.Flags().IntVar(&level, "level", 10, "Role level; drives approver eligibility")
	cmd.Flags().StringSliceVar(&permissions, "permissions", nil, "Direct permissions")
	cmd.Flags().StringSliceVar(&inherits, "inherits", nil, "Parent roles")
	cmd.MarkFlagRequired("id")

	return cmd
}

// ---------- role assign ----------

func newRoleAssignCmd() *cobra.Command {
	var (
		userID   string
		roleID   string
		regions  []string
		validFor time.Duration
	)

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a role to an operator",
		Example: `  opstower role assign --user ops-ncr-01 --role dispatcher
  opstower role assign --user ops-ncr-01 --role fleet_manager --for 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()
			ctx := context.Background()

			if _, err := store.GetRole(ctx, roleID); err != nil {
				return fmt.Errorf("role %q: %w", roleID, err)
			}
			a := &model.RoleAssignment{
				UserID:         userID,
				RoleID:         roleID,
				AllowedRegions: model.RegionSet(regions).Normalize(),
				ValidFrom:      time.Now().UTC(),
				IsActive:       true,
			}
			if validFor > 0 {
				until := a.ValidFrom.Add(validFor)
				a.ValidUntil = &until
			}
			if err := store.CreateAssignment(ctx, a); err != nil {
				return fmt.Errorf("assign role: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s to %s (assignment %s)\n", roleID, userID, a.ID)
			if a.ValidUntil != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  valid until: %s\n", a.ValidUntil.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	cmd.Flags().StringVar(&roleID, "role", "", "Role id (required)")
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "Extra regions this assignment covers")
	cmd.Flags().DurationVar(&validFor, "for", 0, "How long the assignment lasts (default: open-ended)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("role")

	return cmd
}
